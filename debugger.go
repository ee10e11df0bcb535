package qvm

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// Debugger is an optional, line-oriented REPL for pausing a VM at breakpoints (spec.md
// §5 "Debugging"). The VM is single-threaded, so the debugger does not run
// concurrently with dispatch: it is polled between statements when
// vm.debugging is set, exactly like the breakpointFlag masking in
// runDispatch, and driven from the same goroutine via a simple mutex-guarded
// pause flag rather than a second thread stepping on script state.
type Debugger struct {
	vm *VM
	rl *readline.Instance

	mu     sync.Mutex
	paused bool
}

// NewDebugger wires an interactive readline console to vm and enables
// breakpoint checking in the dispatch loop.
func NewDebugger(vm *VM) (*Debugger, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "(qvm) ",
		HistoryFile: "",
	})
	if err != nil {
		return nil, err
	}
	d := &Debugger{vm: vm, rl: rl}
	vm.debugger = d
	vm.debugging = true
	return d, nil
}

// Close releases the readline console.
func (d *Debugger) Close() {
	if d.rl != nil {
		d.rl.Close()
	}
}

// SetBreakpoint/ClearBreakpoint toggle the breakpointFlag bit directly on a
// statement's opcode (spec.md §4.2); runDispatch masks it off before
// executing the statement, so no side table of breakpoints is needed.
func (vm *VM) SetBreakpoint(statement int32) {
	st := &vm.mod.Statements[statement]
	st.Op = Opcode(uint16(st.Op) | breakpointFlag)
}

func (vm *VM) ClearBreakpoint(statement int32) {
	st := &vm.mod.Statements[statement]
	st.Op = Opcode(uint16(st.Op) &^ breakpointFlag)
}

// hitBreakpoint is called by runDispatch when the current statement has a
// breakpoint set; it drops into the REPL until the user resumes.
func (vm *VM) hitBreakpoint(statement int32) {
	if vm.debugger == nil {
		return
	}
	vm.debugger.run(statement)
}

// run drives the REPL loop at a paused statement, returning once the user
// issues a resume command ("c"/"continue", "s"/"step", or "q"/"quit").
// "step" resumes exactly like "continue": execution pauses again only at
// the next statement that has a breakpoint set.
func (d *Debugger) run(statement int32) {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.paused = false
		d.mu.Unlock()
	}()

	fmt.Printf("breakpoint at statement %d\n%s", statement, d.vm.stackTrace())
	for {
		line, err := d.rl.Readline()
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "c", "continue":
			return
		case "s", "step":
			return
		case "q", "quit":
			d.vm.debugging = false
			return
		case "bt", "backtrace":
			fmt.Print(d.vm.stackTrace())
		case "global":
			if len(fields) < 2 {
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				continue
			}
			fmt.Printf("global[%d] = %d (%f)\n", idx, d.vm.cellI(int32(idx)), d.vm.cellF(int32(idx)))
		case "break":
			if len(fields) < 2 {
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				continue
			}
			d.vm.SetBreakpoint(int32(idx))
		default:
			fmt.Println("commands: continue|c, step|s, quit|q, backtrace|bt, global <n>, break <stmt>")
		}
	}
}
