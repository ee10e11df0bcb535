// Package qvm implements an embeddable register-based virtual machine that
// executes modules compiled from a stack-based, C-like scripting language
// (QuakeC) into three-address bytecode. A host application loads a single
// compiled module, registers builtins and field wraps, and calls Execute to
// run script functions to completion.
package qvm

import (
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BuiltinFunc is a native function registered with RegisterBuiltin. It
// receives the VM so it can pull arguments via Argv* and write a result via
// Return* (spec.md §6 "Builtin call-in contract").
type BuiltinFunc func(vm *VM)

// systemField is a host-pinned field offset, registered before Check runs.
type systemField struct {
	offset int32
	span   int32
}

// VM is the whole machine: loaded module, global slab, entity array, pointer
// targets, and all the subsystems in spec.md §4. A VM is single-threaded and
// re-entrant only via Execute->builtin->Execute nesting (spec.md §5); it is
// not safe for concurrent use from multiple goroutines.
type VM struct {
	mod        *Module
	engineName string
	loadID     uuid.UUID
	logger     *zap.Logger

	// Entity array: edictSize bytes per entity, maxEdicts entities.
	Edicts      []byte
	EdictSize   int32
	MaxEdicts   int32
	NumEdicts   int32
	systemEdictSize int32

	systemFields map[string]systemField
	fieldWraps   []fieldWrap // sparse, indexed by field byte-cell offset
	clientRecord ClientRecordFunc

	builtins    []BuiltinFunc
	builtinsSet int // count of builtins actually resolved, for overflow detection

	strings dynamicStrings
	refs    refTracker

	handles handleTable

	frames         []frame
	enterDepth     int
	highestStack   int32
	frameStackHWM  int

	argc int // set by CALLn before a builtin/script call

	rng *rand.Rand

	debugging bool
	debugger  *Debugger

	profiling    bool
	profileCalls map[int32]int64

	OnFatal FatalFunc
	OnWarn  WarnFunc
	warnedOnce map[string]bool
}

// Fixed parameter/return slots, 3 cells (one vector) apart, matching the
// original's OFS_PARM0.. layout (spec.md §4.3 "Parameter passing convention").
const (
	globalOfsReturn int32 = 1
	globalOfsParm0  int32 = 4
	parmStride      int32 = 3
	numParms        int32 = 8
)

// NewVM creates an unloaded VM. Call Load then Check before Execute.
func NewVM() *VM {
	logger, _ := zap.NewProduction()
	vm := &VM{
		logger:       logger,
		systemFields: make(map[string]systemField),
		rng:          rand.New(rand.NewSource(1)),
		profileCalls: make(map[int32]int64),
	}
	vm.strings.init()
	vm.refs.init()
	vm.handles.init(vm)
	return vm
}

// RegisterSystemField pins a host-owned field at a fixed offset (spec.md
// §4.8). Must be called before Check.
func (vm *VM) RegisterSystemField(name string, offset, span int32) {
	vm.systemFields[name] = systemField{offset: offset, span: span}
	if offset+span > vm.systemEdictSize {
		vm.systemEdictSize = offset + span
	}
}

// ReserveEdictSize guarantees the host-owned prefix of every entity record
// is at least size bytes, even if no individual RegisterSystemField call
// reaches that far. Must be called before Check.
func (vm *VM) ReserveEdictSize(size int32) {
	if size > vm.systemEdictSize {
		vm.systemEdictSize = size
	}
}

// RegisterBuiltin resolves the first unresolved native function named name
// to fn (spec.md §4.1 "Builtin resolution").
func (vm *VM) RegisterBuiltin(name string, fn BuiltinFunc) error {
	for i := range vm.mod.Funcs {
		f := &vm.mod.Funcs[i]
		if f.FirstStatement == 0 && f.Name == name {
			if vm.builtinsSet >= len(vm.builtins) {
				return &VMError{Kind: ErrBuiltinOverflow, Message: "register_builtin: no builtin slots remain"}
			}
			f.FirstStatement = -(int32(i) + 1)
			vm.builtins[i] = fn
			vm.builtinsSet++
			return nil
		}
	}
	vm.warnOnce("builtin:"+name, "register_builtin: no unresolved native function named %q", name)
	return nil
}

// Shutdown releases VM allocations and, if profiling was enabled, writes the
// per-function call-count dump (SPEC_FULL.md §4 "Profiling dump on shutdown").
func (vm *VM) Shutdown() {
	if vm.profiling {
		vm.dumpProfile()
	}
	if vm.mod != nil && vm.mod.mapping != nil {
		vm.mod.mapping.Unmap()
		vm.mod.mapping = nil
	}
	if vm.debugger != nil {
		vm.debugger.Close()
	}
	_ = vm.logger.Sync()
}

// EnableProfiling turns on the call-count instrumentation consulted by
// Shutdown's dump.
func (vm *VM) EnableProfiling(enable bool) { vm.profiling = enable }
