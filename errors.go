package qvm

import (
	"fmt"

	"go.uber.org/zap"
)

// ErrorKind distinguishes the fatal and warning conditions spec.md §7
// enumerates. The VM never recovers from an error raised through fatal; the
// host's FatalFunc is expected not to return (it should panic, os.Exit, or longjmp
// via a recover()'d goroutine boundary).
type ErrorKind int

const (
	ErrLoad ErrorKind = iota
	ErrBadPointer
	ErrBadFunction
	ErrStackUnderflow
	ErrBuiltinOverflow
	ErrBoundsCheck
	ErrBadHandle
	ErrBadInsertIndex
	ErrBadDeleteIndex
	ErrBadElementSize
)

func (k ErrorKind) String() string {
	switch k {
	case ErrLoad:
		return "LoadError"
	case ErrBadPointer:
		return "BadPointer"
	case ErrBadFunction:
		return "BadFunction"
	case ErrStackUnderflow:
		return "StackUnderflow"
	case ErrBuiltinOverflow:
		return "BuiltinOverflow"
	case ErrBoundsCheck:
		return "BoundsCheck"
	case ErrBadHandle:
		return "BadHandle"
	case ErrBadInsertIndex:
		return "BadInsertIndex"
	case ErrBadDeleteIndex:
		return "BadDeleteIndex"
	case ErrBadElementSize:
		return "BadElementSize"
	default:
		return "UnknownError"
	}
}

// VMError is the value passed to FatalFunc and returned by Load/Check.
type VMError struct {
	Kind    ErrorKind
	Message string
	Trace   string // stack_trace() rendering at the point of failure, if any
}

func (e *VMError) Error() string {
	if e.Trace != "" {
		return fmt.Sprintf("%s: %s\n%s", e.Kind, e.Message, e.Trace)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// FatalFunc is the host's fatal-error hook (spec.md §7). It is not expected
// to return; qvm calls it and then, defensively, panics with the same error
// if it does.
type FatalFunc func(err *VMError)

// WarnFunc is the host's warning hook for non-fatal issues (missing builtin,
// missing field wrap): it logs and execution continues.
type WarnFunc func(message string)

// defaultFatal logs the error as a structured zap entry with a full stack
// trace and then panics, since a Go VM has no C-style longjmp to unwind to.
func (vm *VM) defaultFatal(err *VMError) {
	vm.logger.Error("qvm fatal",
		zap.String("kind", err.Kind.String()),
		zap.String("message", err.Message),
		zap.String("trace", err.Trace),
		zap.String("load_id", vm.loadID.String()),
	)
	panic(err)
}

func (vm *VM) defaultWarn(message string) {
	vm.logger.Warn("qvm warning", zap.String("message", message), zap.String("load_id", vm.loadID.String()))
}

// fatal builds a VMError (attaching a stack trace) and routes it through the
// installed FatalFunc.
func (vm *VM) fatal(kind ErrorKind, format string, args ...any) {
	err := &VMError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Trace:   vm.stackTrace(),
	}
	if vm.OnFatal != nil {
		vm.OnFatal(err)
	} else {
		vm.defaultFatal(err)
	}
	// OnFatal is contractually not expected to return; if it did, we still
	// must not let dispatch continue with undefined state.
	panic(err)
}

// warnOnce emits a warning through OnWarn at most once per distinct key,
// matching the original VM's dedup of repeated missing-builtin/missing-field
// warnings across a module with many forward declarations of the same name
// (see SPEC_FULL.md §4, "warn-once-per-name").
func (vm *VM) warnOnce(key, format string, args ...any) {
	if vm.warnedOnce == nil {
		vm.warnedOnce = make(map[string]bool)
	}
	if vm.warnedOnce[key] {
		return
	}
	vm.warnedOnce[key] = true
	msg := fmt.Sprintf(format, args...)
	if vm.OnWarn != nil {
		vm.OnWarn(msg)
	} else {
		vm.defaultWarn(msg)
	}
}

// stackTrace renders the current call stack, innermost frame first, in the
// style of the original qcvm_stack_trace.
func (vm *VM) stackTrace() string {
	if len(vm.frames) == 0 {
		return "(no active frames)"
	}
	s := ""
	for i := len(vm.frames) - 1; i >= 0; i-- {
		f := vm.frames[i]
		name := "<native>"
		fn := vm.functionAt(f.function)
		if fn != nil {
			name = fn.Name
		}
		s += fmt.Sprintf("#%d %s (statement %d)\n", len(vm.frames)-1-i, name, f.statement)
	}
	return s
}
