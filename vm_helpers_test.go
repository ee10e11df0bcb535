package qvm

import (
	"testing"

	"github.com/tinyrange-qvm/qvm/internal/hashtab"
)

// newTestVM builds a VM with a synthetic, minimal module: no statements, a
// globalsBytes-byte global slab, and an entity array edictsBytes bytes long
// (one edict of that size). Tests that need actual statements build their
// own Module and call this to get the surrounding VM plumbing
// (strings/refs/handles) for free, then overwrite vm.mod.Statements/Funcs
// as needed.
func newTestVM(t *testing.T, globalsBytes int32, edictsBytes int32) *VM {
	t.Helper()
	vm := NewVM()
	vm.mod = &Module{
		Globals:     make([]byte, globalsBytes),
		Strings:     []byte{0},
		defByName:   hashtab.New[int](1),
		fieldByName: hashtab.New[int](1),
	}
	buildStringIndex(vm.mod)
	vm.EdictSize = edictsBytes
	vm.MaxEdicts = 1
	vm.Edicts = make([]byte, edictsBytes)
	vm.builtins = make([]BuiltinFunc, 0)
	return vm
}

// newFunction is a small helper for tests that need a *Function with a
// given body, argument layout, and local count.
func newFunction(name string, firstStatement, firstArg, numArgs, numArgsAndLocals int32, argSizes ...byte) Function {
	var sizes [8]byte
	copy(sizes[:], argSizes)
	return Function{
		FirstStatement:   firstStatement,
		FirstArg:         firstArg,
		NumArgs:          numArgs,
		ArgSizes:         sizes,
		NumArgsAndLocals: numArgsAndLocals,
		Name:             name,
	}
}
