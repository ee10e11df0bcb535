package qvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutFieldsPinsSystemFieldAndPacksRest(t *testing.T) {
	vm := newTestVM(t, 256, 16)
	vm.RegisterSystemField("classname", 0, 4)

	vm.mod.Fields = []Field{
		{Name: "classname", GlobalIndex: 5, Offset: -1},
		{Name: "health", Type: TypeFloat, GlobalIndex: 6, Offset: -1},
		{Name: "origin", Type: TypeVector, GlobalIndex: 7, Offset: -1},
		{Name: "origin_x", Type: TypeFloat, GlobalIndex: 20, Offset: -1},
		{Name: "origin_y", Type: TypeFloat, GlobalIndex: 21, Offset: -1},
		{Name: "origin_z", Type: TypeFloat, GlobalIndex: 22, Offset: -1},
	}

	require.NoError(t, vm.Check())

	byName := map[string]*Field{}
	for i := range vm.mod.Fields {
		byName[vm.mod.Fields[i].Name] = &vm.mod.Fields[i]
	}

	assert.EqualValues(t, 0, byName["classname"].Offset, "system field keeps its pinned offset")
	assert.EqualValues(t, 4, byName["health"].Offset, "first unpinned field packs right after the system prefix")
	assert.EqualValues(t, 8, byName["origin"].Offset)
	assert.EqualValues(t, 8, byName["origin_x"].Offset, "vector alias inherits its parent's offset")
	assert.EqualValues(t, 12, byName["origin_y"].Offset)
	assert.EqualValues(t, 16, byName["origin_z"].Offset)

	assert.EqualValues(t, 20, vm.EdictSize)
	assert.EqualValues(t, 1, vm.cellI(byName["health"].GlobalIndex), "health's TYPE_FIELD global is rewritten to its word offset")
	assert.EqualValues(t, 2, vm.cellI(byName["origin"].GlobalIndex))
	assert.EqualValues(t, 3, vm.cellI(byName["origin"].GlobalIndex+1), "vector TYPE_FIELD writes offset+1 into the next cell")
	assert.EqualValues(t, 4, vm.cellI(byName["origin"].GlobalIndex+2), "vector TYPE_FIELD writes offset+2 into the cell after that")
}

func TestFieldByOffsetReverseLookup(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	vm.mod.Fields = []Field{
		{Name: "health", Type: TypeFloat, GlobalIndex: 4, Offset: -1},
	}
	require.NoError(t, vm.Check())

	f, ok := vm.fieldByOffset(0)
	require.True(t, ok)
	assert.Equal(t, "health", f.Name)

	_, ok = vm.fieldByOffset(999)
	assert.False(t, ok)
}

func TestRewriteIntrinsicsSqrt(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	vm.mod.Funcs = []Function{{FirstStatement: 0, Name: "sqrt"}}
	vm.setCellI(20, 0)
	vm.mod.Statements = []Statement{
		{Op: OP_CALL1H, A: 20, B: 1, C: 2},
	}

	require.NoError(t, vm.Check())

	got := vm.mod.Statements[0]
	assert.Equal(t, OP_INTRIN_SQRT, got.Op)
	assert.Equal(t, globalOfsParm0, got.A)
	assert.Equal(t, globalOfsReturn, got.C)
}

func TestRewriteIntrinsicsLeavesUnrelatedCallsAlone(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	vm.mod.Funcs = []Function{{FirstStatement: 0, Name: "print"}}
	vm.setCellI(20, 0)
	original := Statement{Op: OP_CALL1H, A: 20, B: 1, C: 2}
	vm.mod.Statements = []Statement{original}

	require.NoError(t, vm.Check())

	assert.Equal(t, original, vm.mod.Statements[0])
}
