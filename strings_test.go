package qvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamicStringStoreAcquireRelease(t *testing.T) {
	var d dynamicStrings
	d.init()

	id := d.store([]byte("hello"))
	assert.Less(t, id, int32(0), "dynamic ids are negative")

	b, ok := d.get(id)
	require.True(t, ok)
	assert.Equal(t, "hello", string(b))
	assert.EqualValues(t, 0, d.refCount(id))

	d.acquire(id)
	d.acquire(id)
	assert.EqualValues(t, 2, d.refCount(id))

	d.release(id)
	_, ok = d.get(id)
	require.True(t, ok, "one outstanding ref keeps the slot alive")

	d.release(id)
	_, ok = d.get(id)
	assert.False(t, ok, "last release frees the slot")
}

func TestDynamicStringSlotReuse(t *testing.T) {
	var d dynamicStrings
	d.init()

	first := d.store([]byte("a"))
	d.release(first)

	second := d.store([]byte("b"))
	assert.Equal(t, first, second, "a freed slot is reused for the next store")
	b, _ := d.get(second)
	assert.Equal(t, "b", string(b))
}

func TestSetGlobalStringOverwriteReleasesOld(t *testing.T) {
	vm := newTestVM(t, 256, 16)

	firstID := vm.SetGlobalString(10, "first", -1, true)
	assert.EqualValues(t, 1, vm.strings.refCount(firstID))

	secondID := vm.SetGlobalString(10, "second", -1, true)
	assert.NotEqual(t, firstID, secondID)
	assert.EqualValues(t, 0, vm.strings.refCount(firstID), "overwritten cell releases its old tracked string")
	assert.EqualValues(t, 1, vm.strings.refCount(secondID))

	assert.Equal(t, "second", vm.getString(vm.cellI(10)))
}

func TestMarkRefCopySameIDIsNoop(t *testing.T) {
	vm := newTestVM(t, 256, 16)

	id := vm.SetGlobalString(5, "shared", -1, true)
	before := vm.strings.refCount(id)

	ptr := globalCellPointer(5)
	vm.markRefCopy(id, ptr)
	assert.Equal(t, before, vm.strings.refCount(id), "re-marking the same cell with the same id must not re-acquire")
}

func TestMarkRefsCopiedTransfersTracking(t *testing.T) {
	vm := newTestVM(t, 256, 16)

	id := vm.SetGlobalString(5, "moved", -1, true)
	vm.copyCells(6, 5, 1)

	got, ok := vm.hasRef(globalCellPointer(6))
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.EqualValues(t, 2, vm.strings.refCount(id), "the copy holds its own reference alongside the still-tracked source cell")
}

func TestPopPushRefRoundTrip(t *testing.T) {
	vm := newTestVM(t, 256, 16)

	id := vm.SetGlobalString(7, "saved", -1, true)
	ptr := globalCellPointer(7)

	backup, ok := vm.popRef(ptr)
	require.True(t, ok)
	_, stillTracked := vm.hasRef(ptr)
	assert.False(t, stillTracked)
	assert.EqualValues(t, 1, vm.strings.refCount(id), "pop does not release")

	vm.pushRef(backup)
	got, ok := vm.hasRef(ptr)
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.EqualValues(t, 1, vm.strings.refCount(id), "push does not re-acquire")
}

func TestCheckRefUnsetReleasesOnMismatch(t *testing.T) {
	vm := newTestVM(t, 256, 16)

	id := vm.SetGlobalString(8, "tracked", -1, true)
	vm.setCellI(8, 0) // overwrite the cell's raw content without going through SetGlobalString

	vm.checkRefUnset(globalCellPointer(8), 1, false)
	assert.EqualValues(t, 0, vm.strings.refCount(id))
	_, ok := vm.hasRef(globalCellPointer(8))
	assert.False(t, ok)
}

func TestFindStringStaticBlob(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	vm.mod.Strings = append([]byte("origin\x00"), 0)
	buildStringIndex(vm.mod)

	id, ok := vm.findString("origin")
	require.True(t, ok)
	assert.EqualValues(t, 0, id)

	id, ok = vm.findString("gin")
	require.True(t, ok, "any suffix of an in-blob string is findable")
	assert.Equal(t, "gin", vm.getString(id))
}

func TestFindStringEmptyIsZero(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	id, ok := vm.findString("")
	require.True(t, ok)
	assert.EqualValues(t, 0, id)
}

func TestStoreOrFindReusesExistingDynamicID(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	first := vm.storeOrFind("reused", true)
	second := vm.storeOrFind("reused", true)
	assert.Equal(t, first, second)
}
