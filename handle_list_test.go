package qvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedListInsertWriteRead(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	id := vm.NewTypedList(8)

	l := vm.handles.Fetch(id).payload.(*TypedList)
	require.NoError(t, l.Insert(0))
	require.NoError(t, l.Insert(1))
	assert.Equal(t, 2, l.Len())

	h := vm.handles.Fetch(id)
	ok := typedListDescriptor.Write(h, 8, []byte{1, 2, 3, 4})
	require.True(t, ok)

	data, ok := typedListDescriptor.Read(h, 8, 4)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)

	// writing past the element's own bounds fails rather than bleeding into
	// the next element.
	ok = typedListDescriptor.Write(h, 8+6, []byte{0xFF, 0xFF, 0xFF, 0xFF})
	assert.False(t, ok)
}

func TestTypedListInsertBadIndex(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	id := vm.NewTypedList(4)
	l := vm.handles.Fetch(id).payload.(*TypedList)

	err := l.Insert(-1)
	require.Error(t, err)
	var vmErr *VMError
	require.ErrorAs(t, err, &vmErr)
	assert.Equal(t, ErrBadInsertIndex, vmErr.Kind)

	err = l.Insert(1) // list is empty, only index 0 is valid
	require.Error(t, err)
}

func TestTypedListDeleteBadIndex(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	id := vm.NewTypedList(4)
	l := vm.handles.Fetch(id).payload.(*TypedList)
	require.NoError(t, l.Insert(0))

	err := l.Delete(5)
	require.Error(t, err)
	var vmErr *VMError
	require.ErrorAs(t, err, &vmErr)
	assert.Equal(t, ErrBadDeleteIndex, vmErr.Kind)

	require.NoError(t, l.Delete(0))
	assert.Equal(t, 0, l.Len())
}

func TestTypedListResolvePointerIntoElement(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	id := vm.NewTypedList(12)
	l := vm.handles.Fetch(id).payload.(*TypedList)
	require.NoError(t, l.Insert(0))

	h := vm.handles.Fetch(id)
	buf, ok := typedListDescriptor.ResolvePointer(h, 0, 12)
	require.True(t, ok)
	assert.Len(t, buf, 12)
}

func TestStructListBadElementSize(t *testing.T) {
	vm := newTestVM(t, 64, 16)

	_, err := vm.NewStructList(0, 4)
	require.Error(t, err)
	var vmErr *VMError
	require.ErrorAs(t, err, &vmErr)
	assert.Equal(t, ErrBadElementSize, vmErr.Kind)

	_, err = vm.NewStructList(4, -1)
	require.Error(t, err)
}

func TestStructListWriteReadWithinBounds(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	id, err := vm.NewStructList(4, 3)
	require.NoError(t, err)

	s := vm.handles.Fetch(id).payload.(*StructList)
	assert.Equal(t, 3, s.Count())

	h := vm.handles.Fetch(id)
	require.True(t, structListDescriptor.Write(h, 4, []byte{9, 9, 9, 9}))
	data, ok := structListDescriptor.Read(h, 4, 4)
	require.True(t, ok)
	assert.Equal(t, []byte{9, 9, 9, 9}, data)

	_, ok = structListDescriptor.Read(h, 10, 4)
	assert.False(t, ok, "reading past the end of the backing storage must fail")
}

func TestHandleFreeRecyclesSlot(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	id := vm.NewTypedList(4)
	vm.handles.Free(id)

	_, ok := vm.handles.fetchOK(id)
	assert.False(t, ok)

	next := vm.NewTypedList(4)
	assert.Equal(t, id, next, "a freed handle slot is reused")
}

func TestHandleFetchBadIDIsFatal(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	assert.Panics(t, func() { vm.handles.Fetch(999) })
}
