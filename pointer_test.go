package qvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPointerPackUnpackRoundTrip(t *testing.T) {
	cases := []Pointer{
		{Type: PtrGlobal, Offset: 1024},
		{Type: PtrEntity, Offset: 65536},
		{Type: PtrHandle, Index: 7, Offset: 12},
		{Type: PtrNull},
	}
	for _, p := range cases {
		got := UnpackPointer(p.Pack())
		assert.Equal(t, p, got)
	}
}

func TestOffsetBytesStaysInRegion(t *testing.T) {
	p := Pointer{Type: PtrGlobal, Offset: 100}
	p2 := p.offsetBytes(8)
	assert.Equal(t, PtrGlobal, p2.Type)
	assert.Equal(t, uint32(108), p2.Offset)
}

func TestResolveNullRequiresZeroLength(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	_, ok := vm.resolve(Pointer{Type: PtrNull}, true, 0)
	assert.True(t, ok)
	_, ok = vm.resolve(Pointer{Type: PtrNull}, true, 4)
	assert.False(t, ok)
}

func TestResolveGlobalBounds(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	_, ok := vm.resolve(Pointer{Type: PtrGlobal, Offset: 60}, false, 4)
	assert.True(t, ok)
	_, ok = vm.resolve(Pointer{Type: PtrGlobal, Offset: 62}, false, 4)
	assert.False(t, ok, "reading past the end of the global slab must fail")
}
