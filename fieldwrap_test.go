package qvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldWrapMirrorsWriteToHostStruct(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	vm.EdictSize = 32
	vm.MaxEdicts = 2
	vm.Edicts = make([]byte, vm.EdictSize*vm.MaxEdicts)
	vm.mod.fieldByName.Insert("health", 0)

	var mirrored uint32
	vm.RegisterFieldWrap("health", 2, 0, 4, false, func(dst, src []byte) {
		mirrored = leUint32(src)
		putLeUint32(dst, leUint32(src))
	})

	ptr := Pointer{Type: PtrEntity, Offset: uint32(vm.EdictSize) + 8} // entity 1, field cell 2
	vm.setCellRaw(10, 77)
	vm.setCellRaw(11, ptr.Pack())
	vm.storeP(10, 11, 0, 1)

	assert.EqualValues(t, 77, mirrored)
	base := 1 * int(vm.EdictSize)
	assert.Equal(t, uint32(77), leUint32(vm.Edicts[base:base+4]))
}

func TestFieldWrapSkipsUnregisteredCells(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	vm.EdictSize = 16
	vm.MaxEdicts = 1
	vm.Edicts = make([]byte, vm.EdictSize)

	ptr := Pointer{Type: PtrEntity, Offset: 0}
	require.NotPanics(t, func() { vm.checkFieldWrap(ptr, 4) })
}

func TestRegisterFieldWrapWarnsOnUnknownField(t *testing.T) {
	vm := newTestVM(t, 64, 16)
	var warned string
	vm.OnWarn = func(msg string) { warned = msg }

	vm.RegisterFieldWrap("nosuchfield", 0, 0, 4, false, nil)
	assert.Contains(t, warned, "nosuchfield")
}
