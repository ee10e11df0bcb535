package qvm

// PointerType tags which of the three addressable regions a Pointer names
// (spec.md §4.4).
type PointerType uint8

const (
	PtrNull PointerType = iota
	PtrGlobal
	PtrEntity
	PtrHandle
)

// Pointer is qvm's in-memory representation of the tagged 32-bit pointer
// value spec.md §4.4 describes as a bit-packed on-disk shape. Design note
// (spec.md §9): the packed representation only matters if scripts persist
// pointers in saved globals, which this VM does not do, so a wider tagged
// struct is used in memory and only packed/unpacked at the global-slab
// boundary (Pack/Unpack below) for scripts that stash a pointer in a global
// and read it back bit-for-bit.
type Pointer struct {
	Type PointerType

	// Global/Entity: Offset is a byte offset into that region.
	Offset uint32

	// Handle: Index selects the handle slot (1-based, §4.7); Offset is a
	// byte offset within the handle's payload.
	Index uint16
}

const (
	ptrRawOffsetBits  = 30
	ptrHandleOffsetBits = 20
	ptrHandleIndexBits  = 10
)

// Pack encodes the pointer into the 32-bit on-disk/in-cell shape.
func (p Pointer) Pack() uint32 {
	if p.Type == PtrHandle {
		return uint32(p.Type) | (uint32(p.Index)&((1<<ptrHandleIndexBits)-1))<<2 | (p.Offset&((1<<ptrHandleOffsetBits)-1))<<(2+ptrHandleIndexBits)
	}
	return uint32(p.Type) | (p.Offset&((1<<ptrRawOffsetBits)-1))<<2
}

// UnpackPointer decodes a 32-bit cell value into a Pointer.
func UnpackPointer(v uint32) Pointer {
	typ := PointerType(v & 0x3)
	if typ == PtrHandle {
		idx := uint16((v >> 2) & ((1 << ptrHandleIndexBits) - 1))
		off := (v >> (2 + ptrHandleIndexBits)) & ((1 << ptrHandleOffsetBits) - 1)
		return Pointer{Type: PtrHandle, Index: idx, Offset: off}
	}
	return Pointer{Type: typ, Offset: (v >> 2) & ((1 << ptrRawOffsetBits) - 1)}
}

// offsetBytes advances a pointer by k bytes within its own region, keeping
// handle pointers in-handle (spec.md §4.4 "Offsetting").
func (p Pointer) offsetBytes(k int32) Pointer {
	p.Offset = uint32(int64(p.Offset) + int64(k))
	return p
}

// resolve implements spec.md §4.4's resolve(pointer, allow_null, len) -> bool,
// returning the byte slice of length len backing the pointer, or nil+false.
func (vm *VM) resolve(p Pointer, allowNull bool, length int) ([]byte, bool) {
	switch p.Type {
	case PtrNull:
		if allowNull && length == 0 && p.Offset == 0 {
			return nil, true
		}
		return nil, false

	case PtrGlobal:
		end := int64(p.Offset) + int64(length)
		if end > int64(len(vm.mod.Globals)) {
			return nil, false
		}
		return vm.mod.Globals[p.Offset : uint32(end)], true

	case PtrEntity:
		end := int64(p.Offset) + int64(length)
		if end > int64(vm.EdictSize)*int64(vm.MaxEdicts) {
			return nil, false
		}
		return vm.Edicts[p.Offset:uint32(end)], true

	case PtrHandle:
		h, ok := vm.handles.fetchOK(p.Index)
		if !ok || h.descriptor.ResolvePointer == nil {
			return nil, false
		}
		return h.descriptor.ResolvePointer(h, int(p.Offset), length)
	}
	return nil, false
}

// mustResolve resolves p or raises a fatal BadPointer error (every
// STOREP_*/LOADP_*/MULSTOREP_* etc. opcode does this per spec.md §4.4
// "Safety").
func (vm *VM) mustResolve(p Pointer, length int) []byte {
	b, ok := vm.resolve(p, false, length)
	if !ok {
		vm.fatal(ErrBadPointer, "invalid address (type=%d offset=%d len=%d)", p.Type, p.Offset, length)
		return nil
	}
	return b
}

// entityFieldPointer forms the pointer produced by ADDRESS, and read through
// by LOAD_*, for (entity index, field word-offset).
func (vm *VM) entityFieldPointer(entity int32, fieldWordOffset int32) Pointer {
	if entity < 0 {
		entity = 0 // "invalid" sentinel entity, spec.md §4.2 LOAD_*
	}
	return Pointer{Type: PtrEntity, Offset: uint32(entity)*uint32(vm.EdictSize) + uint32(fieldWordOffset)*4}
}

func globalCellPointer(idx int32) Pointer {
	return Pointer{Type: PtrGlobal, Offset: uint32(idx) * 4}
}
