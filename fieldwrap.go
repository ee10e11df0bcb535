package qvm

// FieldWrapSetter mirrors a freshly written script cell to a host
// destination (spec.md §6 "Field-wrap setter contract"). src is the bytes
// just written to the script-visible field cell; dst is the host structure
// member to update.
type FieldWrapSetter func(dst, src []byte)

// fieldWrap is one entry in the sparse field_wraps array, indexed by field
// byte-cell offset within an entity record (spec.md §4.6).
type fieldWrap struct {
	set             bool
	sourceDef       int32 // index into mod.Fields
	destOffset      int32 // byte offset into the destination structure
	destSize        int32 // size of the mirrored value, for the memcpy fallback
	isClientField   bool
	setter          FieldWrapSetter
}

// ClientRecordFunc, if set, maps an entity index to its host-owned
// per-client structure (e.g. a network snapshot buffer), for field wraps
// registered with isClientField true.
type ClientRecordFunc func(entity int32) []byte

// RegisterFieldWrap mirrors the script-visible field fieldCellOffset
// (counted in 32-bit cells from the start of the entity record) to
// structOffset bytes into the destination structure, invoking setter on
// every write (spec.md §4.8 "register_field_wrap"). If setter is nil,
// check_set falls back to a raw copy of the written 4-byte cell into the
// destination, truncated to destSize bytes when that is smaller.
func (vm *VM) RegisterFieldWrap(name string, fieldCellOffset int32, structOffset int32, destSize int32, isClientField bool, setter FieldWrapSetter) {
	if int(fieldCellOffset) >= len(vm.fieldWraps) {
		grown := make([]fieldWrap, fieldCellOffset+1)
		copy(grown, vm.fieldWraps)
		vm.fieldWraps = grown
	}
	defIdx := int32(-1)
	if idx, ok := vm.mod.fieldByName.Lookup(name); ok {
		defIdx = int32(idx)
	} else {
		vm.warnOnce("fieldwrap:"+name, "register_field_wrap: no such field %q", name)
	}
	vm.fieldWraps[fieldCellOffset] = fieldWrap{
		set:           true,
		sourceDef:     defIdx,
		destOffset:    structOffset,
		destSize:      destSize,
		isClientField: isClientField,
		setter:        setter,
	}
}

// SetClientRecordFunc installs the host callback used to resolve an entity's
// per-client structure for field wraps marked IsClientField.
func (vm *VM) SetClientRecordFunc(fn ClientRecordFunc) { vm.clientRecord = fn }

// checkFieldWrap implements spec.md §4.6's check_set(ptr, span): for each
// cell in ptr..ptr+span that falls inside the entity array and has a
// registered wrap, mirror the freshly written bytes to the host destination.
func (vm *VM) checkFieldWrap(ptr Pointer, span int32) {
	if ptr.Type != PtrEntity {
		return
	}
	entity := int32(ptr.Offset) / vm.EdictSize
	intraOffset := int32(ptr.Offset) % vm.EdictSize
	fieldCell := intraOffset / 4

	for i := int32(0); i < span; i++ {
		cell := fieldCell + i
		if int(cell) >= len(vm.fieldWraps) || !vm.fieldWraps[cell].set {
			continue
		}
		w := &vm.fieldWraps[cell]

		var dst []byte
		if w.isClientField {
			if vm.clientRecord == nil {
				continue
			}
			rec := vm.clientRecord(entity)
			if int(w.destOffset)+int(w.destSize) > len(rec) {
				continue
			}
			dst = rec[w.destOffset : w.destOffset+w.destSize]
		} else {
			base := entity * vm.EdictSize
			if int(base+w.destOffset+w.destSize) > len(vm.Edicts) {
				continue
			}
			dst = vm.Edicts[base+w.destOffset : base+w.destOffset+w.destSize]
		}

		srcCellOff := entity*vm.EdictSize + cell*4
		src := vm.Edicts[srcCellOff : srcCellOff+4]

		if w.setter != nil {
			w.setter(dst, src)
		} else {
			n := copy(dst, src)
			_ = n
		}
	}
}
