package qvm

// TypedList is a growable, element-typed list exposed to scripts as a
// handle (original source: vm_list.c). Every element is elementSize bytes;
// insert/delete operate by index, and ResolvePointer lets scripts form a
// direct pointer into one element's storage for in-place field access.
type TypedList struct {
	vm          *VM
	elementSize int32
	elements    [][]byte
}

// NewTypedList allocates a handle-table entry for a new, empty typed list.
func (vm *VM) NewTypedList(elementSize int32) uint16 {
	l := &TypedList{vm: vm, elementSize: elementSize}
	return vm.handles.Alloc(l, typedListDescriptor)
}

var typedListDescriptor = &HandleDescriptor{
	Free: func(h *Handle) {
		l := h.payload.(*TypedList)
		l.elements = nil
	},
	Write: func(h *Handle, offset int, data []byte) bool {
		l := h.payload.(*TypedList)
		idx, intra := l.locate(offset)
		if idx < 0 || intra+len(data) > int(l.elementSize) {
			return false
		}
		copy(l.elements[idx][intra:], data)
		return true
	},
	Read: func(h *Handle, offset, length int) ([]byte, bool) {
		l := h.payload.(*TypedList)
		idx, intra := l.locate(offset)
		if idx < 0 || intra+length > int(l.elementSize) {
			return nil, false
		}
		return append([]byte(nil), l.elements[idx][intra:intra+length]...), true
	},
	ResolvePointer: func(h *Handle, offset, length int) ([]byte, bool) {
		l := h.payload.(*TypedList)
		idx, intra := l.locate(offset)
		if idx < 0 || intra+length > int(l.elementSize) {
			return nil, false
		}
		return l.elements[idx][intra : intra+length], true
	},
}

func (l *TypedList) locate(offset int) (index, intra int) {
	if l.elementSize <= 0 {
		return -1, 0
	}
	idx := offset / int(l.elementSize)
	if idx < 0 || idx >= len(l.elements) {
		return -1, 0
	}
	return idx, offset - idx*int(l.elementSize)
}

// Len reports the current element count.
func (l *TypedList) Len() int { return len(l.elements) }

// Insert adds a zero-filled element at index (spec.md §7 BadInsertIndex for
// index outside [0, Len()]).
func (l *TypedList) Insert(index int) error {
	if index < 0 || index > len(l.elements) {
		return &VMError{Kind: ErrBadInsertIndex, Message: "typed list insert index out of range"}
	}
	elem := make([]byte, l.elementSize)
	l.elements = append(l.elements, nil)
	copy(l.elements[index+1:], l.elements[index:])
	l.elements[index] = elem
	return nil
}

// Delete removes the element at index (spec.md §7 BadDeleteIndex).
func (l *TypedList) Delete(index int) error {
	if index < 0 || index >= len(l.elements) {
		return &VMError{Kind: ErrBadDeleteIndex, Message: "typed list delete index out of range"}
	}
	l.elements = append(l.elements[:index], l.elements[index+1:]...)
	return nil
}

// StructList is a fixed-stride, pre-sized list (original source:
// vm_structlist.c), used where the element count is known up front and
// growth is never needed — kill feeds, fixed inventories.
type StructList struct {
	vm          *VM
	elementSize int32
	storage     []byte
}

// NewStructList allocates a handle-table entry for a fixed-size struct list
// with count elements of elementSize bytes each. elementSize<=0 or count<0
// is rejected as BadElementSize.
func (vm *VM) NewStructList(elementSize, count int32) (uint16, error) {
	if elementSize <= 0 || count < 0 {
		return 0, &VMError{Kind: ErrBadElementSize, Message: "struct list: bad element size or count"}
	}
	s := &StructList{vm: vm, elementSize: elementSize, storage: make([]byte, elementSize*count)}
	return vm.handles.Alloc(s, structListDescriptor), nil
}

var structListDescriptor = &HandleDescriptor{
	Free: func(h *Handle) {
		s := h.payload.(*StructList)
		s.storage = nil
	},
	Write: func(h *Handle, offset int, data []byte) bool {
		s := h.payload.(*StructList)
		if offset < 0 || offset+len(data) > len(s.storage) {
			return false
		}
		copy(s.storage[offset:], data)
		return true
	},
	Read: func(h *Handle, offset, length int) ([]byte, bool) {
		s := h.payload.(*StructList)
		if offset < 0 || offset+length > len(s.storage) {
			return nil, false
		}
		return append([]byte(nil), s.storage[offset:offset+length]...), true
	},
	ResolvePointer: func(h *Handle, offset, length int) ([]byte, bool) {
		s := h.payload.(*StructList)
		if offset < 0 || offset+length > len(s.storage) {
			return nil, false
		}
		return s.storage[offset : offset+length], true
	},
}

// Count reports how many elements the struct list was allocated with.
func (s *StructList) Count() int {
	if s.elementSize == 0 {
		return 0
	}
	return len(s.storage) / int(s.elementSize)
}
