package qvm

// HandleDescriptor supplies the lifecycle and optional pointer-resolution
// callbacks for one host-owned object exposed to scripts as a handle
// (spec.md §4.7, §6 "Handle descriptor").
type HandleDescriptor struct {
	Free  func(h *Handle)
	Write func(h *Handle, offset int, data []byte) bool
	Read  func(h *Handle, offset int, length int) ([]byte, bool)

	// ResolvePointer lets scripts form pointers into the handle's payload
	// (e.g. into a typed list's backing storage). May be nil.
	ResolvePointer func(h *Handle, offset, length int) ([]byte, bool)
}

// Handle is one occupied slot in the handle table.
type Handle struct {
	id         uint16
	descriptor *HandleDescriptor
	payload    any
}

const maxHandles = 1024

// handleTable is the 1-indexed table of opaque references handed to scripts
// (spec.md §4.7). Index 0 is reserved as the null handle.
type handleTable struct {
	vm    *VM
	slots []Handle // slots[0] unused
	free  []uint16
}

func (h *handleTable) init(vm *VM) {
	h.vm = vm
	h.slots = make([]Handle, 1, 129)
	h.free = nil
}

// Alloc pulls a slot from the freelist if available, else grows the backing
// array in batches of 128 (spec.md §4.7).
func (h *handleTable) Alloc(payload any, descriptor *HandleDescriptor) uint16 {
	if n := len(h.free); n > 0 {
		idx := h.free[n-1]
		h.free = h.free[:n-1]
		h.slots[idx] = Handle{id: idx, descriptor: descriptor, payload: payload}
		return idx
	}
	if len(h.slots) >= maxHandles {
		h.vm.fatal(ErrBadHandle, "handle table exhausted (max %d)", maxHandles)
	}
	if cap(h.slots) == len(h.slots) {
		grown := make([]Handle, len(h.slots), len(h.slots)+128)
		copy(grown, h.slots)
		h.slots = grown
	}
	idx := uint16(len(h.slots))
	h.slots = append(h.slots, Handle{id: idx, descriptor: descriptor, payload: payload})
	return idx
}

// Fetch returns the handle at id, fatal on out-of-range or freed slot
// (spec.md §4.7, §7 BadHandle).
func (h *handleTable) Fetch(id uint16) *Handle {
	hdl, ok := h.fetchOK(id)
	if !ok {
		h.vm.fatal(ErrBadHandle, "bad handle %d", id)
		return nil
	}
	return hdl
}

func (h *handleTable) fetchOK(id uint16) (*Handle, bool) {
	if id == 0 || int(id) >= len(h.slots) {
		return nil, false
	}
	slot := &h.slots[id]
	if slot.descriptor == nil {
		return nil, false
	}
	return slot, true
}

// Free invokes the descriptor's Free callback and recycles the slot.
func (h *handleTable) Free(id uint16) {
	slot, ok := h.fetchOK(id)
	if !ok {
		h.vm.fatal(ErrBadHandle, "free: bad handle %d", id)
		return
	}
	if slot.descriptor.Free != nil {
		slot.descriptor.Free(slot)
	}
	h.slots[id] = Handle{}
	h.free = append(h.free, id)
}

// resolve implements the pointer model's HANDLE case (spec.md §4.4):
// delegate to the descriptor, false if it has none.
func (h *Handle) resolve(offset, length int) ([]byte, bool) {
	if h.descriptor.ResolvePointer == nil {
		return nil, false
	}
	return h.descriptor.ResolvePointer(h, offset, length)
}

// ArgvHandle reads the handle index from argument index (spec.md §4.8
// "argv_handle").
func (vm *VM) ArgvHandle(index int) uint16 {
	return uint16(vm.argvRaw(index))
}

// ReturnHandle writes a handle index into RETURN.
func (vm *VM) ReturnHandle(id uint16) {
	vm.returnRaw(uint32(id))
}
