package qvm

import "github.com/tinyrange-qvm/qvm/internal/hashtab"

// dynString is one entry in the grow-only dynamic-string table (spec.md
// §4.5 "Dynamic-string table").
type dynString struct {
	bytes    []byte
	refCount int32
	used     bool
}

// dynamicStrings is the ref-counted intern pool for strings that are not in
// the module's static string blob.
type dynamicStrings struct {
	table []dynString
	free  []int32
}

func (d *dynamicStrings) init() {
	d.table = d.table[:0]
	d.free = d.free[:0]
}

// store allocates (or reuses a freed slot) and returns the negative id for
// bytes, taking ownership of it. ref_count starts at zero: the caller is
// expected to acquire() it (directly or via markRefCopy) if it is about to
// be referenced from a tracked cell.
func (d *dynamicStrings) store(bytes []byte) int32 {
	var idx int32
	if n := len(d.free); n > 0 {
		idx = d.free[n-1]
		d.free = d.free[:n-1]
		d.table[idx] = dynString{bytes: bytes, used: true}
	} else {
		idx = int32(len(d.table))
		d.table = append(d.table, dynString{bytes: bytes, used: true})
	}
	return -(idx + 1)
}

func (d *dynamicStrings) dynIndex(id int32) int32 { return -id - 1 }

func (d *dynamicStrings) get(id int32) ([]byte, bool) {
	idx := d.dynIndex(id)
	if idx < 0 || int(idx) >= len(d.table) || !d.table[idx].used {
		return nil, false
	}
	return d.table[idx].bytes, true
}

// acquire increments the ref count of a dynamic string id. No-op for static
// (id>=0) strings.
func (d *dynamicStrings) acquire(id int32) {
	if id >= 0 {
		return
	}
	idx := d.dynIndex(id)
	if idx >= 0 && int(idx) < len(d.table) && d.table[idx].used {
		d.table[idx].refCount++
	}
}

// release decrements the ref count, freeing the slot when it reaches zero.
func (d *dynamicStrings) release(id int32) {
	if id >= 0 {
		return
	}
	idx := d.dynIndex(id)
	if idx < 0 || int(idx) >= len(d.table) || !d.table[idx].used {
		return
	}
	d.table[idx].refCount--
	if d.table[idx].refCount <= 0 {
		d.unstore(idx)
	}
}

func (d *dynamicStrings) unstore(idx int32) {
	d.table[idx] = dynString{}
	d.free = append(d.free, idx)
}

func (d *dynamicStrings) refCount(id int32) int32 {
	idx := d.dynIndex(id)
	if id >= 0 || idx < 0 || int(idx) >= len(d.table) || !d.table[idx].used {
		return 0
	}
	return d.table[idx].refCount
}

// --- Storage-slot tracking (spec.md §4.5) ---

// trackKey names a tracked-capable cell: a region plus a byte offset into it.
// Global and Entity pointers never alias, so (region, offset) is unique.
type trackKey struct {
	region PointerType
	offset uint32
}

type trackedRef struct {
	id     int32
	frame  int32 // debug: the frame depth that wrote this ref, -1 if unknown
}

// refTracker is the open-addressing map from cell address to dynamic-string
// id described in spec.md §4.5. A Go map already gives us O(1) amortized
// lookup/insert/delete with automatic growth, so it stands in for the
// original's hand-rolled intrusive hash chains + freelist (see design note
// in spec.md §9); the externally observable semantics (mark/check/copy/pop/
// push) are implemented exactly as specified.
type refTracker struct {
	m map[trackKey]trackedRef
}

func (r *refTracker) init() { r.m = make(map[trackKey]trackedRef) }

func keyFor(p Pointer) trackKey { return trackKey{region: p.Type, offset: p.Offset} }

// hasRef reports whether ptr is currently tracked, and its id if so.
func (vm *VM) hasRef(ptr Pointer) (int32, bool) {
	t, ok := vm.refs.m[keyFor(ptr)]
	return t.id, ok
}

// markRefCopy records that ptr now holds dynamic string id, acquiring it.
// If ptr already tracks id, it's a no-op; if it tracks a different id, that
// old tracking is unlinked WITHOUT releasing (the caller already released or
// is about to, per spec.md §4.5's table).
func (vm *VM) markRefCopy(id int32, ptr Pointer) {
	k := keyFor(ptr)
	if existing, ok := vm.refs.m[k]; ok {
		if existing.id == id {
			return
		}
		delete(vm.refs.m, k)
	}
	if id >= 0 {
		return // static or empty string: nothing to track
	}
	vm.strings.acquire(id)
	vm.refs.m[k] = trackedRef{id: id, frame: int32(len(vm.frames))}
}

// checkRefUnset releases and unlinks tracking for any cell in ptr..ptr+span
// whose tracked id no longer matches its live content (or unconditionally,
// if assumeChanged).
func (vm *VM) checkRefUnset(ptr Pointer, span int32, assumeChanged bool) {
	for i := int32(0); i < span; i++ {
		cell := ptr.offsetBytes(i * 4)
		k := keyFor(cell)
		tracked, ok := vm.refs.m[k]
		if !ok {
			continue
		}
		if assumeChanged || vm.readCellID(cell) != tracked.id {
			vm.strings.release(tracked.id)
			delete(vm.refs.m, k)
		}
	}
}

// markRefsCopied transfers storage-slot tracking from src to dst across span
// cells, used whenever an opcode copies register-to-register or cell-to-cell
// data that might be string-typed.
func (vm *VM) markRefsCopied(src, dst Pointer, span int32) {
	for i := int32(0); i < span; i++ {
		s := src.offsetBytes(i * 4)
		d := dst.offsetBytes(i * 4)
		sTracked, sOK := vm.refs.m[keyFor(s)]
		dKey := keyFor(d)
		dTracked, dOK := vm.refs.m[dKey]

		if dOK && !(sOK && sTracked.id == dTracked.id) {
			vm.strings.release(dTracked.id)
			delete(vm.refs.m, dKey)
		}
		if sOK {
			vm.markRefCopy(sTracked.id, d)
		}
	}
}

// refBackup is what Enter/Leave save and restore across a call (spec.md
// §4.3, §9 "Parent-window save-restore").
type refBackup struct {
	ptr Pointer
	id  int32
}

// popRef removes tracking for ptr without releasing the ref count, returning
// a backup the caller must eventually push back (or explicitly release).
func (vm *VM) popRef(ptr Pointer) (refBackup, bool) {
	k := keyFor(ptr)
	t, ok := vm.refs.m[k]
	if !ok {
		return refBackup{}, false
	}
	delete(vm.refs.m, k)
	return refBackup{ptr: ptr, id: t.id}, true
}

// pushRef restores tracking for a backup produced by popRef, without
// acquiring (the ref count was never released).
func (vm *VM) pushRef(b refBackup) {
	k := keyFor(b.ptr)
	if existing, ok := vm.refs.m[k]; ok {
		vm.strings.release(existing.id)
		delete(vm.refs.m, k)
	}
	vm.refs.m[k] = trackedRef{id: b.id, frame: int32(len(vm.frames))}
}

// readCellID reads the raw 32-bit cell at ptr and interprets it as a string
// id, for comparison against tracked state.
func (vm *VM) readCellID(ptr Pointer) int32 {
	b, ok := vm.resolve(ptr, false, 4)
	if !ok {
		return 0
	}
	return int32(leUint32(b))
}

// --- Finding strings by value ---

// findString looks for value first in the static blob's substring index,
// then linearly in the dynamic table, returning a non-owning id (callers
// that will hold onto it must acquire()).
func (vm *VM) findString(value string) (int32, bool) {
	if value == "" {
		return 0, true
	}
	if off, ok := vm.mod.strByOffset.Lookup(value); ok {
		return off, true
	}
	for i := range vm.strings.table {
		if vm.strings.table[i].used && string(vm.strings.table[i].bytes) == value {
			return -(int32(i) + 1), true
		}
	}
	return 0, false
}

// storeOrFind returns an id for value, reusing a static or dynamic id if one
// already exists; otherwise it interns a new dynamic string. copyFlag mirrors
// the original's distinction between "may alias caller-owned memory" and
// "must take an owned copy" — qvm always copies, since Go has no notion of a
// caller-owned C buffer to alias.
func (vm *VM) storeOrFind(value string, copyFlag bool) int32 {
	if id, ok := vm.findString(value); ok {
		return id
	}
	return vm.strings.store([]byte(value))
}

// getString renders any string id (static or dynamic) to a Go string.
func (vm *VM) getString(id int32) string {
	if id == 0 {
		return ""
	}
	if id > 0 {
		return readCString(vm.mod.Strings, id)
	}
	b, ok := vm.strings.get(id)
	if !ok {
		return ""
	}
	return string(b)
}

// SetGlobalString stores str as a dynamic string (or reuses an existing id)
// and writes its id into global (spec.md §4.8). Any string previously
// tracked at that cell is released.
func (vm *VM) SetGlobalString(global int32, str string, length int, copyFlag bool) int32 {
	if length >= 0 && length < len(str) {
		str = str[:length]
	}
	id := vm.storeOrFind(str, copyFlag)
	ptr := globalCellPointer(global)
	// Hold id while the cell's old string is released: storeOrFind may have
	// returned that very string.
	vm.strings.acquire(id)
	vm.checkRefUnset(ptr, 1, true)
	vm.writeCellID(ptr, id)
	vm.markRefCopy(id, ptr)
	vm.strings.release(id)
	return id
}

func (vm *VM) writeCellID(ptr Pointer, id int32) {
	b := vm.mustResolve(ptr, 4)
	putLeUint32(b, uint32(id))
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// buildStringIndex implements spec.md §4.1's load-time interning: a hash
// chain over every substring start within the blob, so any suffix of an
// existing string is trivially findable by find_string, plus a cached
// length per offset.
func buildStringIndex(mod *Module) {
	mod.strByOffset = hashtab.New[int32](len(mod.Strings) / 4)
	mod.strLen = make(map[int32]int32)
	i := 0
	for i < len(mod.Strings) {
		start := i
		for i < len(mod.Strings) && mod.Strings[i] != 0 {
			i++
		}
		length := i - start
		// Insert every suffix starting position within this NUL-terminated
		// run, so any suffix of an in-blob string is a hash lookup away.
		for s := start; s < i; s++ {
			sub := string(mod.Strings[s:i])
			if _, exists := mod.strByOffset.Lookup(sub); !exists {
				mod.strByOffset.Insert(sub, int32(s))
				mod.strLen[int32(s)] = int32(i - s)
			}
		}
		if length == 0 {
			mod.strLen[int32(start)] = 0
		}
		i++ // skip the NUL
	}
}
