package qvm

import "encoding/binary"

// persistVersion is the leading u32 of a saved dynamic-string table
// (spec.md §4.5, §6 "Save/restore").
const persistVersion uint32 = 1

// persistTerminator is the zero-length record that ends the stream
// (spec.md §6 "Persisted VM state").
const persistTerminator uint32 = 0

// SaveStrings serializes the live dynamic-string table exactly as spec.md §6
// describes: a version marker, then {length u32, bytes}* for every occupied
// slot, followed by a terminating zero-length record with no bytes. Freed
// slots carry no record — spec.md §8's round-trip law only requires the
// restored table be content-equal, "possibly re-indexed", so compacting past
// freed slots keeps the wire format exactly the one real hosts speak
// (a length field readers would otherwise have to special-case).
//
// Ref counts are deliberately not persisted: on restore every string comes
// back with ref_count 0, exactly like a freshly interned string, since the
// cells that hold the ids live in the global slab and entity array (which
// the host saves separately), and references are acquired again when those
// cells are re-tracked after loading.
func (vm *VM) SaveStrings() []byte {
	out := make([]byte, 4, 64)
	binary.LittleEndian.PutUint32(out, persistVersion)
	for _, s := range vm.strings.table {
		if !s.used {
			continue
		}
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(s.bytes)))
		out = append(out, hdr[:]...)
		out = append(out, s.bytes...)
	}
	var term [4]byte
	binary.LittleEndian.PutUint32(term[:], persistTerminator)
	out = append(out, term[:]...)
	return out
}

// LoadStrings replaces the dynamic-string table from data produced by
// SaveStrings. Restored strings are appended compactly (no freed-slot gaps),
// so ids may differ from the saving VM's — permitted by spec.md §8's
// round-trip law. This does NOT acquire references for the restored strings
// (spec.md §4.5): callers are expected to re-establish tracking themselves
// by walking the restored globals/entities and calling markRefCopy. Any
// existing storage-slot tracking is cleared.
func (vm *VM) LoadStrings(data []byte) error {
	if len(data) < 4 {
		return &VMError{Kind: ErrLoad, Message: "save-string blob too small"}
	}
	if binary.LittleEndian.Uint32(data) != persistVersion {
		return &VMError{Kind: ErrLoad, Message: "unsupported save-string version"}
	}
	pos := 4
	vm.strings.init()
	vm.refs.init()
	for {
		if pos+4 > len(data) {
			return &VMError{Kind: ErrLoad, Message: "save-string blob truncated"}
		}
		length := binary.LittleEndian.Uint32(data[pos:])
		pos += 4
		if length == persistTerminator {
			break
		}
		if pos+int(length) > len(data) {
			return &VMError{Kind: ErrLoad, Message: "save-string blob truncated"}
		}
		bytes := append([]byte(nil), data[pos:pos+int(length)]...)
		pos += int(length)
		vm.strings.table = append(vm.strings.table, dynString{bytes: bytes, used: true})
	}
	return nil
}
