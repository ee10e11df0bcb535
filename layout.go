package qvm

import (
	"encoding/binary"
	"os"
	"strings"

	"go.uber.org/zap"
)

// lnoMagic/lnoVersion identify a progs.lno sidecar: 'LNOF', version 1,
// followed by a count matching the module's statement count and then one
// i32 per statement (spec.md §3 "Line numbers", SPEC_FULL.md §4).
const (
	lnoMagic   uint32 = 0x464F4E4C // "LNOF"
	lnoVersion uint32 = 1
)

// loadLineNumbers reads the optional .lno sidecar next to path, silently
// doing nothing if it is absent, malformed, or out of sync with the module
// (line numbers are a debugging convenience, never required for execution).
func loadLineNumbers(mod *Module, path string) {
	lnoPath := lnoSidecarPath(path)
	raw, err := os.ReadFile(lnoPath)
	if err != nil {
		return
	}
	if len(raw) < 12 {
		return
	}
	magic := binary.LittleEndian.Uint32(raw[0:4])
	version := binary.LittleEndian.Uint32(raw[4:8])
	count := binary.LittleEndian.Uint32(raw[8:12])
	if magic != lnoMagic || version != lnoVersion || int(count) != len(mod.Statements) {
		return
	}
	need := 12 + int(count)*4
	if len(raw) < need {
		return
	}
	lines := make([]int32, count)
	for i := range lines {
		lines[i] = int32(binary.LittleEndian.Uint32(raw[12+i*4:]))
	}
	mod.LineNumbers = lines
}

func lnoSidecarPath(progsPath string) string {
	if idx := strings.LastIndexByte(progsPath, '.'); idx >= 0 {
		return progsPath[:idx] + ".lno"
	}
	return progsPath + ".lno"
}

// Check runs the load-time layout and rewrite pass (spec.md §4.1): it pins
// host-registered system fields at their fixed offsets, assigns the
// remaining fields contiguous cell offsets, writes each field's offset back
// into its TYPE_FIELD global so script code that reads a field constant sees
// the real runtime offset, computes the resulting per-entity record size,
// and rewrites any CALL1H of a recognized one-argument builtin into the
// matching intrinsic opcode.
func (vm *VM) Check() error {
	if vm.mod == nil {
		return &VMError{Kind: ErrLoad, Message: "check: no module loaded"}
	}

	vm.layoutFields()
	vm.rewriteIntrinsics()

	vm.logger.Info("module checked",
		zap.Int32("edict_size_words", vm.EdictSize/4),
		zap.Int("fields", len(vm.mod.Fields)),
	)
	return nil
}

// layoutFields assigns a byte offset to every field, pinning names that the
// host registered via RegisterSystemField at their requested offset and
// packing the rest immediately after, skipping the _x/_y/_z component
// aliases a vector field's compiler emits (spec.md §4.1 "Vector field
// aliasing").
func (vm *VM) layoutFields() {
	next := vm.systemEdictSize
	assigned := make(map[string]int32, len(vm.mod.Fields))

	for i := range vm.mod.Fields {
		f := &vm.mod.Fields[i]
		if strings.HasSuffix(f.Name, "_x") || strings.HasSuffix(f.Name, "_y") || strings.HasSuffix(f.Name, "_z") {
			continue
		}
		if sf, ok := vm.systemFields[f.Name]; ok {
			f.Offset = sf.offset
			assigned[f.Name] = f.Offset
			continue
		}
		f.Offset = next
		assigned[f.Name] = next
		next += f.Type.Span() * 4
	}
	// Second pass: vector component aliases inherit their parent's offset
	// plus 4/8 bytes, so script code addressing foo_x sees the right cell.
	for i := range vm.mod.Fields {
		f := &vm.mod.Fields[i]
		if f.Offset >= 0 {
			continue
		}
		base, suffix := f.Name, byte(0)
		switch {
		case strings.HasSuffix(f.Name, "_x"):
			base, suffix = f.Name[:len(f.Name)-2], 0
		case strings.HasSuffix(f.Name, "_y"):
			base, suffix = f.Name[:len(f.Name)-2], 1
		case strings.HasSuffix(f.Name, "_z"):
			base, suffix = f.Name[:len(f.Name)-2], 2
		}
		if off, ok := assigned[base]; ok {
			f.Offset = off + int32(suffix)*4
		} else {
			f.Offset = next
			next += 4
		}
	}

	vm.EdictSize = next
	if vm.EdictSize%4 != 0 {
		vm.EdictSize += 4 - vm.EdictSize%4
	}

	// Write each field's assigned offset (in words) back into its TYPE_FIELD
	// global, so LOAD_*/ADDRESS instructions that read the field constant
	// see the real runtime offset rather than the load-time placeholder. For
	// a vector field, the next two global cells also get offset+1, offset+2
	// (spec.md §4.1 "Write the assigned offset back..."); the _x/_y/_z alias
	// fields' own Offset was already set by the second pass above.
	for i := range vm.mod.Fields {
		f := &vm.mod.Fields[i]
		if f.GlobalIndex < 0 || int(f.GlobalIndex) >= len(vm.mod.Globals)/4 {
			continue
		}
		n := int32(1)
		if f.Type&^typeGlobalFlag == TypeVector {
			n = 3
		}
		for k := int32(0); k < n; k++ {
			g := f.GlobalIndex + k
			if int(g) >= len(vm.mod.Globals)/4 {
				break
			}
			vm.setCellI(g, f.Offset/4+k)
		}
	}
}

// fieldByOffset finds the field descriptor assigned to a given byte offset,
// the reverse of the name->offset map built at layout time (spec.md §4.1
// "field_map_by_id").
func (vm *VM) fieldByOffset(offset int32) (*Field, bool) {
	for i := range vm.mod.Fields {
		if vm.mod.Fields[i].Offset == offset {
			return &vm.mod.Fields[i], true
		}
	}
	return nil, false
}

// rewriteIntrinsics scans every CALL1H statement and, if the function being
// called is a still-unresolved native whose name is a recognized intrinsic
// (spec.md §4.1, intrinsicTargets in opcodes.go), replaces the statement
// with the matching OP_INTRIN_* opcode, operating directly on the argument
// register instead of paying for a full call.
func (vm *VM) rewriteIntrinsics() {
	for i := range vm.mod.Statements {
		st := &vm.mod.Statements[i]
		if st.Op != OP_CALL1H {
			continue
		}
		fnID := vm.cellI(st.A)
		fn := vm.functionAt(fnID)
		if fn == nil || !fn.IsNative() || fn.FirstStatement != 0 {
			continue
		}
		target, ok := intrinsicTargets[fn.Name]
		if !ok {
			continue
		}
		*st = Statement{Op: target, A: globalOfsParm0, C: globalOfsReturn}
	}
}
