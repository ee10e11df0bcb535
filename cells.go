package qvm

import "math"

// Direct global-cell accessors, used by register-addressed opcodes (LOAD_*,
// STORE_*, arithmetic, ...) which index the global slab by cell/word index
// rather than going through the byte-offset pointer model in pointer.go
// (that model is used for the entity side of LOAD_* and for the *P opcodes:
// STOREP/LOADP/ADDRESS/GLOBALADDRESS).

func (vm *VM) cellRaw(idx int32) uint32 {
	return leUint32(vm.mod.Globals[idx*4:])
}

func (vm *VM) setCellRaw(idx int32, v uint32) {
	putLeUint32(vm.mod.Globals[idx*4:], v)
}

func (vm *VM) cellF(idx int32) float32 { return math.Float32frombits(vm.cellRaw(idx)) }

func (vm *VM) setCellF(idx int32, v float32) { vm.setCellRaw(idx, math.Float32bits(v)) }

func (vm *VM) cellI(idx int32) int32 { return int32(vm.cellRaw(idx)) }

func (vm *VM) setCellI(idx int32, v int32) { vm.setCellRaw(idx, uint32(v)) }

type vec3 [3]float32

func (vm *VM) cellV(idx int32) vec3 {
	return vec3{vm.cellF(idx), vm.cellF(idx + 1), vm.cellF(idx + 2)}
}

func (vm *VM) setCellV(idx int32, v vec3) {
	vm.setCellF(idx, v[0])
	vm.setCellF(idx+1, v[1])
	vm.setCellF(idx+2, v[2])
}

// copyCells copies n cells (4 bytes each) from src to dst global indices,
// then transfers storage-slot tracking so any string-typed cell keeps its
// ref accounted for (spec.md §4.2 "mark_refs_copied").
func (vm *VM) copyCells(dst, src int32, n int32) {
	copy(vm.mod.Globals[dst*4:dst*4+n*4], vm.mod.Globals[src*4:src*4+n*4])
	vm.markRefsCopied(globalCellPointer(src), globalCellPointer(dst), n)
}
