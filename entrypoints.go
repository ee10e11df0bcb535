package qvm

// This file is the builtin call-in contract (spec.md §4.8, §6): the
// argv_*/return_* family a native function registered with RegisterBuiltin
// uses to read its arguments and report its result, mirroring PARM0.. and
// RETURN the way script code does implicitly through the calling
// convention Enter/Leave establish.

func (vm *VM) argCell(index int) int32 {
	return globalOfsParm0 + int32(index)*parmStride
}

// argvRaw reads argument index as a raw 32-bit cell, used by ArgvHandle.
func (vm *VM) argvRaw(index int) uint32 {
	return vm.cellRaw(vm.argCell(index))
}

// returnRaw writes v as the raw 32-bit RETURN cell.
func (vm *VM) returnRaw(v uint32) {
	vm.setCellRaw(globalOfsReturn, v)
}

// ArgC returns how many arguments the current call passed, set by the CALL
// opcode that invoked the running builtin.
func (vm *VM) ArgC() int { return vm.argc }

func (vm *VM) ArgvFloat(index int) float32 {
	return vm.cellF(vm.argCell(index))
}

func (vm *VM) ArgvInt(index int) int32 {
	return vm.cellI(vm.argCell(index))
}

func (vm *VM) ArgvVector(index int) [3]float32 {
	return vm.cellV(vm.argCell(index))
}

func (vm *VM) ArgvEntity(index int) int32 {
	return int32(vm.cellRaw(vm.argCell(index)))
}

func (vm *VM) ArgvString(index int) string {
	return vm.getString(vm.cellI(vm.argCell(index)))
}

func (vm *VM) ArgvPointer(index int) Pointer {
	return UnpackPointer(vm.cellRaw(vm.argCell(index)))
}

func (vm *VM) ReturnFloat(v float32) {
	vm.setCellF(globalOfsReturn, v)
}

func (vm *VM) ReturnInt(v int32) {
	vm.setCellI(globalOfsReturn, v)
}

func (vm *VM) ReturnVector(v [3]float32) {
	vm.setCellV(globalOfsReturn, v)
}

func (vm *VM) ReturnEntity(entity int32) {
	vm.setCellRaw(globalOfsReturn, uint32(entity))
}

// ReturnString interns str as a dynamic string (or reuses an existing id)
// and returns it, releasing whatever string was previously tracked at
// RETURN (spec.md §4.5, §4.8).
func (vm *VM) ReturnString(str string) {
	vm.SetGlobalString(globalOfsReturn, str, len(str), true)
}

func (vm *VM) ReturnPointer(p Pointer) {
	vm.setCellRaw(globalOfsReturn, p.Pack())
}

// SetGlobal overwrites the cells starting at global with raw (spec.md §4.8
// "set_global"), releasing any string tracked there first. The written cells
// are not tracked afterwards, even if their bytes encode a live dynamic
// string id (callers writing a string should use SetGlobalString, which
// interns and tracks the value; this is for raw numeric/vector globals).
func (vm *VM) SetGlobal(global int32, raw []byte) {
	span := int32(len(raw)) / 4
	vm.checkRefUnset(globalCellPointer(global), span, true)
	copy(vm.mod.Globals[global*4:global*4+int32(len(raw))], raw)
}

// GetGlobal returns a copy of the n cells (4*n bytes) starting at global.
func (vm *VM) GetGlobal(global int32, cells int32) []byte {
	b := make([]byte, cells*4)
	copy(b, vm.mod.Globals[global*4:global*4+cells*4])
	return b
}
