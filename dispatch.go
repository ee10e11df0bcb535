package qvm

import "math"

// step executes one decoded statement (spec.md §4.2). a, b, c are global
// cell indices, except these operands, which are used as immediates: the
// branch offset (GOTO's a, IF_*/IFNOT_*'s b), the pointer offset of
// STOREP_* (c) and LOADP_* (b), counted in cells except for STOREP_C and
// LOADP_C, which count bytes, ADD_PIW's b, and BOUNDCHECK's upper bound b.
//
// The switch is organized by opcode family rather than alphabetically,
// mirroring the teacher's execFunc in std/compiler/backend_vm.go: short
// inlined cases for the hot arithmetic/comparison paths, delegating to a
// handful of shared helpers for the pointer and call families where the
// logic is too large to inline per-opcode without drowning in repetition.
func (vm *VM) step(op Opcode, a, b, c int32) {
	switch op {
	case OP_DONE:
		vm.Leave()

	case OP_RETURN:
		vm.copyCells(globalOfsReturn, a, 3)
		vm.Leave()

	case OP_GOTO:
		vm.jump(a)

	// --- Arithmetic ---
	case OP_MUL_F:
		vm.setCellF(c, vm.cellF(a)*vm.cellF(b))
	case OP_MUL_V:
		vm.setCellF(c, dotVec(vm.cellV(a), vm.cellV(b)))
	case OP_MUL_FV:
		vm.setCellV(c, scaleVec(vm.cellV(b), vm.cellF(a)))
	case OP_MUL_VF:
		vm.setCellV(c, scaleVec(vm.cellV(a), vm.cellF(b)))
	case OP_MUL_VI:
		vm.setCellV(c, scaleVec(vm.cellV(a), float32(vm.cellI(b))))
	case OP_MUL_IV:
		vm.setCellV(c, scaleVec(vm.cellV(b), float32(vm.cellI(a))))
	case OP_MUL_I:
		vm.setCellI(c, vm.cellI(a)*vm.cellI(b))
	case OP_MUL_IF:
		vm.setCellF(c, float32(vm.cellI(a))*vm.cellF(b))
	case OP_MUL_FI:
		vm.setCellF(c, vm.cellF(a)*float32(vm.cellI(b)))

	case OP_DIV_F:
		vm.setCellF(c, vm.cellF(a)/vm.cellF(b))
	case OP_DIV_V:
		vm.setCellV(c, vecDiv(vm.cellV(a), vm.cellV(b)))
	case OP_DIV_FV:
		bv := vm.cellV(b)
		vm.setCellV(c, vec3{vm.cellF(a) / bv[0], vm.cellF(a) / bv[1], vm.cellF(a) / bv[2]})
	case OP_DIV_VF:
		vm.setCellV(c, scaleVec(vm.cellV(a), 1/vm.cellF(b)))
	case OP_DIV_VI:
		vm.setCellV(c, scaleVec(vm.cellV(a), 1/float32(vm.cellI(b))))
	case OP_DIV_IV:
		av := float32(vm.cellI(a))
		bv := vm.cellV(b)
		vm.setCellV(c, vec3{av / bv[0], av / bv[1], av / bv[2]})
	case OP_DIV_I:
		vm.setCellI(c, vm.cellI(a)/vm.cellI(b))
	case OP_DIV_IF:
		vm.setCellF(c, float32(vm.cellI(a))/vm.cellF(b))
	case OP_DIV_FI:
		vm.setCellF(c, vm.cellF(a)/float32(vm.cellI(b)))

	case OP_ADD_F:
		vm.setCellF(c, vm.cellF(a)+vm.cellF(b))
	case OP_ADD_V:
		vm.setCellV(c, addVec(vm.cellV(a), vm.cellV(b)))
	case OP_ADD_FV:
		vm.setCellV(c, addScalarVec(vm.cellF(a), vm.cellV(b)))
	case OP_ADD_VF:
		vm.setCellV(c, addScalarVec(vm.cellF(b), vm.cellV(a)))
	case OP_ADD_VI:
		vm.setCellV(c, addScalarVec(float32(vm.cellI(b)), vm.cellV(a)))
	case OP_ADD_IV:
		vm.setCellV(c, addScalarVec(float32(vm.cellI(a)), vm.cellV(b)))
	case OP_ADD_I:
		vm.setCellI(c, vm.cellI(a)+vm.cellI(b))
	case OP_ADD_IF:
		vm.setCellF(c, float32(vm.cellI(a))+vm.cellF(b))
	case OP_ADD_FI:
		vm.setCellF(c, vm.cellF(a)+float32(vm.cellI(b)))

	case OP_SUB_F:
		vm.setCellF(c, vm.cellF(a)-vm.cellF(b))
	case OP_SUB_V:
		vm.setCellV(c, subVec(vm.cellV(a), vm.cellV(b)))
	case OP_SUB_FV:
		bv := vm.cellV(b)
		vm.setCellV(c, vec3{vm.cellF(a) - bv[0], vm.cellF(a) - bv[1], vm.cellF(a) - bv[2]})
	case OP_SUB_VF:
		vm.setCellV(c, addScalarVec(-vm.cellF(b), vm.cellV(a)))
	case OP_SUB_VI:
		vm.setCellV(c, addScalarVec(-float32(vm.cellI(b)), vm.cellV(a)))
	case OP_SUB_IV:
		av := float32(vm.cellI(a))
		bv := vm.cellV(b)
		vm.setCellV(c, vec3{av - bv[0], av - bv[1], av - bv[2]})
	case OP_SUB_I:
		vm.setCellI(c, vm.cellI(a)-vm.cellI(b))
	case OP_SUB_IF:
		vm.setCellF(c, float32(vm.cellI(a))-vm.cellF(b))
	case OP_SUB_FI:
		vm.setCellF(c, vm.cellF(a)-float32(vm.cellI(b)))

	// --- Comparison ---
	case OP_EQ_F:
		vm.setCellF(c, boolF(vm.cellF(a) == vm.cellF(b)))
	case OP_EQ_V:
		vm.setCellF(c, boolF(vm.cellV(a) == vm.cellV(b)))
	case OP_EQ_S:
		vm.setCellF(c, boolF(vm.getString(vm.cellI(a)) == vm.getString(vm.cellI(b))))
	case OP_EQ_E:
		vm.setCellF(c, boolF(vm.cellRaw(a) == vm.cellRaw(b)))
	case OP_EQ_FNC:
		vm.setCellF(c, boolF(vm.cellI(a) == vm.cellI(b)))
	case OP_EQ_I:
		vm.setCellI(c, boolI(vm.cellI(a) == vm.cellI(b)))

	case OP_NE_F:
		vm.setCellF(c, boolF(vm.cellF(a) != vm.cellF(b)))
	case OP_NE_V:
		vm.setCellF(c, boolF(vm.cellV(a) != vm.cellV(b)))
	case OP_NE_S:
		vm.setCellF(c, boolF(vm.getString(vm.cellI(a)) != vm.getString(vm.cellI(b))))
	case OP_NE_E:
		vm.setCellF(c, boolF(vm.cellRaw(a) != vm.cellRaw(b)))
	case OP_NE_FNC:
		vm.setCellF(c, boolF(vm.cellI(a) != vm.cellI(b)))
	case OP_NE_I:
		vm.setCellI(c, boolI(vm.cellI(a) != vm.cellI(b)))

	case OP_LE_F:
		vm.setCellF(c, boolF(vm.cellF(a) <= vm.cellF(b)))
	case OP_LE_I:
		vm.setCellI(c, boolI(vm.cellI(a) <= vm.cellI(b)))
	case OP_GE_F:
		vm.setCellF(c, boolF(vm.cellF(a) >= vm.cellF(b)))
	case OP_GE_I:
		vm.setCellI(c, boolI(vm.cellI(a) >= vm.cellI(b)))
	case OP_LT_F:
		vm.setCellF(c, boolF(vm.cellF(a) < vm.cellF(b)))
	case OP_LT_I:
		vm.setCellI(c, boolI(vm.cellI(a) < vm.cellI(b)))
	case OP_GT_F:
		vm.setCellF(c, boolF(vm.cellF(a) > vm.cellF(b)))
	case OP_GT_I:
		vm.setCellI(c, boolI(vm.cellI(a) > vm.cellI(b)))

	// --- Field load: entity a, field global b (its value is the assigned
	// word offset after Check) -> dest c. ---
	case OP_LOAD_F, OP_LOAD_S, OP_LOAD_ENT, OP_LOAD_FLD, OP_LOAD_FNC, OP_LOAD_I:
		vm.loadField(a, b, c, 1)
	case OP_LOAD_V:
		vm.loadField(a, b, c, 3)

	// --- Register store (always full value copy; conversions are explicit
	// opcodes below). ---
	case OP_STORE_F, OP_STORE_S, OP_STORE_ENT, OP_STORE_FLD, OP_STORE_FNC, OP_STORE_I:
		vm.copyCells(c, a, 1)
	case OP_STORE_V:
		vm.copyCells(c, a, 3)
	case OP_STORE_IF:
		vm.setCellF(c, float32(vm.cellI(a)))
	case OP_STORE_FI:
		vm.setCellI(c, int32(vm.cellF(a)))

	// --- Pointer store/load ---
	case OP_STOREP_F, OP_STOREP_S, OP_STOREP_ENT, OP_STOREP_FLD, OP_STOREP_FNC, OP_STOREP_I:
		vm.storeP(a, b, c, 1)
	case OP_STOREP_V:
		vm.storeP(a, b, c, 3)
	case OP_STOREP_IF:
		ptr := UnpackPointer(vm.cellRaw(b)).offsetBytes(c * 4)
		dst := vm.mustResolve(ptr, 4)
		putLeUint32(dst, math.Float32bits(float32(vm.cellI(a))))
	case OP_STOREP_FI:
		ptr := UnpackPointer(vm.cellRaw(b)).offsetBytes(c * 4)
		dst := vm.mustResolve(ptr, 4)
		putLeUint32(dst, uint32(int32(vm.cellF(a))))
	case OP_STOREP_C:
		ptr := UnpackPointer(vm.cellRaw(b)).offsetBytes(c)
		dst := vm.mustResolve(ptr, 1)
		dst[0] = byte(vm.cellI(a))

	case OP_LOADP_F, OP_LOADP_S, OP_LOADP_ENT, OP_LOADP_FLD, OP_LOADP_FNC, OP_LOADP_I:
		vm.loadP(a, b, c, 1)
	case OP_LOADP_V:
		vm.loadP(a, b, c, 3)
	case OP_LOADP_C:
		ptr := UnpackPointer(vm.cellRaw(a)).offsetBytes(b)
		data, ok := vm.resolve(ptr, false, 1)
		var v byte
		if ok {
			v = data[0]
		}
		vm.setCellI(c, int32(v))

	case OP_ADDRESS:
		ptr := vm.entityFieldPointer(vm.cellI(a), vm.cellI(b))
		vm.setCellRaw(c, ptr.Pack())
	case OP_GLOBALADDRESS:
		ptr := globalCellPointer(vm.cellI(a))
		vm.setCellRaw(c, ptr.Pack())
	case OP_ADD_PIW:
		ptr := UnpackPointer(vm.cellRaw(a)).offsetBytes(b * 4)
		vm.setCellRaw(c, ptr.Pack())

	// --- Boolean / bitwise ---
	case OP_AND_F:
		vm.setCellF(c, boolF(vm.cellF(a) != 0 && vm.cellF(b) != 0))
	case OP_AND_I:
		vm.setCellI(c, boolI(vm.cellI(a) != 0 && vm.cellI(b) != 0))
	case OP_OR_F:
		vm.setCellF(c, boolF(vm.cellF(a) != 0 || vm.cellF(b) != 0))
	case OP_OR_I:
		vm.setCellI(c, boolI(vm.cellI(a) != 0 || vm.cellI(b) != 0))
	case OP_BITAND_F:
		vm.setCellF(c, float32(int32(vm.cellF(a))&int32(vm.cellF(b))))
	case OP_BITAND_I:
		vm.setCellI(c, vm.cellI(a)&vm.cellI(b))
	case OP_BITOR_F:
		vm.setCellF(c, float32(int32(vm.cellF(a))|int32(vm.cellF(b))))
	case OP_BITOR_I:
		vm.setCellI(c, vm.cellI(a)|vm.cellI(b))
	case OP_BITXOR_I:
		vm.setCellI(c, vm.cellI(a)^vm.cellI(b))
	case OP_LSHIFT_I:
		vm.setCellI(c, vm.cellI(a)<<uint32(vm.cellI(b)))
	case OP_RSHIFT_I:
		vm.setCellI(c, vm.cellI(a)>>uint32(vm.cellI(b)))
	case OP_NOT_F:
		vm.setCellF(c, boolF(vm.cellF(a) == 0))
	case OP_NOT_V:
		vm.setCellF(c, boolF(vm.cellV(a) == vec3{}))
	case OP_NOT_S:
		vm.setCellF(c, boolF(vm.cellI(a) == 0))
	case OP_NOT_ENT:
		vm.setCellF(c, boolF(vm.cellRaw(a) == 0))
	case OP_NOT_FNC:
		vm.setCellF(c, boolF(vm.cellI(a) == 0))
	case OP_NOT_I:
		vm.setCellI(c, boolI(vm.cellI(a) == 0))

	// --- Branches ---
	case OP_IF_F:
		if vm.cellF(a) != 0 {
			vm.jump(b)
		}
	case OP_IF_I:
		if vm.cellI(a) != 0 {
			vm.jump(b)
		}
	case OP_IF_S:
		if vm.cellI(a) != 0 {
			vm.jump(b)
		}
	case OP_IFNOT_F:
		if vm.cellF(a) == 0 {
			vm.jump(b)
		}
	case OP_IFNOT_I:
		if vm.cellI(a) == 0 {
			vm.jump(b)
		}
	case OP_IFNOT_S:
		if vm.cellI(a) == 0 {
			vm.jump(b)
		}

	// --- Calls ---
	case OP_CALL0:
		vm.execCall(a, 0, 0, 0, false, false)
	case OP_CALL1:
		vm.execCall(a, 1, 0, 0, false, false)
	case OP_CALL2:
		vm.execCall(a, 2, 0, 0, false, false)
	case OP_CALL3:
		vm.execCall(a, 3, 0, 0, false, false)
	case OP_CALL4:
		vm.execCall(a, 4, 0, 0, false, false)
	case OP_CALL5:
		vm.execCall(a, 5, 0, 0, false, false)
	case OP_CALL6:
		vm.execCall(a, 6, 0, 0, false, false)
	case OP_CALL7:
		vm.execCall(a, 7, 0, 0, false, false)
	case OP_CALL8:
		vm.execCall(a, 8, 0, 0, false, false)
	case OP_CALL1H:
		vm.execCall(a, 1, b, 0, true, false)
	case OP_CALL2H:
		vm.execCall(a, 2, b, c, true, true)
	case OP_CALL3H:
		vm.execCall(a, 3, b, c, true, true)
	case OP_CALL4H:
		vm.execCall(a, 4, b, c, true, true)
	case OP_CALL5H:
		vm.execCall(a, 5, b, c, true, true)
	case OP_CALL6H:
		vm.execCall(a, 6, b, c, true, true)
	case OP_CALL7H:
		vm.execCall(a, 7, b, c, true, true)
	case OP_CALL8H:
		vm.execCall(a, 8, b, c, true, true)

	// --- Conversion ---
	case OP_CONV_ITOF, OP_CP_ITOF:
		vm.setCellF(c, float32(vm.cellI(a)))
	case OP_CONV_FTOI, OP_CP_FTOI:
		vm.setCellI(c, int32(vm.cellF(a)))

	// --- Compound pointer ops ---
	case OP_MULSTOREP_F:
		vm.compoundStoreP(b, c, vm.cellF(a), func(cur, operand float32) float32 { return cur * operand })
	case OP_MULSTOREP_VF:
		vm.compoundStoreVecF(b, c, vm.cellF(a), scaleVec)
	case OP_DIVSTOREP_F:
		vm.compoundStoreP(b, c, vm.cellF(a), func(cur, operand float32) float32 { return cur / operand })
	case OP_ADDSTOREP_F:
		vm.compoundStoreP(b, c, vm.cellF(a), func(cur, operand float32) float32 { return cur + operand })
	case OP_ADDSTOREP_V:
		vm.compoundStoreVecV(b, c, vm.cellV(a), addVec)
	case OP_SUBSTOREP_F:
		vm.compoundStoreP(b, c, vm.cellF(a), func(cur, operand float32) float32 { return cur - operand })
	case OP_SUBSTOREP_V:
		vm.compoundStoreVecV(b, c, vm.cellV(a), subVec)

	// --- Random ---
	case OP_RAND0:
		vm.setCellF(c, vm.rng.Float32())
	case OP_RAND1:
		vm.setCellF(c, vm.rng.Float32()*vm.cellF(a))
	case OP_RAND2:
		lo, hi := vm.cellF(a), vm.cellF(b)
		vm.setCellF(c, lo+vm.rng.Float32()*(hi-lo))
	case OP_RANDV0:
		vm.setCellV(c, vec3{vm.rng.Float32(), vm.rng.Float32(), vm.rng.Float32()})
	case OP_RANDV1:
		max := vm.cellV(a)
		vm.setCellV(c, vec3{vm.rng.Float32() * max[0], vm.rng.Float32() * max[1], vm.rng.Float32() * max[2]})
	case OP_RANDV2:
		lo, hi := vm.cellV(a), vm.cellV(b)
		vm.setCellV(c, vec3{
			lo[0] + vm.rng.Float32()*(hi[0]-lo[0]),
			lo[1] + vm.rng.Float32()*(hi[1]-lo[1]),
			lo[2] + vm.rng.Float32()*(hi[2]-lo[2]),
		})

	case OP_BOUNDCHECK:
		idx := vm.cellI(a)
		if idx < 0 || idx >= b {
			vm.fatal(ErrBoundsCheck, "array index %d out of bounds [0,%d)", idx, b)
		}

	// --- Intrinsics ---
	case OP_INTRIN_SQRT:
		vm.setCellF(c, float32(math.Sqrt(float64(vm.cellF(a)))))
	case OP_INTRIN_SIN:
		vm.setCellF(c, float32(math.Sin(float64(vm.cellF(a)))))
	case OP_INTRIN_COS:
		vm.setCellF(c, float32(math.Cos(float64(vm.cellF(a)))))

	default:
		vm.fatal(ErrBadFunction, "unimplemented opcode %s (%d)", op, op)
	}
}

// jump applies a GOTO/IF/IFNOT-style relative offset to the current frame's
// PC. runDispatch always increments statement before fetching the next
// instruction, so the offset is biased by -1 here.
func (vm *VM) jump(delta int32) {
	f := &vm.frames[len(vm.frames)-1]
	f.statement += delta - 1
}

func (vm *VM) loadField(entityCell, fieldCell, destCell, span int32) {
	entity := vm.cellI(entityCell)
	fieldOffset := vm.cellI(fieldCell)
	ptr := vm.entityFieldPointer(entity, fieldOffset)
	src := vm.mustResolve(ptr, int(span*4))
	copy(vm.mod.Globals[destCell*4:destCell*4+span*4], src)
	vm.markRefsCopied(ptr, globalCellPointer(destCell), span)
}

func (vm *VM) storeP(srcCell, ptrCell, cellOffset, span int32) {
	ptr := UnpackPointer(vm.cellRaw(ptrCell)).offsetBytes(cellOffset * 4)
	dst := vm.mustResolve(ptr, int(span*4))
	copy(dst, vm.mod.Globals[srcCell*4:srcCell*4+span*4])
	vm.markRefsCopied(globalCellPointer(srcCell), ptr, span)
	vm.checkFieldWrap(ptr, span)
}

func (vm *VM) loadP(ptrCell, cellOffset, destCell, span int32) {
	ptr := UnpackPointer(vm.cellRaw(ptrCell)).offsetBytes(cellOffset * 4)
	src := vm.mustResolve(ptr, int(span*4))
	copy(vm.mod.Globals[destCell*4:destCell*4+span*4], src)
	vm.markRefsCopied(ptr, globalCellPointer(destCell), span)
}

// compoundStoreP implements the *STOREP_F family (spec.md §4.2): read the
// float currently at the pointer, combine it with operand via op, write the
// result back through the same pointer.
func (vm *VM) compoundStoreP(ptrCell, cellOffset int32, operand float32, op func(cur, operand float32) float32) {
	ptr := UnpackPointer(vm.cellRaw(ptrCell)).offsetBytes(cellOffset * 4)
	dst := vm.mustResolve(ptr, 4)
	cur := math.Float32frombits(leUint32(dst))
	putLeUint32(dst, math.Float32bits(op(cur, operand)))
}

func (vm *VM) readVecAt(dst []byte) vec3 {
	return vec3{
		math.Float32frombits(leUint32(dst)),
		math.Float32frombits(leUint32(dst[4:])),
		math.Float32frombits(leUint32(dst[8:])),
	}
}

func (vm *VM) writeVecAt(dst []byte, v vec3) {
	putLeUint32(dst, math.Float32bits(v[0]))
	putLeUint32(dst[4:], math.Float32bits(v[1]))
	putLeUint32(dst[8:], math.Float32bits(v[2]))
}

// compoundStoreVecF implements MULSTOREP_VF: the pointer holds a vector,
// operand is a scalar (e.g. *ptr = vecAtPtr * scalar).
func (vm *VM) compoundStoreVecF(ptrCell, cellOffset int32, operand float32, op func(cur vec3, operand float32) vec3) {
	ptr := UnpackPointer(vm.cellRaw(ptrCell)).offsetBytes(cellOffset * 4)
	dst := vm.mustResolve(ptr, 12)
	vm.writeVecAt(dst, op(vm.readVecAt(dst), operand))
}

// compoundStoreVecV implements ADDSTOREP_V/SUBSTOREP_V: both the pointer
// target and the operand are vectors.
func (vm *VM) compoundStoreVecV(ptrCell, cellOffset int32, operand vec3, op func(cur, operand vec3) vec3) {
	ptr := UnpackPointer(vm.cellRaw(ptrCell)).offsetBytes(cellOffset * 4)
	dst := vm.mustResolve(ptr, 12)
	vm.writeVecAt(dst, op(vm.readVecAt(dst), operand))
}

// execCall resolves the function value held in fnCell and either enters it
// (script function: pushes a new frame, picked up by runDispatch) or calls
// it immediately (native: synchronous, no frame pushed). CALLnH variants
// pre-copy the global cells at parmSrcB/parmSrcC into PARM0/PARM1 before the
// call, so the compiler can skip emitting separate STORE instructions for a
// call's first one or two arguments (spec.md §4.2 "Call†").
func (vm *VM) execCall(fnCell, argc, parmSrcB, parmSrcC int32, copyB, copyC bool) {
	fnID := vm.cellI(fnCell)
	fn := vm.functionAt(fnID)
	if fn == nil {
		vm.fatal(ErrBadFunction, "call through bad function value %d", fnID)
		return
	}
	vm.argc = int(argc)
	if copyB {
		vm.copyCells(globalOfsParm0, parmSrcB, parmStride)
	}
	if copyC {
		vm.copyCells(globalOfsParm0+parmStride, parmSrcC, parmStride)
	}
	if fn.IsNative() {
		vm.callNative(fnID)
		return
	}
	vm.Enter(fnID)
}

func boolF(v bool) float32 {
	if v {
		return 1
	}
	return 0
}

func boolI(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

func dotVec(a, b vec3) float32            { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
func vecDiv(a, b vec3) vec3               { return vec3{a[0] / b[0], a[1] / b[1], a[2] / b[2]} }
func addVec(a, b vec3) vec3               { return vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func subVec(a, b vec3) vec3               { return vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func scaleVec(v vec3, s float32) vec3     { return vec3{v[0] * s, v[1] * s, v[2] * s} }
func addScalarVec(s float32, v vec3) vec3 { return vec3{s + v[0], s + v[1], s + v[2]} }
