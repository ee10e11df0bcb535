package qvm

// Opcode identifies a three-address instruction. The dense, contiguous
// numbering below is what lets dispatch.go's switch compile to a jump table
// instead of a chain of comparisons (see std/compiler/backend_vm.go in the
// teacher repo, whose execFunc dispatch loop this is modeled on).
type Opcode uint16

const (
	OP_DONE Opcode = iota
	OP_RETURN
	OP_GOTO

	// Arithmetic: MUL/DIV/ADD/SUB x {F,V,FV,VF,VI,IV,I,IF,FI}.
	OP_MUL_F
	OP_MUL_V
	OP_MUL_FV
	OP_MUL_VF
	OP_MUL_VI
	OP_MUL_IV
	OP_MUL_I
	OP_MUL_IF
	OP_MUL_FI

	OP_DIV_F
	OP_DIV_V
	OP_DIV_FV
	OP_DIV_VF
	OP_DIV_VI
	OP_DIV_IV
	OP_DIV_I
	OP_DIV_IF
	OP_DIV_FI

	OP_ADD_F
	OP_ADD_V
	OP_ADD_FV
	OP_ADD_VF
	OP_ADD_VI
	OP_ADD_IV
	OP_ADD_I
	OP_ADD_IF
	OP_ADD_FI

	OP_SUB_F
	OP_SUB_V
	OP_SUB_FV
	OP_SUB_VF
	OP_SUB_VI
	OP_SUB_IV
	OP_SUB_I
	OP_SUB_IF
	OP_SUB_FI

	// Comparison: EQ/NE x {F,V,S,E,FNC,I}; LE/GE/LT/GT x {F,I}.
	OP_EQ_F
	OP_EQ_V
	OP_EQ_S
	OP_EQ_E
	OP_EQ_FNC
	OP_EQ_I

	OP_NE_F
	OP_NE_V
	OP_NE_S
	OP_NE_E
	OP_NE_FNC
	OP_NE_I

	OP_LE_F
	OP_LE_I
	OP_GE_F
	OP_GE_I
	OP_LT_F
	OP_LT_I
	OP_GT_F
	OP_GT_I

	// Field load: entity a, field offset b -> global c.
	OP_LOAD_F
	OP_LOAD_V
	OP_LOAD_S
	OP_LOAD_ENT
	OP_LOAD_FLD
	OP_LOAD_FNC
	OP_LOAD_I

	// Register-to-register store, with int/float conversion variants.
	OP_STORE_F
	OP_STORE_V
	OP_STORE_S
	OP_STORE_ENT
	OP_STORE_FLD
	OP_STORE_FNC
	OP_STORE_I
	OP_STORE_IF
	OP_STORE_FI

	// Pointer store: write a through pointer b offset by c cells.
	OP_STOREP_F
	OP_STOREP_V
	OP_STOREP_S
	OP_STOREP_ENT
	OP_STOREP_FLD
	OP_STOREP_FNC
	OP_STOREP_I
	OP_STOREP_IF
	OP_STOREP_FI
	OP_STOREP_C

	// Pointer load: read through pointer a offset by b cells -> c.
	OP_LOADP_F
	OP_LOADP_V
	OP_LOADP_S
	OP_LOADP_ENT
	OP_LOADP_FLD
	OP_LOADP_FNC
	OP_LOADP_I
	OP_LOADP_C // byte load, 0 past end of string

	OP_ADDRESS
	OP_GLOBALADDRESS
	OP_ADD_PIW

	// Boolean / bitwise.
	OP_AND_F
	OP_AND_I
	OP_OR_F
	OP_OR_I
	OP_BITAND_F
	OP_BITAND_I
	OP_BITOR_F
	OP_BITOR_I
	OP_BITXOR_I
	OP_LSHIFT_I
	OP_RSHIFT_I
	OP_NOT_F
	OP_NOT_V
	OP_NOT_S
	OP_NOT_ENT
	OP_NOT_FNC
	OP_NOT_I

	// Conditional / unconditional branch.
	OP_IF_F
	OP_IF_I
	OP_IF_S
	OP_IFNOT_F
	OP_IFNOT_I
	OP_IFNOT_S

	// Calls.
	OP_CALL0
	OP_CALL1
	OP_CALL2
	OP_CALL3
	OP_CALL4
	OP_CALL5
	OP_CALL6
	OP_CALL7
	OP_CALL8
	OP_CALL1H
	OP_CALL2H
	OP_CALL3H
	OP_CALL4H
	OP_CALL5H
	OP_CALL6H
	OP_CALL7H
	OP_CALL8H

	// Conversion.
	OP_CONV_ITOF
	OP_CONV_FTOI
	OP_CP_ITOF
	OP_CP_FTOI

	// Compound pointer ops: load-modify-store in one opcode.
	OP_MULSTOREP_F
	OP_MULSTOREP_VF
	OP_DIVSTOREP_F
	OP_ADDSTOREP_F
	OP_ADDSTOREP_V
	OP_SUBSTOREP_F
	OP_SUBSTOREP_V

	// Random.
	OP_RAND0
	OP_RAND1
	OP_RAND2
	OP_RANDV0
	OP_RANDV1
	OP_RANDV2

	OP_BOUNDCHECK

	// Intrinsics, substituted in for known one-arg builtin calls at Check() time.
	OP_INTRIN_SQRT
	OP_INTRIN_SIN
	OP_INTRIN_COS

	opcodeCount
)

// breakpointFlag marks a statement as having a debugger breakpoint set; it
// is masked off before dispatch when debugging is enabled (spec.md §4.2).
// Opcode is a uint16 with fewer than 200 values assigned, so the top bit is
// free for this without colliding with any real opcode.
const breakpointFlag uint16 = 0x8000

var opcodeNames = [opcodeCount]string{
	OP_DONE: "DONE", OP_RETURN: "RETURN", OP_GOTO: "GOTO",

	OP_MUL_F: "MUL_F", OP_MUL_V: "MUL_V", OP_MUL_FV: "MUL_FV", OP_MUL_VF: "MUL_VF",
	OP_MUL_VI: "MUL_VI", OP_MUL_IV: "MUL_IV", OP_MUL_I: "MUL_I", OP_MUL_IF: "MUL_IF", OP_MUL_FI: "MUL_FI",

	OP_DIV_F: "DIV_F", OP_DIV_V: "DIV_V", OP_DIV_FV: "DIV_FV", OP_DIV_VF: "DIV_VF",
	OP_DIV_VI: "DIV_VI", OP_DIV_IV: "DIV_IV", OP_DIV_I: "DIV_I", OP_DIV_IF: "DIV_IF", OP_DIV_FI: "DIV_FI",

	OP_ADD_F: "ADD_F", OP_ADD_V: "ADD_V", OP_ADD_FV: "ADD_FV", OP_ADD_VF: "ADD_VF",
	OP_ADD_VI: "ADD_VI", OP_ADD_IV: "ADD_IV", OP_ADD_I: "ADD_I", OP_ADD_IF: "ADD_IF", OP_ADD_FI: "ADD_FI",

	OP_SUB_F: "SUB_F", OP_SUB_V: "SUB_V", OP_SUB_FV: "SUB_FV", OP_SUB_VF: "SUB_VF",
	OP_SUB_VI: "SUB_VI", OP_SUB_IV: "SUB_IV", OP_SUB_I: "SUB_I", OP_SUB_IF: "SUB_IF", OP_SUB_FI: "SUB_FI",

	OP_EQ_F: "EQ_F", OP_EQ_V: "EQ_V", OP_EQ_S: "EQ_S", OP_EQ_E: "EQ_E", OP_EQ_FNC: "EQ_FNC", OP_EQ_I: "EQ_I",
	OP_NE_F: "NE_F", OP_NE_V: "NE_V", OP_NE_S: "NE_S", OP_NE_E: "NE_E", OP_NE_FNC: "NE_FNC", OP_NE_I: "NE_I",

	OP_LE_F: "LE_F", OP_LE_I: "LE_I", OP_GE_F: "GE_F", OP_GE_I: "GE_I",
	OP_LT_F: "LT_F", OP_LT_I: "LT_I", OP_GT_F: "GT_F", OP_GT_I: "GT_I",

	OP_LOAD_F: "LOAD_F", OP_LOAD_V: "LOAD_V", OP_LOAD_S: "LOAD_S", OP_LOAD_ENT: "LOAD_ENT",
	OP_LOAD_FLD: "LOAD_FLD", OP_LOAD_FNC: "LOAD_FNC", OP_LOAD_I: "LOAD_I",

	OP_STORE_F: "STORE_F", OP_STORE_V: "STORE_V", OP_STORE_S: "STORE_S", OP_STORE_ENT: "STORE_ENT",
	OP_STORE_FLD: "STORE_FLD", OP_STORE_FNC: "STORE_FNC", OP_STORE_I: "STORE_I",
	OP_STORE_IF: "STORE_IF", OP_STORE_FI: "STORE_FI",

	OP_STOREP_F: "STOREP_F", OP_STOREP_V: "STOREP_V", OP_STOREP_S: "STOREP_S", OP_STOREP_ENT: "STOREP_ENT",
	OP_STOREP_FLD: "STOREP_FLD", OP_STOREP_FNC: "STOREP_FNC", OP_STOREP_I: "STOREP_I",
	OP_STOREP_IF: "STOREP_IF", OP_STOREP_FI: "STOREP_FI", OP_STOREP_C: "STOREP_C",

	OP_LOADP_F: "LOADP_F", OP_LOADP_V: "LOADP_V", OP_LOADP_S: "LOADP_S", OP_LOADP_ENT: "LOADP_ENT",
	OP_LOADP_FLD: "LOADP_FLD", OP_LOADP_FNC: "LOADP_FNC", OP_LOADP_I: "LOADP_I", OP_LOADP_C: "LOADP_C",

	OP_ADDRESS: "ADDRESS", OP_GLOBALADDRESS: "GLOBALADDRESS", OP_ADD_PIW: "ADD_PIW",

	OP_AND_F: "AND_F", OP_AND_I: "AND_I", OP_OR_F: "OR_F", OP_OR_I: "OR_I",
	OP_BITAND_F: "BITAND_F", OP_BITAND_I: "BITAND_I", OP_BITOR_F: "BITOR_F", OP_BITOR_I: "BITOR_I",
	OP_BITXOR_I: "BITXOR_I", OP_LSHIFT_I: "LSHIFT_I", OP_RSHIFT_I: "RSHIFT_I",
	OP_NOT_F: "NOT_F", OP_NOT_V: "NOT_V", OP_NOT_S: "NOT_S", OP_NOT_ENT: "NOT_ENT", OP_NOT_FNC: "NOT_FNC", OP_NOT_I: "NOT_I",

	OP_IF_F: "IF_F", OP_IF_I: "IF_I", OP_IF_S: "IF_S",
	OP_IFNOT_F: "IFNOT_F", OP_IFNOT_I: "IFNOT_I", OP_IFNOT_S: "IFNOT_S",

	OP_CALL0: "CALL0", OP_CALL1: "CALL1", OP_CALL2: "CALL2", OP_CALL3: "CALL3", OP_CALL4: "CALL4",
	OP_CALL5: "CALL5", OP_CALL6: "CALL6", OP_CALL7: "CALL7", OP_CALL8: "CALL8",
	OP_CALL1H: "CALL1H", OP_CALL2H: "CALL2H", OP_CALL3H: "CALL3H", OP_CALL4H: "CALL4H",
	OP_CALL5H: "CALL5H", OP_CALL6H: "CALL6H", OP_CALL7H: "CALL7H", OP_CALL8H: "CALL8H",

	OP_CONV_ITOF: "CONV_ITOF", OP_CONV_FTOI: "CONV_FTOI", OP_CP_ITOF: "CP_ITOF", OP_CP_FTOI: "CP_FTOI",

	OP_MULSTOREP_F: "MULSTOREP_F", OP_MULSTOREP_VF: "MULSTOREP_VF", OP_DIVSTOREP_F: "DIVSTOREP_F",
	OP_ADDSTOREP_F: "ADDSTOREP_F", OP_ADDSTOREP_V: "ADDSTOREP_V",
	OP_SUBSTOREP_F: "SUBSTOREP_F", OP_SUBSTOREP_V: "SUBSTOREP_V",

	OP_RAND0: "RAND0", OP_RAND1: "RAND1", OP_RAND2: "RAND2",
	OP_RANDV0: "RANDV0", OP_RANDV1: "RANDV1", OP_RANDV2: "RANDV2",

	OP_BOUNDCHECK: "BOUNDCHECK",

	OP_INTRIN_SQRT: "INTRIN_SQRT", OP_INTRIN_SIN: "INTRIN_SIN", OP_INTRIN_COS: "INTRIN_COS",
}

// String renders an opcode for error messages and stack traces.
func (op Opcode) String() string {
	if int(op) < 0 || op >= opcodeCount {
		return "OP_UNKNOWN"
	}
	if n := opcodeNames[op]; n != "" {
		return n
	}
	return "OP_UNKNOWN"
}

// intrinsicTargets maps a builtin name recognized at load time (spec.md
// §4.1 "Intrinsic recognition") to the opcode substituted for a CALL1H of it.
var intrinsicTargets = map[string]Opcode{
	"sqrt": OP_INTRIN_SQRT,
	"sin":  OP_INTRIN_SIN,
	"cos":  OP_INTRIN_COS,
}
