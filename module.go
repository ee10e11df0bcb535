package qvm

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tinyrange-qvm/qvm/internal/hashtab"
)

// File format constants, taken from the original VM's progs.dat header
// (_examples/original_source/vm.c): version selects the overall record
// widths, secondaryVersion selects 16-bit vs 32-bit statement/definition
// encoding.
const (
	progsQ1  uint32 = 6
	progsFTE uint32 = 7

	// XOR-folded four-char tags, reproduced bit-for-bit from the original.
	secondaryVersion16 uint32 = ('1' | 'F'<<8 | 'T'<<16 | 'E'<<24) ^ ('P' | 'R'<<8 | 'O'<<16 | 'G'<<24)
	secondaryVersion32 uint32 = ('1' | 'F'<<8 | 'T'<<16 | 'E'<<24) ^ ('3' | '2'<<8 | 'B'<<16 | ' '<<24)
)

const headerSectionCount = 6 // statement, definition, field, function, string, globals

// section describes one (offset, count) pair in the module header.
type section struct {
	Offset uint32
	Count  uint32
}

// Statement is one three-address instruction (spec.md §3).
type Statement struct {
	Op      Opcode
	A, B, C int32
}

// DefType is a field/definition type tag. Only the bottom bits matter; the
// TYPE_GLOBAL flag bit marks a definition whose value lives at file scope.
type DefType uint16

const (
	TypeVoid DefType = iota
	TypeString
	TypeFloat
	TypeVector
	TypeEntity
	TypeField
	TypeFunction
	TypePointer
	TypeInteger

	typeGlobalFlag DefType = 1 << 15
)

// Span is the number of 32-bit cells a value of this type occupies.
func (t DefType) Span() int32 {
	if t&^typeGlobalFlag == TypeVector {
		return 3
	}
	return 1
}

// Definition is a named typed global (spec.md §3).
type Definition struct {
	Type        DefType
	GlobalIndex int32
	Name        string
}

// Field is a named typed entity slot. GlobalIndex starts as the index of the
// TYPE_FIELD global that holds this field's runtime offset; Check() (§4.1)
// overwrites Offset with the final byte offset once layout runs (the
// TYPE_FIELD global receives that offset divided by 4, in cells).
type Field struct {
	Type        DefType
	GlobalIndex int32 // index of the TYPE_FIELD definition carrying this field's offset
	Name        string
	Offset      int32 // assigned by the layout pass; -1 until Check() runs
}

// Function describes a script or native callable (spec.md §3).
type Function struct {
	FirstStatement   int32 // >0 script function, ==0 unresolved native, <0 resolved native (-(builtin_index+1))
	FirstArg         int32
	NumArgs          int32
	ArgSizes         [8]byte
	NumArgsAndLocals int32
	Name             string
	File             string
}

// IsNative reports whether this function dispatches through the builtin
// table rather than through Enter/dispatch.
func (f *Function) IsNative() bool { return f.FirstStatement <= 0 }

// Module holds everything the Loader parses out of progs.dat, immutable
// after Load (spec.md §3 "Module (immutable after load)").
type Module struct {
	Statements []Statement
	Defs       []Definition
	Fields     []Field
	Funcs      []Function
	Strings    []byte // read-only string blob
	Globals    []byte // raw global slab bytes, numGlobals*4

	LineNumbers []int32 // parallel to Statements, from progs.lno if present

	defByName   *hashtab.Table[int]   // name -> index into Defs
	fieldByName *hashtab.Table[int]   // name -> index into Fields
	strByOffset *hashtab.Table[int32] // substring -> first offset in Strings (for find_string)
	strLen      map[int32]int32       // offset -> substring length

	mapping mmap.MMap // non-nil if the module file is memory-mapped
}

// LoadOptions tunes how Load reads the module file.
type LoadOptions struct {
	// UseMmap memory-maps the file instead of reading it into a heap buffer
	// (SPEC_FULL.md §3, grounded on justinclift-wagon's mmap'd module bytes).
	UseMmap bool
}

// Load parses a compiled module at path (spec.md §4.8 "load").
func (vm *VM) Load(engineName, path string, opts LoadOptions) error {
	raw, unmap, err := readModuleFile(path, opts.UseMmap)
	if err != nil {
		return &VMError{Kind: ErrLoad, Message: fmt.Sprintf("%s: %v", path, err)}
	}

	mod := &Module{}
	if mm, ok := unmap.(mmap.MMap); ok {
		mod.mapping = mm
	}

	if err := parseModule(mod, raw); err != nil {
		if mod.mapping != nil {
			mod.mapping.Unmap()
		}
		return err
	}

	loadLineNumbers(mod, path)

	mod.defByName = hashtab.New[int](len(mod.Defs))
	for i, d := range mod.Defs {
		if d.Name != "" {
			mod.defByName.Insert(d.Name, i)
		}
	}
	mod.fieldByName = hashtab.New[int](len(mod.Fields))
	for i, f := range mod.Fields {
		if f.Name != "" {
			mod.fieldByName.Insert(f.Name, i)
		}
		mod.Fields[i].Offset = -1
	}
	buildStringIndex(mod)

	vm.mod = mod
	vm.engineName = engineName
	vm.loadID = uuid.New()
	vm.builtins = make([]BuiltinFunc, len(mod.Funcs))
	vm.logger.Info("module loaded",
		zap.String("path", path),
		zap.String("engine", engineName),
		zap.Int("statements", len(mod.Statements)),
		zap.Int("functions", len(mod.Funcs)),
		zap.String("load_id", vm.loadID.String()),
	)
	return nil
}

// readModuleFile returns the raw file bytes and, if mmap was requested and
// succeeded, the mmap.MMap to keep alive (and Unmap on Shutdown).
func readModuleFile(path string, useMmap bool) ([]byte, any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	if useMmap {
		mm, err := mmap.Map(f, mmap.RDONLY, 0)
		if err == nil {
			return []byte(mm), mm, nil
		}
		// Fall through to a plain read if mmap isn't supported on this path
		// (e.g. a non-regular file); mmap-go returns an error in that case.
	}
	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	buf := make([]byte, info.Size())
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, nil, err
	}
	return buf, nil, nil
}

func parseModule(mod *Module, raw []byte) error {
	const headerFixedSize = 4 + 2 + 2 + headerSectionCount*8 + 4 + 4 + 4 + 8 + 8 + 4 + 4
	if len(raw) < headerFixedSize {
		return &VMError{Kind: ErrLoad, Message: "file too small to contain a header"}
	}

	r := &reader{buf: raw}
	version := r.u32()
	_ = r.u16() // crc, unused by the core
	_ = r.u16() // skip, unused by the core

	var sec [headerSectionCount]section
	for i := range sec {
		sec[i] = section{Offset: r.u32(), Count: r.u32()}
	}
	_ = r.u32() // entityfields: advisory, ignored (layout computes the real size)
	_ = r.u32() // ofs_files, unused by the core
	_ = r.u32() // ofs_linenums, unused by the core (progs.lno is read separately)
	_ = r.u32() // bodylessfuncs.offset, unused
	_ = r.u32() // bodylessfuncs.count, unused
	_ = r.u32() // types.offset, unused
	_ = r.u32() // types.count, unused
	blocksCompressed := r.u32()
	secondaryVersion := r.u32()

	if version != progsQ1 && version != progsFTE {
		return &VMError{Kind: ErrLoad, Message: fmt.Sprintf("bad version %d (only version 6 & 7 progs are supported)", version)}
	}
	if blocksCompressed != 0 {
		return &VMError{Kind: ErrLoad, Message: "compressed progs blocks are not supported"}
	}

	wide := secondaryVersion == secondaryVersion32
	if !wide && secondaryVersion != secondaryVersion16 && version == progsFTE {
		return &VMError{Kind: ErrLoad, Message: "unknown secondary version tag"}
	}
	if version == progsQ1 {
		wide = true // classic progs.dat are always 32-bit fields
	}

	statSec, defSec, fldSec, fncSec, strSec, globSec := sec[0], sec[1], sec[2], sec[3], sec[4], sec[5]

	mod.Strings = append([]byte(nil), raw[strSec.Offset:strSec.Offset+strSec.Count]...)

	globBytes := raw[globSec.Offset : globSec.Offset+globSec.Count*4]
	mod.Globals = append([]byte(nil), globBytes...)

	mod.Statements = make([]Statement, statSec.Count)
	sr := &reader{buf: raw, pos: int(statSec.Offset)}
	for i := range mod.Statements {
		if wide {
			mod.Statements[i] = Statement{Op: Opcode(sr.u32()), A: sr.i32(), B: sr.i32(), C: sr.i32()}
		} else {
			mod.Statements[i] = Statement{Op: Opcode(sr.u16()), A: int32(sr.i16()), B: int32(sr.i16()), C: int32(sr.i16())}
		}
	}

	mod.Defs = make([]Definition, defSec.Count)
	dr := &reader{buf: raw, pos: int(defSec.Offset)}
	for i := range mod.Defs {
		typ, pad, globalIdx, nameIdx := readDefLike(dr, wide)
		_ = pad
		mod.Defs[i] = Definition{Type: DefType(typ), GlobalIndex: globalIdx, Name: readCString(mod.Strings, nameIdx)}
	}

	fr := &reader{buf: raw, pos: int(fldSec.Offset)}
	mod.Fields = make([]Field, fldSec.Count)
	for i := range mod.Fields {
		typ, _, globalIdx, nameIdx := readDefLike(fr, wide)
		mod.Fields[i] = Field{Type: DefType(typ), GlobalIndex: globalIdx, Name: readCString(mod.Strings, nameIdx), Offset: -1}
	}

	fnr := &reader{buf: raw, pos: int(fncSec.Offset)}
	mod.Funcs = make([]Function, fncSec.Count)
	for i := range mod.Funcs {
		first := fnr.i32()
		firstArg := fnr.i32()
		numArgsAndLocals := fnr.u32()
		_ = fnr.u32() // profile, unused by the core
		nameIdx := fnr.i32()
		fileIdx := fnr.i32()
		numArgs := fnr.u32()
		var argSizes [8]byte
		for k := range argSizes {
			argSizes[k] = fnr.u8()
		}
		if first < 0 {
			first = 0 // spec.md §3: negative values are rejected with a warning and coerced to 0
		}
		mod.Funcs[i] = Function{
			FirstStatement:   first,
			FirstArg:         firstArg,
			NumArgs:          int32(numArgs),
			ArgSizes:         argSizes,
			NumArgsAndLocals: int32(numArgsAndLocals),
			Name:             readCString(mod.Strings, nameIdx),
			File:             readCString(mod.Strings, fileIdx),
		}
	}

	return nil
}

// readDefLike reads one definition/field record, which shares layout between
// Definition and Field in the file format: {type u16, pad/flags u16 (16-bit
// format) or just type+pad (32-bit), global_index, name_index}. 16-bit progs
// store global_index and name_index as i16 sign-extended to i32; 32-bit progs
// store them natively.
func readDefLike(r *reader, wide bool) (typ uint16, pad uint16, globalIdx int32, nameIdx int32) {
	if wide {
		typ = r.u16()
		pad = r.u16()
		globalIdx = r.i32()
		nameIdx = r.i32()
		return
	}
	typ = r.u16()
	pad = r.u16()
	globalIdx = int32(r.i16())
	nameIdx = int32(r.i16())
	return
}

// reader is a tiny little-endian cursor over a byte slice.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) u8() byte {
	v := r.buf[r.pos]
	r.pos++
	return v
}
func (r *reader) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}
func (r *reader) i16() int16 { return int16(r.u16()) }
func (r *reader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}
func (r *reader) i32() int32 { return int32(r.u32()) }

// readCString returns the NUL-terminated string starting at offset in blob.
func readCString(blob []byte, offset int32) string {
	if offset < 0 || int(offset) >= len(blob) {
		return ""
	}
	end := int(offset)
	for end < len(blob) && blob[end] != 0 {
		end++
	}
	return string(blob[offset:end])
}

// FindFunctionID looks up a function by name (spec.md §4.8).
func (vm *VM) FindFunctionID(name string) (int32, bool) {
	for i, f := range vm.mod.Funcs {
		if f.Name == name {
			return int32(i), true
		}
	}
	return 0, false
}

// GetFunction returns the function record at id, or nil if id is out of range.
func (vm *VM) GetFunction(id int32) *Function { return vm.functionAt(id) }

func (vm *VM) functionAt(id int32) *Function {
	if id < 0 || int(id) >= len(vm.mod.Funcs) {
		return nil
	}
	return &vm.mod.Funcs[id]
}
