// Package debug builds the CodeView-shaped debug section group spec.md
// §6 describes a function output as feeding: a record stream of
// S_GPROC32_ID/S_FRAMEPROC/S_REGREL32/S_PROC_ID_END entries keyed by
// each function's symbol id, plus a file checksum table, ready to be
// dropped into an object's .debug$S section.
//
// Grounded directly on original_source/src/tb/debug/cv/cv.c: the record
// field order, the length-prefix-then-patch-back idiom (`tb_out2b(0)`
// followed by a `tb_patch2b` once the record's size is known), the
// literal flag values (0x00114200 for S_FRAMEPROC, register 334 for
// AMD64_RBP) and the stack_usage==8→0 special case all come from that
// file; the patch-back shape itself is generalized from emit.Emitter's
// Reserve/Patch2 rather than re-implemented by hand.
package debug

import (
	"crypto/md5"

	"github.com/pkg/errors"

	"github.com/tbkit/tb/emit"
	"github.com/tbkit/tb/ir"
)

// Record type codes (cv.c's CV_RecordType values this package emits).
const (
	sGData32     = 0x110D
	sGProc32ID   = 0x1147
	sFrameProc   = 0x1012
	sRegRel32    = 0x1111
	sProcIDEnd   = 0x1006
	regAMD64RBP  = 334
	frameProcFlg = 0x00114200
)

// Reloc is a SECREL/SECTION relocation pair the writer must apply
// against the function or global's .text/.data symbol once the
// containing object's symbol table is final - object.WriteELF64/
// WriteCOFF/WriteMachO both already model this shape as object.Relocation.
type Reloc struct {
	SymbolID int
	Pos      int
	Kind     RelocKind
}

// RelocKind distinguishes the two debug-record relocation kinds cv.c
// pairs at every "offset"/"segment" field: SECREL (4-byte section-
// relative offset) and SECTION (2-byte section index).
type RelocKind uint8

const (
	RelocSECREL RelocKind = iota
	RelocSECTION
)

// FuncSymbol names the minimum a Function needs to contribute a
// S_GPROC32_ID/S_FRAMEPROC/S_REGREL32 block: its compiled output and a
// stable per-module symbol id (object.Symbol index, typically).
type FuncSymbol struct {
	Function *ir.Function
	SymbolID int
}

// Build emits the CodeView record stream for every function in fs, in
// order, returning the raw .debug$S-shaped bytes and every relocation
// that must be patched in once the containing object's .text symbol
// table addresses are known.
func Build(fs []FuncSymbol) ([]byte, []Reloc) {
	e := emit.New(256)
	var relocs []Reloc

	for _, fsym := range fs {
		f := fsym.Function
		out := f.Output
		if out == nil {
			continue
		}
		emitProc(e, &relocs, f, fsym.SymbolID, out)
	}
	return e.Bytes(), relocs
}

func emitProc(e *emit.Emitter, relocs *[]Reloc, f *ir.Function, symID int, out *ir.FunctionOutput) {
	baseline := e.Len()
	e.Write2(0) // length placeholder
	e.Write2(sGProc32ID)

	e.Write4(0) // pParent
	e.Write4(0) // pEnd
	e.Write4(0) // pNext
	e.Write4(uint32(len(out.Code))) // procedure length
	e.Write4(0)                     // debug start offset
	e.Write4(uint32(len(out.Code))) // debug end offset
	e.Write4(0)                     // type index (see DESIGN.md Open Question: no type-table builder yet)

	patchPos := e.Len()
	*relocs = append(*relocs, Reloc{SymbolID: symID, Pos: patchPos, Kind: RelocSECREL})
	*relocs = append(*relocs, Reloc{SymbolID: symID, Pos: patchPos + 4, Kind: RelocSECTION})
	e.Write4(0) // offset, patched
	e.Write2(0) // segment, patched

	e.Write1(1) // flags: frame pointer present

	name := f.Name
	e.WriteBytes([]byte(name))
	e.Write1(0)

	patchRecordLen(e, baseline)

	emitFrameProc(e, out)
	emitRegRel32s(e, out)

	e.Write2(2)
	e.Write2(sProcIDEnd)
}

func emitFrameProc(e *emit.Emitter, out *ir.FunctionOutput) {
	baseline := e.Len()
	e.Write2(0)
	e.Write2(sFrameProc)

	stackUsage := out.StackUsage
	if stackUsage == 8 {
		stackUsage = 0
	}
	e.Write4(stackUsage) // total frame bytes
	e.Write4(0)          // padding bytes
	e.Write4(0)          // padding start offset
	e.Write4(0)          // callee-save register bytes
	e.Write4(0)          // exception handler offset
	e.Write2(0)          // exception handler section
	e.Write4(frameProcFlg)

	patchRecordLen(e, baseline)
}

func emitRegRel32s(e *emit.Emitter, out *ir.FunctionOutput) {
	for _, slot := range out.StackSlotTable {
		baseline := e.Len()
		e.Write2(0) // length placeholder
		e.Write2(sRegRel32)
		e.Write4(uint32(slot.Offset))
		e.Write4(0) // type index (see DESIGN.md Open Question)
		e.Write2(regAMD64RBP)
		e.WriteBytes([]byte(slot.Name))
		e.Write1(0)
		patchRecordLen(e, baseline)
	}
}

func patchRecordLen(e *emit.Emitter, baseline int) {
	length := e.Len() - baseline - 2
	e.Patch2(baseline, uint16(length))
}

// FileChecksums builds the file checksum table (spec.md §6: "MD5 file
// hashes are emitted in the file checksum table"), reading each path
// via readFile (normally os.ReadFile; overridable for tests).
func FileChecksums(paths []string, readFile func(string) ([]byte, error)) ([]byte, error) {
	e := emit.New(64)
	for _, p := range paths {
		data, err := readFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "debug: hashing file %q", p)
		}
		sum := md5.Sum(data)

		e.Write4(0) // file name string-table offset: filled by the object
		// writer once its string table for this section is final.
		e.Write1(uint8(len(sum)))
		e.Write1(1) // checksum kind: 1 = MD5
		e.WriteBytes(sum[:])
		pad := (4 - (e.Len() % 4)) % 4
		for i := 0; i < pad; i++ {
			e.Write1(0)
		}
	}
	return e.Bytes(), nil
}
