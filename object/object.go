// Package object implements spec.md §6's "Object outputs": a
// container-agnostic section/relocation model plus concrete writers
// (ELF64 in full, PE/Mach-O at reduced fidelity - headers and the
// .text/.rdata/.data layout only, no .pdata/.xdata or code signing,
// consistent with spec.md §1 placing "object-file containers ... beyond
// the relocation/section model" out of scope).
//
// Grounded on the teacher's std/compiler/elf_x64.go, pe64.go and
// macho_arm64.go for section layout and byte-packing idiom, generalized
// from those files' single statically-linked-executable builders into a
// relocatable-object model carrying a symbol table and explicit
// relocation records, per spec.md §6's relocation list (REL32, ADDR64,
// SECREL, SECTION, ADR_PREL_PG_HI21, ADD_ABS_LO12_NC, CALL26).
package object

// RelocType names one of spec.md §6's relocation kinds. Not every
// writer emits every kind; each writer's doc comment says which subset
// it understands.
type RelocType uint8

const (
	RelREL32 RelocType = iota
	RelADDR64
	RelSECREL
	RelSECTION
	RelADRPrelPgHi21
	RelAddAbsLo12NC
	RelCALL26
)

// Symbol is one defined or undefined entry for the symbol table: a
// compiled function, a module global, or a reference to an external
// name with no definition in this object.
type Symbol struct {
	Name     string
	Offset   uint64 // within its section; meaningless for Undefined
	Size     uint64
	Section  SectionKind
	Global   bool // exported (spec.md ir.LinkagePublic) vs local
	Defined  bool
}

// SectionKind identifies which of the four sections spec.md §6 names a
// Symbol or Relocation belongs to.
type SectionKind uint8

const (
	SectionText SectionKind = iota
	SectionRdata
	SectionData
	SectionBSS
	SectionNone // undefined symbols (externals) have no home section
)

// Relocation is one entry of a section's relocation list: at Offset
// bytes into Section, apply Type against Symbol (Addend further offsets
// the computed value, used by position-independent AArch64 sequences).
type Relocation struct {
	Section SectionKind
	Offset  uint64
	Symbol  string
	Type    RelocType
	Addend  int64
}

// Input is everything a writer needs: the two byte regions module.
// Finalize produced, the symbol table (compiled functions plus module
// globals plus referenced externals), and every relocation left
// unresolved by module.Finalize (extern calls, global references).
type Input struct {
	Text  []byte
	Rdata []byte
	Data  []byte
	BSS   uint64 // size only; zero-initialized, nothing to write

	Symbols   []Symbol
	Relocs    []Relocation
	EntryName string // optional; "" if this object defines no entry point
}
