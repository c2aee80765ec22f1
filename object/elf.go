package object

import "encoding/binary"

// ELF64 constants this writer needs. Named directly rather than
// imported from debug/elf, since that package models Ehdr/Shdr as Go
// structs with padding that doesn't match the wire layout without a
// binary.Write pass anyway; packing the bytes by hand here mirrors how
// the teacher's buildELF64 does it (see elf_x64.go), just retargeted at
// ET_REL instead of ET_EXEC.
const (
	elfEhdrSize = 64
	elfShdrSize = 64
	elfSymSize  = 24
	elfRelaSize = 24

	etRel    = 1
	emX8664  = 62
	emAArch  = 183
	evCurrent = 1

	shtNull    = 0
	shtProgbit = 1
	shtSymtab  = 2
	shtStrtab  = 3
	shtRela    = 4
	shtNobits  = 8

	shfWrite = 1 << 0
	shfAlloc = 1 << 1
	shfExec  = 1 << 2

	stbLocal  = 0
	stbGlobal = 1
	sttNotype = 0
	sttFunc   = 2
	sttObject = 1

	rX8664PC32  = 2  // R_X86_64_PC32, matches REL32 call sites
	rX8664_64   = 1  // R_X86_64_64, matches ADDR64
	rAArch64Call26 = 283 // R_AARCH64_CALL26
)

// Machine selects the ELF e_machine value a WriteELF64 call targets.
type Machine uint8

const (
	MachineX86_64 Machine = iota
	MachineAArch64
)

// strtab is an append-only string table builder; index 0 is always the
// empty string, matching ELF convention.
type strtab struct {
	buf []byte
}

func newStrtab() *strtab { return &strtab{buf: []byte{0}} }

func (s *strtab) add(name string) uint32 {
	if name == "" {
		return 0
	}
	off := uint32(len(s.buf))
	s.buf = append(s.buf, name...)
	s.buf = append(s.buf, 0)
	return off
}

func align8(n int) int { return (n + 7) &^ 7 }

// WriteELF64 builds a relocatable ELF64 object (ET_REL) with .text,
// .rodata, .data, .bss, a combined .rela.text relocation section
// (spec.md §6 lists AMD64 REL32/ADDR64/SECREL/SECTION and AArch64
// ADR_PREL_PG_HI21/ADD_ABS_LO12_NC/CALL26; this writer only emits the
// kinds module.ObjectInput produces from Finalize's UnresolvedRelocs -
// call-site REL32/CALL26 and absolute ADDR64 against a named symbol),
// a symbol table and string tables.
func WriteELF64(in Input, mach Machine) []byte {
	shstr := newStrtab()
	text := shstr.add(".text")
	rodata := shstr.add(".rodata")
	data := shstr.add(".data")
	bss := shstr.add(".bss")
	symtabName := shstr.add(".symtab")
	strtabName := shstr.add(".strtab")
	shstrtabName := shstr.add(".shstrtab")
	relaTextName := shstr.add(".rela.text")

	names := newStrtab()

	// Partition symbols into local-first, global-second order (ELF
	// requires every STB_LOCAL entry to precede every STB_GLOBAL one in
	// .symtab; sh_info on the section records the split point).
	var locals, globals []Symbol
	for _, sym := range in.Symbols {
		if sym.Global {
			globals = append(globals, sym)
		} else {
			locals = append(locals, sym)
		}
	}
	ordered := append(append([]Symbol{}, locals...), globals...)

	symIndex := make(map[string]uint32, len(ordered))
	var symtab []byte
	symtab = append(symtab, make([]byte, elfSymSize)...) // STN_UNDEF
	for i, sym := range ordered {
		symIndex[sym.Name] = uint32(i + 1)
		nameOff := names.add(sym.Name)
		shndx := sectionIndex(sym.Section)
		bind := uint8(stbLocal)
		if sym.Global {
			bind = stbGlobal
		}
		typ := uint8(sttNotype)
		switch sym.Section {
		case SectionText:
			typ = sttFunc
		case SectionRdata, SectionData, SectionBSS:
			typ = sttObject
		}
		info := bind<<4 | typ
		entry := make([]byte, elfSymSize)
		binary.LittleEndian.PutUint32(entry[0:4], nameOff)
		entry[4] = info
		entry[5] = 0 // st_other
		binary.LittleEndian.PutUint16(entry[6:8], shndx)
		binary.LittleEndian.PutUint64(entry[8:16], sym.Offset)
		binary.LittleEndian.PutUint64(entry[16:24], sym.Size)
		symtab = append(symtab, entry...)
	}
	firstGlobal := uint32(len(locals) + 1)

	relType := uint32(rX8664PC32)
	if mach == MachineAArch64 {
		relType = rAArch64Call26
	}
	var relaText []byte
	for _, r := range in.Relocs {
		if r.Section != SectionText {
			continue // only .text relocations are modeled: module.Finalize
			// never leaves an unresolved site in .rodata/.data, since
			// const-pool patches are always resolved in place.
		}
		idx, ok := symIndex[r.Symbol]
		if !ok {
			continue
		}
		typ := relType
		if r.Type == RelADDR64 {
			typ = rX8664_64
			if mach == MachineAArch64 {
				typ = 257 // R_AARCH64_ABS64
			}
		}
		entry := make([]byte, elfRelaSize)
		binary.LittleEndian.PutUint64(entry[0:8], r.Offset)
		binary.LittleEndian.PutUint64(entry[8:16], uint64(idx)<<32|uint64(typ))
		binary.LittleEndian.PutUint64(entry[16:24], uint64(r.Addend))
		relaText = append(relaText, entry...)
	}

	// Layout: header | .text | .rodata | .data | .rela.text | .symtab |
	// .strtab | .shstrtab | section header table. .bss occupies no file
	// space (SHT_NOBITS).
	off := elfEhdrSize
	textOff := off
	off = align8(off + len(in.Text))
	rodataOff := off
	off = align8(off + len(in.Rdata))
	dataOff := off
	off = align8(off + len(in.Data))
	relaTextOff := off
	off = align8(off + len(relaText))
	symtabOff := off
	off = align8(off + len(symtab))
	strtabOff := off
	off = align8(off + len(names.buf))
	shstrtabOff := off
	off = align8(off + len(shstr.buf))
	shoff := off

	type shdr struct {
		name, typ, flags          uint32
		addr, offset, size        uint64
		link, info, align, entsz  uint32
	}
	shdrs := []shdr{
		{}, // SHN_UNDEF
		{name: text, typ: shtProgbit, flags: shfAlloc | shfExec, offset: uint64(textOff), size: uint64(len(in.Text)), align: 16},
		{name: rodata, typ: shtProgbit, flags: shfAlloc, offset: uint64(rodataOff), size: uint64(len(in.Rdata)), align: 8},
		{name: data, typ: shtProgbit, flags: shfAlloc | shfWrite, offset: uint64(dataOff), size: uint64(len(in.Data)), align: 8},
		{name: bss, typ: shtNobits, flags: shfAlloc | shfWrite, offset: uint64(dataOff), size: in.BSS, align: 8},
	}
	textSectionIdx := uint32(1)
	symtabSectionIdx := uint32(len(shdrs) + 1) // after .rela.text
	if len(relaText) > 0 {
		shdrs = append(shdrs, shdr{
			name: relaTextName, typ: shtRela, flags: 0,
			offset: uint64(relaTextOff), size: uint64(len(relaText)),
			link: symtabSectionIdx, info: textSectionIdx, align: 8, entsz: elfRelaSize,
		})
	} else {
		symtabSectionIdx = uint32(len(shdrs) + 1)
	}
	strtabSectionIdx := symtabSectionIdx + 1
	shdrs = append(shdrs,
		shdr{name: symtabName, typ: shtSymtab, offset: uint64(symtabOff), size: uint64(len(symtab)),
			link: strtabSectionIdx, info: firstGlobal, align: 8, entsz: elfSymSize},
		shdr{name: strtabName, typ: shtStrtab, offset: uint64(strtabOff), size: uint64(len(names.buf)), align: 1},
		shdr{name: shstrtabName, typ: shtStrtab, offset: uint64(shstrtabOff), size: uint64(len(shstr.buf)), align: 1},
	)

	buf := make([]byte, shoff+len(shdrs)*elfShdrSize)
	copy(buf[textOff:], in.Text)
	copy(buf[rodataOff:], in.Rdata)
	copy(buf[dataOff:], in.Data)
	copy(buf[relaTextOff:], relaText)
	copy(buf[symtabOff:], symtab)
	copy(buf[strtabOff:], names.buf)
	copy(buf[shstrtabOff:], shstr.buf)

	// e_ident
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	machine := uint16(emX8664)
	if mach == MachineAArch64 {
		machine = emAArch
	}
	binary.LittleEndian.PutUint16(buf[16:18], etRel)
	binary.LittleEndian.PutUint16(buf[18:20], machine)
	binary.LittleEndian.PutUint32(buf[20:24], evCurrent)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(shoff))
	binary.LittleEndian.PutUint16(buf[52:54], elfEhdrSize)
	binary.LittleEndian.PutUint16(buf[58:60], elfShdrSize)
	binary.LittleEndian.PutUint16(buf[60:62], uint16(len(shdrs)))
	binary.LittleEndian.PutUint16(buf[62:64], uint16(shstrtabSectionIndex(len(shdrs))))

	for i, sh := range shdrs {
		base := shoff + i*elfShdrSize
		binary.LittleEndian.PutUint32(buf[base+0:base+4], sh.name)
		binary.LittleEndian.PutUint32(buf[base+4:base+8], sh.typ)
		binary.LittleEndian.PutUint64(buf[base+8:base+16], uint64(sh.flags))
		binary.LittleEndian.PutUint64(buf[base+16:base+24], sh.addr)
		binary.LittleEndian.PutUint64(buf[base+24:base+32], sh.offset)
		binary.LittleEndian.PutUint64(buf[base+32:base+40], sh.size)
		binary.LittleEndian.PutUint32(buf[base+40:base+44], sh.link)
		binary.LittleEndian.PutUint32(buf[base+44:base+48], sh.info)
		binary.LittleEndian.PutUint64(buf[base+48:base+56], uint64(sh.align))
		binary.LittleEndian.PutUint64(buf[base+56:base+64], uint64(sh.entsz))
	}

	return buf
}

func shstrtabSectionIndex(n int) int { return n - 1 }

func sectionIndex(k SectionKind) uint16 {
	switch k {
	case SectionText:
		return 1
	case SectionRdata:
		return 2
	case SectionData:
		return 3
	case SectionBSS:
		return 4
	default:
		return 0 // SHN_UNDEF, for external symbols
	}
}
