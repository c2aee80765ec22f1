package object

import "encoding/binary"

// WriteCOFF builds a Microsoft COFF object (.obj) - spec.md §6's "COFF
// (.obj)" output - at reduced fidelity relative to WriteELF64: section
// headers, raw section data, a flat relocation table per section and a
// symbol table, but no .pdata/.xdata exception-handling data and no
// debug subsections (those are object's job only insofar as the debug
// package hands it a section group to copy in verbatim, which this
// writer does not yet wire - see DESIGN.md).
//
// Grounded on the teacher's pe64.go for the section-table/raw-data
// layout idiom (fixed-size header structs packed by hand, RVA/raw
// offset bookkeeping), retargeted from an executable PE32+ image to a
// relocatable COFF object: no DOS stub, no optional header, no image
// base/section alignment - a .obj's sections are laid out back to back
// like an ELF .o's.
func WriteCOFF(in Input, mach Machine) []byte {
	const (
		fileHeaderSize = 20
		sectionHdrSize = 40
		symSize        = 18
	)

	machine := uint16(0x8664) // IMAGE_FILE_MACHINE_AMD64
	relREL32 := uint16(4)     // IMAGE_REL_AMD64_REL32
	relADDR64 := uint16(1)    // IMAGE_REL_AMD64_ADDR64
	if mach == MachineAArch64 {
		machine = 0xAA64  // IMAGE_FILE_MACHINE_ARM64
		relREL32 = 0x0003 // IMAGE_REL_ARM64_BRANCH26 (approximate: both are PC-relative call fixups)
		relADDR64 = 0x0002
	}

	type section struct {
		name       [8]byte
		data       []byte
		flags      uint32
		relocCount int
	}
	names := func(s string) (out [8]byte) { copy(out[:], s); return }

	secs := []*section{
		{name: names(".text"), data: in.Text, flags: 0x60000020},  // CODE|EXECUTE|READ
		{name: names(".rdata"), data: in.Rdata, flags: 0x40000040}, // INITIALIZED_DATA|READ
		{name: names(".data"), data: in.Data, flags: 0xC0000040},  // INITIALIZED_DATA|READ|WRITE
		{name: names(".bss"), data: nil, flags: 0xC0000080},       // UNINITIALIZED_DATA|READ|WRITE
	}

	strtab := newStrtab()
	symIndex := make(map[string]uint32, len(in.Symbols))
	var symtab []byte
	var symCount uint32
	addSym := func(name string, value uint32, sectionNumber int16, external bool) {
		entry := make([]byte, symSize)
		if len(name) > 8 {
			off := strtab.add(name)
			binary.LittleEndian.PutUint32(entry[0:4], 0)
			binary.LittleEndian.PutUint32(entry[4:8], off)
		} else {
			copy(entry[0:8], name)
		}
		binary.LittleEndian.PutUint32(entry[8:12], value)
		binary.LittleEndian.PutUint16(entry[12:14], uint16(sectionNumber))
		binary.LittleEndian.PutUint16(entry[14:16], 0) // type
		storageClass := byte(3) // IMAGE_SYM_CLASS_STATIC
		if external {
			storageClass = 2 // IMAGE_SYM_CLASS_EXTERNAL
		}
		entry[16] = storageClass
		entry[17] = 0 // numberOfAuxSymbols
		symIndex[name] = symCount
		symtab = append(symtab, entry...)
		symCount++
	}

	sectionNumberFor := func(k SectionKind) int16 {
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
			return 0 // IMAGE_SYM_UNDEFINED: external symbol
		}
	}
	for _, sym := range in.Symbols {
		addSym(sym.Name, uint32(sym.Offset), sectionNumberFor(sym.Section), sym.Global || !sym.Defined)
	}

	relType := relREL32
	relocBufs := make([][]byte, len(secs))
	for _, r := range in.Relocs {
		si := -1
		switch r.Section {
		case SectionText:
			si = 0
		case SectionRdata:
			si = 1
		case SectionData:
			si = 2
		}
		if si < 0 {
			continue
		}
		idx, ok := symIndex[r.Symbol]
		if !ok {
			continue
		}
		entry := make([]byte, 10)
		binary.LittleEndian.PutUint32(entry[0:4], uint32(r.Offset))
		binary.LittleEndian.PutUint32(entry[4:8], idx)
		typ := relType
		if r.Type == RelADDR64 {
			typ = relADDR64
		}
		binary.LittleEndian.PutUint16(entry[8:10], typ)
		relocBufs[si] = append(relocBufs[si], entry...)
		secs[si].relocCount++
	}

	off := fileHeaderSize + len(secs)*sectionHdrSize
	type placed struct{ dataOff, relocOff int }
	plc := make([]placed, len(secs))
	for i, s := range secs {
		plc[i].dataOff = off
		off = align8(off + len(s.data))
	}
	for i := range secs {
		plc[i].relocOff = off
		off = align8(off + len(relocBufs[i]))
	}
	symtabOff := off
	off += len(symtab)
	strtabOff := off
	strtabSize := len(strtab.buf) + 4 // COFF string table is prefixed by its own 4-byte size

	buf := make([]byte, off+4+len(strtab.buf))
	binary.LittleEndian.PutUint16(buf[0:2], machine)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(secs)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(symtabOff))
	binary.LittleEndian.PutUint32(buf[12:16], symCount)
	binary.LittleEndian.PutUint16(buf[16:18], 0) // optional header size: none, this is a .obj

	for i, s := range secs {
		base := fileHeaderSize + i*sectionHdrSize
		copy(buf[base:base+8], s.name[:])
		binary.LittleEndian.PutUint32(buf[base+16:base+20], uint32(len(s.data)))
		binary.LittleEndian.PutUint32(buf[base+20:base+24], uint32(plc[i].dataOff))
		if len(relocBufs[i]) > 0 {
			binary.LittleEndian.PutUint32(buf[base+24:base+28], uint32(plc[i].relocOff))
			binary.LittleEndian.PutUint16(buf[base+32:base+34], uint16(s.relocCount))
		}
		binary.LittleEndian.PutUint32(buf[base+36:base+40], s.flags)
		copy(buf[plc[i].dataOff:], s.data)
		copy(buf[plc[i].relocOff:], relocBufs[i])
	}
	copy(buf[symtabOff:], symtab)
	binary.LittleEndian.PutUint32(buf[strtabOff:strtabOff+4], uint32(strtabSize))
	copy(buf[strtabOff+4:], strtab.buf)

	return buf
}
