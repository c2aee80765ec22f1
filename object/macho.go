package object

import "encoding/binary"

// WriteMachO builds a relocatable Mach-O object (MH_OBJECT) at reduced
// fidelity relative to WriteELF64: one unnamed segment holding
// __text/__const/__data/__bss sections, per-section relocation entries,
// and a flat LC_SYMTAB - no LC_DYSYMTAB two-level namespace tables, no
// code signature load command (spec.md §1 places object-container
// fidelity beyond the relocation/section model out of scope).
//
// Grounded on the teacher's macho_arm64.go for the load-command and
// section_64 byte layout, retargeted from its single MH_EXECUTE+
// LC_MAIN+LC_DYLD_INFO_ONLY executable builder to MH_OBJECT's far
// smaller command set (one LC_SEGMENT_64, one LC_SYMTAB, nothing else).
func WriteMachO(in Input, mach Machine) []byte {
	const (
		machHeaderSize  = 32
		segCmdSize      = 72
		sectionSize     = 80
		nlistSize       = 16
		symtabCmdSize   = 24
		lcSegment64     = 0x19
		lcSymtab        = 0x2
		mhObject        = 0x1
		sAttrSomeInstrs = 0x00000400
		sAttrPureInstrs = 0x80000000
	)

	cputype := uint32(0x01000007)    // CPU_TYPE_X86_64
	cpusubtype := uint32(0x80000003) // CPU_SUBTYPE_X86_64_ALL
	if mach == MachineAArch64 {
		cputype = 0x0100000C    // CPU_TYPE_ARM64
		cpusubtype = 0x80000002 // CPU_SUBTYPE_ARM64_ALL
	}

	type sect struct {
		name, seg string
		data      []byte
		flags     uint32
		relocs    []Relocation
	}
	sections := []sect{
		{name: "__text", seg: "__TEXT", data: in.Text, flags: sAttrPureInstrs | sAttrSomeInstrs},
		{name: "__const", seg: "__TEXT", data: in.Rdata},
		{name: "__data", seg: "__DATA", data: in.Data},
		{name: "__bss", seg: "__DATA", data: make([]byte, 0)},
	}
	sectionIdx := func(k SectionKind) int {
		switch k {
		case SectionText:
			return 0
		case SectionRdata:
			return 1
		case SectionData:
			return 2
		case SectionBSS:
			return 3
		default:
			return -1
		}
	}
	for _, r := range in.Relocs {
		i := sectionIdx(r.Section)
		if i < 0 {
			continue
		}
		sections[i].relocs = append(sections[i].relocs, r)
	}

	strtab := newStrtab()
	symIndex := make(map[string]uint32, len(in.Symbols))
	var symtab []byte
	var symCount uint32
	for _, sym := range in.Symbols {
		nameOff := strtab.add(sym.Name)
		entry := make([]byte, nlistSize)
		binary.LittleEndian.PutUint32(entry[0:4], nameOff)
		typ := byte(0x0e) // N_SECT
		if !sym.Defined {
			typ = 0x01 // N_UNDF
		}
		if sym.Global {
			typ |= 0x01 // N_EXT
		}
		entry[4] = typ
		sIdx := sectionIdx(sym.Section)
		if sIdx >= 0 {
			entry[5] = byte(sIdx + 1) // n_sect, 1-based across all sections
		}
		binary.LittleEndian.PutUint64(entry[8:16], sym.Offset)
		symIndex[sym.Name] = symCount
		symtab = append(symtab, entry...)
		symCount++
	}

	relType := uint8(4) // X86_64_RELOC_BRANCH, approximating REL32 call sites
	if mach == MachineAArch64 {
		relType = 2 // ARM64_RELOC_BRANCH26
	}
	relocBufs := make([][]byte, len(sections))
	for i, s := range sections {
		for _, r := range s.relocs {
			idx, ok := symIndex[r.Symbol]
			if !ok {
				continue
			}
			entry := make([]byte, 8)
			binary.LittleEndian.PutUint32(entry[0:4], uint32(r.Offset))
			// second word: bitfield of r_symbolnum(24)/r_pcrel(1)/r_length(2)/
			// r_extern(1)/r_type(4), packed low-to-high per Mach-O convention.
			word := idx&0xFFFFFF | 1<<24 | 2<<25 | 1<<27 | uint32(relType)<<28
			binary.LittleEndian.PutUint32(entry[4:8], word)
			relocBufs[i] = append(relocBufs[i], entry...)
		}
	}

	off := machHeaderSize + segCmdSize + len(sections)*sectionSize + symtabCmdSize
	dataOffs := make([]int, len(sections))
	for i, s := range sections {
		dataOffs[i] = off
		off = align8(off + len(s.data))
	}
	relocOffs := make([]int, len(sections))
	for i := range sections {
		relocOffs[i] = off
		off = align8(off + len(relocBufs[i]))
	}
	symtabOff := off
	off += len(symtab)
	strOff := off
	off += len(strtab.buf)

	buf := make([]byte, off)
	binary.LittleEndian.PutUint32(buf[0:4], 0xfeedfacf) // MH_MAGIC_64
	binary.LittleEndian.PutUint32(buf[4:8], cputype)
	binary.LittleEndian.PutUint32(buf[8:12], cpusubtype)
	binary.LittleEndian.PutUint32(buf[12:16], mhObject)
	binary.LittleEndian.PutUint32(buf[16:20], 2) // ncmds: LC_SEGMENT_64, LC_SYMTAB
	binary.LittleEndian.PutUint32(buf[20:24], uint32(segCmdSize+len(sections)*sectionSize+symtabCmdSize))

	segBase := machHeaderSize
	binary.LittleEndian.PutUint32(buf[segBase+0:segBase+4], lcSegment64)
	binary.LittleEndian.PutUint32(buf[segBase+4:segBase+8], uint32(segCmdSize+len(sections)*sectionSize))
	binary.LittleEndian.PutUint32(buf[segBase+48:segBase+52], uint32(len(sections)))
	var totalSize uint64
	for _, s := range sections {
		totalSize += uint64(align8(len(s.data)))
	}
	binary.LittleEndian.PutUint64(buf[segBase+40:segBase+48], totalSize)

	for i, s := range sections {
		base := segBase + segCmdSize + i*sectionSize
		copy(buf[base:base+16], s.name)
		copy(buf[base+16:base+32], s.seg)
		binary.LittleEndian.PutUint64(buf[base+40:base+48], uint64(len(s.data)))
		binary.LittleEndian.PutUint32(buf[base+48:base+52], uint32(dataOffs[i]))
		if len(relocBufs[i]) > 0 {
			binary.LittleEndian.PutUint32(buf[base+56:base+60], uint32(relocOffs[i]))
			binary.LittleEndian.PutUint32(buf[base+60:base+64], uint32(len(relocBufs[i])/8))
		}
		binary.LittleEndian.PutUint32(buf[base+64:base+68], s.flags)
		copy(buf[dataOffs[i]:], s.data)
		copy(buf[relocOffs[i]:], relocBufs[i])
	}

	symtabBase := segBase + segCmdSize + len(sections)*sectionSize
	binary.LittleEndian.PutUint32(buf[symtabBase+0:symtabBase+4], lcSymtab)
	binary.LittleEndian.PutUint32(buf[symtabBase+4:symtabBase+8], symtabCmdSize)
	binary.LittleEndian.PutUint32(buf[symtabBase+8:symtabBase+12], uint32(symtabOff))
	binary.LittleEndian.PutUint32(buf[symtabBase+12:symtabBase+16], symCount)
	binary.LittleEndian.PutUint32(buf[symtabBase+16:symtabBase+20], uint32(strOff))
	binary.LittleEndian.PutUint32(buf[symtabBase+20:symtabBase+24], uint32(len(strtab.buf)))

	copy(buf[symtabOff:], symtab)
	copy(buf[strOff:], strtab.buf)

	return buf
}
