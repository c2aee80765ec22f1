package module

import (
	"github.com/pkg/errors"

	"github.com/tbkit/tb/ir"
	"github.com/tbkit/tb/object"
)

var errUnknownFormat = errors.New("module: unknown object format")

// ObjectInput builds an object.Input from a finalized Layout: the
// symbol table (every compiled function, every module global, every
// referenced external as an undefined entry) and the relocation list
// (spec.md §6's "external interfaces" - the patches module.Finalize
// left unresolved for exactly this consumer).
func (m *Module) ObjectInput(layout *Layout) object.Input {
	in := object.Input{
		Text:  layout.Code,
		Rdata: layout.Rdata,
	}

	var data []byte
	dataOffsets := make(map[string]uint64, len(m.Globals))
	var bssSize uint64
	for _, g := range m.Globals {
		if g.Init == nil {
			dataOffsets[g.Name] = bssSize
			bssSize += uint64(g.Size)
			continue
		}
		dataOffsets[g.Name] = uint64(len(data))
		data = append(data, g.Init...)
	}
	in.Data = data
	in.BSS = bssSize

	for _, f := range m.Functions {
		pos, ok := layout.FuncOffset[f.Name]
		if !ok {
			continue // declared but never compiled; not an output symbol
		}
		in.Symbols = append(in.Symbols, object.Symbol{
			Name:    f.Name,
			Offset:  pos - layout.TextBase,
			Size:    uint64(layout.FuncSize[f.Name]),
			Section: object.SectionText,
			Global:  f.Linkage == ir.LinkagePublic,
			Defined: true,
		})
	}
	for _, g := range m.Globals {
		section := object.SectionData
		if g.Init == nil {
			section = object.SectionBSS
		}
		in.Symbols = append(in.Symbols, object.Symbol{
			Name:    g.Name,
			Offset:  dataOffsets[g.Name],
			Size:    uint64(g.Size),
			Section: section,
			Global:  true,
			Defined: true,
		})
	}
	seenExtern := make(map[string]bool)
	for _, r := range layout.ExternRelocs {
		if !seenExtern[r.Symbol] {
			in.Symbols = append(in.Symbols, object.Symbol{Name: r.Symbol, Section: object.SectionNone, Defined: false})
			seenExtern[r.Symbol] = true
		}
		in.Relocs = append(in.Relocs, object.Relocation{
			Section: object.SectionText,
			Offset:  uint64(r.Offset),
			Symbol:  r.Symbol,
			Type:    object.RelREL32,
		})
	}
	for _, r := range layout.GlobalRelocs {
		in.Relocs = append(in.Relocs, object.Relocation{
			Section: object.SectionText,
			Offset:  uint64(r.Offset),
			Symbol:  r.Symbol,
			Type:    object.RelADDR64,
		})
	}

	return in
}

// ExportObject finalizes m and writes a relocatable object for format.
func (m *Module) ExportObject(textBase uint64, format ObjectFormat) ([]byte, error) {
	layout, err := m.Finalize(textBase, 0)
	if err != nil {
		return nil, err
	}
	in := m.ObjectInput(layout)
	mach := object.MachineX86_64
	if m.Arch == ArchAArch64 {
		mach = object.MachineAArch64
	}
	switch format {
	case FormatELF:
		return object.WriteELF64(in, mach), nil
	case FormatCOFF:
		return object.WriteCOFF(in, mach), nil
	case FormatMachO:
		return object.WriteMachO(in, mach), nil
	default:
		return nil, errUnknownFormat
	}
}

// ObjectFormat selects which concrete object.Write* a Module's
// ExportObject call targets, independent of Config.System (a Linux
// build can still ask for a COFF object for cross-compilation tooling).
type ObjectFormat uint8

const (
	FormatELF ObjectFormat = iota
	FormatCOFF
	FormatMachO
)
