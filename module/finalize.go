package module

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/tbkit/tb/ir"
)

// Section identifies which final output region a resolved address
// falls in (spec.md §4.5's "text" and "rdata" regions).
type Section uint8

const (
	SectionText Section = iota
	SectionRdata
)

// UnresolvedReloc is a patch site Finalize could not resolve to a byte
// value itself, because the target is an external symbol or a module
// global whose final address only the object writer or JIT
// materializer knows (spec.md §6 "External Interfaces").
type UnresolvedReloc struct {
	Symbol string
	Offset int // byte offset within Layout.Code
}

// Layout is the finalized module image: the concatenated code region,
// the concatenated constant-pool region, and the base addresses both
// were laid out against (0 for a relocatable object, the mmap'd
// region's address for a JIT module; see package jit).
type Layout struct {
	Code       []byte
	Rdata      []byte
	TextBase   uint64
	RdataBase  uint64
	FuncOffset map[string]uint64 // function name -> offset within Code
	FuncSize   map[string]int    // function name -> compiled code size

	ExternRelocs []UnresolvedReloc // REL32 call-site, resolved by linker/object/jit
	GlobalRelocs []UnresolvedReloc // ADDR64/SECREL-shaped, resolved the same way
}

// Finalize concatenates every thread's CodeRegion in tid order to
// assign each compiled function a final offset, fills in
// FunctionOutput.CompiledPos, then walks every thread's patch lists and
// writes the resolved relocation value at its patch site. This is the
// barrier spec.md §5 requires between the compile_function* phase and
// materialization: Finalize must not run concurrently with any
// in-flight CompileFunction(s) call, since it reads every thread shard
// without locking (the same "exactly one goroutine touches this shard"
// invariant the compile phase itself relies on, just inverted to "one
// goroutine touches all shards now that compiling is done").
func (m *Module) Finalize(textBase, rdataBase uint64) (*Layout, error) {
	if m.finalized {
		return nil, errors.New("module: Finalize called twice")
	}
	m.finalized = true

	layout := &Layout{
		TextBase:   textBase,
		RdataBase:  rdataBase,
		Rdata:      m.rdata,
		FuncOffset: make(map[string]uint64, len(m.Functions)),
		FuncSize:   make(map[string]int, len(m.Functions)),
	}

	// Pass 1: concatenate regions in tid order, recording each thread's
	// base offset within the combined code buffer.
	var code []byte
	bases := make([]int, MaxThreads)
	for tid := 0; tid < MaxThreads; tid++ {
		ts := m.threads[tid]
		if ts == nil {
			continue
		}
		bases[tid] = len(code)
		code = append(code, ts.region.buf...)
	}
	layout.Code = code

	// Pass 2: fill in CompiledPos for every function now that its base
	// is known, and index by name for patch resolution below.
	m.placementsMu.Lock()
	placements := m.placements
	m.placementsMu.Unlock()

	for f, p := range placements {
		pos := uint64(bases[p.tid]+p.regionOff) + textBase
		f.Output.CompiledPos = pos
		layout.FuncOffset[f.Name] = pos
		layout.FuncSize[f.Name] = p.size
	}

	// Pass 3: resolve every deferred patch, writing the relocation value
	// at base(patch.Source) + patch.Pos. Function/extern call patches
	// are PC-relative (pos+4 is the instruction's end, matching
	// codegen/x64 and codegen/arm64's own CallRel32/BL conventions);
	// global/const-pool patches are resolved against rdataBase.

	// siteOffset returns src's absolute offset within the combined code
	// buffer plus the patch's function-local pos - the region base alone
	// (srcBase) isn't enough, since p.Pos is relative to src's own
	// compiled bytes, not the region it happens to share with other
	// functions compiled by the same thread.
	siteOffset := func(src *ir.Function, pos int) (int, error) {
		p, ok := placements[src]
		if !ok {
			return 0, errors.Errorf("module: patch references unplaced function %q", src.Name)
		}
		return bases[p.tid] + p.regionOff + pos, nil
	}

	for tid := 0; tid < MaxThreads; tid++ {
		ts := m.threads[tid]
		if ts == nil {
			continue
		}

		for _, p := range ts.functionPatches {
			targetPos, ok := layout.FuncOffset[p.Target]
			if !ok {
				return nil, errors.Errorf("module: function patch in %s references undefined function %q",
					p.Source.Name, p.Target)
			}
			off, err := siteOffset(p.Source, p.Pos)
			if err != nil {
				return nil, err
			}
			if m.Arch == ArchAArch64 {
				// BL carries a word-scaled imm26 relative to the BL itself.
				rel := (int64(targetPos) - int64(textBase+uint64(off))) / 4
				binary.LittleEndian.PutUint32(code[off:off+4], 0x94000000|uint32(rel)&0x03FFFFFF)
				continue
			}
			writeRel32(code, off, textBase, targetPos)
		}
		for _, p := range ts.externPatches {
			if !m.hasExternal(p.Target) {
				return nil, errors.Errorf("module: extern patch in %s references undeclared external %q",
					p.Source.Name, p.Target)
			}
			off, err := siteOffset(p.Source, p.Pos)
			if err != nil {
				return nil, err
			}
			// External symbols have no address until the object/JIT
			// materializer resolves them against the host process or
			// the linker; record the site for that later pass instead
			// of writing a value now (spec.md §6 "External Interfaces").
			layout.ExternRelocs = append(layout.ExternRelocs, UnresolvedReloc{Symbol: p.Target, Offset: off})
		}
		for _, p := range ts.globalPatches {
			off, err := siteOffset(p.Source, p.Pos)
			if err != nil {
				return nil, err
			}
			// Resolved by the object/JIT materializer against the data
			// section it lays out, for the same reason as externs.
			layout.GlobalRelocs = append(layout.GlobalRelocs, UnresolvedReloc{Symbol: p.Target, Offset: off})
		}
		for _, p := range ts.constPatches {
			off, err := siteOffset(p.Source, p.Pos)
			if err != nil {
				return nil, err
			}
			writeRel32(code, off, textBase, rdataBase+uint64(p.RdataPos))
		}
	}

	return layout, nil
}

// writeRel32 computes the PC-relative displacement from the byte
// immediately following the 4-byte field at the combined buffer offset
// off (the instruction's end, per codegen/x64's CallRel32 emission) to
// target, and writes it in place. It serves x86-64 call and const-pool
// sites; AArch64's BL is not rel32-shaped (its imm26 lives inside the
// instruction word), so Finalize re-encodes those call sites directly
// (intra-function branches are resolved during compile via
// Target.PatchBranch and never reach this far).
func writeRel32(code []byte, off int, textBase uint64, target uint64) {
	siteAddr := textBase + uint64(off) + 4
	rel := int32(int64(target) - int64(siteAddr))
	binary.LittleEndian.PutUint32(code[off:off+4], uint32(rel))
}

func (m *Module) hasExternal(name string) bool {
	for _, e := range m.Externals {
		if e == name {
			return true
		}
	}
	return false
}
