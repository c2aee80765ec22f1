package jit

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/tbkit/tb/module"
)

// Materializer owns one RX-mapped CodeRegion holding an entire
// finalized module, plus the offsets needed to turn a function name
// back into a callable pointer (spec.md §4.5 "function-pointer
// retrieval").
type Materializer struct {
	region *CodeRegion
	layout *module.Layout
}

// ExportJIT finalizes m against a freshly mapped code region sized to
// fit m's already-compiled code (via Module.CompiledCodeSize - every
// CompileFunction/CompileFunctions call must have returned before this
// runs, matching spec.md §5's single-barrier semantics between the
// compile phase and materialization), copies the code in, resolves
// every ExternRelocs entry against a symbol the host process already
// has loaded (via the externSymbol lookup - typically a dlsym wrapper
// or a static registry the caller builds ahead of time), and flips the
// region RX.
//
// GlobalRelocs are left unresolved: a JIT caller is expected to back
// every module global with real storage of its own and resolve it
// through the same externSymbol lookup, identically to an extern
// function (spec.md §6 treats both as external interfaces with no
// container format of their own to carry a data-section address).
func ExportJIT(m *module.Module, externSymbol func(name string) (uintptr, bool)) (*Materializer, error) {
	region, err := NewCodeRegion(m.CompiledCodeSize())
	if err != nil {
		return nil, err
	}

	layout, err := m.Finalize(uint64(region.BaseAddr()), 0)
	if err != nil {
		return nil, err
	}

	if err := region.Write(0, layout.Code); err != nil {
		return nil, err
	}

	for _, r := range layout.ExternRelocs {
		addr, ok := externSymbol(r.Symbol)
		if !ok {
			return nil, errors.Errorf("jit: unresolved extern symbol %q", r.Symbol)
		}
		siteAddr := region.BaseAddr() + uintptr(r.Offset) + 4
		rel := int32(int64(addr) - int64(siteAddr))
		if err := region.Write(r.Offset, int32Bytes(rel)); err != nil {
			return nil, err
		}
	}

	if err := region.Protect(); err != nil {
		return nil, err
	}

	return &Materializer{region: region, layout: layout}, nil
}

// GetJITFunc returns the native entry address of a compiled function by
// name, or false if it was never compiled in this module.
func (mz *Materializer) GetJITFunc(name string) (unsafe.Pointer, bool) {
	off, ok := mz.layout.FuncOffset[name]
	if !ok {
		return nil, false
	}
	return unsafe.Pointer(mz.region.BaseAddr() + uintptr(off-mz.layout.TextBase)), true
}

// Close unmaps the underlying code region.
func (mz *Materializer) Close() error { return mz.region.Close() }

func int32Bytes(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}
