// Package module implements spec.md §4.5 and §5: a Module owns the
// functions/prototypes/externals/globals of one compilation unit,
// shards per-thread compilation state, drives codegen.Compile(WithSink)
// per function, and finalizes section layout by resolving every
// deferred patch once all functions are lowered.
//
// Grounded directly on original_source/src/tb/tb.c's tb_module_create,
// tb__get_local_tid, tb_emit_*_patch and tb_module_compile_function; the
// per-thread CodeRegion/patch-list sharding and the counter names
// (functions.count, rdata_region_size, ...) track that file's structure.
package module

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/tbkit/tb/arena"
	"github.com/tbkit/tb/codegen"
	"github.com/tbkit/tb/codegen/arm64"
	"github.com/tbkit/tb/codegen/x64"
	"github.com/tbkit/tb/ir"
)

// Arch selects which codegen.Target a Module drives.
type Arch uint8

const (
	ArchX86_64 Arch = iota
	ArchAArch64
)

// System is the target operating system, which in turn selects the
// ABI a Module's functions are compiled against (spec.md §6: "win64 on
// Windows, sysv elsewhere").
type System uint8

const (
	SysLinux System = iota
	SysMacOS
	SysWindows
	SysFreeBSD
)

// ABI is the calling convention a System implies.
type ABI uint8

const (
	ABISysV ABI = iota
	ABIWin64
)

func (s System) ABI() ABI {
	if s == SysWindows {
		return ABIWin64
	}
	return ABISysV
}

// MaxThreads bounds the per-thread sharded state a Module allocates;
// spec.md §5 calls this "a fixed compile-time bound".
const MaxThreads = 64

// Config selects a Module's target triple and build mode.
type Config struct {
	Arch     Arch
	System   System
	Features []string
	IsJIT    bool
}

// Global is a module-level data symbol a function's ir.OpLoad/Store may
// reference by name through a GlobalPatch (spec.md §3's "global
// reference" node family, §4.5's patch taxonomy).
type Global struct {
	Name string
	Size uint32
	Init []byte // nil for a zero-initialized (.bss) global
}

// Module is one compilation unit: the set of functions/prototypes/
// externals/globals it owns, plus the per-thread compilation state and
// atomic counters spec.md §5 describes.
type Module struct {
	Config
	target codegen.Target
	log    *logrus.Entry

	// regMu guards append-only registration of Functions/Externals/
	// Globals. This happens before the concurrent compile_function*
	// phase in every caller this package expects, so it is not the hot
	// path spec.md §5 asks to be lock-free; that hot path is per-thread
	// CodeRegion/patch-list access below, which this mutex never touches.
	regMu     sync.Mutex
	Functions []*ir.Function
	Externals []string
	Globals   []Global

	compiledCount int64 // atomic; spec.md §5 functions.compiled_count
	rdataSize     uint32

	rdataMu sync.Mutex
	rdata   []byte

	strings *arena.StringArena
	scratch *arena.Pool

	threadCounter int64 // atomic; next unassigned local tid
	threads       [MaxThreads]*threadState
	threadsMu     sync.Mutex

	placementsMu sync.Mutex
	placements   map[*ir.Function]placement

	finalized bool
	textBase  uint64
}

// New creates a Module targeting cfg. log receives UnimplementedPath
// warnings and JIT/export diagnostics (spec.md §7); a nil log attaches
// a standard logrus entry.
func New(cfg Config, log *logrus.Entry) *Module {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	var target codegen.Target
	switch cfg.Arch {
	case ArchAArch64:
		target = arm64.Target{}
	default:
		target = x64.Target{}
	}
	return &Module{
		Config:  cfg,
		target:  target,
		log:     log,
		strings: arena.NewStringArena(),
		scratch: arena.NewPool(),
	}
}

// AddFunction registers f with the module, returning its index.
func (m *Module) AddFunction(f *ir.Function) int {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	m.Functions = append(m.Functions, f)
	return len(m.Functions) - 1
}

// AddExternal declares an externally-resolved symbol name a function
// may call via ir.Builder.ECall.
func (m *Module) AddExternal(name string) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	m.Externals = append(m.Externals, m.strings.Intern(name))
}

// AddGlobal declares a module-level data symbol.
func (m *Module) AddGlobal(g Global) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	g.Name = m.strings.Intern(g.Name)
	m.Globals = append(m.Globals, g)
}

// reserveRdata copies data into the module's shared rdata buffer and
// returns its offset, following original_source/src/tb/tb.c's
// tb_emit_const_patch formula exactly: reserve len+align bytes, where
// align is 16 when len > 8 and 0 otherwise, then round only that
// len > 8 case's returned base up to 16 (short constants are left at
// whatever offset they land on; only larger payloads - pointer-sized
// struct literals and up - need the stricter alignment load
// instructions on some ISAs require). The mutex around the underlying
// slice exists only because Go slice growth cannot safely race the way
// a preallocated C buffer's pointer arithmetic can — see DESIGN.md.
func (m *Module) reserveRdata(data []byte) uint32 {
	m.rdataMu.Lock()
	defer m.rdataMu.Unlock()

	align := 0
	if len(data) > 8 {
		align = 16
	}
	rawOff := uint32(len(m.rdata))
	m.rdata = append(m.rdata, make([]byte, len(data)+align)...)

	base := rawOff
	if align > 0 {
		base = (base + 15) &^ 15
	}
	copy(m.rdata[base:base+uint32(len(data))], data)

	atomic.StoreUint32(&m.rdataSize, uint32(len(m.rdata)))
	return base
}

// CompiledCount returns how many functions have completed lowering so
// far (spec.md §5 functions.compiled_count).
func (m *Module) CompiledCount() int64 { return atomic.LoadInt64(&m.compiledCount) }

// CompiledCodeSize returns the total size in bytes of every thread's
// CodeRegion combined - exactly what Finalize will concatenate. Callers
// sizing an executable mapping ahead of Finalize (package jit) use this
// to know how large to map before the combined offsets it assigns are
// known.
func (m *Module) CompiledCodeSize() int {
	m.threadsMu.Lock()
	defer m.threadsMu.Unlock()
	total := 0
	for _, ts := range m.threads {
		if ts != nil {
			total += ts.region.Len()
		}
	}
	return total
}
