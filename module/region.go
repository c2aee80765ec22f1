package module

import (
	"sync/atomic"

	"github.com/tbkit/tb/arena"
)

// CodeRegion is a per-thread linear buffer functions are lowered into,
// one after another (spec.md §5: "a virtually-allocated linear
// buffer"). Because each thread owns exactly one, appends never race;
// final layout concatenates every thread's region in tid order.
type CodeRegion struct {
	buf []byte
}

// Append copies code into the region and returns its offset within the
// region (not yet the final module-wide offset; Finalize adds the
// region's base once every thread's total size is known).
func (r *CodeRegion) Append(code []byte) int {
	off := len(r.buf)
	r.buf = append(r.buf, code...)
	return off
}

// Len returns the region's current size in bytes.
func (r *CodeRegion) Len() int { return len(r.buf) }

// threadState is the per-thread shard spec.md §5 describes: one
// CodeRegion and the four patch lists it feeds, plus a reusable
// arena.Scratch. Accessed by exactly one goroutine at a time (the one
// that owns this local tid), so nothing here needs its own lock.
type threadState struct {
	tid     int
	region  CodeRegion
	scratch *arena.Scratch

	functionPatches []FunctionPatch
	externPatches   []ExternPatch
	globalPatches   []GlobalPatch
	constPatches    []ConstPoolPatch
}

// localTID lazily assigns the calling goroutine a thread index in
// [0, MaxThreads) via a single atomic increment on m's process-wide
// counter (spec.md §5's get_local_tid). acquireThread calls this once
// per CompileFunction/CompileFunctions call and reuses the returned
// threadState for every function compiled within that call.
func (m *Module) localTID() int {
	tid := int(atomic.AddInt64(&m.threadCounter, 1)) - 1
	if tid >= MaxThreads {
		panic("module: thread count exceeds MaxThreads")
	}
	return tid
}

// threadStateFor returns (lazily creating) the threadState for tid.
func (m *Module) threadStateFor(tid int) *threadState {
	m.threadsMu.Lock()
	defer m.threadsMu.Unlock()
	if m.threads[tid] == nil {
		m.threads[tid] = &threadState{tid: tid, scratch: m.scratch.Get()}
	}
	return m.threads[tid]
}
