package module

import (
	"sync/atomic"

	"github.com/tbkit/tb/codegen"
	"github.com/tbkit/tb/ir"
)

// IselMode selects which lowering path compile_function attempts
// (spec.md §4.5). Complex always falls back to Fast in this
// implementation: no separate complex-path backend exists yet (see
// DESIGN.md), so requesting it only changes whether a fallback warning
// is logged for paths Fast already would have taken anyway.
type IselMode uint8

const (
	IselFast IselMode = iota
	IselComplex
)

// placement records where a compiled function's code landed: which
// thread's CodeRegion, at what offset within it, and how many bytes.
// Finalize reads these once every CompileFunction* call has returned,
// consistent with spec.md §5's ordering guarantee that patch resolution
// never begins before lowering has completed.
type placement struct {
	tid       int
	regionOff int
	size      int
}

// localThread is the handle binding the calling goroutine to one
// threadState for the duration of a single CompileFunction or
// CompileFunctions call (see acquireThread); every call takes a fresh
// tid.
type localThread struct {
	m  *Module
	ts *threadState
}

// acquireThread binds the calling goroutine to a thread shard for the
// duration of one CompileFunction/CompileFunctions call. Each call
// picks up a fresh tid; a goroutine that calls CompileFunction
// repeatedly fragments across more shards than one that batches
// through CompileFunctions, but correctness never depends on which
// shard a given function's code and patches end up in.
func (m *Module) acquireThread() *localThread {
	tid := m.localTID()
	return &localThread{m: m, ts: m.threadStateFor(tid)}
}

// CompileFunction lowers f under mode, recording its placement and
// patch list on the thread shard the calling goroutine owns for this
// call. It increments the module's compiled-function counter on
// success (spec.md §5 functions.compiled_count).
func (m *Module) CompileFunction(f *ir.Function, mode IselMode) error {
	lt := m.acquireThread()
	return m.compileOn(lt, f, mode)
}

// CompileFunctions lowers every function in fs, reusing a single
// thread shard across all of them (the common case: one worker
// goroutine draining a batch) rather than minting a new tid per call.
func (m *Module) CompileFunctions(fs []*ir.Function, mode IselMode) error {
	lt := m.acquireThread()
	for _, f := range fs {
		if err := m.compileOn(lt, f, mode); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) compileOn(lt *localThread, f *ir.Function, mode IselMode) error {
	s := &sink{m: m, ts: lt.ts}

	if mode == IselComplex {
		m.log.WithField("func", f.Name).
			Warn("complex isel path unavailable, falling back to fast path")
	}
	out, err := codegen.CompileWithSink(f, m.target, m.log, s)
	if err != nil {
		return err
	}

	regionOff := lt.ts.region.Append(out.Code)

	m.placementsMu.Lock()
	if m.placements == nil {
		m.placements = make(map[*ir.Function]placement)
	}
	m.placements[f] = placement{tid: lt.ts.tid, regionOff: regionOff, size: len(out.Code)}
	m.placementsMu.Unlock()

	atomic.AddInt64(&m.compiledCount, 1)
	return nil
}
