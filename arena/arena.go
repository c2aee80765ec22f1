// Package arena provides the per-thread scratch storage the code
// generator reuses across functions, and a process-wide arena for
// long-lived strings and prototypes.
//
// Grounded on original_source/src/tb/tb.c's tb_tls_push/tb_tls_pop/
// tb_tls_restore (a bump allocator over a preallocated per-thread
// block, reset between functions via a saved "used" mark). Go's
// garbage collector makes raw pointer-bump allocation both unsafe and
// unnecessary; Scratch instead reuses backing slices across calls by
// truncating rather than reallocating, which is the part of the
// original's design worth keeping (avoiding an allocation per compiled
// function) and drops the part that isn't (manual memory lifetime).
package arena

import "sync"

// Scratch is reusable per-thread storage for one code generator's
// per-function working slices (the queue, label patch lists, and
// similar short-lived collections).
type Scratch struct {
	regBuf   []uint32
	byteBuf  []byte
	mark     int
}

// Mark captures the current high-water mark, mirroring tb_tls_push's
// return value used later by tb_tls_restore.
func (s *Scratch) Mark() int { return s.mark }

// Restore truncates scratch usage back to a previously captured Mark.
func (s *Scratch) Restore(mark int) { s.mark = mark }

// Reset prepares the scratch for a new function, truncating backing
// slices to zero length without releasing their capacity.
func (s *Scratch) Reset() {
	s.regBuf = s.regBuf[:0]
	s.byteBuf = s.byteBuf[:0]
	s.mark = 0
}

// RegSlice returns a zero-length slice backed by s's reusable register
// buffer, grown as needed by append.
func (s *Scratch) RegSlice() []uint32 { return s.regBuf }

// SetRegSlice stores back a slice append may have reallocated.
func (s *Scratch) SetRegSlice(b []uint32) { s.regBuf = b }

// Pool hands out Scratch values per goroutine/thread, avoiding an
// allocation on every function compiled (spec.md §5 "no heap traffic on
// the per-node hot path").
type Pool struct {
	p sync.Pool
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{p: sync.Pool{New: func() interface{} { return &Scratch{} }}}
}

// Get returns a Scratch ready for a new function (already Reset).
func (p *Pool) Get() *Scratch {
	s := p.p.Get().(*Scratch)
	s.Reset()
	return s
}

// Put returns s to the pool for reuse.
func (p *Pool) Put(s *Scratch) { p.p.Put(s) }

// StringArena interns symbol names and other long-lived strings once
// per module, matching tb.c's "allocated in a process-wide arena"
// prototype/string lifetime (spec.md §3).
type StringArena struct {
	mu      sync.Mutex
	interns map[string]string
}

// NewStringArena returns an empty StringArena.
func NewStringArena() *StringArena {
	return &StringArena{interns: make(map[string]string)}
}

// Intern returns a canonical copy of s, reusing a previous Intern call's
// string if one already exists for this exact content.
func (a *StringArena) Intern(s string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.interns[s]; ok {
		return existing
	}
	a.interns[s] = s
	return s
}
