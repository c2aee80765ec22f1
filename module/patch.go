package module

import (
	"github.com/tbkit/tb/ir"
)

// FunctionPatch is a deferred direct-call relocation: the code at
// (function, pos) must be patched, once final layout is known, to the
// PC-relative displacement to the callee function's first byte
// (spec.md §4.5, §8's "two-module call-patch" scenario).
type FunctionPatch struct {
	Source *ir.Function
	Target string
	Pos    int // byte offset within Source's compiled code
}

// ExternPatch is the same shape as FunctionPatch but resolved against
// an externally-linked symbol rather than another function in this
// module.
type ExternPatch struct {
	Source *ir.Function
	Target string
	Pos    int
}

// GlobalPatch is a deferred data-symbol-address relocation.
type GlobalPatch struct {
	Source *ir.Function
	Target string
	Pos    int
}

// ConstPoolPatch is a deferred relocation against the module's rdata
// region, at an offset already reserved by ReserveConstPool.
type ConstPoolPatch struct {
	Source   *ir.Function
	Pos      int
	RdataPos uint32
}

// sink adapts one function's compile call to the owning Module and its
// thread-local patch lists, implementing codegen.PatchSink. A fresh
// sink is created per CompileFunction call, bound to the calling
// goroutine's threadState, so patch-list appends never race (spec.md
// §5: "the four patch lists" are part of what's sharded per thread).
type sink struct {
	m  *Module
	ts *threadState
}

func (s *sink) EmitFunctionPatch(src *ir.Function, targetName string, pos int) {
	s.ts.functionPatches = append(s.ts.functionPatches, FunctionPatch{src, targetName, pos})
}

func (s *sink) EmitExternPatch(src *ir.Function, targetName string, pos int) {
	s.ts.externPatches = append(s.ts.externPatches, ExternPatch{src, targetName, pos})
}

func (s *sink) EmitGlobalPatch(src *ir.Function, targetName string, pos int) {
	s.ts.globalPatches = append(s.ts.globalPatches, GlobalPatch{src, targetName, pos})
}

func (s *sink) ReserveConstPool(data []byte) uint32 {
	return s.m.reserveRdata(data)
}

func (s *sink) EmitConstPoolPatch(src *ir.Function, pos int, rdataPos uint32) {
	s.ts.constPatches = append(s.ts.constPatches, ConstPoolPatch{src, pos, rdataPos})
}
