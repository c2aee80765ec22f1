package codegen

import "github.com/tbkit/tb/ir"

// PatchSink is how a Target records the deferred relocations spec.md
// §4.5 describes (FunctionPatch/ExternPatch/GlobalPatch/
// ConstPoolPatch), mirroring original_source/src/tb/tb.c's
// tb_emit_call_patch(m, source, target, pos, tid). Package module
// implements this; Ctx holds it as an interface so codegen does not
// depend on module (which depends on codegen).
//
// Ctx does not forward to the sink the instant a Target calls
// EmitFunctionPatch etc. — lowering runs before finalizeLayout splices
// the prologue in front of the body, so a pos recorded mid-lowering is
// stale by exactly the prologue's length once the function is done.
// Ctx buffers these calls internally and replays them against the
// sink, with pos already shifted, once finalizeLayout knows the final
// prologue length (see pendingFunctionPatch and friends below).
type PatchSink interface {
	EmitFunctionPatch(src *ir.Function, targetName string, pos int)
	EmitExternPatch(src *ir.Function, targetName string, pos int)
	EmitGlobalPatch(src *ir.Function, targetName string, pos int)
	// ReserveConstPool copies data into the module's rdata region at an
	// atomically reserved offset and returns that offset immediately
	// (it does not depend on this function's final code layout, so it
	// need not wait for flushPatches the way the other three do).
	ReserveConstPool(data []byte) (rdataPos uint32)
	// EmitConstPoolPatch records that the code at pos references
	// rdataPos (a value ReserveConstPool already returned).
	EmitConstPoolPatch(src *ir.Function, pos int, rdataPos uint32)
}

type pendingFunctionPatch struct {
	targetName string
	pos        int
}

type pendingGlobalPatch struct {
	targetName string
	pos        int
}

type pendingConstPoolPatch struct {
	pos      int
	rdataPos uint32
}

// SetPatchSink attaches the module-level patch recorder this function
// compile should use. Safe to leave nil for standalone codegen (e.g.
// tests that never call/reference externs).
func (c *Ctx) SetPatchSink(sink PatchSink) { c.patchSink = sink }

// EmitFunctionPatch records a direct-call relocation at the current
// (pre-prologue) pos for replay against the sink once layout is final.
func (c *Ctx) EmitFunctionPatch(targetName string, pos int) {
	if c.patchSink == nil {
		return
	}
	c.pendingFuncPatches = append(c.pendingFuncPatches, pendingFunctionPatch{targetName, pos})
}

// EmitExternPatch records an extern-call relocation at pos.
func (c *Ctx) EmitExternPatch(targetName string, pos int) {
	if c.patchSink == nil {
		return
	}
	c.pendingExternPatches = append(c.pendingExternPatches, pendingFunctionPatch{targetName, pos})
}

// EmitGlobalPatch records a global-address relocation at pos.
func (c *Ctx) EmitGlobalPatch(targetName string, pos int) {
	if c.patchSink == nil {
		return
	}
	c.pendingGlobalPatches = append(c.pendingGlobalPatches, pendingGlobalPatch{targetName, pos})
}

// EmitConstPoolPatch reserves rdata space for data immediately via the
// sink's ReserveConstPool (a fetch-add against the module's rdata
// counter, independent of this function's final code offset) and
// defers recording the patch *site* until pos is final, returning the
// reserved offset right away so the backend can use it for a
// PC-relative LEA within the same function.
func (c *Ctx) EmitConstPoolPatch(pos int, data []byte) uint32 {
	if c.patchSink == nil {
		return 0
	}
	rdataPos := c.patchSink.ReserveConstPool(data)
	c.pendingConstPatches = append(c.pendingConstPatches, pendingConstPoolPatch{pos: pos, rdataPos: rdataPos})
	return rdataPos
}

// flushPatches replays every buffered patch call against the sink with
// pos shifted by the final prologue length, called once from
// finalizeLayout after the prologue has been spliced in.
func (c *Ctx) flushPatches(shift int) {
	if c.patchSink == nil {
		return
	}
	for _, p := range c.pendingFuncPatches {
		c.patchSink.EmitFunctionPatch(c.F, p.targetName, p.pos+shift)
	}
	for _, p := range c.pendingExternPatches {
		c.patchSink.EmitExternPatch(c.F, p.targetName, p.pos+shift)
	}
	for _, p := range c.pendingGlobalPatches {
		c.patchSink.EmitGlobalPatch(c.F, p.targetName, p.pos+shift)
	}
	for _, p := range c.pendingConstPatches {
		c.patchSink.EmitConstPoolPatch(c.F, p.pos+shift, p.rdataPos)
	}
}
