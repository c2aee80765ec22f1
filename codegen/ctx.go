package codegen

import (
	"github.com/sirupsen/logrus"

	"github.com/tbkit/tb/analysis"
	"github.com/tbkit/tb/emit"
	"github.com/tbkit/tb/ir"
)

// labelPatch is a pending fixup: the 4-byte rel32 (or similar) field at
// Pos should, once Target is known, be patched to branch there.
type labelPatch struct {
	pos    int
	target ir.Label
}

// retPatch is a pending fixup for a return site's jump to the shared
// epilogue.
type retPatch struct {
	pos int
}

// Ctx is the per-function state the GAD skeleton threads through
// EvalBB/EvalBBEdge. Field names track generic_addrdesc.h's Ctx struct.
type Ctx struct {
	F      *ir.Function
	Res    *analysis.Result
	Target Target
	Out    *emit.Emitter

	Log *logrus.Entry

	queue []queueEntry

	// phiSlots holds each PHI node's spill-slot Value for the lifetime
	// of the whole function. PHI bindings must outlive the per-block
	// queue (EvalBB rolls c.queue back to its block-entry length every
	// call), since a PHI's slot is written to by every predecessor
	// edge, including ones reached many blocks after the PHI's own
	// block was compiled (a loop back-edge).
	phiSlots map[ir.Reg]Value

	// regAllocator[class][reg] is the Reg currently bound to that
	// physical register, or ir.NullReg if free.
	regAllocator [][]ir.Reg

	stackUsage uint32
	regsToSave uint64

	labelOffsets []int // label ordinal -> code offset, -1 until emitted
	labelPatches []labelPatch
	retPatches   []retPatch

	flagsBound ir.Reg
	flagsCode  int

	// stackSlots records Local/spill allocations for the debug emitter.
	stackSlots []ir.StackSlotEntry

	unimplemented bool
	failedOp      ir.Op

	patchSink            PatchSink
	pendingFuncPatches   []pendingFunctionPatch
	pendingExternPatches []pendingFunctionPatch
	pendingGlobalPatches []pendingGlobalPatch
	pendingConstPatches  []pendingConstPoolPatch
}

// NewCtx builds a fresh Ctx for compiling f on target.
func NewCtx(f *ir.Function, res *analysis.Result, target Target, log *logrus.Entry) *Ctx {
	classes := target.NumClasses()
	regAlloc := make([][]ir.Reg, classes)
	for c := 0; c < classes; c++ {
		regAlloc[c] = make([]ir.Reg, target.RegsInClass(Class(c)))
	}

	labels := make([]int, f.LabelCount())
	for i := range labels {
		labels[i] = -1
	}

	return &Ctx{
		F:            f,
		Res:          res,
		Target:       target,
		Out:          emit.New(256),
		Log:          log,
		regAllocator: regAlloc,
		labelOffsets: labels,
		flagsBound:   ir.NullReg,
		phiSlots:     make(map[ir.Reg]Value),
	}
}

// PhiSlot returns r's persistent spill-slot Value, allocating one via
// AllocSpill on first use. Every predecessor edge that writes PHI r's
// incoming value (EvalBBEdge) and every operand reference to PHI r's
// result (resolve) must go through this map rather than c.queue, since
// c.queue is truncated back to a per-block restore point at the end of
// every EvalBB call.
func (c *Ctx) PhiSlot(r ir.Reg, size, align int) Value {
	if v, ok := c.phiSlots[r]; ok {
		return v
	}
	v := c.AllocSpill(r, size, align)
	c.phiSlots[r] = v
	return v
}

// --- queue / resolver (GAD_FN(find)/GAD_FN(enqueue)/GAD_FN(await)) ---

// find returns the index of r in the queue, or -1.
func (c *Ctx) find(r ir.Reg) int {
	for i, e := range c.queue {
		if e.r == r {
			return i
		}
	}
	return -1
}

// enqueue appends r to the queue as unresolved if it isn't already
// present.
func (c *Ctx) enqueue(r ir.Reg) {
	if c.find(r) >= 0 {
		return
	}
	c.queue = append(c.queue, queueEntry{r: r, val: Value{Kind: ValUnresolved}})
}

// operandsOf returns the operand Regs of n that ResolveValue depends on
// (the explicit-stack equivalent of the C await's recursive descent:
// resolve() walks these before calling Target.ResolveValue).
func operandsOf(n *ir.Node) []ir.Reg {
	var ops []ir.Reg
	add := func(r ir.Reg) {
		if r != ir.NullReg {
			ops = append(ops, r)
		}
	}
	add(n.A)
	add(n.B)
	add(n.C)
	add(n.Cond)
	add(n.CalleeReg)
	ops = append(ops, n.Args...)
	return ops
}

// resolve is the explicit-stack replacement for GAD_FN(await)'s
// recursion (SPEC_FULL.md §D item 1): it walks r's operand graph
// depth-first using an explicit worklist instead of native call-stack
// recursion, then invokes Target.ResolveValue once every operand is
// resolved.
func (c *Ctx) resolve(r ir.Reg) Value {
	if v, ok := c.phiSlots[r]; ok {
		return v
	}
	if i := c.find(r); i >= 0 && !c.queue[i].val.IsUnresolved() {
		return c.queue[i].val
	}

	type frame struct {
		r      ir.Reg
		visited bool
	}
	stack := []frame{{r: r}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		n := c.F.Node(top.r)

		if !top.visited {
			if i := c.find(top.r); i >= 0 && !c.queue[i].val.IsUnresolved() {
				// Already lowered via another frame of this walk (an
				// operand shared by several consumers).
				stack = stack[:len(stack)-1]
				continue
			}
			top.visited = true
			for _, op := range operandsOf(n) {
				// Leaves and PHI results are bound ahead of time by
				// InitialRegAlloc/EvalBBEdge; anything still unresolved
				// here (leaf or not) is a genuine dependency to walk
				// first, depth-first, before n itself can be lowered.
				if _, ok := c.phiSlots[op]; ok {
					continue
				}
				if i := c.find(op); i >= 0 && !c.queue[i].val.IsUnresolved() {
					continue
				}
				stack = append(stack, frame{r: op})
			}
			continue
		}

		val, ok := c.Target.ResolveValue(c, n)
		if !ok {
			c.unimplemented = true
			c.failedOp = n.Op
			c.Log.WithField("op", n.Op.String()).Warn("codegen: no lowering for op, function abandoned")
			val = Value{Kind: ValUnresolved}
		}
		i := c.find(top.r)
		if i < 0 {
			c.queue = append(c.queue, queueEntry{r: top.r, val: val})
		} else {
			c.queue[i].val = val
		}
		stack = stack[:len(stack)-1]
	}

	i := c.find(r)
	return c.queue[i].val
}

// ValueOf returns the resolved Value for r, resolving it (and its
// operand chain) first if necessary.
func (c *Ctx) ValueOf(r ir.Reg) Value {
	return c.resolve(r)
}

// BindValue seats a pre-known Value for r in the queue (used for
// parameters, which Target.InitialRegAlloc binds up front rather than
// lazily; PHI results go through Ctx.phiSlots instead, since they must
// outlive a single block's queue window).
func (c *Ctx) BindValue(r ir.Reg, v Value) {
	if i := c.find(r); i >= 0 {
		c.queue[i].val = v
		return
	}
	c.queue = append(c.queue, queueEntry{r: r, val: v})
}

// Failed reports whether an unimplemented op was hit while resolving
// this function (spec.md §7 UnimplementedPath).
func (c *Ctx) Failed() (ir.Op, bool) { return c.failedOp, c.unimplemented }
