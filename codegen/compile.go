package codegen

import (
	"github.com/sirupsen/logrus"
	"github.com/pkg/errors"

	"github.com/tbkit/tb/analysis"
	"github.com/tbkit/tb/ir"
)

// Compile lowers f on target, producing a FunctionOutput with code,
// frame accounting and debug tables (spec.md §4.3, §4.5's "fast path").
// It returns an error wrapping ErrUnimplementedOp, naming the ir.Op, when
// the target has no lowering for some node (spec.md §7 UnimplementedPath); callers decide whether
// to retry with a more general backend or propagate the failure.
func Compile(f *ir.Function, target Target, log *logrus.Entry) (*ir.FunctionOutput, error) {
	return CompileWithSink(f, target, log, nil)
}

// CompileWithSink is Compile with a module-level PatchSink attached, so
// calls/externs/globals/large constants lowered along the way record
// their relocations (spec.md §4.5).
func CompileWithSink(f *ir.Function, target Target, log *logrus.Entry, sink PatchSink) (*ir.FunctionOutput, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("func", f.Name)

	regArgs := target.ArgRegsInClass(0)
	res := analysis.Run(f, regArgs)

	f.Output = &ir.FunctionOutput{Linkage: f.Linkage}
	ctx := NewCtx(f, res, target, log)
	ctx.SetPatchSink(sink)

	target.InitialRegAlloc(ctx)
	ctx.reserveOutgoingArgArea(res.MaxCallArgs)

	bb := ir.EntryReg
	// The entry anchor (Reg 1) isn't itself a Label; the function body
	// starts at the first real Label node threaded after it.
	f.ForEachNode(func(r ir.Reg) bool {
		if c := f.Node(r); c.Op == ir.OpLabel {
			bb = r
			return false
		}
		return true
	})

	for bb != ir.NullReg {
		next := ctx.EvalBB(bb)
		if next == bb {
			break
		}
		bb = next
	}

	if _, failed := ctx.Failed(); failed {
		op, _ := ctx.Failed()
		return nil, errors.Wrapf(ErrUnimplementedOp, "op %s", op)
	}

	ctx.finalizeLayout()

	f.Output.Code = ctx.Out.Bytes()
	f.Output.StackUsage = roundUp(ctx.StackUsage(), 16)
	f.Output.SavedRegMask = ctx.CalleeSavedMask()
	f.Output.StackSlotTable = ctx.stackSlots

	return f.Output, nil
}

// ErrUnimplementedOp is the sentinel Compile wraps when a Target
// declines to lower some node (spec.md §7 UnimplementedPath).
var ErrUnimplementedOp = errors.New("codegen: unimplemented op for target")

// finalizeLayout inserts the prologue ahead of the function body and
// appends the epilogue, then backpatches every label/return-site fixup
// against final code offsets.
//
// Prologue size is only known once stack_usage is final, which itself
// isn't known until every block has been walked (locals and spills are
// discovered along the way) — so the body is generated first at offset
// 0 and the prologue is spliced in afterwards, shifting every recorded
// offset forward by its length (SPEC_FULL.md §D item 3), rather than
// reserving worst-case prologue space ahead of time.
func (c *Ctx) finalizeLayout() {
	prologue := c.Target.Prologue(c)
	if len(prologue) > 0 {
		c.Out.InsertAt(0, prologue)
		shift := len(prologue)
		for i := range c.labelOffsets {
			if c.labelOffsets[i] >= 0 {
				c.labelOffsets[i] += shift
			}
		}
		for i := range c.labelPatches {
			c.labelPatches[i].pos += shift
		}
		for i := range c.retPatches {
			c.retPatches[i].pos += shift
		}
		for i := range c.F.Output.LineTable {
			c.F.Output.LineTable[i].CodeOffset += shift
		}
		c.F.Output.PrologueLength = shift
		c.flushPatches(shift)
	} else {
		c.flushPatches(0)
	}

	epilogueOffset := c.Out.Len()
	epilogue := c.Target.Epilogue(c)
	c.Out.WriteBytes(epilogue)
	c.F.Output.EpilogueLength = len(epilogue)

	for _, p := range c.retPatches {
		c.Target.PatchBranch(c.Out, p.pos, epilogueOffset)
	}
	for _, p := range c.labelPatches {
		c.Target.PatchBranch(c.Out, p.pos, c.labelOffsets[p.target])
	}
}

// EmitLabelPatch records a forward/backward branch fixup for the branch
// at code position pos (as Target.PatchBranch expects it) targeting label.
func (c *Ctx) EmitLabelPatch(pos int, target ir.Label) {
	c.labelPatches = append(c.labelPatches, labelPatch{pos: pos, target: target})
}

// EmitRetPatch records a return site's jump-to-epilogue fixup.
func (c *Ctx) EmitRetPatch(pos int) {
	c.retPatches = append(c.retPatches, retPatch{pos: pos})
}
