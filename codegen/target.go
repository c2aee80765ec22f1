package codegen

import (
	"github.com/tbkit/tb/emit"
	"github.com/tbkit/tb/ir"
)

// Target is the set of ISA-specific hooks a concrete backend (package
// x64, package arm64) supplies; Ctx drives them while walking a
// function's basic blocks. Naming follows the GAD_FN(...) function
// family of generic_addrdesc.h one-to-one.
type Target interface {
	// NumClasses returns how many register classes this target has
	// (e.g. 2: general-purpose and vector).
	NumClasses() int
	// RegsInClass returns how many physical registers class c has.
	RegsInClass(c Class) int
	// ClassOf returns which register class a value of type dt belongs
	// in.
	ClassOf(dt ir.DataType) Class
	// ArgRegsInClass returns how many leading call arguments of class c
	// are passed in registers under this target's ABI.
	ArgRegsInClass(c Class) int

	// InitialRegAlloc seeds ctx's register-allocator bookkeeping with
	// callee-saved/caller-saved splits and binds incoming parameter
	// values to their ABI locations.
	InitialRegAlloc(ctx *Ctx)

	// ResolveValue lowers node n (whose operands are already resolved
	// in ctx's queue) and returns the Value holding its result. ok is
	// false when n's Op has no lowering on this target; Ctx logs this
	// as spec.md §7's UnimplementedPath and the function fails to
	// compile via that fast path (falling back to a more general,
	// slower path is the caller's decision, not Ctx's).
	ResolveValue(ctx *Ctx, n *ir.Node) (val Value, ok bool)

	// Store lowers a Store node (a side-effecting op evaluated eagerly,
	// not through ResolveValue).
	Store(ctx *Ctx, n *ir.Node)
	// Return lowers a Ret node's value-passing convention; the jump to
	// the shared epilogue is handled by Ctx via RetJmp.
	Return(ctx *Ctx, n *ir.Node)
	// RetJmp records (and, if the epilogue offset is already known,
	// emits) the jump from a return site to the function's single
	// epilogue.
	RetJmp(ctx *Ctx)
	// BranchIf lowers an If terminator's conditional jump.
	BranchIf(ctx *Ctx, cond Value, fallthroughLbl, ifTrue, ifFalse ir.Label)
	// Jump lowers an unconditional Goto, eliding the branch entirely
	// when target is the fallthrough block.
	Jump(ctx *Ctx, target ir.Label, isFallthrough bool)
	// CondToReg materializes a flags-kind Value into dst as a 0/1
	// register value (GAD_FN(cond_to_reg), used by kill_flags).
	CondToReg(ctx *Ctx, cond Value, dst Value)
	// PhiMove emits the move needed to satisfy one PHI input along one
	// predecessor edge.
	PhiMove(ctx *Ctx, dst Value, src Value)

	// Prologue/Epilogue emit (or reserve space for) the frame setup and
	// teardown sequences once stack_usage is final.
	Prologue(ctx *Ctx) []byte
	Epilogue(ctx *Ctx) []byte

	// PatchBranch backpatches the branch instruction at pos (as recorded
	// via Ctx.EmitLabelPatch/EmitRetPatch) so it targets byte offset targetOff in the
	// same buffer. The patch encoding is target-specific: x86 reserves a
	// separate trailing rel32 field after the opcode, while AArch64
	// encodes the displacement in-place within the already-written
	// 32-bit instruction word, keyed off which branch form was emitted at
	// pos. Ctx defers every branch fixup to this hook rather than
	// assuming one binary patch format works for every ISA.
	PatchBranch(out *emit.Emitter, pos, targetOff int)
}
