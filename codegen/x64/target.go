package x64

import (
	"github.com/tbkit/tb/codegen"
	"github.com/tbkit/tb/emit"
	"github.com/tbkit/tb/ir"
)

// Target is the x86-64 SysV implementation of codegen.Target.
type Target struct{}

const gprClass codegen.Class = 0

// regTable is the allocator's priority order (spec.md §4.3.2): caller-
// saved registers first so the common case (a value that dies before
// any call) never touches a callee-saved register, RSP/RBP withheld
// entirely since they carry the frame.
var regTable = [...]GPR{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11, RBX, R12, R13, R14, R15}

// argRegs is the SysV integer argument register order.
var argRegs = [...]GPR{RDI, RSI, RDX, RCX, R8, R9}

func physReg(bankIdx int) GPR { return regTable[bankIdx] }

func (Target) NumClasses() int                { return 1 }
func (Target) RegsInClass(codegen.Class) int  { return len(regTable) }
func (Target) ArgRegsInClass(codegen.Class) int { return len(argRegs) }

func (Target) ClassOf(dt ir.DataType) codegen.Class {
	return gprClass
}

// InitialRegAlloc binds each incoming parameter to its SysV location:
// the first 6 integer/pointer params in RDI/RSI/RDX/RCX/R8/R9, the rest
// on the caller's stack above the return address.
func (Target) InitialRegAlloc(ctx *codegen.Ctx) {
	params := ctx.F.ParamRegs()
	for i, p := range params {
		if i < len(argRegs) {
			bankIdx := indexOf(argRegs[i])
			v := ctx.ReserveRegister(gprClass, bankIdx, p)
			ctx.BindValue(p, v)
		} else {
			// Incoming stack args sit above the return address and
			// saved RBP: disp = 16 + 8*(i - len(argRegs)).
			off := int32(16 + 8*(i-len(argRegs)))
			ctx.BindValue(p, codegen.Value{Kind: codegen.ValStackSlot, Offset: off})
		}
	}
}

func indexOf(r GPR) int {
	for i, g := range regTable {
		if g == r {
			return i
		}
	}
	panic("x64: register not in priority table")
}

func toGPR(v codegen.Value) GPR { return physReg(v.Reg) }

func fitsInt32(v int64) bool { return v == int64(int32(v)) }

// materialize ensures v is a GPR Value, loading from memory/immediate
// if needed, and returns it (allocating dst's register if dst is the
// zero Value).
func materialize(ctx *codegen.Ctx, r ir.Reg, v codegen.Value) codegen.Value {
	switch v.Kind {
	case codegen.ValRegister:
		return v
	case codegen.ValImmediate:
		dst := ctx.AllocReg(gprClass, r)
		if fitsInt32(v.Imm) {
			MovRI32(ctx.Out, toGPR(dst), int32(v.Imm))
		} else {
			MovRI64(ctx.Out, toGPR(dst), uint64(v.Imm))
		}
		return dst
	case codegen.ValStackSlot:
		dst := ctx.AllocReg(gprClass, r)
		LoadMem(ctx.Out, toGPR(dst), RBP, v.Offset)
		return dst
	case codegen.ValFlags:
		dst := ctx.AllocReg(gprClass, r)
		Target{}.CondToReg(ctx, v, dst)
		return dst
	default:
		panic("x64: cannot materialize unresolved value")
	}
}

func ccFor(op ir.Op) Cond {
	switch op {
	case ir.OpCmpEq, ir.OpFCmpEq:
		return CondE
	case ir.OpCmpNe, ir.OpFCmpNe:
		return CondNE
	case ir.OpCmpSlt, ir.OpFCmpLt:
		return CondL
	case ir.OpCmpSle, ir.OpFCmpLe:
		return CondLE
	case ir.OpCmpUlt:
		return CondB
	case ir.OpCmpUle:
		return CondBE
	default:
		panic("x64: not a comparator op")
	}
}

// ResolveValue is the fast isel dispatch of spec.md §4.3.4 step 3. It
// covers the integer GPR path exhaustively enough for spec.md §8's
// end-to-end scenarios; ops without a case return ok=false so Ctx logs
// spec.md §7's UnimplementedPath and Compile fails the function.
func (t Target) ResolveValue(ctx *codegen.Ctx, n *ir.Node) (codegen.Value, bool) {
	switch n.Op {
	case ir.OpIntegerConst:
		return codegen.Value{Kind: codegen.ValImmediate, Imm: n.Imm}, true

	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpMul:
		a := materialize(ctx, n.A, ctx.ValueOf(n.A))
		dst := t.binDst(ctx, n, a)
		b := ctx.ValueOf(n.B)
		if b.Kind == codegen.ValImmediate && fitsInt32(b.Imm) && n.Op != ir.OpMul {
			applyImm(ctx, n.Op, toGPR(dst), int32(b.Imm))
		} else {
			bReg := materialize(ctx, n.B, b)
			applyReg(ctx, n.Op, toGPR(dst), toGPR(bReg))
			ctx.FreeRegister(bReg)
		}
		return dst, true

	case ir.OpSDiv, ir.OpUDiv:
		return t.lowerDiv(ctx, n)

	case ir.OpShl, ir.OpShr, ir.OpSar:
		return t.lowerShift(ctx, n)

	case ir.OpNeg:
		a := materialize(ctx, n.A, ctx.ValueOf(n.A))
		dst := t.unaryDst(ctx, n, a)
		NegR(ctx.Out, toGPR(dst))
		return dst, true

	case ir.OpNot:
		a := materialize(ctx, n.A, ctx.ValueOf(n.A))
		dst := t.unaryDst(ctx, n, a)
		NotR(ctx.Out, toGPR(dst))
		return dst, true

	case ir.OpSignExt, ir.OpZeroExt, ir.OpTruncate, ir.OpIntToPtr, ir.OpPtrToInt:
		// The GPR already holds the value at its natural machine
		// width; widening/narrowing between <=64-bit integer types is
		// a bookkeeping-only move at this backend's granularity.
		a := materialize(ctx, n.A, ctx.ValueOf(n.A))
		return a, true

	case ir.OpCmpEq, ir.OpCmpNe, ir.OpCmpSlt, ir.OpCmpSle, ir.OpCmpUlt, ir.OpCmpUle:
		a := materialize(ctx, n.A, ctx.ValueOf(n.A))
		b := ctx.ValueOf(n.B)
		if b.Kind == codegen.ValImmediate && fitsInt32(b.Imm) {
			CmpRI(ctx.Out, toGPR(a), int32(b.Imm))
		} else {
			bReg := materialize(ctx, n.B, b)
			CmpRR(ctx.Out, toGPR(a), toGPR(bReg))
			ctx.FreeRegister(bReg)
		}
		ctx.FreeRegister(a)
		cc := ccFor(n.Op)
		ctx.SetFlags(n.Reg, int(cc))
		return codegen.Value{Kind: codegen.ValFlags, Cond: int(cc)}, true

	case ir.OpLoad:
		addr := ctx.ValueOf(n.A)
		dst := ctx.AllocReg(gprClass, n.Reg)
		switch addr.Kind {
		case codegen.ValStackSlot:
			LoadMem(ctx.Out, toGPR(dst), RBP, addr.Offset)
		default:
			base := materialize(ctx, n.A, addr)
			LoadMem(ctx.Out, toGPR(dst), toGPR(base), 0)
			ctx.FreeRegister(base)
		}
		return dst, true

	case ir.OpArrayAccess:
		base := materialize(ctx, n.A, ctx.ValueOf(n.A))
		idx := ctx.ValueOf(n.B)
		dst := ctx.AllocReg(gprClass, n.Reg)
		if idx.Kind == codegen.ValImmediate {
			LeaMem(ctx.Out, toGPR(dst), toGPR(base), int32(idx.Imm*n.Imm))
		} else {
			idxReg := materialize(ctx, n.B, idx)
			ImulRR(ctx.Out, toGPR(idxReg), toGPR(idxReg))
			AddRR(ctx.Out, toGPR(base), toGPR(idxReg))
			LeaMem(ctx.Out, toGPR(dst), toGPR(base), 0)
			ctx.FreeRegister(idxReg)
		}
		ctx.FreeRegister(base)
		return dst, true

	case ir.OpMemberAccess:
		base := materialize(ctx, n.A, ctx.ValueOf(n.A))
		dst := ctx.AllocReg(gprClass, n.Reg)
		LeaMem(ctx.Out, toGPR(dst), toGPR(base), int32(n.Imm))
		ctx.FreeRegister(base)
		return dst, true

	case ir.OpCall:
		return t.lowerCall(ctx, n, false)

	case ir.OpECall:
		return t.lowerCall(ctx, n, true)

	case ir.OpParamAddr:
		dst := ctx.AllocReg(gprClass, n.Reg)
		LeaMem(ctx.Out, toGPR(dst), RBP, int32(16+8*n.ParamIndex))
		return dst, true

	default:
		return codegen.Value{}, false
	}
}

func (t Target) binDst(ctx *codegen.Ctx, n *ir.Node, a codegen.Value) codegen.Value {
	if ctx.Res.UseCount[n.A] == 0 {
		// a's last use is this instruction: reuse its register as the
		// destination rather than allocating a fresh one.
		return a
	}
	dst := ctx.AllocReg(gprClass, n.Reg)
	MovRR(ctx.Out, toGPR(dst), toGPR(a))
	return dst
}

func (t Target) unaryDst(ctx *codegen.Ctx, n *ir.Node, a codegen.Value) codegen.Value {
	return t.binDst(ctx, n, a)
}

func applyImm(ctx *codegen.Ctx, op ir.Op, dst GPR, imm int32) {
	switch op {
	case ir.OpAdd:
		AddRI(ctx.Out, dst, imm)
	case ir.OpSub:
		SubRI(ctx.Out, dst, imm)
	case ir.OpAnd, ir.OpOr, ir.OpXor:
		// No reg-imm encoder kept for and/or/xor (spec.md §4.4 lists
		// only ADD/SUB/AND/OR/XOR/CMP/IMUL as reg-reg style concerns);
		// materialize the immediate into a scratch register instead.
		scratch := ctx.StealRegister(gprClass, indexOf(R11))
		MovRI32(ctx.Out, toGPR(scratch), imm)
		applyReg(ctx, op, dst, toGPR(scratch))
	default:
		panic("x64: applyImm: unsupported op")
	}
}

func applyReg(ctx *codegen.Ctx, op ir.Op, dst, src GPR) {
	switch op {
	case ir.OpAdd:
		AddRR(ctx.Out, dst, src)
	case ir.OpSub:
		SubRR(ctx.Out, dst, src)
	case ir.OpAnd:
		AndRR(ctx.Out, dst, src)
	case ir.OpOr:
		OrRR(ctx.Out, dst, src)
	case ir.OpXor:
		XorRR(ctx.Out, dst, src)
	case ir.OpMul:
		ImulRR(ctx.Out, dst, src)
	default:
		panic("x64: applyReg: unsupported op")
	}
}

// lowerDiv pins RAX/RDX as IDIV/DIV requires (spec.md §4.3.2's
// "reservation for ABI-forced placements" applies equally to
// instruction-forced placements): both operands are materialized into
// arbitrary registers first, then copied into the pinned pair, so
// claiming RAX/RDX can never evict a register an operand still needs.
func (t Target) lowerDiv(ctx *codegen.Ctx, n *ir.Node) (codegen.Value, bool) {
	aVal := materialize(ctx, n.A, ctx.ValueOf(n.A))
	bVal := materialize(ctx, n.B, ctx.ValueOf(n.B))

	raxIdx, rdxIdx := indexOf(RAX), indexOf(RDX)

	if toGPR(aVal) != RAX {
		MovRR(ctx.Out, RAX, toGPR(aVal))
		ctx.FreeRegister(aVal)
	}
	ctx.StealRegister(gprClass, rdxIdx)

	if n.Op == ir.OpSDiv {
		Cqo(ctx.Out)
		IdivR(ctx.Out, toGPR(bVal))
	} else {
		XorRR(ctx.Out, RDX, RDX)
		DivR(ctx.Out, toGPR(bVal))
	}
	ctx.FreeRegister(bVal)

	result := ctx.ReserveRegister(gprClass, raxIdx, n.Reg)
	return result, true
}

// lowerShift pins CL as the shift-count register: the shift amount is
// moved there last, after the shifted value has already claimed its own
// register, so the two never contend for CL.
func (t Target) lowerShift(ctx *codegen.Ctx, n *ir.Node) (codegen.Value, bool) {
	a := materialize(ctx, n.A, ctx.ValueOf(n.A))
	dst := t.unaryDst(ctx, n, a)

	b := ctx.ValueOf(n.B)
	rcxIdx := indexOf(RCX)
	if b.Kind == codegen.ValImmediate {
		ctx.StealRegister(gprClass, rcxIdx)
		MovRI32(ctx.Out, RCX, int32(b.Imm))
	} else {
		src := materialize(ctx, n.B, b)
		ctx.StealRegister(gprClass, rcxIdx)
		if toGPR(src) != RCX {
			MovRR(ctx.Out, RCX, toGPR(src))
		}
		ctx.FreeRegister(src)
	}

	switch n.Op {
	case ir.OpShl:
		ShlCl(ctx.Out, toGPR(dst))
	case ir.OpShr:
		ShrCl(ctx.Out, toGPR(dst))
	case ir.OpSar:
		SarCl(ctx.Out, toGPR(dst))
	}
	return dst, true
}

func (t Target) lowerCall(ctx *codegen.Ctx, n *ir.Node, extern bool) (codegen.Value, bool) {
	for i, argReg := range n.Args {
		v := ctx.ValueOf(argReg)
		if i < len(argRegs) {
			dst := ctx.ReserveRegister(gprClass, indexOf(argRegs[i]), argReg)
			src := materialize(ctx, argReg, v)
			if toGPR(src) != toGPR(dst) {
				MovRR(ctx.Out, toGPR(dst), toGPR(src))
			}
		} else {
			src := materialize(ctx, argReg, v)
			stackOff := int32(-int32(ctx.StackUsage()) + int32(8*(i-len(argRegs))))
			StoreMem(ctx.Out, RBP, stackOff, toGPR(src))
		}
	}

	pos := CallRel32(ctx.Out)
	if extern {
		ctx.EmitExternPatch(n.CalleeName, pos)
	} else {
		ctx.EmitFunctionPatch(n.CalleeName, pos)
	}

	raxIdx := indexOf(RAX)
	result := ctx.ReserveRegister(gprClass, raxIdx, n.Reg)
	return result, true
}

// --- side-effecting / terminator hooks ---

func (Target) Store(ctx *codegen.Ctx, n *ir.Node) {
	addr := ctx.ValueOf(n.A)
	val := materialize(ctx, n.C, ctx.ValueOf(n.C))
	if addr.Kind == codegen.ValStackSlot {
		StoreMem(ctx.Out, RBP, addr.Offset, toGPR(val))
		return
	}
	base := materialize(ctx, n.A, addr)
	StoreMem(ctx.Out, toGPR(base), 0, toGPR(val))
	ctx.FreeRegister(base)
}

func (Target) Return(ctx *codegen.Ctx, n *ir.Node) {
	v := materialize(ctx, n.RetVal, ctx.ValueOf(n.RetVal))
	if toGPR(v) != RAX {
		MovRR(ctx.Out, RAX, toGPR(v))
	}
}

func (Target) RetJmp(ctx *codegen.Ctx) {
	pos := JmpRel32(ctx.Out)
	ctx.EmitRetPatch(pos)
}

func (Target) Jump(ctx *codegen.Ctx, target ir.Label, isFallthrough bool) {
	if isFallthrough {
		return
	}
	pos := JmpRel32(ctx.Out)
	ctx.EmitLabelPatch(pos, target)
}

func (Target) BranchIf(ctx *codegen.Ctx, cond codegen.Value, fallthroughLbl, ifTrue, ifFalse ir.Label) {
	var cc Cond
	switch cond.Kind {
	case codegen.ValFlags:
		cc = Cond(cond.Cond)
	default:
		reg := materialize(ctx, ir.NullReg, cond)
		CmpRI(ctx.Out, toGPR(reg), 0)
		cc = CondNE
		ctx.FreeRegister(reg)
	}

	switch {
	case fallthroughLbl == ifFalse:
		pos := JccRel32(ctx.Out, cc)
		ctx.EmitLabelPatch(pos, ifTrue)
	case fallthroughLbl == ifTrue:
		pos := JccRel32(ctx.Out, invert(cc))
		ctx.EmitLabelPatch(pos, ifFalse)
	default:
		pos := JccRel32(ctx.Out, cc)
		ctx.EmitLabelPatch(pos, ifTrue)
		pos2 := JmpRel32(ctx.Out)
		ctx.EmitLabelPatch(pos2, ifFalse)
	}
}

func invert(cc Cond) Cond {
	switch cc {
	case CondE:
		return CondNE
	case CondNE:
		return CondE
	case CondL:
		return CondGE
	case CondGE:
		return CondL
	case CondLE:
		return CondG
	case CondG:
		return CondLE
	case CondB:
		return CondAE
	case CondAE:
		return CondB
	case CondBE:
		return CondA
	case CondA:
		return CondBE
	default:
		return cc
	}
}

func (Target) CondToReg(ctx *codegen.Ctx, cond codegen.Value, dst codegen.Value) {
	SetccR(ctx.Out, Cond(cond.Cond), toGPR(dst))
	MovzxB(ctx.Out, toGPR(dst))
}

func (Target) PhiMove(ctx *codegen.Ctx, dst codegen.Value, src codegen.Value) {
	if dst.Kind != codegen.ValStackSlot {
		panic("x64: PHI destination expected to be stack-resident")
	}
	reg := materialize(ctx, ir.NullReg, src)
	StoreMem(ctx.Out, RBP, dst.Offset, toGPR(reg))
	ctx.FreeRegister(reg)
}

// --- prologue / epilogue ---

// Prologue emits `push rbp; mov rbp, rsp` plus, when the frame actually
// needs stack space, `sub rsp, imm32`. Per spec.md §4.4, a leaf function
// whose final stack_usage rounds to zero elides the sub entirely rather
// than carrying a no-op instruction.
func (Target) Prologue(ctx *codegen.Ctx) []byte {
	e := emit.New(16)
	PushR(e, RBP)
	MovRR(e, RBP, RSP)
	if stackUsage := roundUp16(ctx.StackUsage()); stackUsage > 0 {
		SubRI(e, RSP, int32(stackUsage))
	}
	return e.Bytes()
}

// Epilogue mirrors Prologue in reverse: restore rsp (if it was adjusted),
// pop rbp, ret. This is the single shared return site every Ret node
// jumps to via RetJmp, or falls into directly from the last block.
func (Target) Epilogue(ctx *codegen.Ctx) []byte {
	e := emit.New(8)
	if stackUsage := roundUp16(ctx.StackUsage()); stackUsage > 0 {
		AddRI(e, RSP, int32(stackUsage))
	}
	PopR(e, RBP)
	Ret(e)
	return e.Bytes()
}

func roundUp16(v uint32) uint32 {
	return (v + 15) &^ 15
}

// PatchBranch backpatches the rel32 field that always sits in the 4
// bytes immediately following a CALL/JMP/Jcc opcode on this ISA (the
// pos recorded via EmitLabelPatch/EmitRetPatch already points past the
// opcode).
func (Target) PatchBranch(out *emit.Emitter, pos, targetOff int) {
	rel := int32(targetOff - (pos + 4))
	out.Patch4(pos, uint32(rel))
}
