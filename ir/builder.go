package ir

// Builder is the IR construction surface of spec.md §4.1. It maintains
// an implicit "current label" cursor; convenience constructors append
// after it and advance Next of the previous tail.
//
// Out-of-memory during node allocation is fatal per spec.md §4.1; Go's
// allocator already panics on that condition, so Builder does not add
// its own check. Builder misuse (terminating a block twice, appending
// before any Label call) panics with a precondition-violation message.
type Builder struct {
	f           *Function
	curLabelReg Reg // Reg of the currently open Label node, or NullReg
	closed      bool
}

// NewBuilder returns a Builder appending to f starting from its entry
// anchor.
func NewBuilder(f *Function) *Builder {
	return &Builder{f: f}
}

func (b *Builder) append(n Node) Reg {
	if b.curLabelReg == NullReg && n.Op != OpLabel {
		panic("ir: builder: node appended before any Label")
	}
	r := b.f.allocNode(n)
	b.f.nodes[b.f.tail].Next = r
	b.f.tail = r
	return r
}

// NewLabelID reserves a dense basic-block ordinal without materializing
// a Label node yet.
func (b *Builder) NewLabelID() Label {
	id := b.f.labelCount
	b.f.labelCount++
	b.f.blocks = append(b.f.blocks, BasicBlock{})
	return id
}

// Label materializes a Label node at the cursor, opening a new basic
// block. If a previous block is still open (no terminator emitted), that
// is a precondition violation.
func (b *Builder) Label(id Label) Reg {
	if b.curLabelReg != NullReg && !b.closed {
		panic("ir: builder: previous basic block has no terminator")
	}
	r := b.append(Node{Op: OpLabel, Label: id})
	b.f.blocks[id].Start = r
	b.curLabelReg = r
	b.closed = false
	return r
}

func (b *Builder) terminate(r Reg) {
	if b.closed {
		panic("ir: builder: basic block already terminated")
	}
	n := b.f.Node(b.curLabelReg)
	n.Terminator = r
	id := n.Label
	bb := b.f.blocks[id]
	bb.Start = b.curLabelReg
	bb.End = r
	b.f.blocks[id] = bb
	b.closed = true
}

// If terminates the current block with a conditional branch.
func (b *Builder) If(cond Reg, ifTrue, ifFalse Label) Reg {
	r := b.append(Node{Op: OpIf, Cond: cond, IfTrue: ifTrue, IfFalse: ifFalse})
	b.terminate(r)
	return r
}

// Goto terminates the current block with an unconditional jump.
func (b *Builder) Goto(target Label) Reg {
	r := b.append(Node{Op: OpGoto, IfTrue: target})
	b.terminate(r)
	return r
}

// Switch terminates the current block with a multi-way branch.
func (b *Builder) Switch(val Reg, def Label, cases []SwitchCase) Reg {
	r := b.append(Node{Op: OpSwitch, Cond: val, Default: def, Cases: cases})
	b.terminate(r)
	return r
}

// Ret terminates the current block, returning v (NullReg for void).
func (b *Builder) Ret(v Reg) Reg {
	r := b.append(Node{Op: OpRet, RetVal: v})
	b.terminate(r)
	return r
}

func (b *Builder) Unreachable() Reg {
	r := b.append(Node{Op: OpUnreachable})
	b.terminate(r)
	return r
}

// --- leaves ---

func (b *Builder) Local(dt DataType, size, align int) Reg {
	return b.append(Node{Op: OpLocal, Type: dt, LocalSize: size, LocalAlign: align})
}

// ParamAddr returns the address of the paramIdx'th parameter, used when
// a parameter's address is taken.
func (b *Builder) ParamAddr(paramIdx int) Reg {
	return b.append(Node{Op: OpParamAddr, Type: PointerType(), ParamIndex: paramIdx})
}

func (b *Builder) IntegerConst(dt DataType, v int64) Reg {
	return b.append(Node{Op: OpIntegerConst, Type: dt, Imm: v})
}

func (b *Builder) FloatConst(dt DataType, bits uint64) Reg {
	return b.append(Node{Op: OpFloatConst, Type: dt, FloatBits: bits})
}

func (b *Builder) StringConst(s string) Reg {
	return b.append(Node{Op: OpStringConst, Type: PointerType(), Str: s})
}

func (b *Builder) GlobalAddress(name string) Reg {
	return b.append(Node{Op: OpGlobalAddress, Type: PointerType(), Sym: name})
}

func (b *Builder) FuncAddress(name string) Reg {
	return b.append(Node{Op: OpFuncAddress, Type: PointerType(), Sym: name})
}

func (b *Builder) ExternAddress(name string) Reg {
	return b.append(Node{Op: OpExternAddress, Type: PointerType(), Sym: name})
}

// --- arithmetic ---

func (b *Builder) binOp(op Op, dt DataType, a, x Reg, wrap WrapFlags) Reg {
	return b.append(Node{Op: op, Type: dt, A: a, B: x, Wrap: wrap})
}

func (b *Builder) Add(dt DataType, a, x Reg, wrap WrapFlags) Reg { return b.binOp(OpAdd, dt, a, x, wrap) }
func (b *Builder) Sub(dt DataType, a, x Reg, wrap WrapFlags) Reg { return b.binOp(OpSub, dt, a, x, wrap) }
func (b *Builder) Mul(dt DataType, a, x Reg, wrap WrapFlags) Reg { return b.binOp(OpMul, dt, a, x, wrap) }
func (b *Builder) SDiv(dt DataType, a, x Reg) Reg                { return b.binOp(OpSDiv, dt, a, x, WrapNone) }
func (b *Builder) UDiv(dt DataType, a, x Reg) Reg                { return b.binOp(OpUDiv, dt, a, x, WrapNone) }
func (b *Builder) Shl(dt DataType, a, x Reg, wrap WrapFlags) Reg { return b.binOp(OpShl, dt, a, x, wrap) }
func (b *Builder) Shr(dt DataType, a, x Reg) Reg                 { return b.binOp(OpShr, dt, a, x, WrapNone) }
func (b *Builder) Sar(dt DataType, a, x Reg) Reg                 { return b.binOp(OpSar, dt, a, x, WrapNone) }
func (b *Builder) And(dt DataType, a, x Reg) Reg                 { return b.binOp(OpAnd, dt, a, x, WrapNone) }
func (b *Builder) Or(dt DataType, a, x Reg) Reg                  { return b.binOp(OpOr, dt, a, x, WrapNone) }
func (b *Builder) Xor(dt DataType, a, x Reg) Reg                 { return b.binOp(OpXor, dt, a, x, WrapNone) }

func (b *Builder) Not(dt DataType, a Reg) Reg { return b.append(Node{Op: OpNot, Type: dt, A: a}) }
func (b *Builder) Neg(dt DataType, a Reg) Reg { return b.append(Node{Op: OpNeg, Type: dt, A: a}) }

// Comparators always produce an i1 result; the backend may bind it to
// the flags register instead of materializing it (spec.md §4.3.3).
func (b *Builder) cmp(op Op, a, x Reg) Reg {
	return b.append(Node{Op: op, Type: IntType(1), A: a, B: x})
}

func (b *Builder) CmpEq(a, x Reg) Reg  { return b.cmp(OpCmpEq, a, x) }
func (b *Builder) CmpNe(a, x Reg) Reg  { return b.cmp(OpCmpNe, a, x) }
func (b *Builder) CmpSlt(a, x Reg) Reg { return b.cmp(OpCmpSlt, a, x) }
func (b *Builder) CmpSle(a, x Reg) Reg { return b.cmp(OpCmpSle, a, x) }
func (b *Builder) CmpUlt(a, x Reg) Reg { return b.cmp(OpCmpUlt, a, x) }
func (b *Builder) CmpUle(a, x Reg) Reg { return b.cmp(OpCmpUle, a, x) }
func (b *Builder) FCmpEq(a, x Reg) Reg { return b.cmp(OpFCmpEq, a, x) }
func (b *Builder) FCmpNe(a, x Reg) Reg { return b.cmp(OpFCmpNe, a, x) }
func (b *Builder) FCmpLt(a, x Reg) Reg { return b.cmp(OpFCmpLt, a, x) }
func (b *Builder) FCmpLe(a, x Reg) Reg { return b.cmp(OpFCmpLe, a, x) }

func (b *Builder) FAdd(dt DataType, a, x Reg) Reg { return b.binOp(OpFAdd, dt, a, x, WrapNone) }
func (b *Builder) FSub(dt DataType, a, x Reg) Reg { return b.binOp(OpFSub, dt, a, x, WrapNone) }
func (b *Builder) FMul(dt DataType, a, x Reg) Reg { return b.binOp(OpFMul, dt, a, x, WrapNone) }
func (b *Builder) FDiv(dt DataType, a, x Reg) Reg { return b.binOp(OpFDiv, dt, a, x, WrapNone) }

func (b *Builder) conv(op Op, dt DataType, src Reg) Reg {
	return b.append(Node{Op: op, Type: dt, A: src})
}

func (b *Builder) SignExt(dt DataType, src Reg) Reg    { return b.conv(OpSignExt, dt, src) }
func (b *Builder) ZeroExt(dt DataType, src Reg) Reg    { return b.conv(OpZeroExt, dt, src) }
func (b *Builder) Truncate(dt DataType, src Reg) Reg   { return b.conv(OpTruncate, dt, src) }
func (b *Builder) IntToFloat(dt DataType, src Reg) Reg { return b.conv(OpIntToFloat, dt, src) }
func (b *Builder) FloatToInt(dt DataType, src Reg) Reg { return b.conv(OpFloatToInt, dt, src) }
func (b *Builder) IntToPtr(src Reg) Reg                { return b.conv(OpIntToPtr, PointerType(), src) }
func (b *Builder) PtrToInt(dt DataType, src Reg) Reg   { return b.conv(OpPtrToInt, dt, src) }

// --- memory ---

func (b *Builder) Load(dt DataType, addr Reg, volatile bool) Reg {
	return b.append(Node{Op: OpLoad, Type: dt, A: addr, Volatile: volatile})
}

func (b *Builder) Store(addr, val Reg, volatile bool) Reg {
	return b.append(Node{Op: OpStore, A: addr, C: val, Volatile: volatile})
}

// ArrayAccess computes the address of base[index] for an element of the
// given stride in bytes; the result is always a pointer value.
func (b *Builder) ArrayAccess(base, index Reg, stride int64) Reg {
	return b.append(Node{Op: OpArrayAccess, Type: PointerType(), A: base, B: index, Imm: stride})
}

func (b *Builder) MemberAccess(base Reg, offset int64) Reg {
	return b.append(Node{Op: OpMemberAccess, Type: PointerType(), A: base, Imm: offset})
}

func (b *Builder) MemSet(dst, val, size Reg) Reg {
	return b.append(Node{Op: OpMemSet, A: dst, B: val, C: size})
}

func (b *Builder) MemCpy(dst, src, size Reg) Reg {
	return b.append(Node{Op: OpMemCpy, A: dst, B: src, C: size})
}

func (b *Builder) AtomicLoad(dt DataType, addr Reg) Reg {
	return b.append(Node{Op: OpAtomicLoad, Type: dt, A: addr})
}

func (b *Builder) AtomicStore(addr, val Reg) Reg {
	return b.append(Node{Op: OpAtomicStore, A: addr, C: val})
}

func (b *Builder) AtomicAdd(dt DataType, addr, val Reg) Reg {
	return b.append(Node{Op: OpAtomicAdd, Type: dt, A: addr, C: val})
}

func (b *Builder) AtomicCompareExchange(dt DataType, addr, expected, desired Reg) Reg {
	n := Node{Op: OpAtomicCompareExchange, Type: dt, A: addr, B: expected, C: desired}
	return b.append(n)
}

// --- calls ---

func (b *Builder) Call(dt DataType, name string, args []Reg) Reg {
	return b.append(Node{Op: OpCall, Type: dt, CalleeName: name, Args: args})
}

func (b *Builder) VCall(dt DataType, callee Reg, args []Reg) Reg {
	return b.append(Node{Op: OpVCall, Type: dt, CalleeReg: callee, Args: args})
}

func (b *Builder) ECall(dt DataType, externName string, args []Reg) Reg {
	return b.append(Node{Op: OpECall, Type: dt, CalleeName: externName, Args: args})
}

// --- misc control ---

func (b *Builder) Trap() Reg       { return b.append(Node{Op: OpTrap}) }
func (b *Builder) DebugBreak() Reg { return b.append(Node{Op: OpDebugBreak}) }
func (b *Builder) KeepAlive(r Reg) Reg {
	return b.append(Node{Op: OpKeepAlive, A: r})
}
func (b *Builder) LineInfo(file, line int) Reg {
	return b.append(Node{Op: OpLineInfo, File: file, Line: line})
}

// --- PHI ---

// Phi builds a PHI node. If inputs has exactly two entries a Phi2 node
// is produced; otherwise PhiN. A single-input PHI (a block with exactly
// one predecessor) produces Phi1.
//
// Invariant (not enforced here, see spec.md §4.1): the set of source
// labels of inputs must equal the set of predecessor labels of the
// block this PHI is placed in; violation is undefined until lowering.
func (b *Builder) Phi(dt DataType, inputs []PhiInput) Reg {
	op := OpPhiN
	switch len(inputs) {
	case 1:
		op = OpPhi1
	case 2:
		op = OpPhi2
	}
	cp := make([]PhiInput, len(inputs))
	copy(cp, inputs)
	// PHIs are appended immediately after the block's Label node, per
	// spec.md §3's basic-block invariant. Builder call order is expected
	// to honor this (callers emit all PHIs for a block before any other
	// instruction); Builder does not reorder.
	return b.append(Node{Op: op, Type: dt, PhiInputs: cp})
}
