package ir

// Linkage controls whether a Function/Global is visible outside its
// module.
type Linkage uint8

const (
	LinkagePrivate Linkage = iota
	LinkagePublic
)

// BasicBlock is a (start, end) span of Regs: start is a Label node, end
// is a terminator (spec.md §3).
type BasicBlock struct {
	Start Reg
	End   Reg
}

// LineEntry is one row of a FunctionOutput's line table (spec.md §6).
type LineEntry struct {
	File       int
	Line       int
	CodeOffset int
}

// StackSlotEntry is one row of a FunctionOutput's stack-slot table,
// consumed by the debug emitter (spec.md §6).
type StackSlotEntry struct {
	Name      string
	Offset    int32
	DebugType string
}

// FunctionOutput is what a code generator produces for one Function:
// code bytes, frame accounting and the debug tables the debug emitter
// needs (spec.md §2 "Data flow").
type FunctionOutput struct {
	Linkage        Linkage
	Code           []byte
	StackUsage     uint32
	SavedRegMask   uint64
	PrologueLength int
	EpilogueLength int
	LineTable      []LineEntry
	StackSlotTable []StackSlotEntry

	// CompiledPos is filled in by the module once function layout is
	// finalized (spec.md §4.5); it is the function's offset within the
	// module's combined code region, or, for a JIT module, the absolute
	// address of the function's first byte.
	CompiledPos uint64
}

// Function owns its node vector and basic-block table. Nodes form a
// singly-linked source order threaded via Node.Next; iteration walks
// this thread, not the backing slice index, so insertion/deletion is
// O(1) (spec.md §3).
type Function struct {
	Name    string
	Linkage Linkage
	Proto   *Prototype

	nodes       []Node // indexed by Reg; nodes[0] is the null slot
	paramsCache []Reg
	attribPool  []Attribute

	labelCount Label
	blocks     []BasicBlock // indexed by Label

	// builder cursor state
	tail        Reg // last node appended in source order
	curLabelReg Reg // Reg of the Label node currently open for appends

	Output *FunctionOutput
}

// NewFunction creates an empty function with the synthetic entry anchor
// already in place at Reg 1 (spec.md §3: "node 1 is the synthetic entry
// anchor").
func NewFunction(name string, linkage Linkage) *Function {
	f := &Function{
		Name:    name,
		Linkage: linkage,
		nodes:   make([]Node, 2, 64),
	}
	f.nodes[0] = Node{Reg: NullReg, Op: OpNop}
	f.nodes[1] = Node{Reg: EntryReg, Op: OpNop}
	f.tail = EntryReg
	return f
}

// NodeCount returns the number of allocated nodes, including the null
// slot and entry anchor.
func (f *Function) NodeCount() int { return len(f.nodes) }

// Node returns a pointer to the node at r. Callers must not retain it
// across calls that allocate new nodes (the backing slice may grow).
func (f *Function) Node(r Reg) *Node {
	return &f.nodes[r]
}

// ParamRegs returns the acceleration vector of Param node Regs set up by
// SetPrototype.
func (f *Function) ParamRegs() []Reg { return f.paramsCache }

// LabelCount returns how many Label ordinals have been reserved via
// NewLabelID.
func (f *Function) LabelCount() Label { return f.labelCount }

// BasicBlockOf returns the basic block whose Label node carries the
// ordinal label.
func (f *Function) BasicBlockOf(label Label) BasicBlock { return f.blocks[label] }

// BasicBlocks returns every basic block in label-ordinal order.
func (f *Function) BasicBlocks() []BasicBlock { return f.blocks }

// SetPrototype attaches proto to f, creating Param placeholder nodes and
// the params[] acceleration vector. Repeated calls re-seat parameters
// without invalidating other nodes (spec.md §4.1).
func (f *Function) SetPrototype(proto *Prototype) {
	proto.seal()
	f.Proto = proto

	params := make([]Reg, len(proto.Params))
	for i, p := range proto.Params {
		r := f.allocNode(Node{Op: OpParam, Type: p.Type, ParamIndex: i})
		params[i] = r
	}
	f.paramsCache = params
}

// allocNode appends a new, unlinked node and returns its Reg. Builders
// are responsible for threading Next.
func (f *Function) allocNode(n Node) Reg {
	r := Reg(len(f.nodes))
	n.Reg = r
	f.nodes = append(f.nodes, n)
	return r
}

// ForEachNode walks the function's nodes in source order starting after
// the entry anchor, calling visit(r) for each. Stops early if visit
// returns false.
func (f *Function) ForEachNode(visit func(r Reg) bool) {
	for r := f.nodes[EntryReg].Next; r != NullReg; r = f.nodes[r].Next {
		if !visit(r) {
			return
		}
	}
}

// ForEachNodeInRange walks nodes from start (exclusive) up to and
// including end, in source order.
func (f *Function) ForEachNodeInRange(start, end Reg, visit func(r Reg) bool) {
	for r := f.nodes[start].Next; ; r = f.nodes[r].Next {
		if !visit(r) {
			return
		}
		if r == end {
			return
		}
	}
}
