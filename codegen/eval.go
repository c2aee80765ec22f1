package codegen

import "github.com/tbkit/tb/ir"

// labelReg returns the Reg of the Label node materializing label.
// BasicBlocks are indexed by Label ordinal, so this is an O(1) lookup via
// BasicBlockOf.
func labelReg(f *ir.Function, label ir.Label) ir.Reg {
	return f.BasicBlockOf(label).Start
}

// EvalBBEdge resolves PHI inputs along the from->to control-flow edge:
// every PHI at the head of block `to` gets its spill slot allocated (if
// not already, via Ctx.phiSlots, not c.queue) and receives the value
// flowing in from `from` (GAD_FN(eval_bb_edge)).
func (c *Ctx) EvalBBEdge(from, to ir.Reg) {
	toNode := c.F.Node(to)
	terminator := toNode.Terminator

	c.F.ForEachNodeInRange(to, terminator, func(r ir.Reg) bool {
		n := c.F.Node(r)
		if !n.Op.IsPhi() {
			return true
		}

		size := n.Type.Size()
		if size == 0 {
			size = 8
		}
		slot := c.PhiSlot(r, size, size)

		fromLabel := c.F.Node(from).Label
		for _, in := range n.PhiInputs {
			if in.Label != fromLabel || in.Value == ir.NullReg {
				continue
			}
			src := c.ValueOf(in.Value)
			c.Target.PhiMove(c, slot, src)
		}
		return true
	})
}

// resolveLeftover forces resolution of every queue entry pushed since
// restorePoint that's still unresolved, killing the flags binding first
// (GAD_FN(resolve_leftover)).
func (c *Ctx) resolveLeftover(restorePoint int) {
	for i := restorePoint; i < len(c.queue); i++ {
		if c.queue[i].val.IsUnresolved() {
			c.KillFlags()
			c.queue[i].val = c.resolve(c.queue[i].r)
		}
	}
}

// EvalBB lowers one basic block starting at the Label node bb, returning
// the Reg of the next block to evaluate (GAD_FN(eval_bb)).
func (c *Ctx) EvalBB(bb ir.Reg) ir.Reg {
	start := c.F.Node(bb)
	bbEnd := start.Terminator
	c.labelOffsets[start.Label] = c.Out.Len()

	restorePoint := len(c.queue)

	c.F.ForEachNodeInRange(bb, bbEnd, func(r ir.Reg) bool {
		if r == bbEnd {
			return false
		}
		n := c.F.Node(r)

		c.KillFlags()
		c.spillIfRunningOut(bb, bbEnd)

		switch {
		case n.Op == ir.OpNop, n.Op == ir.OpParam, n.Op == ir.OpParamAddr, n.Op.IsPhi():
			// handled elsewhere: params are bound up front by
			// Target.InitialRegAlloc, PHIs by EvalBBEdge on the
			// predecessor side.
		case n.Op == ir.OpLocal:
			// Locals get their stack slot at first visit (spec.md
			// §4.3.6), not lazily through the queue, since nothing
			// about their address depends on data-flow order.
			v := c.AllocStack(r, n.LocalSize, n.LocalAlign)
			c.stackSlots[len(c.stackSlots)-1].Name = n.Str
			c.BindValue(r, v)
		case n.Op == ir.OpLineInfo:
			c.F.Output.LineTable = append(c.F.Output.LineTable, ir.LineEntry{
				File: n.File, Line: n.Line, CodeOffset: c.Out.Len(),
			})
		case n.Op == ir.OpStore:
			c.Target.Store(c, n)
		case n.Op == ir.OpLoad && n.Volatile:
			// A volatile load's side effect can be reordered relative to
			// other side-effecting nodes if left for the lazy queue to
			// pick up whenever some later consumer demands it, so it is
			// resolved here, in program order, like Store above.
			c.resolve(r)
		default:
			c.enqueue(r)
		}
		return true
	})

	end := c.F.Node(bbEnd)
	switch end.Op {
	case ir.OpLabel:
		c.resolveLeftover(restorePoint)
		c.EvalBBEdge(bb, bbEnd)

	case ir.OpRet:
		c.resolveLeftover(restorePoint)
		if end.RetVal != ir.NullReg && !c.unimplemented {
			c.Target.Return(c, end)
		}
		if end.Next != ir.NullReg {
			c.Target.RetJmp(c)
		}

	case ir.OpIf:
		c.EvalBBEdge(bb, labelReg(c.F, end.IfTrue))
		c.EvalBBEdge(bb, labelReg(c.F, end.IfFalse))
		c.resolveLeftover(restorePoint)

		var fallthroughLbl ir.Label = ir.NoLabel
		if end.Next != ir.NullReg {
			if next := c.F.Node(end.Next); next.Op == ir.OpLabel {
				fallthroughLbl = next.Label
			}
		}
		cond := c.ValueOf(end.Cond)
		c.Target.BranchIf(c, cond, fallthroughLbl, end.IfTrue, end.IfFalse)

	case ir.OpGoto:
		c.EvalBBEdge(bb, labelReg(c.F, end.IfTrue))
		c.resolveLeftover(restorePoint)
		isFallthrough := end.Next != ir.NullReg && c.F.Node(end.Next).Op == ir.OpLabel && c.F.Node(end.Next).Label == end.IfTrue
		c.Target.Jump(c, end.IfTrue, isFallthrough)

	case ir.OpUnreachable:
		c.resolveLeftover(restorePoint)

	case ir.OpSwitch:
		c.resolveLeftover(restorePoint)
		for _, cs := range end.Cases {
			c.EvalBBEdge(bb, labelReg(c.F, cs.Target))
		}
		c.EvalBBEdge(bb, labelReg(c.F, end.Default))

	default:
		c.Log.WithField("op", end.Op.String()).Warn("codegen: non-terminator op at block end, treating as fallthrough")
	}

	c.queue = c.queue[:restorePoint]

	if end.Op != ir.OpLabel {
		return end.Next
	}
	return bbEnd
}

// spillIfRunningOut proactively spills the latest-last-use occupant
// of each register class when fewer than two registers remain free,
// matching GAD_FN(spill_if_running_out)'s heuristic of staying ahead of
// a hard allocation failure rather than only reacting to one.
func (c *Ctx) spillIfRunningOut(bb, bbEnd ir.Reg) {
	const lowWaterMark = 2
	for class := range c.regAllocator {
		free := 0
		for _, occ := range c.regAllocator[class] {
			if occ == ir.NullReg {
				free++
			}
		}
		if free >= lowWaterMark {
			continue
		}
		victim := c.pickSpillVictim(Class(class))
		r := c.regAllocator[class][victim]
		c.spillToStack(r)
		c.regAllocator[class][victim] = ir.NullReg
	}
}
