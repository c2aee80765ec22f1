package codegen

import "github.com/tbkit/tb/ir"

// AllocReg finds a free register in class, spilling the value with the
// latest last use if none is free (GAD_FN(alloc_reg); spill policy is
// spec.md §9's open question, settled in pickSpillVictim).
func (c *Ctx) AllocReg(class Class, r ir.Reg) Value {
	bank := c.regAllocator[class]
	for i, occ := range bank {
		if occ == ir.NullReg {
			bank[i] = r
			return Value{Kind: ValRegister, RegClass: class, Reg: i}
		}
	}
	return c.spillAndAlloc(class, r)
}

// ReserveRegister force-binds r to a specific physical register (used
// for ABI-mandated placements: incoming params, call argument/return
// registers). It is a precondition violation per spec.md §7 for the
// register to already be occupied by a different live value; Ctx
// spills the occupant rather than aborting, since call lowering must
// not fail the whole function over a transient register conflict.
func (c *Ctx) ReserveRegister(class Class, regNum int, r ir.Reg) Value {
	bank := c.regAllocator[class]
	if occ := bank[regNum]; occ != ir.NullReg && occ != r {
		c.spillSpecific(class, regNum)
	}
	bank[regNum] = r
	return Value{Kind: ValRegister, RegClass: class, Reg: regNum}
}

// StealRegister forcibly evicts whatever occupies regNum (used when an
// instruction's encoding pins a specific register, e.g. CDQ/IDIV's
// RAX:RDX pair) and returns a fresh, unbound Value for it.
func (c *Ctx) StealRegister(class Class, regNum int) Value {
	c.spillSpecific(class, regNum)
	c.regAllocator[class][regNum] = ir.NullReg
	return Value{Kind: ValRegister, RegClass: class, Reg: regNum}
}

// FreeRegister releases v's physical register without spilling,
// called once a value's live range has ended.
func (c *Ctx) FreeRegister(v Value) {
	if v.Kind != ValRegister {
		return
	}
	c.regAllocator[v.RegClass][v.Reg] = ir.NullReg
}

func (c *Ctx) spillAndAlloc(class Class, r ir.Reg) Value {
	victimIdx := c.pickSpillVictim(class)
	victimReg := c.regAllocator[class][victimIdx]
	c.spillToStack(victimReg)
	c.regAllocator[class][victimIdx] = r
	return Value{Kind: ValRegister, RegClass: class, Reg: victimIdx}
}

func (c *Ctx) spillSpecific(class Class, regNum int) {
	victimReg := c.regAllocator[class][regNum]
	if victimReg == ir.NullReg {
		return
	}
	c.spillToStack(victimReg)
	c.regAllocator[class][regNum] = ir.NullReg
}

// pickSpillVictim chooses the occupant of class whose last use (per
// Ctx.Res's live intervals) is latest, the policy spec.md §9 leaves
// open.
func (c *Ctx) pickSpillVictim(class Class) int {
	bank := c.regAllocator[class]
	best := -1
	bestLastUse := -1
	for i, occ := range bank {
		if occ == ir.NullReg {
			continue
		}
		iv := c.Res.LiveInterval[occ]
		if iv.LastUse > bestLastUse {
			bestLastUse = iv.LastUse
			best = i
		}
	}
	if best < 0 {
		panic("codegen: spill requested but register class has no occupants")
	}
	return best
}

// spillToStack reassigns r's queue entry to a stack slot, matching
// GAD_FN(alloc_spill): the spilled value's Value kind changes from
// ValRegister to ValStackSlot, and any later resolve() of r observes
// the stack location instead.
func (c *Ctx) spillToStack(r ir.Reg) {
	n := c.F.Node(r)
	size := n.Type.Size()
	if size == 0 {
		size = 8
	}
	slot := c.AllocStack(r, size, size)
	c.BindValue(r, slot)
}

// AllocStack reserves size bytes (aligned to align) of the current
// function's stack frame for r and returns the resulting Value
// (GAD_FN(alloc_stack)).
func (c *Ctx) AllocStack(r ir.Reg, size, align int) Value {
	if align == 0 {
		align = 1
	}
	c.stackUsage = roundUp(c.stackUsage+uint32(size), uint32(align))
	off := -int32(c.stackUsage)
	c.stackSlots = append(c.stackSlots, ir.StackSlotEntry{Offset: off})
	return Value{Kind: ValStackSlot, Offset: off}
}

// AllocSpill is AllocStack specialized for the spill path (kept
// distinct to mirror the C source's two named entry points, though the
// bookkeeping is identical).
func (c *Ctx) AllocSpill(r ir.Reg, size, align int) Value {
	return c.AllocStack(r, size, align)
}

func roundUp(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

// StackUsage returns the current frame size in bytes (pre-rounding to
// the ISA's final 16-byte alignment, done by Target.Prologue).
func (c *Ctx) StackUsage() uint32 { return c.stackUsage }

// MarkCalleeSaved records that physical register regNum of class was
// used and so must be saved/restored by the prologue/epilogue.
func (c *Ctx) MarkCalleeSaved(class Class, regNum int) {
	c.regsToSave |= 1 << (uint(class)*32 + uint(regNum))
}

// CalleeSavedMask returns the accumulated callee-saved register mask.
func (c *Ctx) CalleeSavedMask() uint64 { return c.regsToSave }
