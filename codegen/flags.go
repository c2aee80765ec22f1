package codegen

import "github.com/tbkit/tb/ir"

// SetFlags binds the machine's condition-flags register to r as the
// producer of condition code cc, per GAD_FN(set_flags). At most one
// value may hold the flags binding at a time (spec.md §4.3.3); a second
// SetFlags implicitly supersedes the first, matching the hardware (the
// previous producer's flags are simply gone once new flags are set).
func (c *Ctx) SetFlags(r ir.Reg, cc int) {
	c.flagsBound = r
	c.flagsCode = cc
}

// FlagsBound reports which Reg currently owns the flags binding, and
// its condition code.
func (c *Ctx) FlagsBound() (ir.Reg, int, bool) {
	return c.flagsBound, c.flagsCode, c.flagsBound != ir.NullReg
}

// KillFlags materializes the currently bound flags value into a real
// register if it is still live beyond this point, then clears the
// binding (GAD_FN(kill_flags)). Called before any instruction that
// clobbers the flags register and isn't itself the flags consumer.
func (c *Ctx) KillFlags() {
	if c.flagsBound == ir.NullReg {
		return
	}
	r := c.flagsBound
	iv, live := c.Res.LiveInterval[r]
	stillNeeded := live && c.Res.UseCount[r] > 0 && iv.LastUse > c.Res.Ordinal[r]
	if stillNeeded {
		class := c.Target.ClassOf(c.F.Node(r).Type)
		dst := c.AllocReg(class, r)
		c.Target.CondToReg(c, Value{Kind: ValFlags, Cond: c.flagsCode}, dst)
		c.BindValue(r, dst)
	}
	c.flagsBound = ir.NullReg
	c.flagsCode = 0
}
