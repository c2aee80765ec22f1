// Package analysis computes the per-function facts the code generator
// needs before it can walk basic blocks: how many times each value is
// used, the live range of each value expressed in ordinal positions, a
// dense ordinal for every node, and the high-water mark of outgoing
// call argument slots.
//
// All four facts are produced by a single linear pass over the
// function's node thread (spec.md §4.2), mirroring the single
// CodeGen-state walk the teacher's backend.go does over an IRFunc
// before emission (no separate liveness/use-count passes exist there
// either — they're folded into the same walk that also assigns stack
// slots).
package analysis

import "github.com/tbkit/tb/ir"

// Result is the bundle of facts computed by Run.
type Result struct {
	// UseCount[r] is how many other nodes reference r as an operand.
	UseCount map[ir.Reg]int

	// Ordinal[r] is r's dense position in source-order traversal order,
	// starting at 0 for the first node after the entry anchor.
	Ordinal map[ir.Reg]int

	// LiveInterval[r] is [def, lastUse] in ordinal units. A value with
	// UseCount 0 has LastUse == Def.
	LiveInterval map[ir.Reg]Interval

	// MaxCallArgs is the largest number of stack-passed arguments any
	// Call/VCall/ECall in the function requires, used by codegen to
	// size the outgoing-argument area of the stack frame (spec.md
	// §4.3.6).
	MaxCallArgs int
}

// Interval is an inclusive [Def, LastUse] ordinal range.
type Interval struct {
	Def     int
	LastUse int
}

// Run performs the single linear pass over f described in spec.md
// §4.2. regArgsInClass is the number of leading call arguments passed
// in registers for f's target ABI (the rest spill to the outgoing-arg
// area); callers pass the ISA backend's register-argument count.
func Run(f *ir.Function, regArgsInClass int) *Result {
	res := &Result{
		UseCount:     make(map[ir.Reg]int),
		Ordinal:      make(map[ir.Reg]int),
		LiveInterval: make(map[ir.Reg]Interval),
	}

	ordinal := 0
	touch := func(def ir.Reg) {
		res.Ordinal[def] = ordinal
		res.LiveInterval[def] = Interval{Def: ordinal, LastUse: ordinal}
	}
	use := func(user int, r ir.Reg) {
		if r == ir.NullReg {
			return
		}
		res.UseCount[r]++
		iv := res.LiveInterval[r]
		if user > iv.LastUse {
			iv.LastUse = user
		}
		res.LiveInterval[r] = iv
	}

	f.ForEachNode(func(r ir.Reg) bool {
		n := f.Node(r)
		touch(r)

		use(ordinal, n.A)
		use(ordinal, n.B)
		use(ordinal, n.C)
		use(ordinal, n.Cond)
		use(ordinal, n.RetVal)
		use(ordinal, n.CalleeReg)
		for _, a := range n.Args {
			use(ordinal, a)
		}
		for _, pi := range n.PhiInputs {
			use(ordinal, pi.Value)
		}

		switch n.Op {
		case ir.OpCall, ir.OpVCall, ir.OpECall:
			stackArgs := len(n.Args) - regArgsInClass
			if stackArgs > 0 && stackArgs > res.MaxCallArgs {
				res.MaxCallArgs = stackArgs
			}
		}

		ordinal++
		return true
	})

	return res
}

// LiveAt reports whether r is live at ordinal position pos (pos falls
// between its definition and its last use, both inclusive).
func (res *Result) LiveAt(r ir.Reg, pos int) bool {
	iv, ok := res.LiveInterval[r]
	if !ok {
		return false
	}
	return pos >= iv.Def && pos <= iv.LastUse
}
