// Package codegen implements the Generic Address-Descriptor code
// generator of spec.md §4.3: an ISA-parametric lowering skeleton that
// walks a function's basic blocks, lazily resolves operands through a
// value queue, and drives a concrete Target for instruction selection,
// register allocation and stack layout.
//
// Grounded directly on
// original_source/src/tb/codegen/generic_addrdesc.h (the "GAD"): the
// naming below (queue, flags_bound, regs_to_save, label_patches) tracks
// that file's Ctx struct, translated from a monomorphized C header into
// a Go package parametrized by the Target interface.
package codegen

import "github.com/tbkit/tb/ir"

// ValueKind tags Value's active field, mirroring GAD_VAL_UNRESOLVED /
// GAD_VAL_FLAGS / GAD_VAL_REGISTER plus the stack/immediate cases a
// concrete backend also needs.
type ValueKind uint8

const (
	ValUnresolved ValueKind = iota
	ValFlags
	ValRegister
	ValStackSlot
	ValImmediate
)

// Value is the tagged union the queue resolves Regs into. RegClass and
// Reg together select a physical register; for ValStackSlot, Offset is
// a frame-relative byte offset; for ValImmediate, Imm is the constant.
type Value struct {
	Kind     ValueKind
	RegClass Class
	Reg      int // physical register number within RegClass
	Offset   int32
	Imm      int64
	Cond     int // condition code, valid only when Kind == ValFlags
}

// Class identifies a register family (e.g. general-purpose vs. vector)
// a Target declares through NumClasses/RegsInClass.
type Class uint8

func (v Value) IsUnresolved() bool { return v.Kind == ValUnresolved }

// queueEntry pairs a Reg awaiting resolution with its resolved Value.
type queueEntry struct {
	r   ir.Reg
	val Value
}
