// Package arm64 is the AArch64 concrete backend of spec.md §4.4's
// "retarget to a second ISA" requirement: a narrower sibling of
// codegen/x64 covering the integer GPR path only (spec.md §6 lists
// aarch64 as a required target ISA alongside x86_64).
//
// The fixed-width 32-bit instruction encoders below are adapted from
// std/compiler/aarch64.go's emit*Arm64 family (same opcode constants,
// same bitfield layout), rewritten to write 4-byte words through an
// emit.Emitter instead of appending to a CodeGen's own byte slice.
package arm64

import "github.com/tbkit/tb/emit"

// Reg is an AArch64 general-purpose register number (X0-X30, or 31 for
// SP/XZR depending on instruction context).
type Reg int

const (
	X0 Reg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16 // IP0, used as a scratch for out-of-range offsets
	X17 // IP1
)

const (
	FP  Reg = 29
	LR  Reg = 30
	SP  Reg = 31
	XZR Reg = 31
)

// Cond is a B.cond/CSET condition code.
type Cond uint32

const (
	CondEQ Cond = 0x0
	CondNE Cond = 0x1
	CondCS Cond = 0x2 // unsigned >=
	CondCC Cond = 0x3 // unsigned <
	CondGE Cond = 0xA
	CondLT Cond = 0xB
	CondGT Cond = 0xC
	CondLE Cond = 0xD
	CondHI Cond = 0x8 // unsigned >
	CondLS Cond = 0x9 // unsigned <=
)

func emit32(e *emit.Emitter, inst uint32) { e.Write4(inst) }

func MovZ(e *emit.Emitter, rd Reg, imm16 uint16, shift int) {
	hw := uint32(shift / 16)
	emit32(e, 0xD2800000|(hw<<21)|(uint32(imm16)<<5)|uint32(rd&0x1f))
}

func MovK(e *emit.Emitter, rd Reg, imm16 uint16, shift int) {
	hw := uint32(shift / 16)
	emit32(e, 0xF2800000|(hw<<21)|(uint32(imm16)<<5)|uint32(rd&0x1f))
}

// LoadImm64 loads an arbitrary 64-bit immediate via a MOVZ + up-to-three
// MOVK sequence, skipping all-zero chunks beyond the first.
func LoadImm64(e *emit.Emitter, rd Reg, val uint64) {
	MovZ(e, rd, uint16(val), 0)
	for shift := 16; shift < 64; shift += 16 {
		chunk := uint16(val >> uint(shift))
		if chunk != 0 {
			MovK(e, rd, chunk, shift)
		}
	}
}

func AddRR(e *emit.Emitter, rd, rn, rm Reg) {
	emit32(e, 0x8B000000|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func SubRR(e *emit.Emitter, rd, rn, rm Reg) {
	emit32(e, 0xCB000000|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func AddImm(e *emit.Emitter, rd, rn Reg, imm12 uint32) {
	emit32(e, 0x91000000|((imm12&0xFFF)<<10)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func SubImm(e *emit.Emitter, rd, rn Reg, imm12 uint32) {
	emit32(e, 0xD1000000|((imm12&0xFFF)<<10)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

// Mul emits MUL Xd, Xn, Xm (MADD Xd, Xn, Xm, XZR).
func Mul(e *emit.Emitter, rd, rn, rm Reg) {
	emit32(e, 0x9B007C00|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func Sdiv(e *emit.Emitter, rd, rn, rm Reg) {
	emit32(e, 0x9AC00C00|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func Udiv(e *emit.Emitter, rd, rn, rm Reg) {
	emit32(e, 0x9AC00800|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

// Msub emits MSUB Xd, Xn, Xm, Xa (Xd = Xa - Xn*Xm), used to recover a
// remainder after Sdiv/Udiv the way the hardware has no direct rem op.
func Msub(e *emit.Emitter, rd, rn, rm, ra Reg) {
	emit32(e, 0x9B008000|(uint32(rm&0x1f)<<16)|(uint32(ra&0x1f)<<10)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func Neg(e *emit.Emitter, rd, rm Reg) { SubRR(e, rd, XZR, rm) }

func AndRR(e *emit.Emitter, rd, rn, rm Reg) {
	emit32(e, 0x8A000000|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func OrrRR(e *emit.Emitter, rd, rn, rm Reg) {
	emit32(e, 0xAA000000|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func EorRR(e *emit.Emitter, rd, rn, rm Reg) {
	emit32(e, 0xCA000000|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

// LslRR/AsrRR/LsrRR emit variable-shift register forms (LSLV/ASRV/LSRV).
func LslRR(e *emit.Emitter, rd, rn, rm Reg) {
	emit32(e, 0x9AC02000|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}
func AsrRR(e *emit.Emitter, rd, rn, rm Reg) {
	emit32(e, 0x9AC02800|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}
func LsrRR(e *emit.Emitter, rd, rn, rm Reg) {
	emit32(e, 0x9AC02400|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func CmpRR(e *emit.Emitter, rn, rm Reg) {
	emit32(e, 0xEB000000|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(XZR&0x1f))
}

func CmpImm(e *emit.Emitter, rn Reg, imm12 uint32) {
	emit32(e, 0xF1000000|((imm12&0xFFF)<<10)|(uint32(rn&0x1f)<<5)|uint32(XZR&0x1f))
}

// Cset emits CSET Xd, cond (CSINC Xd, XZR, XZR, invert(cond)).
func Cset(e *emit.Emitter, rd Reg, cond Cond) {
	inv := uint32(cond) ^ 1
	emit32(e, 0x9A9F07E0|(inv<<12)|uint32(rd&0x1f))
}

// Ldr/Str emit LDR/STR Xt, [Xn, #offset] picking the scaled-uimm12 form
// when offset is a non-negative multiple of 8 within range, the signed
// 9-bit LDUR/STUR form for small negative offsets (frame locals sit
// below FP), and an X16-scratch-addressed fallback otherwise.
func Ldr(e *emit.Emitter, rt, rn Reg, offset int) { ldst(e, rt, rn, offset, 0xF9400000, 0xF8400000) }
func Str(e *emit.Emitter, rt, rn Reg, offset int) { ldst(e, rt, rn, offset, 0xF9000000, 0xF8000000) }

func ldst(e *emit.Emitter, rt, rn Reg, offset int, scaledOp, unscaledOp uint32) {
	switch {
	case offset >= 0 && offset%8 == 0 && offset/8 < 4096:
		uimm := uint32(offset / 8)
		emit32(e, scaledOp|(uimm<<10)|(uint32(rn&0x1f)<<5)|uint32(rt&0x1f))
	case offset >= -256 && offset <= 255:
		simm9 := uint32(offset) & 0x1FF
		emit32(e, unscaledOp|(simm9<<12)|(uint32(rn&0x1f)<<5)|uint32(rt&0x1f))
	default:
		LoadImm64(e, X16, uint64(int64(offset)))
		AddRR(e, X16, rn, X16)
		emit32(e, scaledOp|(uint32(X16&0x1f)<<5)|uint32(rt&0x1f))
	}
}

// Stp/Ldp emit pre/post-indexed pair store/load, used for the
// push-pair-style prologue/epilogue (STP X29, X30, [SP, #-n]!).
func StpPre(e *emit.Emitter, rt1, rt2, rn Reg, offset int) {
	imm7 := uint32(offset/8) & 0x7F
	emit32(e, 0xA9800000|(imm7<<15)|(uint32(rt2&0x1f)<<10)|(uint32(rn&0x1f)<<5)|uint32(rt1&0x1f))
}

func LdpPost(e *emit.Emitter, rt1, rt2, rn Reg, offset int) {
	imm7 := uint32(offset/8) & 0x7F
	emit32(e, 0xA8C00000|(imm7<<15)|(uint32(rt2&0x1f)<<10)|(uint32(rn&0x1f)<<5)|uint32(rt1&0x1f))
}

// B/BL/BCond emit a placeholder branch and return its instruction
// offset for later fixup (the imm26/imm19 field is patched in place,
// unlike x86's separate rel32 field, since AArch64 branches are single
// fixed-width words).
func B(e *emit.Emitter) int {
	pos := e.Len()
	emit32(e, 0x14000000)
	return pos
}

func BL(e *emit.Emitter) int {
	pos := e.Len()
	emit32(e, 0x94000000)
	return pos
}

func BCond(e *emit.Emitter, cond Cond) int {
	pos := e.Len()
	emit32(e, 0x54000000|uint32(cond&0xF))
	return pos
}

// PatchB26 backpatches the imm26 field of a B/BL instruction at pos so
// it branches to targetOff (both byte offsets; AArch64 branch
// immediates are instruction-count deltas, hence >>2).
func PatchB26(e *emit.Emitter, pos, targetOff int) {
	delta := int32(targetOff-pos) / 4
	inst := readInst(e, pos)
	inst = (inst &^ 0x03FFFFFF) | (uint32(delta) & 0x03FFFFFF)
	writeInst(e, pos, inst)
}

// PatchBCond19 backpatches the imm19 field of a B.cond instruction.
func PatchBCond19(e *emit.Emitter, pos, targetOff int) {
	delta := int32(targetOff-pos) / 4
	inst := readInst(e, pos)
	inst = (inst &^ (0x7FFFF << 5)) | ((uint32(delta) & 0x7FFFF) << 5)
	writeInst(e, pos, inst)
}

// PatchBranchAuto backpatches the branch instruction written at pos
// (by B/BL/BCond) so it targets targetOff, detecting which of the two
// bitfield layouts (imm26 for B/BL, imm19 for B.cond) applies by
// inspecting the opcode bits already written there — unlike x86, the
// displacement lives inside the one instruction word, not a trailing
// reserved field, so the patch site alone doesn't say which form it is.
func PatchBranchAuto(e *emit.Emitter, pos, targetOff int) {
	inst := readInst(e, pos)
	if inst&0xFF000000 == 0x54000000 {
		PatchBCond19(e, pos, targetOff)
		return
	}
	PatchB26(e, pos, targetOff)
}

func readInst(e *emit.Emitter, pos int) uint32 {
	b := e.Bytes()[pos : pos+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func writeInst(e *emit.Emitter, pos int, inst uint32) {
	e.Patch4(pos, inst)
}

func Blr(e *emit.Emitter, rn Reg) {
	emit32(e, 0xD63F0000|(uint32(rn&0x1f)<<5))
}

func Ret(e *emit.Emitter) { emit32(e, 0xD65F03C0) }

// MovRR emits MOV Xd, Xm (ORR Xd, XZR, Xm; ADD form when SP is
// involved, since SP cannot be an ORR operand).
func MovRR(e *emit.Emitter, rd, rm Reg) {
	if rd == SP || rm == SP {
		AddImm(e, rd, rm, 0)
		return
	}
	OrrRR(e, rd, XZR, rm)
}

func Nop(e *emit.Emitter) { emit32(e, 0xD503201F) }
