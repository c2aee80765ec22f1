// Package x64 is the x86-64 concrete backend of spec.md §4.4: it
// supplies the codegen.Target hooks plus the instruction encoders the
// GAD skeleton calls into.
//
// The mnemonic-level encoders below are adapted from
// std/compiler/x64.go's reg-reg/reg-imm/reg-mem instruction emitters
// (same opcode tables, same REX-prefix-by-register-index>=8 rule,
// rewritten to write through an emit.Emitter rather than a CodeGen's
// own byte slice) and cross-checked against
// original_source/src/tb/tb_x86_64_fast2.c's X64_Value encoder for the
// disp8/disp32 SIB special-casing around RSP/RBP.
package x64

import "github.com/tbkit/tb/emit"

// GPR is a general-purpose register number in encoding order
// (RAX..R15).
type GPR int

const (
	RAX GPR = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Cond is an x86 condition code, keyed by the low nibble of the Jcc/
// SETcc opcode.
type Cond byte

const (
	CondE  Cond = 0x4 // equal / zero
	CondNE Cond = 0x5
	CondL  Cond = 0xC // signed less
	CondGE Cond = 0xD
	CondLE Cond = 0xE
	CondG  Cond = 0xF
	CondB  Cond = 0x2 // unsigned less ("below")
	CondAE Cond = 0x3
	CondBE Cond = 0x6
	CondA  Cond = 0x7
)

func rexRR(dst, src GPR) byte {
	rex := byte(0x48)
	if dst >= 8 {
		rex |= 0x04
	}
	if src >= 8 {
		rex |= 0x01
	}
	return rex
}

func modrmRR(dst, src GPR) byte {
	return byte(0xc0 | ((int(dst) & 7) << 3) | (int(src) & 7))
}

func MovRR(e *emit.Emitter, dst, src GPR) {
	e.Write1(rexRR(src, dst))
	e.Write1(0x89)
	e.Write1(modrmRR(src, dst))
}

func AddRR(e *emit.Emitter, dst, src GPR) { binRR(e, dst, src, 0x01) }
func SubRR(e *emit.Emitter, dst, src GPR) { binRR(e, dst, src, 0x29) }
func AndRR(e *emit.Emitter, dst, src GPR) { binRR(e, dst, src, 0x21) }
func OrRR(e *emit.Emitter, dst, src GPR)  { binRR(e, dst, src, 0x09) }
func XorRR(e *emit.Emitter, dst, src GPR) { binRR(e, dst, src, 0x31) }
func CmpRR(e *emit.Emitter, a, b GPR)     { binRR(e, a, b, 0x39) }

func binRR(e *emit.Emitter, dst, src GPR, opcode byte) {
	e.Write1(rexRR(src, dst))
	e.Write1(opcode)
	e.Write1(modrmRR(src, dst))
}

// ImulRR emits `imul dst, src` (two-byte opcode 0F AF).
func ImulRR(e *emit.Emitter, dst, src GPR) {
	e.Write1(rexRR(dst, src))
	e.Write1(0x0f)
	e.Write1(0xaf)
	e.Write1(modrmRR(dst, src))
}

// NegR emits `neg reg`.
func NegR(e *emit.Emitter, reg GPR) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	e.Write1(rex)
	e.Write1(0xf7)
	e.Write1(byte(0xd8 | (int(reg) & 7)))
}

// NotR emits `not reg`.
func NotR(e *emit.Emitter, reg GPR) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	e.Write1(rex)
	e.Write1(0xf7)
	e.Write1(byte(0xd0 | (int(reg) & 7)))
}

// Cqo emits `cqo` (sign-extend RAX into RDX:RAX, for IDIV).
func Cqo(e *emit.Emitter) { e.Write1(0x48); e.Write1(0x99) }

// IdivR emits `idiv reg` (signed; DivR below is the unsigned `div reg`,
// for which the caller zeroes RDX instead of using Cqo).
func IdivR(e *emit.Emitter, reg GPR) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	e.Write1(rex)
	e.Write1(0xf7)
	e.Write1(byte(0xf8 | (int(reg) & 7)))
}

func DivR(e *emit.Emitter, reg GPR) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	e.Write1(rex)
	e.Write1(0xf7)
	e.Write1(byte(0xf0 | (int(reg) & 7)))
}

// ShlCl/SarCl/ShrCl emit shifts by the CL register.
func ShlCl(e *emit.Emitter, reg GPR) { shiftCl(e, reg, 0xe0) }
func SarCl(e *emit.Emitter, reg GPR) { shiftCl(e, reg, 0xf8) }
func ShrCl(e *emit.Emitter, reg GPR) { shiftCl(e, reg, 0xe8) }

func shiftCl(e *emit.Emitter, reg GPR, modrmBits byte) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	e.Write1(rex)
	e.Write1(0xd3)
	e.Write1(byte(modrmBits | (int(reg) & 7)))
}

func rexForSingle(reg GPR) byte {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	return rex
}

// AddRI/SubRI/CmpRI emit `op reg, imm32` (always the imm32 encoding;
// imm8 folding is an optimization this spec's lowering notes don't
// require).
func AddRI(e *emit.Emitter, reg GPR, val int32) { binRI(e, reg, val, 0xc0) }
func SubRI(e *emit.Emitter, reg GPR, val int32) { binRI(e, reg, val, 0xe8) }
func CmpRI(e *emit.Emitter, reg GPR, val int32) { binRI(e, reg, val, 0xf8) }

func binRI(e *emit.Emitter, reg GPR, val int32, modrmBits byte) {
	rex := rexForSingle(reg)
	if reg == RAX && modrmBits == 0xc0 {
		e.Write1(rex)
		e.Write1(0x05)
		e.Write4(uint32(val))
		return
	}
	e.Write1(rex)
	e.Write1(0x81)
	e.Write1(byte(modrmBits | (int(reg) & 7)))
	e.Write4(uint32(val))
}

// MovRI32 emits `mov reg, imm32` sign-extended into the 64-bit reg (C7
// /0 id).
func MovRI32(e *emit.Emitter, reg GPR, val int32) {
	rex := rexForSingle(reg)
	e.Write1(rex)
	e.Write1(0xc7)
	e.Write1(byte(0xc0 | (int(reg) & 7)))
	e.Write4(uint32(val))
}

// MovRI64 emits `movabs reg, imm64`.
func MovRI64(e *emit.Emitter, reg GPR, val uint64) {
	rex := byte(0x48)
	if reg >= 8 {
		rex = 0x49
	}
	e.Write1(rex)
	e.Write1(byte(0xb8 + (int(reg) & 7)))
	e.Write8(val)
}

// LoadMem emits `mov dst, [base+off]` (64-bit).
func LoadMem(e *emit.Emitter, dst, base GPR, off int32) { memRM(e, dst, base, off, 0x8b) }

// StoreMem emits `mov [base+off], src` (64-bit).
func StoreMem(e *emit.Emitter, base GPR, off int32, src GPR) { memRM(e, src, base, off, 0x89) }

// LeaMem emits `lea dst, [base+off]`.
func LeaMem(e *emit.Emitter, dst, base GPR, off int32) { memRM(e, dst, base, off, 0x8d) }

// memRM emits the shared reg-memory form for opcode (0x8b load, 0x89
// store, 0x8d lea), handling the RSP SIB-byte special case and the
// disp8/disp32 choice the way std/compiler/x64.go's loadMem/storeMem
// do.
func memRM(e *emit.Emitter, reg, base GPR, off int32, opcode byte) {
	rex := rexRR(reg, base)
	baseLow := int(base) & 7
	needsSIB := baseLow == int(RSP)

	switch {
	case off == 0 && baseLow != int(RBP):
		e.Write1(rex)
		e.Write1(opcode)
		e.Write1(byte((int(reg)&7)<<3 | baseLow))
		if needsSIB {
			e.Write1(0x24)
		}
	case off >= -128 && off <= 127:
		e.Write1(rex)
		e.Write1(opcode)
		e.Write1(byte(0x40 | (int(reg)&7)<<3 | baseLow))
		if needsSIB {
			e.Write1(0x24)
		}
		e.Write1(byte(int8(off)))
	default:
		e.Write1(rex)
		e.Write1(opcode)
		e.Write1(byte(0x80 | (int(reg)&7)<<3 | baseLow))
		if needsSIB {
			e.Write1(0x24)
		}
		e.Write4(uint32(off))
	}
}

// SetccR emits `setCC reg_lo8`.
func SetccR(e *emit.Emitter, cc Cond, reg GPR) {
	if reg >= 8 {
		e.Write1(0x41)
	} else if reg >= 4 {
		// Without a REX prefix, encodings 4-7 name AH/CH/DH/BH.
		e.Write1(0x40)
	}
	e.Write1(0x0f)
	e.Write1(byte(0x90 | (byte(cc) & 0x0f)))
	e.Write1(byte(0xc0 | (int(reg) & 7)))
}

// MovzxB emits `movzx reg, reg_lo8` (clears to a full GPR-width bool).
func MovzxB(e *emit.Emitter, reg GPR) {
	e.Write1(rexRR(reg, reg))
	e.Write1(0x0f)
	e.Write1(0xb6)
	e.Write1(modrmRR(reg, reg))
}

// PushR/PopR emit `push`/`pop reg`.
func PushR(e *emit.Emitter, reg GPR) {
	if reg >= 8 {
		e.Write1(0x41)
		e.Write1(byte(0x50 + (int(reg) & 7)))
	} else {
		e.Write1(byte(0x50 + int(reg)))
	}
}

func PopR(e *emit.Emitter, reg GPR) {
	if reg >= 8 {
		e.Write1(0x41)
		e.Write1(byte(0x58 + (int(reg) & 7)))
	} else {
		e.Write1(byte(0x58 + int(reg)))
	}
}

// CallRel32 emits `call rel32` with a zero placeholder and returns the
// rel32 field's offset for later patching.
func CallRel32(e *emit.Emitter) int {
	e.Write1(0xe8)
	return e.Reserve(4)
}

// JmpRel32 emits `jmp rel32` with a placeholder, returning its offset.
func JmpRel32(e *emit.Emitter) int {
	e.Write1(0xe9)
	return e.Reserve(4)
}

// JccRel32 emits `jCC rel32` with a placeholder, returning its offset.
func JccRel32(e *emit.Emitter, cc Cond) int {
	e.Write1(0x0f)
	e.Write1(byte(0x80 | (byte(cc) & 0x0f)))
	return e.Reserve(4)
}

// Ret emits `ret`.
func Ret(e *emit.Emitter) { e.Write1(0xc3) }

// Nop1 emits a single-byte NOP; NopPad repeats it n times (spec.md
// §4.3/§4.4's "NOP padding" — a single-byte form is sufficient since
// this backend never needs to pad for branch-target alignment beyond
// a handful of bytes).
func Nop1(e *emit.Emitter) { e.Write1(0x90) }
func NopPad(e *emit.Emitter, n int) {
	for i := 0; i < n; i++ {
		Nop1(e)
	}
}
