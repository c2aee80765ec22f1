package jit_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbkit/tb/ir"
	"github.com/tbkit/tb/jit"
	"github.com/tbkit/tb/module"
)

func i64() ir.DataType { return ir.IntType(64) }

// buildFib is spec.md §8's end-to-end scenario: recursive fib(i64)->i64,
// asserting fib(35) == 9227465 once actually run through the JIT.
func buildFib() *ir.Function {
	f := ir.NewFunction("fib", ir.LinkagePublic)
	proto := ir.NewPrototype(ir.ConvSysV, i64(), 1, false)
	proto.AddParam(i64())
	f.SetPrototype(proto)

	b := ir.NewBuilder(f)
	entry := b.NewLabelID()
	base := b.NewLabelID()
	rec := b.NewLabelID()

	b.Label(entry)
	params := f.ParamRegs()
	two := b.IntegerConst(i64(), 2)
	cond := b.CmpSlt(params[0], two)
	b.If(cond, base, rec)

	b.Label(base)
	b.Ret(params[0])

	b.Label(rec)
	one := b.IntegerConst(i64(), 1)
	nMinus1 := b.Sub(i64(), params[0], one, ir.WrapNone)
	nMinus2 := b.Sub(i64(), params[0], two, ir.WrapNone)
	r1 := b.Call(i64(), "fib", []ir.Reg{nMinus1})
	r2 := b.Call(i64(), "fib", []ir.Reg{nMinus2})
	sum := b.Add(i64(), r1, r2, ir.WrapNone)
	b.Ret(sum)

	return f
}

func TestFibRunsThroughJIT(t *testing.T) {
	skipUnlessJITSupported(t)

	m := module.New(module.Config{Arch: module.ArchX86_64, System: module.SysLinux, IsJIT: true}, nil)
	f := buildFib()
	m.AddFunction(f)
	require.NoError(t, m.CompileFunction(f, module.IselFast))

	mz, err := jit.ExportJIT(m, func(name string) (uintptr, bool) { return 0, false })
	require.NoError(t, err)
	defer mz.Close()

	got, ok := mz.Call1("fib", 35)
	require.True(t, ok)
	require.Equal(t, int64(9227465), got)
}

func i32() ir.DataType { return ir.IntType(32) }

func skipUnlessJITSupported(t *testing.T) {
	t.Helper()
	if runtime.GOARCH != "amd64" || (runtime.GOOS != "linux" && runtime.GOOS != "darwin") {
		t.Skip("jit tests compile x86-64 code and run only on amd64/linux,darwin")
	}
}

// buildStraightLineArith is spec.md §8's straight-line arithmetic
// scenario: addmul(a,b) = (a+b)*a, no branches or memory at all.
func buildStraightLineArith() *ir.Function {
	f := ir.NewFunction("addmul", ir.LinkagePublic)
	proto := ir.NewPrototype(ir.ConvSysV, i32(), 2, false)
	proto.AddParam(i32())
	proto.AddParam(i32())
	f.SetPrototype(proto)

	b := ir.NewBuilder(f)
	l0 := b.NewLabelID()
	b.Label(l0)
	params := f.ParamRegs()
	sum := b.Add(i32(), params[0], params[1], ir.WrapNone)
	prod := b.Mul(i32(), sum, params[0], ir.WrapNone)
	b.Ret(prod)
	return f
}

func TestStraightLineArithRunsThroughJIT(t *testing.T) {
	skipUnlessJITSupported(t)

	m := module.New(module.Config{Arch: module.ArchX86_64, System: module.SysLinux, IsJIT: true}, nil)
	f := buildStraightLineArith()
	m.AddFunction(f)
	require.NoError(t, m.CompileFunction(f, module.IselFast))

	mz, err := jit.ExportJIT(m, func(name string) (uintptr, bool) { return 0, false })
	require.NoError(t, err)
	defer mz.Close()

	got, ok := mz.Call2("addmul", 3, 4)
	require.True(t, ok)
	require.Equal(t, int64(21), got) // (3+4)*3 == 21
}

// buildBranchFlagsReuse is spec.md §8's branch scenario: max(a,b)->i32,
// comparing and branching directly off the comparator's flags.
func buildBranchFlagsReuse() *ir.Function {
	f := ir.NewFunction("max", ir.LinkagePublic)
	proto := ir.NewPrototype(ir.ConvSysV, i32(), 2, false)
	proto.AddParam(i32())
	proto.AddParam(i32())
	f.SetPrototype(proto)

	b := ir.NewBuilder(f)
	entry := b.NewLabelID()
	onTrue := b.NewLabelID()
	onFalse := b.NewLabelID()

	b.Label(entry)
	params := f.ParamRegs()
	cmp := b.CmpSlt(params[0], params[1])
	b.If(cmp, onTrue, onFalse)

	b.Label(onTrue)
	b.Ret(params[1])

	b.Label(onFalse)
	b.Ret(params[0])

	return f
}

func TestBranchRunsThroughJIT(t *testing.T) {
	skipUnlessJITSupported(t)

	m := module.New(module.Config{Arch: module.ArchX86_64, System: module.SysLinux, IsJIT: true}, nil)
	f := buildBranchFlagsReuse()
	m.AddFunction(f)
	require.NoError(t, m.CompileFunction(f, module.IselFast))

	mz, err := jit.ExportJIT(m, func(name string) (uintptr, bool) { return 0, false })
	require.NoError(t, err)
	defer mz.Close()

	got, ok := mz.Call2("max", 3, 7)
	require.True(t, ok)
	require.Equal(t, int64(7), got)

	got, ok = mz.Call2("max", 9, 2)
	require.True(t, ok)
	require.Equal(t, int64(9), got)
}

// buildLoopWithPhi is spec.md §8's loop-with-PHI scenario: sum_to_n(n)
// accumulates 0+1+...+(n-1) via two PHI-carried values (an induction
// variable and an accumulator), one entry edge and one back edge apiece.
func buildLoopWithPhi() *ir.Function {
	f := ir.NewFunction("sum_to_n", ir.LinkagePublic)
	proto := ir.NewPrototype(ir.ConvSysV, i32(), 1, false)
	proto.AddParam(i32())
	f.SetPrototype(proto)

	b := ir.NewBuilder(f)
	entry := b.NewLabelID()
	loop := b.NewLabelID()
	exit := b.NewLabelID()

	b.Label(entry)
	params := f.ParamRegs()
	zero := b.IntegerConst(i32(), 0)
	b.Goto(loop)

	b.Label(loop)
	i := b.Phi(i32(), []ir.PhiInput{{Label: entry, Value: zero}, {Label: loop, Value: ir.NullReg}})
	acc := b.Phi(i32(), []ir.PhiInput{{Label: entry, Value: zero}, {Label: loop, Value: ir.NullReg}})
	newAcc := b.Add(i32(), acc, i, ir.WrapNone)
	one := b.IntegerConst(i32(), 1)
	newI := b.Add(i32(), i, one, ir.WrapNone)
	// The builder records PHI inputs at construction time, before
	// newI/newAcc exist, so the back-edge values are patched in once
	// they're available.
	f.Node(i).PhiInputs[1].Value = newI
	f.Node(acc).PhiInputs[1].Value = newAcc

	cond := b.CmpSlt(i, params[0])
	b.If(cond, loop, exit)

	b.Label(exit)
	b.Ret(acc)
	return f
}

func TestLoopWithPhiRunsThroughJIT(t *testing.T) {
	skipUnlessJITSupported(t)

	m := module.New(module.Config{Arch: module.ArchX86_64, System: module.SysLinux, IsJIT: true}, nil)
	f := buildLoopWithPhi()
	m.AddFunction(f)
	require.NoError(t, m.CompileFunction(f, module.IselFast))

	mz, err := jit.ExportJIT(m, func(name string) (uintptr, bool) { return 0, false })
	require.NoError(t, err)
	defer mz.Close()

	got, ok := mz.Call1("sum_to_n", 10)
	require.True(t, ok)
	require.Equal(t, int64(45), got) // 0+1+...+9 == 45
}
