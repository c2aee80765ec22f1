package arm64_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbkit/tb/codegen"
	"github.com/tbkit/tb/codegen/arm64"
	"github.com/tbkit/tb/ir"
)

func i32() ir.DataType { return ir.IntType(32) }
func i64() ir.DataType { return ir.IntType(64) }

// buildStraightLineArith mirrors codegen/x64's add3 scenario: (a+b)*c.
func buildStraightLineArith(t *testing.T) *ir.Function {
	t.Helper()
	f := ir.NewFunction("add3", ir.LinkagePublic)
	proto := ir.NewPrototype(ir.ConvSysV, i32(), 3, false)
	proto.AddParam(i32())
	proto.AddParam(i32())
	proto.AddParam(i32())
	f.SetPrototype(proto)

	b := ir.NewBuilder(f)
	l0 := b.NewLabelID()
	b.Label(l0)
	params := f.ParamRegs()
	sum := b.Add(i32(), params[0], params[1], ir.WrapNone)
	prod := b.Mul(i32(), sum, params[2], ir.WrapNone)
	b.Ret(prod)
	return f
}

func TestStraightLineArithCompiles(t *testing.T) {
	f := buildStraightLineArith(t)
	out, err := codegen.Compile(f, arm64.Target{}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, out.Code)
	require.Zero(t, len(out.Code)%4, "AArch64 code is a whole number of 32-bit instructions")
}

// buildLoadStoreLocal mirrors codegen/x64's roundtrip scenario: store a
// param into a local, load it back, return it.
func buildLoadStoreLocal(t *testing.T) *ir.Function {
	t.Helper()
	f := ir.NewFunction("roundtrip", ir.LinkagePublic)
	proto := ir.NewPrototype(ir.ConvSysV, i64(), 1, false)
	proto.AddParam(i64())
	f.SetPrototype(proto)

	b := ir.NewBuilder(f)
	l0 := b.NewLabelID()
	b.Label(l0)
	params := f.ParamRegs()
	local := b.Local(i64(), 8, 8)
	b.Store(local, params[0], false)
	loaded := b.Load(i64(), local, false)
	b.Ret(loaded)
	return f
}

func TestLoadStoreLocalStackAligned(t *testing.T) {
	f := buildLoadStoreLocal(t)
	out, err := codegen.Compile(f, arm64.Target{}, nil)
	require.NoError(t, err)
	require.Zero(t, out.StackUsage%16, "final frame size must be 16-byte aligned per AAPCS64")
	require.GreaterOrEqual(t, out.StackUsage, uint32(8))
	require.Zero(t, len(out.Code)%4)
}

// buildBranchFlagsReuse mirrors codegen/x64's max scenario: the
// comparator's condition code is consumed directly by B.cond without a
// second CMP.
func buildBranchFlagsReuse(t *testing.T) *ir.Function {
	t.Helper()
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

func TestBranchOnComparatorCompiles(t *testing.T) {
	f := buildBranchFlagsReuse(t)
	out, err := codegen.Compile(f, arm64.Target{}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, out.Code)
	require.Zero(t, len(out.Code)%4)
}

// buildLoopWithPhi mirrors codegen/x64's sum_to_n scenario.
func buildLoopWithPhi(t *testing.T) *ir.Function {
	t.Helper()
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
	iNode := f.Node(i)
	iNode.PhiInputs[1].Value = newI
	accNode := f.Node(acc)
	accNode.PhiInputs[1].Value = newAcc

	cond := b.CmpSlt(i, params[0])
	b.If(cond, loop, exit)

	b.Label(exit)
	b.Ret(acc)
	return f
}

func TestLoopWithPhiCompiles(t *testing.T) {
	f := buildLoopWithPhi(t)
	out, err := codegen.Compile(f, arm64.Target{}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, out.Code)
	require.Zero(t, len(out.Code)%4)
}

// buildFib mirrors codegen/x64's recursive fib scenario, exercising
// direct-call lowering (BL) and FunctionPatch recording through a stub
// sink, twice per call (two recursive call sites).
func buildFib(t *testing.T) *ir.Function {
	t.Helper()
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

func TestFibCompilesWithTwoCallSites(t *testing.T) {
	f := buildFib(t)
	sink := &stubSink{}
	out, err := codegen.CompileWithSink(f, arm64.Target{}, nil, sink)
	require.NoError(t, err)
	require.NotEmpty(t, out.Code)
	require.Len(t, sink.calls, 2, "both recursive call sites must record a FunctionPatch")
	for _, c := range sink.calls {
		require.Equal(t, "fib", c)
	}
}

type stubSink struct {
	calls   []string
	externs []string
}

func (s *stubSink) EmitFunctionPatch(src *ir.Function, targetName string, pos int) {
	s.calls = append(s.calls, targetName)
}
func (s *stubSink) EmitExternPatch(src *ir.Function, targetName string, pos int) {
	s.externs = append(s.externs, targetName)
}
func (s *stubSink) EmitGlobalPatch(src *ir.Function, targetName string, pos int) {}
func (s *stubSink) ReserveConstPool(data []byte) uint32                         { return 0 }
func (s *stubSink) EmitConstPoolPatch(src *ir.Function, pos int, rdataPos uint32) {}
