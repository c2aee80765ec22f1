package ir_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbkit/tb/ir"
)

func buildStraightLine(t *testing.T) *ir.Function {
	t.Helper()
	f := ir.NewFunction("add3", ir.LinkagePublic)
	i32 := ir.IntType(32)
	proto := ir.NewPrototype(ir.ConvSysV, i32, 2, false)
	proto.AddParam(i32)
	proto.AddParam(i32)
	f.SetPrototype(proto)

	b := ir.NewBuilder(f)
	entry := b.NewLabelID()
	b.Label(entry)
	params := f.ParamRegs()
	sum := b.Add(i32, params[0], params[1], ir.WrapNone)
	three := b.IntegerConst(i32, 3)
	total := b.Add(i32, sum, three, ir.WrapNone)
	b.Ret(total)
	return f
}

func TestBuilderStraightLine(t *testing.T) {
	f := buildStraightLine(t)
	require.Equal(t, ir.Label(1), f.LabelCount())

	var ops []ir.Op
	f.ForEachNode(func(r ir.Reg) bool {
		ops = append(ops, f.Node(r).Op)
		return true
	})
	require.Equal(t, []ir.Op{ir.OpLabel, ir.OpAdd, ir.OpIntegerConst, ir.OpAdd, ir.OpRet}, ops)
}

func TestBuilderTerminatorBackpatch(t *testing.T) {
	f := ir.NewFunction("f", ir.LinkagePrivate)
	f.SetPrototype(ir.NewPrototype(ir.ConvSysV, ir.VoidType(), 0, false))
	b := ir.NewBuilder(f)

	l0 := b.NewLabelID()
	labelReg := b.Label(l0)
	retReg := b.Ret(ir.NullReg)

	require.Equal(t, retReg, f.Node(labelReg).Terminator)
	bb := f.BasicBlockOf(l0)
	require.Equal(t, labelReg, bb.Start)
	require.Equal(t, retReg, bb.End)
}

func TestBuilderPanicsOnUnterminatedBlock(t *testing.T) {
	f := ir.NewFunction("f", ir.LinkagePrivate)
	f.SetPrototype(ir.NewPrototype(ir.ConvSysV, ir.VoidType(), 0, false))
	b := ir.NewBuilder(f)

	l0 := b.NewLabelID()
	l1 := b.NewLabelID()
	b.Label(l0)

	require.Panics(t, func() { b.Label(l1) })
}

func TestBuilderPhiArity(t *testing.T) {
	f := ir.NewFunction("f", ir.LinkagePrivate)
	i32 := ir.IntType(32)
	f.SetPrototype(ir.NewPrototype(ir.ConvSysV, i32, 0, false))
	b := ir.NewBuilder(f)

	l0 := b.NewLabelID()
	b.Label(l0)
	one := b.Phi(i32, []ir.PhiInput{{Label: 0, Value: ir.NullReg}})
	two := b.Phi(i32, []ir.PhiInput{{Label: 0, Value: ir.NullReg}, {Label: 1, Value: ir.NullReg}})
	three := b.Phi(i32, []ir.PhiInput{{Label: 0, Value: ir.NullReg}, {Label: 1, Value: ir.NullReg}, {Label: 2, Value: ir.NullReg}})
	b.Ret(one)

	require.Equal(t, ir.OpPhi1, f.Node(one).Op)
	require.Equal(t, ir.OpPhi2, f.Node(two).Op)
	require.Equal(t, ir.OpPhiN, f.Node(three).Op)
}

func TestDataTypeSize(t *testing.T) {
	require.Equal(t, 4, ir.IntType(32).Size())
	require.Equal(t, 1, ir.IntType(1).Size())
	require.Equal(t, 8, ir.PointerType().Size())
	require.Equal(t, 4, ir.FloatType(32).Size())
	require.Equal(t, 8, ir.FloatType(64).Size())
	require.Equal(t, 16, ir.VectorOf(ir.FloatType(32), 2).Size())
}
