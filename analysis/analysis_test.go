package analysis_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbkit/tb/analysis"
	"github.com/tbkit/tb/ir"
)

func TestRunUseCountAndLiveInterval(t *testing.T) {
	i32 := ir.IntType(32)
	f := ir.NewFunction("f", ir.LinkagePublic)
	proto := ir.NewPrototype(ir.ConvSysV, i32, 1, false)
	proto.AddParam(i32)
	f.SetPrototype(proto)

	b := ir.NewBuilder(f)
	l0 := b.NewLabelID()
	b.Label(l0)
	p := f.ParamRegs()[0]
	c := b.IntegerConst(i32, 10)
	sum := b.Add(i32, p, c, ir.WrapNone)
	doubled := b.Add(i32, sum, sum, ir.WrapNone)
	b.Ret(doubled)

	res := analysis.Run(f, 6)

	require.Equal(t, 1, res.UseCount[p])
	require.Equal(t, 1, res.UseCount[c])
	require.Equal(t, 2, res.UseCount[sum])
	require.Equal(t, 1, res.UseCount[doubled])

	sumIv := res.LiveInterval[sum]
	require.Equal(t, sumIv.Def, res.Ordinal[sum])
	require.True(t, sumIv.LastUse > sumIv.Def)
	require.True(t, res.LiveAt(sum, sumIv.Def))
	require.True(t, res.LiveAt(sum, sumIv.LastUse))
}

func TestRunMaxCallArgs(t *testing.T) {
	i32 := ir.IntType(32)
	f := ir.NewFunction("caller", ir.LinkagePublic)
	f.SetPrototype(ir.NewPrototype(ir.ConvSysV, i32, 0, false))
	b := ir.NewBuilder(f)
	l0 := b.NewLabelID()
	b.Label(l0)

	args := make([]ir.Reg, 8)
	for i := range args {
		args[i] = b.IntegerConst(i32, int64(i))
	}
	call := b.Call(i32, "sum8", args)
	b.Ret(call)

	res := analysis.Run(f, 6)
	require.Equal(t, 2, res.MaxCallArgs)
}
