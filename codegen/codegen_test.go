package codegen_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbkit/tb/codegen"
	"github.com/tbkit/tb/codegen/x64"
	"github.com/tbkit/tb/ir"
)

// TestCompileUnimplementedOpFails exercises spec.md §7's UnimplementedPath:
// a node no Target lowers makes Compile fail with ErrUnimplementedOp
// rather than panicking or silently emitting garbage.
func TestCompileUnimplementedOpFails(t *testing.T) {
	f := ir.NewFunction("uses_atomic_cas", ir.LinkagePublic)
	proto := ir.NewPrototype(ir.ConvSysV, ir.IntType(64), 3, false)
	proto.AddParam(ir.PointerType())
	proto.AddParam(ir.IntType(64))
	proto.AddParam(ir.IntType(64))
	f.SetPrototype(proto)

	b := ir.NewBuilder(f)
	l0 := b.NewLabelID()
	b.Label(l0)
	params := f.ParamRegs()
	old := b.AtomicCompareExchange(ir.IntType(64), params[0], params[1], params[2])
	b.Ret(old)

	_, err := codegen.Compile(f, x64.Target{}, nil)
	require.ErrorIs(t, err, codegen.ErrUnimplementedOp)
}

// TestCompileFourRegisterParams checks that a function whose four SysV
// integer parameters all arrive in argument registers compiles to
// non-empty code.
func TestCompileFourRegisterParams(t *testing.T) {
	f := ir.NewFunction("add4", ir.LinkagePublic)
	proto := ir.NewPrototype(ir.ConvSysV, ir.IntType(32), 4, false)
	for i := 0; i < 4; i++ {
		proto.AddParam(ir.IntType(32))
	}
	f.SetPrototype(proto)

	b := ir.NewBuilder(f)
	l0 := b.NewLabelID()
	b.Label(l0)
	params := f.ParamRegs()
	ab := b.Add(ir.IntType(32), params[0], params[1], ir.WrapNone)
	cd := b.Add(ir.IntType(32), params[2], params[3], ir.WrapNone)
	total := b.Add(ir.IntType(32), ab, cd, ir.WrapNone)
	b.Ret(total)

	out, err := codegen.Compile(f, x64.Target{}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, out.Code)
}
