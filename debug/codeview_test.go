package debug_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbkit/tb/debug"
	"github.com/tbkit/tb/ir"
)

func i64() ir.DataType { return ir.IntType(64) }

func buildAdd3() *ir.Function {
	f := ir.NewFunction("add3", ir.LinkagePublic)
	proto := ir.NewPrototype(ir.ConvSysV, i64(), 3, false)
	proto.AddParam(i64())
	proto.AddParam(i64())
	proto.AddParam(i64())
	f.SetPrototype(proto)

	b := ir.NewBuilder(f)
	b.Label(b.NewLabelID())
	params := f.ParamRegs()
	ab := b.Add(i64(), params[0], params[1], ir.WrapNone)
	sum := b.Add(i64(), ab, params[2], ir.WrapNone)
	b.Ret(sum)

	f.Output = &ir.FunctionOutput{
		Code:       make([]byte, 24),
		StackUsage: 16,
		StackSlotTable: []ir.StackSlotEntry{
			{Name: "acc", Offset: -8, DebugType: "i64"},
		},
	}
	return f
}

func TestBuildEmitsProcAndEndRecords(t *testing.T) {
	f := buildAdd3()
	raw, relocs := debug.Build([]debug.FuncSymbol{{Function: f, SymbolID: 3}})

	require.NotEmpty(t, raw)
	require.Len(t, relocs, 2)
	require.Equal(t, 3, relocs[0].SymbolID)
	require.Equal(t, debug.RelocSECREL, relocs[0].Kind)
	require.Equal(t, debug.RelocSECTION, relocs[1].Kind)
	require.Equal(t, relocs[0].Pos+4, relocs[1].Pos)

	// S_PROC_ID_END's 2-byte length/2-byte type terminator sits at the
	// very end of the record stream (cv.c emits nothing after it).
	last4 := raw[len(raw)-4:]
	require.Equal(t, byte(2), last4[0])
	require.Equal(t, byte(0), last4[1])
}

func TestBuildSkipsFunctionsWithoutOutput(t *testing.T) {
	f := ir.NewFunction("unbuilt", ir.LinkagePrivate)
	raw, relocs := debug.Build([]debug.FuncSymbol{{Function: f, SymbolID: 1}})
	require.Empty(t, raw)
	require.Empty(t, relocs)
}

func TestFileChecksumsHashesEachFile(t *testing.T) {
	files := map[string][]byte{
		"a.go": []byte("package a\n"),
		"b.go": []byte("package b\n"),
	}
	read := func(p string) ([]byte, error) { return files[p], nil }

	raw, err := debug.FileChecksums([]string{"a.go", "b.go"}, read)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.Zero(t, len(raw)%4, "each checksum entry is padded to a 4-byte boundary")
}

func TestFileChecksumsPropagatesReadError(t *testing.T) {
	boom := errors.New("boom")
	read := func(p string) ([]byte, error) { return nil, boom }

	_, err := debug.FileChecksums([]string{"missing.go"}, read)
	require.Error(t, err)
}
