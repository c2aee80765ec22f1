package ir_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbkit/tb/ir"
)

// TestPrintParseRoundTrip exercises spec.md §8 property 1: printing a
// function and parsing it back produces a function with the same node
// sequence.
func TestPrintParseRoundTrip(t *testing.T) {
	f := buildStraightLine(t)
	text := ir.Print(f)

	f2, err := ir.Parse(text)
	require.NoError(t, err)

	var ops, ops2 []ir.Op
	f.ForEachNode(func(r ir.Reg) bool { ops = append(ops, f.Node(r).Op); return true })
	f2.ForEachNode(func(r ir.Reg) bool { ops2 = append(ops2, f2.Node(r).Op); return true })
	require.Equal(t, ops, ops2)

	text2 := ir.Print(f2)
	require.Equal(t, text, text2)
}
