package irtext_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbkit/tb/cmd/tbc/irtext"
)

const fibSrc = `
; recursive fib(i64)->i64, spec.md §8's end-to-end scenario
(func fib (i64) i64 public
  (block entry
    (if (cmp.slt %p0 (const i64 2)) base rec))
  (block base
    (ret %p0))
  (block rec
    (let %n1 (sub i64 %p0 (const i64 1)))
    (let %n2 (sub i64 %p0 (const i64 2)))
    (let %r1 (call i64 fib %n1))
    (let %r2 (call i64 fib %n2))
    (ret (add i64 %r1 %r2))))
`

func TestParseBuildsCallableFunction(t *testing.T) {
	prog, err := irtext.Parse(fibSrc)
	require.NoError(t, err)
	require.Len(t, prog.Functions, 1)

	f := prog.Functions[0]
	require.Equal(t, "fib", f.Name)
	require.Equal(t, 3, int(f.LabelCount()))
}

func TestParseGlobalAndExtern(t *testing.T) {
	src := `
(global counter 8 0000000000000000)
(global scratch 16)
(extern puts)
`
	prog, err := irtext.Parse(src)
	require.NoError(t, err)
	require.Len(t, prog.Globals, 2)
	require.Equal(t, "counter", prog.Globals[0].Name)
	require.Len(t, prog.Globals[0].Init, 8)
	require.Nil(t, prog.Globals[1].Init)
	require.Equal(t, []string{"puts"}, prog.Externs)
}

func TestParseRejectsUndefinedLabel(t *testing.T) {
	src := `
(func bad (i64) i64 public
  (block entry
    (goto nowhere)))
`
	_, err := irtext.Parse(src)
	require.Error(t, err)
}

func TestParseRejectsUnknownType(t *testing.T) {
	src := `(func bad (bogus) i64 public (block entry (ret %p0)))`
	_, err := irtext.Parse(src)
	require.Error(t, err)
}
