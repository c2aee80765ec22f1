package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const add3Src = `
(func add3 (i64 i64 i64) i64 public
  (block entry
    (let %ab (add i64 %p0 %p1))
    (ret (add i64 %ab %p2))))
`

func TestCompileCommandWritesObjectFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "add3.tbir")
	require.NoError(t, os.WriteFile(src, []byte(add3Src), 0o644))

	out := filepath.Join(dir, "add3.o")
	root := newRootCmd()
	root.SetArgs([]string{"compile", src, "-o", out, "--format", "elf"})
	require.NoError(t, root.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.Equal(t, byte(0x7f), data[0])
	require.Equal(t, []byte("ELF"), data[1:4])
}

func TestCompileCommandRejectsUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "add3.tbir")
	require.NoError(t, os.WriteFile(src, []byte(add3Src), 0o644))

	root := newRootCmd()
	root.SetArgs([]string{"compile", src, "--format", "bogus"})
	require.Error(t, root.Execute())
}

func TestCompileCommandRejectsUnknownArch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "add3.tbir")
	require.NoError(t, os.WriteFile(src, []byte(add3Src), 0o644))

	root := newRootCmd()
	root.SetArgs([]string{"compile", src, "--arch", "bogus"})
	require.Error(t, root.Execute())
}
