// Package jit implements spec.md §4.5's JIT materialization path: map
// a Module's finalized code into an executable page, resolve extern
// relocations against already-loaded process symbols, and hand back
// native function pointers the rest of a Go process can call through
// the trampolines in call_amd64.s/call_arm64.s.
//
// Grounded on original_source/src/tb/tb.c's tb_module_export_jit (an
// mmap + mprotect(PROT_EXEC) + memcpy sequence) and the teacher's
// backend.go CodeGen, which never runs its own output - this package
// is new wiring, not adapted teacher code, built the way the pack's
// saferwall-pe manifest uses edsrzf/mmap-go for mapping executable
// image bytes.
package jit

import (
	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// CodeRegion is one RX-mapped block of native code. Unlike
// module.CodeRegion (a plain growable []byte lowering targets append
// to), this is backed by real mapped memory and is immutable once
// Protect has run.
type CodeRegion struct {
	mapping mmap.MMap
	size    int
}

// NewCodeRegion maps size bytes RW (4096 when size <= 0), ready for
// Write to fill in before Protect flips it RX. mmap itself rounds the
// mapping up to a page multiple.
func NewCodeRegion(size int) (*CodeRegion, error) {
	if size <= 0 {
		size = 4096
	}
	m, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, errors.Wrap(err, "jit: map code region")
	}
	return &CodeRegion{mapping: m, size: size}, nil
}

// Write copies code into the region at off. Must be called before
// Protect; writing to an RX mapping fails on platforms enforcing W^X.
func (r *CodeRegion) Write(off int, code []byte) error {
	if off+len(code) > len(r.mapping) {
		return errors.Errorf("jit: write at %d len %d exceeds region size %d", off, len(code), len(r.mapping))
	}
	copy(r.mapping[off:], code)
	return nil
}

// Protect flips the region from RW to RX (spec.md §4.5: "changes the
// containing code region's protection to RX"). No further Write calls
// are valid afterward.
func (r *CodeRegion) Protect() error {
	if err := unix.Mprotect(r.mapping, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return errors.Wrap(err, "jit: mprotect RX")
	}
	return nil
}

// BaseAddr returns the mapped region's address, suitable as the
// textBase argument to module.Finalize so PC-relative call patches
// resolve against where the code will actually execute from.
func (r *CodeRegion) BaseAddr() uintptr {
	return addrOf(r.mapping)
}

// Close unmaps the region. Any function pointers obtained via
// GetJITFunc become invalid once this returns.
func (r *CodeRegion) Close() error {
	return r.mapping.Unmap()
}
