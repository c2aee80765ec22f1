// Package emit provides the growable byte-buffer primitive used by
// code generators and object-file writers: sequential little-endian
// writes plus the ability to reserve space and patch it once a forward
// value (a branch target, a section size) becomes known.
//
// Grounded on original_source/src/tb/tb.c's tb_out1b/tb_out4b/
// tb_patch4b family: a plain byte vector with direct-offset patch
// helpers, not a general io.Writer pipeline. Deliberately out of the
// spec's scope beyond this utility role (spec.md §1), hence standard
// library only.
package emit

import "encoding/binary"

// Emitter is a growable, position-addressable byte buffer.
type Emitter struct {
	buf []byte
}

// New returns an Emitter with cap bytes pre-reserved.
func New(cap int) *Emitter {
	return &Emitter{buf: make([]byte, 0, cap)}
}

// Len returns the current write position.
func (e *Emitter) Len() int { return len(e.buf) }

// Bytes returns the emitted buffer. The caller must not retain it
// across further writes to e.
func (e *Emitter) Bytes() []byte { return e.buf }

func (e *Emitter) Write1(b uint8) { e.buf = append(e.buf, b) }

func (e *Emitter) WriteBytes(b []byte) { e.buf = append(e.buf, b...) }

func (e *Emitter) Write2(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

func (e *Emitter) Write4(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

func (e *Emitter) Write8(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

// Reserve appends n zero bytes and returns their offset, for a value to
// be patched in once known (e.g. a rel32 branch displacement).
func (e *Emitter) Reserve(n int) int {
	pos := len(e.buf)
	e.buf = append(e.buf, make([]byte, n)...)
	return pos
}

// Patch4 overwrites the 4 bytes at pos (previously produced by Reserve
// or Write4) with v.
func (e *Emitter) Patch4(pos int, v uint32) {
	binary.LittleEndian.PutUint32(e.buf[pos:pos+4], v)
}

// Patch1 overwrites the byte at pos.
func (e *Emitter) Patch1(pos int, v uint8) {
	e.buf[pos] = v
}

// Patch2 overwrites the 2 bytes at pos (previously produced by Reserve
// or Write2) with v.
func (e *Emitter) Patch2(pos int, v uint16) {
	binary.LittleEndian.PutUint16(e.buf[pos:pos+2], v)
}

// InsertAt splices b into the buffer at pos, shifting everything after
// pos forward. Used by the prologue-insertion strategy of SPEC_FULL.md
// §D item 3 (generate body first, then shift it forward to make room).
func (e *Emitter) InsertAt(pos int, b []byte) {
	grown := make([]byte, len(e.buf)+len(b))
	copy(grown, e.buf[:pos])
	copy(grown[pos:], b)
	copy(grown[pos+len(b):], e.buf[pos:])
	e.buf = grown
}
