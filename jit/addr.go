package jit

import "unsafe"

// addrOf returns the address of a mapped region's first byte. mmap.MMap
// is a []byte backed by real mapped pages (not Go's GC heap), so taking
// its address this way is safe for as long as the mapping stays alive -
// exactly the lifetime CodeRegion.Close bounds.
func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
