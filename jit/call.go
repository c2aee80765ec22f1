package jit

// callFunc1 and callFunc2 invoke a native function pointer under the
// platform's C calling convention, passing 1 or 2 int64-sized
// arguments and returning an int64-sized result - enough to drive the
// end-to-end scenarios of spec.md §8 (fib(i64)->i64, addmul(i32,i32),
// max(i32,i32) and sum_to_n(i32), the i32 arguments widened to their i64
// argument registers). Implemented in
// call_amd64.s/call_arm64.s rather than via cgo, since the whole point
// of this package is calling code this process itself JIT-compiled,
// not code coming from a C toolchain.
func callFunc1(fn uintptr, a0 int64) int64
func callFunc2(fn uintptr, a0, a1 int64) int64

// Call1 invokes the named compiled function with one argument.
func (mz *Materializer) Call1(name string, a0 int64) (int64, bool) {
	ptr, ok := mz.GetJITFunc(name)
	if !ok {
		return 0, false
	}
	return callFunc1(uintptr(ptr), a0), true
}

// Call2 invokes the named compiled function with two arguments.
func (mz *Materializer) Call2(name string, a0, a1 int64) (int64, bool) {
	ptr, ok := mz.GetJITFunc(name)
	if !ok {
		return 0, false
	}
	return callFunc2(uintptr(ptr), a0, a1), true
}
