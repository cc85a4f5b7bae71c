//go:build cgo

package abi

/*
#include <stdint.h>
*/
import "C"
import "unsafe"

// rbprof_init builds a Trace Getter for pid and inserts it into the
// process-wide registry. Returns 1 on success, or the negative length of
// the UTF-8 message written to err_ptr.
//
//export rbprof_init
func rbprof_init(pid C.int, blocking C.int32_t, errPtr *C.char, errLen C.int32_t) C.int32_t {
	errBuf := cBytes(errPtr, errLen)
	return C.int32_t(Init(int(pid), blocking != 0, errBuf))
}

// rbprof_snapshot samples pid once and writes the `;`-joined frame string to
// buf. Returns bytes written, 0 for "nothing to sample", or a negative
// error length.
//
//export rbprof_snapshot
func rbprof_snapshot(pid C.int, buf *C.char, bufLen C.int32_t, errPtr *C.char, errLen C.int32_t) C.int32_t {
	out := cBytes(buf, bufLen)
	errBuf := cBytes(errPtr, errLen)
	return C.int32_t(Snapshot(int(pid), out, errBuf))
}

// rbprof_cleanup removes pid's entry from the registry. Always returns 1.
//
//export rbprof_cleanup
func rbprof_cleanup(pid C.int, errPtr *C.char, errLen C.int32_t) C.int32_t {
	_ = cBytes(errPtr, errLen)
	return C.int32_t(Cleanup(int(pid)))
}

// cBytes views a C buffer as a Go byte slice without copying. Safe only for
// the duration of the enclosing cgo call, which matches every use here.
func cBytes(p *C.char, n C.int32_t) []byte {
	if p == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(n))
}
