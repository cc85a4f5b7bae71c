package abi

import (
	"strings"
	"testing"
)

func TestWriteErrFitsExactly(t *testing.T) {
	buf := make([]byte, 5)
	n := writeErr(buf, "abcde")
	if n != -5 {
		t.Errorf("n = %d, want -5", n)
	}
	if string(buf) != "abcde" {
		t.Errorf("buf = %q", buf)
	}
}

func TestWriteErrFallsBackToTooSmall(t *testing.T) {
	buf := make([]byte, len(errBufferTooSmall))
	n := writeErr(buf, strings.Repeat("x", 10000))
	if n != -int32(len(errBufferTooSmall)) {
		t.Errorf("n = %d, want %d", n, -len(errBufferTooSmall))
	}
	if string(buf) != errBufferTooSmall {
		t.Errorf("buf = %q, want %q", buf, errBufferTooSmall)
	}
}

func TestWriteErrDegenerateTinyBuffer(t *testing.T) {
	buf := make([]byte, 3)
	n := writeErr(buf, "a very long message that will not fit")
	if n >= 0 {
		t.Errorf("n = %d, want negative", n)
	}
	if int(-n) > len(buf) {
		t.Errorf("wrote more than buffer capacity")
	}
}
