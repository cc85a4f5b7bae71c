// Package abi implements the process-wide C entry points (rbprof_init,
// rbprof_snapshot, rbprof_cleanup) backed by a single mutex-guarded
// pid -> Trace Getter registry. This file holds the pure-Go logic the
// cgo-exported wrappers in export.go call into, kept separate so it is
// unit-testable without cgo.
package abi

import (
	"fmt"
	"os"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/fencepost/rbprof/bootstrap"
	"github.com/fencepost/rbprof/dispatch"
	"github.com/fencepost/rbprof/profiler"
	"github.com/fencepost/rbprof/target"
	"github.com/fencepost/rbprof/versions"
)

// errBufferTooSmall is the literal fallback message used when even the
// truncated error message won't fit.
const errBufferTooSmall = "error buffer is too small"

var (
	mu       sync.Mutex
	getters  = map[int]*profiler.Getter{}
	table    = dispatch.NewTable(versions.All())
	openFunc = defaultOpen
)

func defaultOpen(pid int) (target.Handle, error) {
	return target.OpenLinux(pid)
}

// Init builds a Getter for pid and inserts it into the registry, returning
// the C ABI convention result: 1 on success, or the negative length of the
// UTF-8 message written to errBuf.
func Init(pid int, blocking bool, errBuf []byte) int32 {
	mu.Lock()
	defer mu.Unlock()

	bootstrapID := ulid.Make().String()
	log := logrus.WithField("pid", pid).WithField("bootstrap_id", bootstrapID)

	opts := bootstrap.DefaultOptions()
	opts.LockProcess = blocking

	g, err := profiler.New(pid, opts, table, openFunc)
	if err != nil {
		log.WithError(err).Debug("abi: init failed")
		return writeErr(errBuf, err.Error())
	}

	getters[pid] = g
	log.Debug("abi: init succeeded")
	return 1
}

// Snapshot samples pid's Getter once and writes the `;`-joined frame string
// to buf, outermost frame first and innermost frame last. Returns bytes
// written, 0 if there was nothing to sample (on-CPU gate, or no frames
// decoded), or a negative error length.
//
// The registry mutex is held across the entire call, not just the lookup:
// a Getter is not safe to share between threads, so every call touching it
// must be serialized here rather than just the map access.
func Snapshot(pid int, buf []byte, errBuf []byte) int32 {
	mu.Lock()
	defer mu.Unlock()

	g, ok := getters[pid]
	if !ok {
		return writeErr(errBuf, fmt.Sprintf("no getter initialized for pid %d", pid))
	}

	trace, err := g.Sample()
	if err != nil {
		return writeErr(errBuf, err.Error())
	}
	if trace == nil {
		return 0
	}

	cwd, _ := os.Getwd()
	encoded := encodeTrace(trace, cwd)
	if len(encoded) > len(buf) {
		return int32(-len(encoded))
	}
	n := copy(buf, encoded)
	return int32(n)
}

// Cleanup removes pid's Getter from the registry. Always returns 1.
func Cleanup(pid int) int32 {
	mu.Lock()
	defer mu.Unlock()
	delete(getters, pid)
	return 1
}

// writeErr implements the error-buffer convention: write msg whole if it
// fits, otherwise fall back to the literal errBufferTooSmall message, and in
// the degenerate case that even that doesn't fit, write as much of the
// literal as fits. Returns the negative of the bytes written; a zero-length
// buffer, where nothing can be written, gets the negative length of the
// literal so the result is never 0.
func writeErr(buf []byte, msg string) int32 {
	if len(msg) <= len(buf) {
		copy(buf, msg)
		return int32(-len(msg))
	}
	if len(errBufferTooSmall) <= len(buf) {
		copy(buf, errBufferTooSmall)
		return int32(-len(errBufferTooSmall))
	}
	n := copy(buf, errBufferTooSmall)
	if n == 0 {
		return int32(-len(errBufferTooSmall))
	}
	return int32(-n)
}
