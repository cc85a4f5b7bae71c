package addressfinder

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Error is the classified failure taxonomy for the address finder: a small
// closed set of typed errors with Error()/Unwrap() instead of sentinel
// strings, so bootstrap can switch on Kind.
type Error struct {
	Kind    Kind
	PID     int
	Message string
	Wrapped error
}

// Kind enumerates the address finder's failure modes.
type Kind int

const (
	// KindNotYetReady means the condition is expected to clear itself
	// (maps not populated yet, version string not mapped in yet) and is
	// retryable by Bootstrap.
	KindNotYetReady Kind = iota
	// KindNoSuchProcess means the PID does not exist. Terminal.
	KindNoSuchProcess
	// KindPermissionDenied means the OS refused access. Terminal, and
	// carries a remediation hint.
	KindPermissionDenied
)

func (e *Error) Error() string {
	loc := ""
	if e.PID != 0 {
		loc = fmt.Sprintf("pid %d: ", e.PID)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s%s: %v", loc, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s%s", loc, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Retryable reports whether Bootstrap should sleep and try again.
func (e *Error) Retryable() bool { return e.Kind == KindNotYetReady }

func notYetReady(pid int, message string, wrapped error) *Error {
	return &Error{Kind: KindNotYetReady, PID: pid, Message: message, Wrapped: wrapped}
}

func noSuchProcess(pid int, wrapped error) *Error {
	return &Error{
		Kind:    KindNoSuchProcess,
		PID:     pid,
		Message: fmt.Sprintf("couldn't find process with PID %d. Is it running?", pid),
		Wrapped: wrapped,
	}
}

// ClassifyOpenError turns a raw failure from opening a target process (e.g.
// target.OpenLinux's initial liveness probe) into the NoSuchProcess /
// PermissionDenied taxonomy Bootstrap switches on.
func ClassifyOpenError(pid int, err error) *Error {
	if errors.Is(err, os.ErrNotExist) {
		return noSuchProcess(pid, err)
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return permissionDenied(pid, err)
	}
	return noSuchProcess(pid, err)
}

func permissionDenied(pid int, wrapped error) *Error {
	return &Error{
		Kind: KindPermissionDenied,
		PID:  pid,
		Message: "permission denied reading target memory. If you are running rbprof as a " +
			"normal (non-root) user, try again with sudo. In a container, grant the " +
			"SYS_PTRACE capability",
		Wrapped: wrapped,
	}
}
