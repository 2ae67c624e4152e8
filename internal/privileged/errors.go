package privileged

import (
	"errors"
	"fmt"
)

// Kind classifies a privileged execution failure.
type Kind int

const (
	// KindBackendUnavailable means the selected backend is not reachable:
	// daemon down, binary absent, superuser not grantable, or timed out.
	KindBackendUnavailable Kind = iota + 1
	// KindPermissionDenied means the backend is reachable but the required
	// permission is not held.
	KindPermissionDenied
	// KindCommandFailed means the command ran and reported a nonzero exit
	// with diagnostic output.
	KindCommandFailed
	// KindUnsupportedAccessor means the item's accessor cannot be served by
	// the requested path.
	KindUnsupportedAccessor
	// KindIOFailure means the subprocess could not be spawned or its streams
	// could not be read.
	KindIOFailure
)

var (
	ErrBackendUnavailable  = errors.New("backend unavailable")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrCommandFailed       = errors.New("command failed")
	ErrUnsupportedAccessor = errors.New("unsupported accessor")
	ErrIOFailure           = errors.New("io failure")
)

func (k Kind) sentinel() error {
	switch k {
	case KindBackendUnavailable:
		return ErrBackendUnavailable
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindCommandFailed:
		return ErrCommandFailed
	case KindUnsupportedAccessor:
		return ErrUnsupportedAccessor
	case KindIOFailure:
		return ErrIOFailure
	}
	return nil
}

func (k Kind) String() string {
	switch k {
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindPermissionDenied:
		return "permission_denied"
	case KindCommandFailed:
		return "command_failed"
	case KindUnsupportedAccessor:
		return "unsupported_accessor"
	case KindIOFailure:
		return "io_failure"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the failure type returned by every privileged path. It matches the
// Err* sentinels with errors.Is.
type Error struct {
	Kind     Kind
	Backend  string
	ExitCode int
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}
	if e.Kind == KindCommandFailed && e.ExitCode != 0 {
		msg = fmt.Sprintf("%s exit %d: %s", e.Backend, e.ExitCode, e.Detail)
	} else if e.Backend != "" {
		msg = e.Backend + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func newError(kind Kind, backend, detail string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Detail: detail, Err: err}
}

// Unsupported reports an accessor that cannot be served by the requested path.
func Unsupported(detail string) error {
	return newError(KindUnsupportedAccessor, "", detail, nil)
}

// Denied reports a missing permission on a reachable channel.
func Denied(backend, detail string) error {
	return newError(KindPermissionDenied, backend, detail, nil)
}

// Failed reports a command that ran and was rejected.
func Failed(backend string, exitCode int, detail string) error {
	return &Error{Kind: KindCommandFailed, Backend: backend, ExitCode: exitCode, Detail: detail}
}

// KindOf returns the failure kind of err, or 0 when err is not a privileged error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
