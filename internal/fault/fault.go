package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition marks fatal setup failures raised before any mutation:
	// missing or disallowed identity, malformed date range, bad action bounds.
	ErrPrecondition = errors.New("precondition failed")
	// ErrExecutor marks a failed commit or push against the real repository.
	ErrExecutor = errors.New("repository executor failed")
	// ErrSnapshotCorrupt marks an unreadable or malformed snapshot. Callers
	// treat it as an empty snapshot.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")
)

// Error carries one of the sentinel kinds plus the failing operation.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the sentinel kind. The cause stays reachable through Unwrap.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// Preconditionf builds an ErrPrecondition error
func Preconditionf(op, format string, args ...any) error {
	return &Error{Kind: ErrPrecondition, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Executor wraps a repository failure
func Executor(op string, err error) error {
	return &Error{Kind: ErrExecutor, Op: op, Err: err}
}

// Corrupt builds an ErrSnapshotCorrupt error
func Corrupt(op, format string, args ...any) error {
	return &Error{Kind: ErrSnapshotCorrupt, Op: op, Msg: fmt.Sprintf(format, args...)}
}
