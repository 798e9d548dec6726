package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindsMatchWithErrorsIs(t *testing.T) {
	cause := errors.New("exit status 128")

	tests := []struct {
		name string
		err  error
		kind error
		msg  string
	}{
		{
			name: "precondition",
			err:  Preconditionf("identity", "email %q not allowed", "x@y.z"),
			kind: ErrPrecondition,
			msg:  `identity: precondition failed: email "x@y.z" not allowed`,
		},
		{
			name: "executor",
			err:  Executor("git commit", cause),
			kind: ErrExecutor,
			msg:  "git commit: repository executor failed: exit status 128",
		},
		{
			name: "corrupt",
			err:  Corrupt("snapshot", "line %d", 3),
			kind: ErrSnapshotCorrupt,
			msg:  "snapshot: snapshot corrupt: line 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.kind)
			}
			wrapped := fmt.Errorf("day 2022-06-13: %w", tt.err)
			if !errors.Is(wrapped, tt.kind) {
				t.Errorf("kind lost through wrapping: %v", wrapped)
			}
			if got := tt.err.Error(); got != tt.msg {
				t.Errorf("Error() = %q, want %q", got, tt.msg)
			}
		})
	}
}

func TestExecutorUnwrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Executor("git push", cause)
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable via errors.Is")
	}
	if errors.Is(err, ErrPrecondition) {
		t.Error("executor error must not match ErrPrecondition")
	}
}
