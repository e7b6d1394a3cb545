package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/houzin/scp-explorer/internal/retry"
)

func TestError_ConflictCarriesWarningPrefix(t *testing.T) {
	err := Conflictf("mkdir", "/srv/data", "A file with the same name already exists at the target path: %s", "/srv/data")
	if !strings.HasPrefix(err.Error(), WarningPrefix) {
		t.Fatalf("conflict lost its prefix: %q", err.Error())
	}

	wrapped := fmt.Errorf("upload failed: %w", err)
	if !IsWarning(wrapped) || !IsConflict(wrapped) {
		t.Error("wrapping lost the conflict classification")
	}

	withPath := WithPath(err, "/other")
	if withPath != error(err) {
		t.Error("WithPath should keep an error that already names a path")
	}
}

func TestWithPath_NoDoublePrefix(t *testing.T) {
	inner := &Error{Kind: KindConflict, Msg: "Path already exists"}
	err := WithPath(inner, "/a/b")
	if got := err.Error(); got != "Warning: /a/b: Path already exists" {
		t.Errorf("unexpected message %q", got)
	}
	if KindOf(err) != KindConflict {
		t.Errorf("expected conflict kind, got %s", KindOf(err))
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not exist", os.ErrNotExist, KindNotFound},
		{"no such file text", errors.New("ls: cannot access '/x': No such file or directory"), KindNotFound},
		{"exists", os.ErrExist, KindConflict},
		{"file exists text", errors.New("mkdir: cannot create directory '/x': File exists"), KindConflict},
		{"subsystem", errors.New("ssh: subsystem request failed"), KindSubsystemUnavailable},
		{"reset", errors.New("read tcp: connection reset by peer"), KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"cancel", context.Canceled, KindCancelled},
		{"other", errors.New("permission denied"), KindFatal},
		{"missing helper", errors.New("bash: line 1: stat: command not found"), KindFatal},
		{"sftp not found", errors.New("sftp: \"file does not exist\" (SSH_FX_NO_SUCH_FILE): not found"), KindNotFound},
		{"sftp connection lost", errors.New("connection lost"), KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Wrap("op", "/p", tt.err)
			if KindOf(got) != tt.want {
				t.Errorf("Wrap(%v) kind = %s, want %s", tt.err, KindOf(got), tt.want)
			}
		})
	}
	if Wrap("op", "/p", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestWrap_DeadlineIsRetried(t *testing.T) {
	err := Wrap("list", "/x", context.DeadlineExceeded)
	if KindOf(err) != KindTransient {
		t.Fatalf("kind = %s, want transient", KindOf(err))
	}
	if !retry.IsTransient(err) {
		t.Error("a backend timeout must qualify for another attempt")
	}
	if retry.IsTransient(context.DeadlineExceeded) {
		t.Error("a bare context deadline must not be retried")
	}
	if retry.IsTransient(Wrap("stat", "/x", errors.New("sh: 1: wc: command not found"))) {
		t.Error("a missing remote helper must not be retried")
	}
}

func TestError_TransientHook(t *testing.T) {
	if !NewError(KindTransient, "list", "/", errors.New("x")).Transient() {
		t.Error("transient kind should report Transient()")
	}
	if NewError(KindNotFound, "list", "/", errors.New("x")).Transient() {
		t.Error("not-found kind should not report Transient()")
	}
}

func TestIsConnectionLost(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrNotConnected, true},
		{errors.New("write: broken pipe"), true},
		{errors.New("ECONNRESET"), true},
		{errors.New("connect ETIMEDOUT 10.0.0.2:22"), true},
		{errors.New("connection lost"), true},
		{errors.New("No such file"), false},
		{Conflictf("rename", "/a", "exists"), false},
	}
	for _, tt := range tests {
		if got := IsConnectionLost(tt.err); got != tt.want {
			t.Errorf("IsConnectionLost(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCancelled(t *testing.T) {
	err := Cancelled("upload", "/tmp/a")
	if !IsCancelled(err) || !errors.Is(err, context.Canceled) {
		t.Error("cancelled error should classify and unwrap to context.Canceled")
	}
	if err.Error() != "Transfer cancelled by user" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
