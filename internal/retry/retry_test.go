package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type classified struct {
	transient bool
}

func (c classified) Error() string   { return "classified error" }
func (c classified) Transient() bool { return c.transient }

// timeout is a backend timeout that classifies itself as transient.
type timeout struct{}

func (timeout) Error() string   { return "list timed out" }
func (timeout) Transient() bool { return true }
func (timeout) Unwrap() error   { return context.DeadlineExceeded }

// TestDo_Success verifies basic success case returns nil on first attempt.
func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}, "list", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

// TestDo_TransientThenSuccess verifies backoff lower bounds between attempts.
func TestDo_TransientThenSuccess(t *testing.T) {
	base := 40 * time.Millisecond
	var stamps []time.Time

	got, err := DoValue(context.Background(), Policy{MaxAttempts: 3, BaseDelay: base}, "stat", func(context.Context) (string, error) {
		stamps = append(stamps, time.Now())
		if len(stamps) < 3 {
			return "", fmt.Errorf("read: Connection reset by peer")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected result 'ok', got %q", got)
	}
	if len(stamps) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(stamps))
	}
	if gap := stamps[1].Sub(stamps[0]); gap < base {
		t.Errorf("first retry waited %v, want >= %v", gap, base)
	}
	if gap := stamps[2].Sub(stamps[1]); gap < 2*base {
		t.Errorf("second retry waited %v, want >= %v", gap, 2*base)
	}
}

// TestDo_NonTransientError verifies no retry on non-transient errors.
func TestDo_NonTransientError(t *testing.T) {
	calls := 0
	sentinel := errors.New("permission denied")
	err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond}, "mkdir", func(context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retry on fatal), got %d", calls)
	}
}

// TestDo_Exhausted verifies the final error carries the attempt count.
func TestDo_Exhausted(t *testing.T) {
	calls := 0
	var retries []int
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		OnRetry: func(name string, attempt int, err error, delay time.Duration) {
			retries = append(retries, attempt)
		},
	}
	cause := errors.New("kex_exchange_identification: Connection closed by remote host")
	err := Do(context.Background(), p, "scp upload", func(context.Context) error {
		calls++
		return cause
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "scp upload failed after 3 attempts") {
		t.Errorf("missing attempt context: %v", err)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("unexpected OnRetry attempts: %v", retries)
	}
}

// TestDo_ContextCancelledDuringSleep verifies retry returns quickly when context cancelled.
func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 5, BaseDelay: 5 * time.Second}, "list", func(context.Context) error {
		calls++
		return fmt.Errorf("connection reset")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("retry did not return promptly after cancel: %v", elapsed)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorTypeSuccess},
		{"reset", errors.New("ECONNRESET: connection reset by peer"), ErrorTypeTransient},
		{"closed", errors.New("Connection closed by 10.0.0.1 port 22"), ErrorTypeTransient},
		{"kex", errors.New("kex_exchange_identification: read: Connection reset"), ErrorTypeTransient},
		{"permission", errors.New("permission denied"), ErrorTypeFatal},
		{"not found", errors.New("No such file or directory"), ErrorTypeFatal},
		{"structured transient", classified{transient: true}, ErrorTypeTransient},
		{"structured fatal", fmt.Errorf("wrapped: %w", classified{transient: false}), ErrorTypeFatal},
		{"context", fmt.Errorf("connection reset: %w", context.Canceled), ErrorTypeFatal},
		{"bare deadline", context.DeadlineExceeded, ErrorTypeFatal},
		{"backend timeout", fmt.Errorf("list /x: %w", timeout{}), ErrorTypeTransient},
		{"sftp connection lost", errors.New("connection lost"), ErrorTypeFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", ErrorTypeName(got), ErrorTypeName(tt.want))
			}
		})
	}
}

func TestDelay(t *testing.T) {
	base := 2 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := Delay(base, tt.attempt); got != tt.want {
			t.Errorf("Delay(%v, %d) = %v, want %v", base, tt.attempt, got, tt.want)
		}
	}
}
