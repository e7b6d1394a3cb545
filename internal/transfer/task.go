// Package transfer copies files and directory trees between the local
// filesystem and the live remote session, one unit at a time, with
// per-file progress and cooperative cancellation.
package transfer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Direction is upload (local to remote) or download (remote to local).
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// TaskState represents the current state of a transfer task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"    // Created, first unit not started
	TaskActive    TaskState = "active"    // Copying
	TaskCompleted TaskState = "completed" // Every unit finished
	TaskFailed    TaskState = "failed"    // Aborted by an error
	TaskCancelled TaskState = "cancelled" // Aborted by the user
)

// TransferTask is one upload or download request covering one or more
// source paths. Thread-safe: use the provided methods to update state.
type TransferTask struct {
	ID        string
	Direction Direction
	Sources   []string
	Dest      string

	State       TaskState
	CurrentFile string  // Unit being copied
	Progress    float64 // Percent of CurrentFile, 0 to 100
	Bytes       int64   // Bytes copied across all units
	Units       int     // Units finished
	Speed       float64 // bytes/sec, EMA smoothed
	Error       error

	lastBytes      int64
	lastUpdateTime time.Time

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// NewTransferTask creates a queued task whose context derives from parent.
func NewTransferTask(parent context.Context, dir Direction, sources []string, dest string) *TransferTask {
	ctx, cancel := context.WithCancel(parent)
	return &TransferTask{
		ID:        uuid.NewString(),
		Direction: dir,
		Sources:   append([]string(nil), sources...),
		Dest:      dest,
		State:     TaskQueued,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// GetState returns the current state (thread-safe).
func (t *TransferTask) GetState() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.State
}

// SetState updates the task state (thread-safe).
func (t *TransferTask) SetState(state TaskState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setStateLocked(state)
}

func (t *TransferTask) setStateLocked(state TaskState) {
	t.State = state
	if state == TaskActive && t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	if state == TaskCompleted || state == TaskFailed || state == TaskCancelled {
		t.CompletedAt = time.Now()
	}
}

// updateFile records progress on the current unit. delta is the number of
// bytes copied since the previous call.
func (t *TransferTask) updateFile(name string, percent float64, delta int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.CurrentFile = name
	t.Progress = percent
	t.Bytes += delta

	now := time.Now()
	if t.lastUpdateTime.IsZero() {
		t.lastUpdateTime = now
		t.lastBytes = t.Bytes
		return
	}
	// Need at least 100ms between samples for a meaningful rate.
	elapsed := now.Sub(t.lastUpdateTime).Seconds()
	if elapsed > 0.1 && t.Bytes > t.lastBytes {
		instantRate := float64(t.Bytes-t.lastBytes) / elapsed
		const speedSmoothingAlpha = 0.25
		if t.Speed > 0 {
			t.Speed = speedSmoothingAlpha*instantRate + (1-speedSmoothingAlpha)*t.Speed
		} else {
			t.Speed = instantRate
		}
		t.lastBytes = t.Bytes
		t.lastUpdateTime = now
	}
}

func (t *TransferTask) unitDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Units++
}

// GetError returns the error if any (thread-safe).
func (t *TransferTask) GetError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Error
}

// Cancel sets the cancellation flag and cancels the task context. The
// copy loop observes it at the next chunk or unit boundary.
func (t *TransferTask) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// Cancelled reports whether Cancel was called.
func (t *TransferTask) Cancelled() bool {
	return t.cancelled.Load()
}

// Context returns the task's context for cancellation checking.
func (t *TransferTask) Context() context.Context {
	return t.ctx
}

// Clone returns a copy of the task's public fields.
func (t *TransferTask) Clone() TransferTask {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TransferTask{
		ID:          t.ID,
		Direction:   t.Direction,
		Sources:     append([]string(nil), t.Sources...),
		Dest:        t.Dest,
		State:       t.State,
		CurrentFile: t.CurrentFile,
		Progress:    t.Progress,
		Bytes:       t.Bytes,
		Units:       t.Units,
		Speed:       t.Speed,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}

// IsTerminal returns true if the task is completed, failed or cancelled.
func (t *TransferTask) IsTerminal() bool {
	state := t.GetState()
	return state == TaskCompleted || state == TaskFailed || state == TaskCancelled
}
