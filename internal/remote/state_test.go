package remote

import (
	"errors"
	"testing"
)

func TestLifecycle(t *testing.T) {
	var l Lifecycle
	if l.State() != StateDisconnected {
		t.Fatalf("zero value should be disconnected, got %s", l.State())
	}
	if err := l.Connected(); err == nil {
		t.Error("connected without connecting should fail")
	}
	if err := l.BeginConnect(); err != nil {
		t.Fatalf("BeginConnect: %v", err)
	}
	if err := l.BeginConnect(); err == nil {
		t.Error("second BeginConnect should fail")
	}
	if err := l.Connected(); err != nil {
		t.Fatalf("Connected: %v", err)
	}
	if err := l.RequireConnected(); err != nil {
		t.Errorf("RequireConnected: %v", err)
	}
	if prev := l.Reset(); prev != StateConnected {
		t.Errorf("Reset returned %s", prev)
	}
	if err := l.RequireConnected(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

type fakeStream struct {
	aborted int
	err     error
}

func (f *fakeStream) Abort() error {
	f.aborted++
	return f.err
}

func TestStreamTracker_AbortAll(t *testing.T) {
	var tr StreamTracker
	a := &fakeStream{}
	b := &fakeStream{err: errors.New("boom")}
	c := &fakeStream{}

	tr.Track(a)
	tr.Track(b)
	release := tr.Track(c)
	release()

	if tr.Len() != 2 {
		t.Fatalf("expected 2 tracked streams, got %d", tr.Len())
	}

	err := tr.AbortAll()
	if err == nil {
		t.Error("expected aggregated abort error")
	}
	if a.aborted != 1 || b.aborted != 1 || c.aborted != 0 {
		t.Errorf("unexpected abort counts a=%d b=%d c=%d", a.aborted, b.aborted, c.aborted)
	}
	if tr.Len() != 0 {
		t.Error("tracker should be empty after AbortAll")
	}
	if err := tr.AbortAll(); err != nil {
		t.Errorf("second AbortAll should be a no-op, got %v", err)
	}
}
