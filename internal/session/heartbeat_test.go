package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzin/scp-explorer/internal/events"
	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/remote"
)

func TestHeartbeat_TwoFailuresDisconnectOnce(t *testing.T) {
	f := &fakeFactory{}
	m, bus := newManager(t, f)
	states := bus.Subscribe(events.EventSessionState)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, testConfig()))
	f.last().Fail = func(op, path string) error { return errors.New("read: connection reset by peer") }

	var lost atomic.Int32
	hb := NewHeartbeat(m, HeartbeatConfig{
		FailureThreshold: 2,
		OnLost:           func(error) { lost.Add(1) },
	}, bus, logging.NewNopLogger())

	res, err := hb.Probe(ctx)
	assert.Equal(t, ProbeFailed, res)
	assert.Error(t, err)
	assert.True(t, m.Connected(), "one failure keeps the session")

	res, err = hb.Probe(ctx)
	assert.Equal(t, ProbeLost, res)
	assert.True(t, remote.IsConnectionLost(err))
	assert.False(t, m.Connected())

	res, _ = hb.Probe(ctx)
	assert.Equal(t, ProbeSkipped, res)

	assert.Equal(t, int32(1), lost.Load())
	assert.Equal(t, 1, countDisconnected(states))
}

func TestHeartbeat_SuccessResetsFailures(t *testing.T) {
	f := &fakeFactory{}
	m, _ := newManager(t, f)
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, testConfig()))

	var failing atomic.Bool
	f.last().Fail = func(op, path string) error {
		if failing.Load() {
			return errors.New("connection closed")
		}
		return nil
	}
	hb := NewHeartbeat(m, HeartbeatConfig{FailureThreshold: 2}, nil, logging.NewNopLogger())

	failing.Store(true)
	res, _ := hb.Probe(ctx)
	assert.Equal(t, ProbeFailed, res)

	failing.Store(false)
	res, _ = hb.Probe(ctx)
	assert.Equal(t, ProbeOK, res)

	failing.Store(true)
	res, _ = hb.Probe(ctx)
	assert.Equal(t, ProbeFailed, res, "counter restarted after a success")
	assert.True(t, m.Connected())
}

func TestHeartbeat_ProbesCurrentPath(t *testing.T) {
	f := &fakeFactory{}
	m, _ := newManager(t, f)
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, testConfig()))

	var probed atomic.Value
	f.last().Fail = func(op, path string) error {
		probed.Store(path)
		return nil
	}
	hb := NewHeartbeat(m, HeartbeatConfig{Path: func() string { return "/home/deploy" }}, nil, logging.NewNopLogger())

	res, err := hb.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, ProbeOK, res)
	assert.Equal(t, "/home/deploy", probed.Load())
}

func TestHeartbeat_StartStop(t *testing.T) {
	f := &fakeFactory{}
	m, _ := newManager(t, f)
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, testConfig()))
	f.last().Fail = func(op, path string) error { return errors.New("connection reset") }

	lost := make(chan struct{}, 4)
	hb := NewHeartbeat(m, HeartbeatConfig{
		Interval:         5 * time.Millisecond,
		FailureThreshold: 2,
		OnLost:           func(error) { lost <- struct{}{} },
	}, nil, logging.NewNopLogger())

	require.NoError(t, hb.Start(ctx))
	assert.Error(t, hb.Start(ctx))
	assert.True(t, hb.Running())

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat never declared the session lost")
	}
	hb.Stop()
	hb.Stop()
	assert.False(t, hb.Running())
	assert.False(t, m.Connected())
	assert.Len(t, lost, 0, "loss reported once")
}
