package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzin/scp-explorer/internal/events"
	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/remote/remotetest"
)

// fakeFactory records every backend it hands out.
type fakeFactory struct {
	mu       sync.Mutex
	created  []*remotetest.Backend
	failWith map[remote.ClientType]error
}

func (f *fakeFactory) New(kind remote.ClientType) (remote.Backend, error) {
	b := remotetest.New(kind)
	b.AddDir("/home/deploy")
	if err := f.failWith[kind]; err != nil {
		b.ConnectErr = func(remote.Config) error { return err }
	}
	f.mu.Lock()
	f.created = append(f.created, b)
	f.mu.Unlock()
	return b, nil
}

func (f *fakeFactory) last() *remotetest.Backend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[len(f.created)-1]
}

func testConfig() remote.Config {
	return remote.Config{Host: "files.example.com", Username: "deploy", AuthType: remote.AuthPassword, Password: "pw"}
}

func newManager(t *testing.T, f *fakeFactory) (*Manager, *events.EventBus) {
	t.Helper()
	bus := events.NewEventBus(100)
	t.Cleanup(bus.Close)
	return NewManager(f.New, bus, logging.NewNopLogger()), bus
}

func TestManager_ConnectDefaultsToNative(t *testing.T) {
	f := &fakeFactory{}
	m, _ := newManager(t, f)

	require.NoError(t, m.Connect(context.Background(), testConfig()))
	assert.True(t, m.Connected())
	assert.Equal(t, remote.ClientNative, m.ClientType())

	h, err := m.Client()
	require.NoError(t, err)
	entries, err := h.List(context.Background(), "/home")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "deploy", entries[0].Name)
}

func TestManager_ClientRequiresConnection(t *testing.T) {
	m, _ := newManager(t, &fakeFactory{})
	_, err := m.Client()
	assert.ErrorIs(t, err, remote.ErrNotConnected)
	assert.Equal(t, remote.ClientType(""), m.ClientType())
	assert.NoError(t, m.Disconnect())
}

func TestManager_ReconnectTearsDownPrevious(t *testing.T) {
	f := &fakeFactory{}
	m, _ := newManager(t, f)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, testConfig()))
	first := f.last()
	old, err := m.Client()
	require.NoError(t, err)

	cfg := testConfig()
	cfg.ClientType = remote.ClientCommandLine
	require.NoError(t, m.Connect(ctx, cfg))

	assert.Equal(t, remote.StateDisconnected, first.State(), "previous backend is fully torn down")
	assert.Equal(t, remote.ClientCommandLine, m.ClientType())

	_, err = old.List(ctx, "/")
	assert.ErrorIs(t, err, ErrStaleHandle)
	assert.ErrorIs(t, old.Mkdir(ctx, "/x"), ErrStaleHandle)

	fresh, err := m.Client()
	require.NoError(t, err)
	_, err = fresh.List(ctx, "/")
	assert.NoError(t, err)
}

func TestManager_SubsystemFallback(t *testing.T) {
	subsystemErr := remote.Wrap("connect", "", errors.New("ssh: subsystem request failed"))
	f := &fakeFactory{failWith: map[remote.ClientType]error{remote.ClientNative: subsystemErr}}
	m, _ := newManager(t, f)
	ctx := context.Background()

	err := m.Connect(ctx, testConfig())
	require.Error(t, err)
	fe, ok := IsFallback(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, remote.ClientCommandLine, fe.Suggested)
	assert.True(t, remote.IsSubsystemUnavailable(err))
	assert.False(t, m.Connected())

	require.NoError(t, m.ReconnectWith(ctx, fe.Suggested))
	assert.Equal(t, remote.ClientCommandLine, m.ClientType())

	cfg := f.last().LastConfig()
	assert.Equal(t, "files.example.com", cfg.Host)
	assert.Equal(t, "deploy", cfg.Username)
	assert.Equal(t, "pw", cfg.Password)
}

func TestManager_OtherConnectErrorsAreNotFallback(t *testing.T) {
	authErr := &remote.Error{Kind: remote.KindFatal, Msg: "SSH authentication failed: bad password"}
	f := &fakeFactory{failWith: map[remote.ClientType]error{remote.ClientNative: authErr}}
	m, _ := newManager(t, f)

	err := m.Connect(context.Background(), testConfig())
	require.Error(t, err)
	_, ok := IsFallback(err)
	assert.False(t, ok)
}

func TestManager_ReconnectWithoutHistory(t *testing.T) {
	m, _ := newManager(t, &fakeFactory{})
	err := m.ReconnectWith(context.Background(), remote.ClientCommandLine)
	assert.Equal(t, remote.KindConfig, remote.KindOf(err))
}

func TestManager_MarkLostOnce(t *testing.T) {
	f := &fakeFactory{}
	m, bus := newManager(t, f)
	states := bus.Subscribe(events.EventSessionState)

	require.NoError(t, m.Connect(context.Background(), testConfig()))
	h, err := m.Client()
	require.NoError(t, err)

	var wg sync.WaitGroup
	var teardowns atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.MarkLost(errors.New("connection reset by peer")) {
				teardowns.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), teardowns.Load())
	assert.False(t, m.Connected())
	assert.Equal(t, 1, countDisconnected(states))
}

func countDisconnected(ch <-chan events.Event) int {
	n := 0
	for {
		select {
		case ev := <-ch:
			if s := ev.(*events.SessionStateEvent); s.OldState == "connected" && s.NewState == "disconnected" {
				n++
			}
		case <-time.After(50 * time.Millisecond):
			return n
		}
	}
}

func TestIsLoss(t *testing.T) {
	ev := func(from, to, reason string) *events.SessionStateEvent {
		return &events.SessionStateEvent{OldState: from, NewState: to, Reason: reason}
	}
	assert.True(t, IsLoss(ev("connected", "disconnected", "read: connection reset by peer")))
	assert.False(t, IsLoss(ev("connected", "disconnected", ReasonUser)))
	assert.False(t, IsLoss(ev("connected", "disconnected", ReasonReplaced)))
	assert.False(t, IsLoss(ev("connecting", "disconnected", "auth failed")))
}
