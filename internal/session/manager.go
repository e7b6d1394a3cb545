// Package session owns the single live remote backend. Every connect or
// teardown bumps a generation counter, and handles obtained from an older
// generation refuse to run.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/houzin/scp-explorer/internal/events"
	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/metrics"
	"github.com/houzin/scp-explorer/internal/remote"
)

// Teardown reasons carried by session state events.
const (
	ReasonUser     = "user"
	ReasonReplaced = "replaced"
	ReasonLost     = "lost"
)

// IsLoss reports whether ev is a live session being dropped after a
// connection loss rather than by the user or a new connect.
func IsLoss(ev *events.SessionStateEvent) bool {
	return ev.OldState == remote.StateConnected.String() &&
		ev.NewState == remote.StateDisconnected.String() &&
		ev.Reason != ReasonUser && ev.Reason != ReasonReplaced
}

// Factory creates a disconnected backend of the given kind.
type Factory func(kind remote.ClientType) (remote.Backend, error)

// ErrStaleHandle is returned by a Handle whose session has been replaced
// or torn down.
var ErrStaleHandle = &remote.Error{Kind: remote.KindFatal, Msg: "Session was closed or replaced by a new connection"}

// FallbackError reports that the native backend cannot be used on this
// server. The manager keeps the config, so ReconnectWith(Suggested) is
// enough to retry.
type FallbackError struct {
	Err       error
	Suggested remote.ClientType
}

func (e *FallbackError) Error() string { return e.Err.Error() }
func (e *FallbackError) Unwrap() error { return e.Err }

// IsFallback reports whether err offers a switch to another client type.
func IsFallback(err error) (*FallbackError, bool) {
	var fe *FallbackError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Manager holds at most one live backend.
type Manager struct {
	factory Factory
	bus     *events.EventBus
	logger  *logging.Logger

	// connectMu serializes Connect and Disconnect; mu guards the fields.
	connectMu sync.Mutex
	mu        sync.Mutex
	backend   remote.Backend
	kind      remote.ClientType
	cfg       remote.Config
	hasCfg    bool
	gen       uint64
}

// NewManager creates a manager. bus may be nil.
func NewManager(factory Factory, bus *events.EventBus, logger *logging.Logger) *Manager {
	return &Manager{factory: factory, bus: bus, logger: logger.Component("session")}
}

// Connect tears down any existing session and connects a new backend of
// cfg.ClientType (native when empty). A native backend that cannot open
// the sftp subsystem yields a *FallbackError.
func (m *Manager) Connect(ctx context.Context, cfg remote.Config) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.teardown(ReasonReplaced, nil)

	kind := cfg.ClientType
	if kind == "" {
		kind = remote.ClientNative
	}
	cfg.ClientType = kind

	m.mu.Lock()
	m.cfg, m.hasCfg = cfg, true
	m.mu.Unlock()

	b, err := m.factory(kind)
	if err != nil {
		return err
	}
	m.publishState(remote.StateDisconnected, remote.StateConnecting, kind, cfg.Host, "")

	if err := b.Connect(ctx, cfg); err != nil {
		_ = b.Disconnect()
		metrics.RecordConnect(string(kind), false)
		m.publishState(remote.StateConnecting, remote.StateDisconnected, kind, cfg.Host, err.Error())
		m.logger.Warn().Err(err).Str("client", string(kind)).Str("host", cfg.Host).Msg("Connection failed")

		if kind == remote.ClientNative && remote.IsSubsystemUnavailable(err) {
			return &FallbackError{Err: err, Suggested: remote.ClientCommandLine}
		}
		return err
	}

	m.mu.Lock()
	m.backend = b
	m.kind = kind
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	metrics.RecordConnect(string(kind), true)
	m.publishState(remote.StateConnecting, remote.StateConnected, kind, cfg.Host, "")
	m.logger.Info().Str("client", string(kind)).Str("host", cfg.Host).Uint64("generation", gen).Msg("Connected")
	return nil
}

// ReconnectWith connects again with the last config and a different
// client type.
func (m *Manager) ReconnectWith(ctx context.Context, kind remote.ClientType) error {
	m.mu.Lock()
	cfg, ok := m.cfg, m.hasCfg
	m.mu.Unlock()
	if !ok {
		return remote.ConfigErrorf("No previous connection to retry")
	}
	cfg.ClientType = kind
	return m.Connect(ctx, cfg)
}

// LastConfig returns the config of the most recent connect attempt.
func (m *Manager) LastConfig() (remote.Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg, m.hasCfg
}

// Disconnect tears down the session. Safe when not connected.
func (m *Manager) Disconnect() error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	return m.teardown(ReasonUser, nil)
}

// MarkLost tears down the session of generation gen after a connection
// loss. It reports whether this call performed the teardown; later calls
// for the same generation are no-ops.
func (m *Manager) MarkLost(gen uint64, cause error) bool {
	m.mu.Lock()
	current := m.backend != nil && m.gen == gen
	m.mu.Unlock()
	if !current {
		return false
	}

	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	m.mu.Lock()
	current = m.backend != nil && m.gen == gen
	m.mu.Unlock()
	if !current {
		return false
	}
	m.logger.Warn().Err(cause).Uint64("generation", gen).Msg("Connection lost")
	_ = m.teardown(ReasonLost, cause)
	return true
}

// teardown disconnects the live backend, if any. Caller holds connectMu.
func (m *Manager) teardown(reason string, cause error) error {
	m.mu.Lock()
	b, kind := m.backend, m.kind
	m.backend = nil
	if b != nil {
		m.gen++
	}
	m.mu.Unlock()
	if b == nil {
		return nil
	}

	err := b.Disconnect()
	if err != nil {
		m.logger.Debug().Err(err).Msg("Errors while closing session")
	}
	metrics.RecordDisconnect(reason)

	msg := reason
	if cause != nil {
		msg = cause.Error()
	}
	m.mu.Lock()
	host := m.cfg.Host
	m.mu.Unlock()
	m.publishState(remote.StateConnected, remote.StateDisconnected, kind, host, msg)
	return err
}

func (m *Manager) publishState(from, to remote.State, kind remote.ClientType, host, reason string) {
	if m.bus == nil {
		return
	}
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	m.bus.PublishSessionState(from.String(), to.String(), string(kind), host, gen, reason)
}

// Connected reports whether a backend is live.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend != nil
}

// ClientType returns the kind of the live backend, or "" when disconnected.
func (m *Manager) ClientType() remote.ClientType {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend == nil {
		return ""
	}
	return m.kind
}

// Generation returns the current session generation.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// Client returns a handle to the live backend.
func (m *Manager) Client() (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend == nil {
		return nil, remote.ErrNotConnected
	}
	return &Handle{m: m, b: m.backend, gen: m.gen}, nil
}
