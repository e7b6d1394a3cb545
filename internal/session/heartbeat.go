package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/houzin/scp-explorer/internal/constants"
	"github.com/houzin/scp-explorer/internal/events"
	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/metrics"
	"github.com/houzin/scp-explorer/internal/remote"
)

// ProbeResult is the outcome of one heartbeat probe.
type ProbeResult int

const (
	// ProbeSkipped means no session was live or a probe was already running.
	ProbeSkipped ProbeResult = iota
	ProbeOK
	ProbeFailed
	// ProbeLost means this failure crossed the threshold and tore the session down.
	ProbeLost
)

// HeartbeatConfig tunes the liveness probe.
type HeartbeatConfig struct {
	Interval         time.Duration
	FailureThreshold int
	Timeout          time.Duration
	// Path returns the directory to list; empty means "/".
	Path func() string
	// OnLost is called once per lost session, after teardown.
	OnLost func(err error)
}

// DefaultHeartbeatConfig returns the standard interval and threshold.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:         constants.HeartbeatInterval,
		FailureThreshold: constants.HeartbeatFailureThreshold,
		Timeout:          constants.ListTimeout,
	}
}

// Heartbeat periodically lists a directory on the live session and tears
// the session down after FailureThreshold consecutive failures.
type Heartbeat struct {
	m      *Manager
	cfg    HeartbeatConfig
	bus    *events.EventBus
	logger *logging.Logger

	inFlight atomic.Bool

	stateMu  sync.Mutex
	failures int
	gen      uint64

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewHeartbeat creates a stopped heartbeat. bus may be nil.
func NewHeartbeat(m *Manager, cfg HeartbeatConfig, bus *events.EventBus, logger *logging.Logger) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = constants.HeartbeatInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = constants.HeartbeatFailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.ListTimeout
	}
	return &Heartbeat{m: m, cfg: cfg, bus: bus, logger: logger.Component("heartbeat")}
}

// Start begins probing on the configured interval.
func (h *Heartbeat) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return fmt.Errorf("heartbeat is already running")
	}
	h.running = true
	h.stopChan = make(chan struct{})

	h.logger.Debug().Dur("interval", h.cfg.Interval).Msg("Heartbeat starting")
	h.wg.Add(1)
	go h.loop(ctx, h.stopChan)
	return nil
}

// Stop halts probing and waits for the loop to exit. Safe to repeat.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopChan)
	h.mu.Unlock()

	h.wg.Wait()
	h.logger.Debug().Msg("Heartbeat stopped")
}

// Running reports whether the probe loop is active.
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *Heartbeat) loop(ctx context.Context, stop <-chan struct{}) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}

// Probe runs one liveness check. Concurrent calls are skipped rather than
// queued.
func (h *Heartbeat) Probe(ctx context.Context) (ProbeResult, error) {
	if !h.inFlight.CompareAndSwap(false, true) {
		return ProbeSkipped, nil
	}
	defer h.inFlight.Store(false)

	client, err := h.m.Client()
	if err != nil {
		return ProbeSkipped, err
	}

	path := "/"
	if h.cfg.Path != nil {
		if p := h.cfg.Path(); p != "" {
			path = p
		}
	}

	pctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	_, _, err = client.ListOrRoot(pctx, path)
	cancel()

	h.stateMu.Lock()
	if h.gen != client.Generation() {
		h.gen = client.Generation()
		h.failures = 0
	}
	if err == nil {
		h.failures = 0
		h.stateMu.Unlock()
		h.publish(true, 0, nil)
		return ProbeOK, nil
	}
	h.failures++
	failures := h.failures
	h.stateMu.Unlock()

	metrics.RecordHeartbeatFailure()
	h.publish(false, failures, err)
	h.logger.Warn().Err(err).Int("failures", failures).Msg("Heartbeat probe failed")

	if failures < h.cfg.FailureThreshold {
		return ProbeFailed, err
	}
	lost := &remote.Error{Kind: remote.KindTransient, Op: "heartbeat", Msg: "Connection lost: " + err.Error(), Err: err}
	if client.MarkLost(lost) {
		if h.cfg.OnLost != nil {
			h.cfg.OnLost(lost)
		}
		return ProbeLost, lost
	}
	return ProbeFailed, err
}

func (h *Heartbeat) publish(ok bool, failures int, err error) {
	if h.bus != nil {
		h.bus.PublishHeartbeat(ok, failures, err)
	}
}
