// Package metrics provides Prometheus metrics for sessions and transfers.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scp_explorer_transfers_total",
			Help: "Transfer tasks by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	transferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scp_explorer_transfer_bytes_total",
			Help: "Bytes copied by transfers",
		},
		[]string{"direction"},
	)

	transferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scp_explorer_transfer_duration_seconds",
			Help:    "Transfer task duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"direction"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scp_explorer_retries_total",
			Help: "Retried remote operations",
		},
		[]string{"operation"},
	)

	connectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scp_explorer_connects_total",
			Help: "Connection attempts by client type and result",
		},
		[]string{"client", "result"},
	)

	disconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scp_explorer_disconnects_total",
			Help: "Session teardowns by reason",
		},
		[]string{"reason"},
	)

	heartbeatFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scp_explorer_heartbeat_failures_total",
			Help: "Failed heartbeat probes",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RecordTransfer records a finished transfer task.
func RecordTransfer(direction, outcome string, bytes int64, duration time.Duration) {
	transfersTotal.WithLabelValues(direction, outcome).Inc()
	transferBytes.WithLabelValues(direction).Add(float64(bytes))
	transferDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// RecordRetry records one retried attempt of operation.
func RecordRetry(operation string) {
	retriesTotal.WithLabelValues(operation).Inc()
}

// RecordConnect records a connection attempt.
func RecordConnect(client string, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	connectsTotal.WithLabelValues(client, result).Inc()
}

// RecordDisconnect records a session teardown. Reason is "user", "replaced" or "lost".
func RecordDisconnect(reason string) {
	disconnectsTotal.WithLabelValues(reason).Inc()
}

// RecordHeartbeatFailure records a failed probe.
func RecordHeartbeatFailure() {
	heartbeatFailures.Inc()
}
