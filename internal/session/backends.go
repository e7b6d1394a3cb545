package session

import (
	"time"

	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/metrics"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/remote/scpcli"
	"github.com/houzin/scp-explorer/internal/remote/sftpnative"
	"github.com/houzin/scp-explorer/internal/retry"
)

// BackendFactory returns a Factory that builds the real native and
// command-line backends with the given retry policy. Retries are logged
// and counted.
func BackendFactory(logger *logging.Logger, policy retry.Policy) Factory {
	log := logger.Component("retry")
	policy.OnRetry = func(name string, attempt int, err error, delay time.Duration) {
		metrics.RecordRetry(name)
		log.Warn().Err(err).Str("operation", name).Int("attempt", attempt).Dur("delay", delay).Msg("Retrying")
	}

	return func(kind remote.ClientType) (remote.Backend, error) {
		switch kind {
		case remote.ClientNative, "":
			opts := sftpnative.DefaultOptions()
			opts.Retry = policy
			return sftpnative.New(logger, opts), nil
		case remote.ClientCommandLine:
			opts := scpcli.DefaultOptions()
			opts.Retry = policy
			return scpcli.New(logger, opts), nil
		}
		return nil, remote.ConfigErrorf("Unknown client type: %s", kind)
	}
}
