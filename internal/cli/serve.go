package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/houzin/scp-explorer/internal/metrics"
	"github.com/houzin/scp-explorer/internal/notify"
	"github.com/houzin/scp-explorer/internal/panel"
	"github.com/houzin/scp-explorer/internal/session"
)

// newServeCmd creates the 'serve' command.
func newServeCmd() *cobra.Command {
	var (
		heartbeat     bool
		metricsListen string
		notifications bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the file-explorer panel protocol on stdin/stdout",
		Long: `Read newline-delimited JSON requests on stdin and write newline-delimited
JSON events on stdout, for a file-explorer front-end hosted in another
process. Logs go to stderr.

Example:
  {"type":"connect","host":"example.com","username":"me","authType":"agent"}
  {"type":"listFiles","path":"/home/me"}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg := GetConfig()
			log := GetLogger()

			if !cmd.Flags().Changed("heartbeat") {
				heartbeat = cfg.Heartbeat.Enabled
			}
			if !cmd.Flags().Changed("notifications") {
				notifications = cfg.Notifications.Enabled
			}
			if metricsListen == "" && cfg.Metrics.Enabled {
				metricsListen = cfg.Metrics.Listen
			}

			s := newStack()
			defer s.Close()

			prep, err := newPreparer(s.bus)
			if err != nil {
				return err
			}

			hbCfg := session.DefaultHeartbeatConfig()
			hbCfg.Interval = cfg.Heartbeat.Interval
			hbCfg.FailureThreshold = cfg.Heartbeat.FailureThreshold
			hbCfg.Path = s.files.CurrentPath

			if metricsListen != "" {
				go func() {
					if err := metrics.Serve(ctx, metricsListen); err != nil {
						log.Warn().Err(err).Str("listen", metricsListen).Msg("Metrics endpoint stopped")
					}
				}()
				log.Info().Str("listen", metricsListen).Msg("Serving metrics")
			}
			if notifications {
				notify.NewNotifier(true, log).Watch(ctx, s.bus)
			}

			srv := panel.NewServer(panel.Options{
				Files:            s.files,
				Bus:              s.bus,
				Heartbeat:        session.NewHeartbeat(s.sessions, hbCfg, s.bus, log),
				Store:            prep.Store,
				Preparer:         prep,
				HeartbeatEnabled: heartbeat,
				Logger:           log,
			}, cmd.InOrStdin(), cmd.OutOrStdout())

			log.Info().Msg("Panel server ready")
			if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&heartbeat, "heartbeat", false, "Enable the heartbeat probe (default from config)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Expose Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	cmd.Flags().BoolVar(&notifications, "notifications", false, "Show desktop notifications (default from config)")
	return cmd
}
