package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/houzin/scp-explorer/internal/session"
)

// newPingCmd creates the 'ping' command.
func newPingCmd() *cobra.Command {
	var (
		conn     connectFlags
		count    int
		interval time.Duration
		path     string
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that a connection stays alive",
		Long: `Connect and run heartbeat probes, each listing a remote directory.
The session is treated as lost after the configured number of
consecutive failures (heartbeat.failure_threshold).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := connectStack(ctx, cmd.ErrOrStderr(), &conn)
			if err != nil {
				return err
			}
			defer s.Close()

			hbCfg := session.DefaultHeartbeatConfig()
			hbCfg.FailureThreshold = GetConfig().Heartbeat.FailureThreshold
			hbCfg.Path = func() string { return path }
			hb := session.NewHeartbeat(s.sessions, hbCfg, s.bus, GetLogger())

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Connected with %s\n", s.sessions.ClientType())

			failures := 0
			for i := 1; count <= 0 || i <= count; i++ {
				start := time.Now()
				result, err := hb.Probe(ctx)
				elapsed := time.Since(start).Round(time.Millisecond)

				switch result {
				case session.ProbeOK:
					successColor.Fprintf(out, "probe %d: ok (%s)\n", i, elapsed)
				case session.ProbeLost:
					warnColor.Fprintf(out, "probe %d: connection lost: %v\n", i, err)
					return err
				default:
					failures++
					warnColor.Fprintf(out, "probe %d: failed: %v\n", i, err)
				}

				if count > 0 && i == count {
					break
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(interval):
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d probes failed", failures, count)
			}
			return nil
		},
	}

	conn.register(cmd)
	cmd.Flags().IntVarP(&count, "count", "n", 3, "Number of probes (0 runs until interrupted)")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Delay between probes")
	cmd.Flags().StringVar(&path, "path", "/", "Remote directory to list")
	return cmd
}
