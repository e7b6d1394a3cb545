package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/houzin/scp-explorer/internal/config"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/remote/scpcli"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage scp-explorer configuration",
		Long: `Configuration management commands for scp-explorer.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Validate the configuration and locate the ssh tools
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// configPath returns --config or the default path.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for scp-explorer.

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			fmt.Fprintln(out, "scp-explorer Configuration Setup")
			fmt.Fprintln(out, "================================")
			fmt.Fprintln(out, "(press Enter for defaults)")
			fmt.Fprintln(out)

			cfg := GetConfig()
			if err := askConfig(out, bufio.NewReader(cmd.InOrStdin()), cfg); err != nil {
				return err
			}
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			GetLogger().Info().Str("path", path).Msg("Configuration saved")
			fmt.Fprintln(out)
			successColor.Fprintf(out, "✓ Configuration saved to: %s\n", path)
			fmt.Fprintln(out, "Check it with: scp-explorer config test")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// askConfig fills cfg from answers read from reader. Invalid answers keep
// the current value.
func askConfig(out io.Writer, reader *bufio.Reader, cfg *config.AppConfig) error {
	if v, err := strconv.Atoi(promptLine(out, reader, "Default SSH port", strconv.Itoa(cfg.Connection.DefaultPort))); err == nil && v > 0 && v < 65536 {
		cfg.Connection.DefaultPort = v
	}
	if kind, err := remote.ParseClientType(promptLine(out, reader, "Preferred client (sftp-client/scp-client)", cfg.Connection.PreferClient)); err == nil {
		cfg.Connection.PreferClient = string(kind)
	}
	cfg.Connection.UseAgent = yes(promptLine(out, reader, "Use ssh-agent (y/n)", yesNo(cfg.Connection.UseAgent)))
	cfg.Connection.KnownHosts = promptLine(out, reader, "known_hosts file for host key checks (empty disables)", cfg.Connection.KnownHosts)

	if v, err := strconv.Atoi(promptLine(out, reader, "Retry attempts", strconv.Itoa(cfg.Retry.MaxAttempts))); err == nil && v >= 1 && v <= 10 {
		cfg.Retry.MaxAttempts = v
	}
	cfg.Heartbeat.Enabled = yes(promptLine(out, reader, "Enable heartbeat in serve mode (y/n)", yesNo(cfg.Heartbeat.Enabled)))
	if d, err := time.ParseDuration(promptLine(out, reader, "Heartbeat interval", cfg.Heartbeat.Interval.String())); err == nil && d >= time.Second {
		cfg.Heartbeat.Interval = d
	}
	cfg.Notifications.Enabled = yes(promptLine(out, reader, "Desktop notifications (y/n)", yesNo(cfg.Notifications.Enabled)))
	return cfg.Validate()
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

func yes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "y" || s == "yes" || s == "true"
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			cfg := GetConfig()
			out := cmd.OutOrStdout()

			table := newTable(out, "Setting", "Value")
			rows := [][]string{
				{"connection.default_port", strconv.Itoa(cfg.Connection.DefaultPort)},
				{"connection.connect_timeout", cfg.Connection.ConnectTimeout.String()},
				{"connection.prefer_client", cfg.Connection.PreferClient},
				{"connection.use_agent", strconv.FormatBool(cfg.Connection.UseAgent)},
				{"connection.known_hosts", cfg.Connection.KnownHosts},
				{"connection.proxy_url", cfg.Connection.ProxyURL},
				{"transfer.chunk_size", strconv.Itoa(cfg.Transfer.ChunkSize)},
				{"transfer.conflict_policy", cfg.Transfer.ConflictPolicy},
				{"transfer.check_disk_space", strconv.FormatBool(cfg.Transfer.CheckDiskSpace)},
				{"retry.max_attempts", strconv.Itoa(cfg.Retry.MaxAttempts)},
				{"retry.base_delay", cfg.Retry.BaseDelay.String()},
				{"heartbeat.enabled", strconv.FormatBool(cfg.Heartbeat.Enabled)},
				{"heartbeat.interval", cfg.Heartbeat.Interval.String()},
				{"heartbeat.failure_threshold", strconv.Itoa(cfg.Heartbeat.FailureThreshold)},
				{"tools.ssh", cfg.Tools.SSH},
				{"tools.scp", cfg.Tools.SCP},
				{"tools.sshpass", cfg.Tools.SSHPass},
				{"logging.level", cfg.Logging.Level},
				{"logging.file", cfg.Logging.File},
				{"notifications.enabled", strconv.FormatBool(cfg.Notifications.Enabled)},
				{"metrics.enabled", strconv.FormatBool(cfg.Metrics.Enabled)},
				{"metrics.listen", cfg.Metrics.Listen},
			}
			for _, row := range rows {
				if err := table.Append(row); err != nil {
					return err
				}
			}
			if err := table.Render(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\nConfiguration file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(out, "  (file does not exist - using defaults)")
			}
			return nil
		},
	}
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Validate the configuration and locate the ssh tools",
		Long: `Validate the configuration and check that the binaries used by the
scp-client backend can be found. sshpass is only needed for password
authentication with scp-client.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig()
			out := cmd.OutOrStdout()

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			successColor.Fprintln(out, "✓ Configuration is valid")

			runner := scpcli.ExecRunner{}
			missing := 0
			for _, tool := range []string{cfg.Tools.SSH, cfg.Tools.SCP, cfg.Tools.SSHPass} {
				if path, err := runner.LookPath(tool); err == nil {
					successColor.Fprintf(out, "✓ %s: %s\n", tool, path)
				} else {
					missing++
					warnColor.Fprintf(out, "✗ %s not found\n", tool)
				}
			}
			if missing > 0 {
				fmt.Fprintln(out, "The sftp-client backend does not need these tools.")
			}
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, path)
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintln(out, "File does not exist. Create it with: scp-explorer config init")
			}
			profiles, err := config.DefaultProfilesPath()
			if err == nil && profilesFile == "" {
				fmt.Fprintf(out, "Saved connections: %s\n", profiles)
			}
			return nil
		},
	}
}
