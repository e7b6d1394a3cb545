// Package cli provides the command-line interface for scp-explorer.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/houzin/scp-explorer/internal/config"
	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/version"
)

var (
	// Global flags
	cfgFile       string
	profilesFile  string
	sshConfigFile string
	logFile       string
	verbose       bool
	debug         bool

	// Global logger
	logger *logging.Logger

	// Application config loaded before every command
	appConfig *config.AppConfig

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scp-explorer",
		Short: "Browse and transfer files on SSH servers",
		Long: `scp-explorer ` + version.Version + ` - Built: ` + version.BuildTime + `
Browse, edit and transfer files on a remote host over SFTP, or over the
ssh/scp command-line tools when the server has no SFTP subsystem.

One-shot commands (ls, mkdir, rm, mv, put, get, ping) connect, run and
disconnect. "serve" speaks the file-explorer panel protocol on stdin/stdout.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&profilesFile, "profiles-file", "", "Saved connections file path")
	rootCmd.PersistentFlags().StringVar(&sshConfigFile, "ssh-config", "", "OpenSSH client config used to resolve host aliases (default ~/.ssh/config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Trace output, including every external command")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	completionCmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate a shell completion script",
		Long: `Generate shell completion scripts for scp-explorer.

  bash:        source <(scp-explorer completion bash)
  zsh:         scp-explorer completion zsh > "${fpath[1]}/_scp-explorer"
  fish:        scp-explorer completion fish | source
  powershell:  scp-explorer completion powershell | Out-String | Invoke-Expression`,
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return rootCmd.GenBashCompletion(out)
			case "zsh":
				return rootCmd.GenZshCompletion(out)
			case "fish":
				return rootCmd.GenFishCompletion(out, true)
			default:
				return rootCmd.GenPowerShellCompletion(out)
			}
		},
	}
	rootCmd.AddCommand(completionCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// setup loads the config and builds the logger for cmd.
func setup(cmd *cobra.Command) error {
	mode := logging.ModeCLI
	if cmd.Name() == "serve" {
		mode = logging.ModeServe
	}
	logger = logging.NewLogger(mode, nil)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	appConfig = cfg

	logging.SetGlobalLevel(logging.ParseLevel(cfg.Logging.Level))
	switch {
	case debug:
		logging.SetGlobalLevel(zerolog.TraceLevel)
	case verbose:
		logging.SetGlobalLevel(zerolog.DebugLevel)
	}

	path := logFile
	if path == "" {
		path = cfg.Logging.File
	}
	if path != "" {
		if err := logger.EnableFile(path); err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
	}
	return nil
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Loop so repeated Ctrl+C does not kill the process mid-cleanup.
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived %v, cancelling...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.ExecuteContext(rootContext)

	signal.Stop(sigChan)
	close(sigChan)
	if logger != nil {
		_ = logger.Close()
	}
	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newMkdirCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newMvCmd())
	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newPingCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newProfilesCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetConfig returns the loaded application config, or defaults.
func GetConfig() *config.AppConfig {
	if appConfig == nil {
		appConfig = config.NewAppConfig()
	}
	return appConfig
}

// commandContext returns the command's context, which Execute cancels on
// SIGINT and SIGTERM.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
