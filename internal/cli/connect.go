package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/houzin/scp-explorer/internal/config"
	"github.com/houzin/scp-explorer/internal/constants"
	"github.com/houzin/scp-explorer/internal/events"
	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/notify"
	"github.com/houzin/scp-explorer/internal/profiles"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/retry"
	"github.com/houzin/scp-explorer/internal/services"
	"github.com/houzin/scp-explorer/internal/session"
	"github.com/houzin/scp-explorer/internal/sshconfig"
	"github.com/houzin/scp-explorer/internal/transfer"
)

// passwordEnv supplies a password without putting it on the command line.
const passwordEnv = "SCP_EXPLORER_PASSWORD"

// newBackendFactory builds the backends for a session. Replaced in tests.
var newBackendFactory = func(logger *logging.Logger, policy retry.Policy) session.Factory {
	return session.BackendFactory(logger, policy)
}

// connectFlags are the connection options shared by every remote command.
type connectFlags struct {
	target            string
	host              string
	port              int
	user              string
	password          string
	identity          string
	passphrase        string
	auth              string
	client            string
	profile           string
	acceptInsecureKey bool
	fallback          bool
}

func (f *connectFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.target, "target", "t", "", "Connection as [user@]host[:port] or an ssh config alias")
	fl.StringVarP(&f.host, "host", "H", "", "Remote host")
	fl.IntVarP(&f.port, "port", "p", 0, "SSH port (default 22)")
	fl.StringVarP(&f.user, "user", "u", "", "Remote user")
	fl.StringVar(&f.password, "password", "", "Password (prefer $"+passwordEnv+" or the prompt)")
	fl.StringVarP(&f.identity, "identity", "i", "", "Private key file")
	fl.StringVar(&f.passphrase, "passphrase", "", "Private key passphrase")
	fl.StringVar(&f.auth, "auth", "", "Authentication: password, key or agent")
	fl.StringVar(&f.client, "client", "", "Client: sftp-client or scp-client (default from config)")
	fl.StringVarP(&f.profile, "profile", "P", "", "Saved connection id or name")
	fl.BoolVar(&f.acceptInsecureKey, "accept-insecure-key", false, "Use a private key file readable by other users")
	fl.BoolVar(&f.fallback, "fallback", false, "Switch to scp-client without asking when SFTP is unavailable")
}

// remoteConfig converts the flags into a partial config.
func (f *connectFlags) remoteConfig() (remote.Config, error) {
	cfg := remote.Config{
		Host:              f.host,
		Port:              f.port,
		Username:          f.user,
		Password:          f.password,
		PrivateKeyPath:    f.identity,
		Passphrase:        f.passphrase,
		AcceptInsecureKey: f.acceptInsecureKey,
	}
	if f.target != "" {
		user, host, port, err := parseTarget(f.target)
		if err != nil {
			return cfg, err
		}
		if cfg.Host == "" {
			cfg.Host = host
		}
		if cfg.Username == "" {
			cfg.Username = user
		}
		if cfg.Port == 0 {
			cfg.Port = port
		}
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv(passwordEnv)
	}
	switch {
	case f.auth != "":
		cfg.AuthType = remote.AuthMethod(strings.ToLower(f.auth))
	case f.identity != "":
		cfg.AuthType = remote.AuthKey
	}
	if f.client != "" {
		kind, err := remote.ParseClientType(f.client)
		if err != nil {
			return cfg, err
		}
		cfg.ClientType = kind
	}
	return cfg, nil
}

// parseTarget splits [user@]host[:port].
func parseTarget(s string) (user, host string, port int, err error) {
	host = s
	if i := strings.LastIndex(host, "@"); i >= 0 {
		user, host = host[:i], host[i+1:]
	}
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i+1:], "]") {
		p, perr := strconv.Atoi(host[i+1:])
		if perr != nil || p < 1 || p > 65535 {
			return "", "", 0, remote.ConfigErrorf("Invalid port in %q", s)
		}
		host, port = host[:i], p
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return "", "", 0, remote.ConfigErrorf("Invalid target %q", s)
	}
	return user, host, port, nil
}

// openStore opens the saved connection store.
func openStore(bus *events.EventBus) (*profiles.Store, error) {
	path := profilesFile
	if path == "" {
		var err error
		if path, err = config.DefaultProfilesPath(); err != nil {
			return nil, fmt.Errorf("failed to locate saved connections: %w", err)
		}
	}
	return profiles.NewStore(path, bus), nil
}

// newPreparer combines the saved connections, ~/.ssh/config and the
// application defaults.
func newPreparer(bus *events.EventBus) (services.ConnectionPreparer, error) {
	store, err := openStore(bus)
	if err != nil {
		return services.ConnectionPreparer{}, err
	}
	resolver, err := sshconfig.Load(sshConfigFile)
	if err != nil {
		GetLogger().Warn().Err(err).Msg("Ignoring ssh config")
		resolver = nil
	}
	return services.ConnectionPreparer{Store: store, Resolver: resolver, App: GetConfig()}, nil
}

// retryPolicy returns the configured retry policy.
func retryPolicy() retry.Policy {
	cfg := GetConfig()
	return retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay}
}

// transferOptions returns the configured engine options.
func transferOptions() transfer.Options {
	cfg := GetConfig()
	opts := transfer.DefaultOptions()
	opts.CheckDiskSpace = cfg.Transfer.CheckDiskSpace
	opts.ChunkSize = cfg.Transfer.ChunkSize
	return opts
}

// stack is the session machinery shared by the CLI commands.
type stack struct {
	bus      *events.EventBus
	sessions *session.Manager
	files    *services.FileService
}

func newStack() *stack {
	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	log := GetLogger()
	mgr := session.NewManager(newBackendFactory(log, retryPolicy()), bus, log)
	engine := transfer.NewEngine(transfer.NewQueue(bus), log, transferOptions())
	return &stack{
		bus:      bus,
		sessions: mgr,
		files:    services.NewFileService(mgr, engine, bus, log),
	}
}

func (s *stack) Close() {
	if err := s.sessions.Disconnect(); err != nil {
		GetLogger().Debug().Err(err).Msg("Errors while disconnecting")
	}
	s.bus.Close()
}

// connectStack resolves the flags, connects and returns the stack. The
// caller must Close it.
func connectStack(ctx context.Context, out io.Writer, f *connectFlags) (*stack, error) {
	partial, err := f.remoteConfig()
	if err != nil {
		return nil, err
	}

	s := newStack()
	prep, err := newPreparer(s.bus)
	if err != nil {
		s.Close()
		return nil, err
	}
	cfg, err := prep.Prepare(partial, f.profile)
	if err != nil {
		s.Close()
		return nil, err
	}
	if cfg.Host == "" {
		s.Close()
		return nil, remote.ConfigErrorf("A host is required: use --target, --host or --profile")
	}
	if cfg.AuthType == "" {
		cfg.AuthType = remote.AuthPassword
		if cfg.UseAgent {
			cfg.AuthType = remote.AuthAgent
		}
	}
	if cfg.AuthType == remote.AuthPassword && cfg.Password == "" {
		if cfg.Password, err = promptSecret(out, fmt.Sprintf("Password for %s@%s", cfg.Username, cfg.Host)); err != nil {
			s.Close()
			return nil, err
		}
	}

	if err := establish(ctx, out, s.sessions, cfg, f.fallback); err != nil {
		s.Close()
		return nil, err
	}

	if GetConfig().Notifications.Enabled {
		notify.NewNotifier(true, GetLogger()).Watch(ctx, s.bus)
	}
	return s, nil
}

// establish connects, resolving the insecure-key and missing-subsystem
// outcomes by asking the user or honouring the flags.
func establish(ctx context.Context, out io.Writer, m *session.Manager, cfg remote.Config, fallback bool) error {
	err := m.Connect(ctx, cfg)

	var insecure *remote.InsecureKeyError
	if errors.As(err, &insecure) {
		if !confirm(out, strings.TrimPrefix(insecure.Error(), remote.WarningPrefix)+" Use it anyway?") {
			return err
		}
		cfg.AcceptInsecureKey = true
		err = m.Connect(ctx, cfg)
	}

	if fe, ok := session.IsFallback(err); ok {
		if !fallback && !confirm(out, "SFTP is not available. Switch to SCP mode (using scp -O for optimized copy)?") {
			return fmt.Errorf("%w (use --fallback or --client scp-client)", fe.Err)
		}
		GetLogger().Info().Str("client", string(fe.Suggested)).Msg("Falling back")
		err = m.ReconnectWith(ctx, fe.Suggested)
	}
	return err
}
