package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/houzin/scp-explorer/internal/constants"
	"github.com/houzin/scp-explorer/internal/pathutil"
	"github.com/houzin/scp-explorer/internal/remote"
)

// AppConfig is the application configuration.
//
// INI format:
//
//	[connection]
//	default_port = 22
//	connect_timeout = 12s
//	prefer_client = sftp-client
//	use_agent = false
//	known_hosts =
//	proxy_url =
//
//	[transfer]
//	chunk_size = 1048576
//	conflict_policy = reject
//	check_disk_space = true
//
//	[retry]
//	max_attempts = 3
//	base_delay = 2s
//
//	[heartbeat]
//	enabled = false
//	interval = 30s
//	failure_threshold = 2
//
//	[tools]
//	ssh = ssh
//	scp = scp
//	sshpass = sshpass
//
//	[logging]
//	level = info
//	file =
//
//	[notifications]
//	enabled = false
//
//	[metrics]
//	enabled = false
//	listen = 127.0.0.1:9464
type AppConfig struct {
	Connection    ConnectionConfig
	Transfer      TransferConfig
	Retry         RetryConfig
	Heartbeat     HeartbeatConfig
	Tools         ToolsConfig
	Logging       LoggingConfig
	Notifications NotificationConfig
	Metrics       MetricsConfig
}

// ConnectionConfig holds connection defaults applied to every session.
type ConnectionConfig struct {
	DefaultPort    int           `ini:"default_port"`
	ConnectTimeout time.Duration `ini:"connect_timeout"`
	// PreferClient is the backend tried first: "sftp-client" or "scp-client".
	PreferClient string `ini:"prefer_client"`
	UseAgent     bool   `ini:"use_agent"`
	// KnownHosts enables host key verification on the native backend.
	KnownHosts string `ini:"known_hosts"`
	ProxyURL   string `ini:"proxy_url"`
}

// TransferConfig controls the transfer engine.
type TransferConfig struct {
	ChunkSize int `ini:"chunk_size"`
	// ConflictPolicy is always "reject": a type mismatch at the destination
	// fails the task.
	ConflictPolicy string `ini:"conflict_policy"`
	CheckDiskSpace bool   `ini:"check_disk_space"`
}

// RetryConfig controls transient-failure retries.
type RetryConfig struct {
	MaxAttempts int           `ini:"max_attempts"`
	BaseDelay   time.Duration `ini:"base_delay"`
}

// HeartbeatConfig controls the liveness probe.
type HeartbeatConfig struct {
	Enabled          bool          `ini:"enabled"`
	Interval         time.Duration `ini:"interval"`
	FailureThreshold int           `ini:"failure_threshold"`
}

// ToolsConfig locates the binaries used by the command-line backend.
type ToolsConfig struct {
	SSH     string `ini:"ssh"`
	SCP     string `ini:"scp"`
	SSHPass string `ini:"sshpass"`
}

// LoggingConfig controls log verbosity and the optional log file.
type LoggingConfig struct {
	Level string `ini:"level"`
	File  string `ini:"file"`
}

// NotificationConfig controls desktop notifications.
type NotificationConfig struct {
	Enabled bool `ini:"enabled"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `ini:"enabled"`
	Listen  string `ini:"listen"`
}

// Validation errors
var (
	ErrInvalidPort           = errors.New("default_port must be between 1 and 65535")
	ErrInvalidClient         = errors.New("prefer_client must be sftp-client or scp-client")
	ErrInvalidChunkSize      = errors.New("chunk_size must be between 4096 and 1048576")
	ErrInvalidConflictPolicy = errors.New("conflict_policy only supports reject")
	ErrInvalidMaxAttempts    = errors.New("max_attempts must be between 1 and 10")
	ErrInvalidBaseDelay      = errors.New("base_delay must be between 0 and 1m")
	ErrInvalidInterval       = errors.New("heartbeat interval must be at least 1s")
	ErrInvalidThreshold      = errors.New("failure_threshold must be at least 1")
	ErrMissingMetricsListen  = errors.New("metrics listen address is required when metrics are enabled")
)

// NewAppConfig creates a config with default values.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Connection: ConnectionConfig{
			DefaultPort:    constants.DefaultSSHPort,
			ConnectTimeout: constants.ConnectTimeout,
			PreferClient:   string(remote.ClientNative),
		},
		Transfer: TransferConfig{
			ChunkSize:      constants.ChunkSize,
			ConflictPolicy: "reject",
			CheckDiskSpace: true,
		},
		Retry: RetryConfig{
			MaxAttempts: constants.RetryMaxAttempts,
			BaseDelay:   constants.RetryBaseDelay,
		},
		Heartbeat: HeartbeatConfig{
			Interval:         constants.HeartbeatInterval,
			FailureThreshold: constants.HeartbeatFailureThreshold,
		},
		Tools: ToolsConfig{
			SSH:     "ssh",
			SCP:     "scp",
			SSHPass: "sshpass",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// Load reads the config file. If path is empty the default path is used.
// A missing file yields defaults and no error.
func Load(path string) (*AppConfig, error) {
	cfg := NewAppConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil // Return defaults if we can't determine path
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config.ini: %w", err)
	}

	conn := iniFile.Section("connection")
	cfg.Connection.DefaultPort = conn.Key("default_port").MustInt(cfg.Connection.DefaultPort)
	cfg.Connection.ConnectTimeout = conn.Key("connect_timeout").MustDuration(cfg.Connection.ConnectTimeout)
	cfg.Connection.PreferClient = conn.Key("prefer_client").MustString(cfg.Connection.PreferClient)
	cfg.Connection.UseAgent = conn.Key("use_agent").MustBool(false)
	cfg.Connection.KnownHosts = conn.Key("known_hosts").String()
	cfg.Connection.ProxyURL = conn.Key("proxy_url").String()

	transfer := iniFile.Section("transfer")
	cfg.Transfer.ChunkSize = transfer.Key("chunk_size").MustInt(cfg.Transfer.ChunkSize)
	cfg.Transfer.ConflictPolicy = transfer.Key("conflict_policy").MustString(cfg.Transfer.ConflictPolicy)
	cfg.Transfer.CheckDiskSpace = transfer.Key("check_disk_space").MustBool(true)

	retrySection := iniFile.Section("retry")
	cfg.Retry.MaxAttempts = retrySection.Key("max_attempts").MustInt(cfg.Retry.MaxAttempts)
	cfg.Retry.BaseDelay = retrySection.Key("base_delay").MustDuration(cfg.Retry.BaseDelay)

	hb := iniFile.Section("heartbeat")
	cfg.Heartbeat.Enabled = hb.Key("enabled").MustBool(false)
	cfg.Heartbeat.Interval = hb.Key("interval").MustDuration(cfg.Heartbeat.Interval)
	cfg.Heartbeat.FailureThreshold = hb.Key("failure_threshold").MustInt(cfg.Heartbeat.FailureThreshold)

	tools := iniFile.Section("tools")
	cfg.Tools.SSH = tools.Key("ssh").MustString(cfg.Tools.SSH)
	cfg.Tools.SCP = tools.Key("scp").MustString(cfg.Tools.SCP)
	cfg.Tools.SSHPass = tools.Key("sshpass").MustString(cfg.Tools.SSHPass)

	logSection := iniFile.Section("logging")
	cfg.Logging.Level = logSection.Key("level").MustString(cfg.Logging.Level)
	cfg.Logging.File = logSection.Key("file").String()

	cfg.Notifications.Enabled = iniFile.Section("notifications").Key("enabled").MustBool(false)

	metricsSection := iniFile.Section("metrics")
	cfg.Metrics.Enabled = metricsSection.Key("enabled").MustBool(false)
	cfg.Metrics.Listen = metricsSection.Key("listen").MustString(cfg.Metrics.Listen)

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *AppConfig) expandPaths() error {
	for _, p := range []*string{&cfg.Connection.KnownHosts, &cfg.Logging.File, &cfg.Tools.SSH, &cfg.Tools.SCP, &cfg.Tools.SSHPass} {
		if !strings.HasPrefix(*p, "~") {
			continue
		}
		expanded, err := pathutil.ExpandHome(*p)
		if err != nil {
			return fmt.Errorf("failed to expand %s: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Save writes the config. If path is empty the default path is used.
func Save(cfg *AppConfig, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	sections := []struct {
		name string
		keys [][2]string
	}{
		{"connection", [][2]string{
			{"default_port", fmt.Sprintf("%d", cfg.Connection.DefaultPort)},
			{"connect_timeout", cfg.Connection.ConnectTimeout.String()},
			{"prefer_client", cfg.Connection.PreferClient},
			{"use_agent", fmt.Sprintf("%t", cfg.Connection.UseAgent)},
			{"known_hosts", cfg.Connection.KnownHosts},
			{"proxy_url", cfg.Connection.ProxyURL},
		}},
		{"transfer", [][2]string{
			{"chunk_size", fmt.Sprintf("%d", cfg.Transfer.ChunkSize)},
			{"conflict_policy", cfg.Transfer.ConflictPolicy},
			{"check_disk_space", fmt.Sprintf("%t", cfg.Transfer.CheckDiskSpace)},
		}},
		{"retry", [][2]string{
			{"max_attempts", fmt.Sprintf("%d", cfg.Retry.MaxAttempts)},
			{"base_delay", cfg.Retry.BaseDelay.String()},
		}},
		{"heartbeat", [][2]string{
			{"enabled", fmt.Sprintf("%t", cfg.Heartbeat.Enabled)},
			{"interval", cfg.Heartbeat.Interval.String()},
			{"failure_threshold", fmt.Sprintf("%d", cfg.Heartbeat.FailureThreshold)},
		}},
		{"tools", [][2]string{
			{"ssh", cfg.Tools.SSH},
			{"scp", cfg.Tools.SCP},
			{"sshpass", cfg.Tools.SSHPass},
		}},
		{"logging", [][2]string{
			{"level", cfg.Logging.Level},
			{"file", cfg.Logging.File},
		}},
		{"notifications", [][2]string{
			{"enabled", fmt.Sprintf("%t", cfg.Notifications.Enabled)},
		}},
		{"metrics", [][2]string{
			{"enabled", fmt.Sprintf("%t", cfg.Metrics.Enabled)},
			{"listen", cfg.Metrics.Listen},
		}},
	}
	for _, s := range sections {
		section, err := iniFile.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		for _, kv := range s.keys {
			section.Key(kv[0]).SetValue(kv[1])
		}
	}

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid.
func (cfg *AppConfig) Validate() error {
	if cfg.Connection.DefaultPort < 1 || cfg.Connection.DefaultPort > 65535 {
		return ErrInvalidPort
	}
	if _, err := remote.ParseClientType(cfg.Connection.PreferClient); err != nil {
		return ErrInvalidClient
	}
	if cfg.Transfer.ChunkSize < 4096 || cfg.Transfer.ChunkSize > constants.ChunkSize {
		return ErrInvalidChunkSize
	}
	if cfg.Transfer.ConflictPolicy != "reject" {
		return ErrInvalidConflictPolicy
	}
	if cfg.Retry.MaxAttempts < 1 || cfg.Retry.MaxAttempts > 10 {
		return ErrInvalidMaxAttempts
	}
	if cfg.Retry.BaseDelay < 0 || cfg.Retry.BaseDelay > time.Minute {
		return ErrInvalidBaseDelay
	}
	if cfg.Heartbeat.Interval < time.Second {
		return ErrInvalidInterval
	}
	if cfg.Heartbeat.FailureThreshold < 1 {
		return ErrInvalidThreshold
	}
	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Listen) == "" {
		return ErrMissingMetricsListen
	}
	return nil
}

// PreferredClient returns the backend to try first.
func (cfg *AppConfig) PreferredClient() remote.ClientType {
	kind, err := remote.ParseClientType(cfg.Connection.PreferClient)
	if err != nil {
		return remote.ClientNative
	}
	return kind
}

// ApplyTo fills connection fields left unset in rc from the config.
func (cfg *AppConfig) ApplyTo(rc *remote.Config) {
	if rc.Port == 0 && cfg.Connection.DefaultPort != constants.DefaultSSHPort {
		rc.Port = cfg.Connection.DefaultPort
	}
	if rc.ConnectTimeout == 0 {
		rc.ConnectTimeout = cfg.Connection.ConnectTimeout
	}
	if rc.ClientType == "" {
		rc.ClientType = cfg.PreferredClient()
	}
	if cfg.Connection.UseAgent {
		rc.UseAgent = true
	}
	if rc.KnownHostsPath == "" {
		rc.KnownHostsPath = cfg.Connection.KnownHosts
	}
	if rc.ProxyURL == "" {
		rc.ProxyURL = cfg.Connection.ProxyURL
	}
	if rc.Tools == (remote.Tools{}) {
		rc.Tools = remote.Tools{SSH: cfg.Tools.SSH, SCP: cfg.Tools.SCP, SSHPass: cfg.Tools.SSHPass}
	}
}
