package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/houzin/scp-explorer/internal/remote"
)

func TestNewAppConfig(t *testing.T) {
	cfg := NewAppConfig()

	if cfg.Connection.DefaultPort != 22 {
		t.Errorf("Expected DefaultPort=22, got %d", cfg.Connection.DefaultPort)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts=3, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay != 2*time.Second {
		t.Errorf("Expected BaseDelay=2s, got %v", cfg.Retry.BaseDelay)
	}
	if cfg.Heartbeat.FailureThreshold != 2 {
		t.Errorf("Expected FailureThreshold=2, got %d", cfg.Heartbeat.FailureThreshold)
	}
	if cfg.PreferredClient() != remote.ClientNative {
		t.Errorf("Expected native client, got %s", cfg.PreferredClient())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Transfer.ChunkSize != NewAppConfig().Transfer.ChunkSize {
		t.Error("expected default chunk size")
	}
}

func TestAppConfigLoadSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.ini")

	cfg := NewAppConfig()
	cfg.Connection.DefaultPort = 2222
	cfg.Connection.PreferClient = "scp-client"
	cfg.Connection.UseAgent = true
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.BaseDelay = 500 * time.Millisecond
	cfg.Heartbeat.Enabled = true
	cfg.Heartbeat.Interval = 45 * time.Second
	cfg.Tools.SSHPass = "/opt/bin/sshpass"
	cfg.Logging.Level = "debug"
	cfg.Notifications.Enabled = true
	cfg.Metrics.Enabled = true

	if err := Save(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(configPath)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
		}
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Connection.DefaultPort != 2222 {
		t.Errorf("DefaultPort mismatch: got %d", loaded.Connection.DefaultPort)
	}
	if loaded.PreferredClient() != remote.ClientCommandLine {
		t.Errorf("PreferClient mismatch: got %s", loaded.Connection.PreferClient)
	}
	if !loaded.Connection.UseAgent {
		t.Error("UseAgent should be true")
	}
	if loaded.Retry.MaxAttempts != 5 || loaded.Retry.BaseDelay != 500*time.Millisecond {
		t.Errorf("Retry mismatch: %+v", loaded.Retry)
	}
	if !loaded.Heartbeat.Enabled || loaded.Heartbeat.Interval != 45*time.Second {
		t.Errorf("Heartbeat mismatch: %+v", loaded.Heartbeat)
	}
	if loaded.Tools.SSHPass != "/opt/bin/sshpass" {
		t.Errorf("SSHPass mismatch: %s", loaded.Tools.SSHPass)
	}
	if loaded.Logging.Level != "debug" {
		t.Errorf("Level mismatch: %s", loaded.Logging.Level)
	}
	if !loaded.Notifications.Enabled || !loaded.Metrics.Enabled {
		t.Error("notifications and metrics should be enabled")
	}
}

func TestLoadPartialFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.ini")
	content := "[retry]\nmax_attempts = 4\n\n[heartbeat]\nenabled = true\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("Expected MaxAttempts=4, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay != 2*time.Second {
		t.Errorf("Expected default BaseDelay, got %v", cfg.Retry.BaseDelay)
	}
	if !cfg.Heartbeat.Enabled {
		t.Error("heartbeat should be enabled")
	}
}

func TestAppConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   error
	}{
		{"port", func(c *AppConfig) { c.Connection.DefaultPort = 70000 }, ErrInvalidPort},
		{"client", func(c *AppConfig) { c.Connection.PreferClient = "ftp" }, ErrInvalidClient},
		{"chunk", func(c *AppConfig) { c.Transfer.ChunkSize = 10 }, ErrInvalidChunkSize},
		{"policy", func(c *AppConfig) { c.Transfer.ConflictPolicy = "overwrite" }, ErrInvalidConflictPolicy},
		{"attempts", func(c *AppConfig) { c.Retry.MaxAttempts = 0 }, ErrInvalidMaxAttempts},
		{"delay", func(c *AppConfig) { c.Retry.BaseDelay = time.Hour }, ErrInvalidBaseDelay},
		{"interval", func(c *AppConfig) { c.Heartbeat.Interval = time.Millisecond }, ErrInvalidInterval},
		{"threshold", func(c *AppConfig) { c.Heartbeat.FailureThreshold = 0 }, ErrInvalidThreshold},
		{"metrics", func(c *AppConfig) { c.Metrics.Enabled = true; c.Metrics.Listen = "" }, ErrMissingMetricsListen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewAppConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err != tt.want {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestApplyTo(t *testing.T) {
	cfg := NewAppConfig()
	cfg.Connection.DefaultPort = 2200
	cfg.Connection.UseAgent = true
	cfg.Tools.SSH = "/usr/local/bin/ssh"

	rc := remote.Config{Host: "h", Username: "u", AuthType: remote.AuthAgent}
	cfg.ApplyTo(&rc)

	if rc.Port != 2200 {
		t.Errorf("Expected port 2200, got %d", rc.Port)
	}
	if !rc.UseAgent {
		t.Error("UseAgent should be applied")
	}
	if rc.ClientType != remote.ClientNative {
		t.Errorf("Expected native client, got %s", rc.ClientType)
	}
	if rc.Tools.SSH != "/usr/local/bin/ssh" {
		t.Errorf("Expected ssh tool path, got %s", rc.Tools.SSH)
	}

	// Explicit values win.
	rc = remote.Config{Port: 22, ClientType: remote.ClientCommandLine}
	cfg.ApplyTo(&rc)
	if rc.Port != 22 || rc.ClientType != remote.ClientCommandLine {
		t.Errorf("explicit values overwritten: %+v", rc)
	}
}
