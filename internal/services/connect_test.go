package services

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzin/scp-explorer/internal/config"
	"github.com/houzin/scp-explorer/internal/profiles"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/sshconfig"
)

func TestConnectionPreparer_Profile(t *testing.T) {
	store := profiles.NewStore(filepath.Join(t.TempDir(), "connections.yaml"), nil)
	_, err := store.Add(profiles.Connection{
		Name: "build box", Host: "build.example.com", Port: "2222",
		Username: "ci", AuthType: "password", Password: "secret",
	})
	require.NoError(t, err)

	p := ConnectionPreparer{Store: store}
	cfg, err := p.Prepare(remote.Config{ClientType: remote.ClientCommandLine}, "Build Box")
	require.NoError(t, err)
	assert.Equal(t, "build.example.com", cfg.Host)
	assert.Equal(t, 2222, cfg.Port)
	assert.Equal(t, "ci", cfg.Username)
	assert.Equal(t, remote.AuthPassword, cfg.AuthType)
	assert.Equal(t, remote.ClientCommandLine, cfg.ClientType)

	_, err = p.Prepare(remote.Config{}, "missing")
	require.Error(t, err)
	assert.Equal(t, remote.KindConfig, remote.KindOf(err))
}

func TestConnectionPreparer_SSHConfigAndDefaults(t *testing.T) {
	resolver, err := sshconfig.Decode(strings.NewReader(`
Host staging
  HostName staging.internal.example.com
  Port 2200
  User deploy
  IdentityFile ~/.ssh/staging_ed25519
`))
	require.NoError(t, err)

	app := config.NewAppConfig()
	app.Connection.ConnectTimeout = 5 * time.Second

	p := ConnectionPreparer{Resolver: resolver, App: app}
	cfg, err := p.Prepare(remote.Config{Host: "staging"}, "")
	require.NoError(t, err)
	assert.Equal(t, "staging.internal.example.com", cfg.Host)
	assert.Equal(t, 2200, cfg.Port)
	assert.Equal(t, "deploy", cfg.Username)
	assert.Equal(t, remote.AuthKey, cfg.AuthType)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, remote.ClientNative, cfg.ClientType)
	assert.Equal(t, "ssh", cfg.Tools.SSH)
}

func TestConnectionPreparer_PasswordImpliesAuthType(t *testing.T) {
	cfg, err := ConnectionPreparer{}.Prepare(remote.Config{Host: "h", Username: "u", Password: "pw"}, "")
	require.NoError(t, err)
	assert.Equal(t, remote.AuthPassword, cfg.AuthType)
}
