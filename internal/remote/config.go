package remote

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/houzin/scp-explorer/internal/constants"
	"github.com/houzin/scp-explorer/internal/pathutil"
)

// AuthMethod selects how the session authenticates.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
	AuthAgent    AuthMethod = "agent"
)

// ClientType names a backend implementation.
type ClientType string

const (
	// ClientNative talks the sftp subsystem over a persistent ssh connection.
	ClientNative ClientType = "sftp-client"
	// ClientCommandLine shells out to ssh and scp per operation.
	ClientCommandLine ClientType = "scp-client"
)

// ParseClientType maps user input to a ClientType. Empty input means native.
func ParseClientType(s string) (ClientType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sftp", "sftp-client", "native":
		return ClientNative, nil
	case "scp", "scp-client", "cli", "command-line":
		return ClientCommandLine, nil
	}
	return "", ConfigErrorf("Unknown client type: %s", s)
}

// Tools locates the external binaries used by the command-line backend.
type Tools struct {
	SSH     string
	SCP     string
	SSHPass string
}

// Config describes one connection.
type Config struct {
	Host           string
	Port           int
	Username       string
	AuthType       AuthMethod
	Password       string
	PrivateKeyPath string
	Passphrase     string

	ClientType ClientType

	// AcceptInsecureKey proceeds when the key file is readable by others.
	AcceptInsecureKey bool
	// UseAgent adds ssh-agent identities to any other auth method.
	UseAgent bool
	// KnownHostsPath enables host key verification when set.
	KnownHostsPath string
	// ProxyURL routes the native backend through a SOCKS5 proxy.
	ProxyURL string

	ConnectTimeout time.Duration
	Tools          Tools
}

// EffectivePort returns the configured port or the SSH default.
func (c Config) EffectivePort() int {
	if c.Port <= 0 {
		return constants.DefaultSSHPort
	}
	return c.Port
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.EffectivePort()))
}

// Timeout returns the connect timeout or its default.
func (c Config) Timeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return constants.ConnectTimeout
	}
	return c.ConnectTimeout
}

// Validate checks that the fields required by the auth method are present.
// It does not touch the filesystem; see Preflight.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return ConfigErrorf("Host is required")
	}
	if strings.TrimSpace(c.Username) == "" {
		return ConfigErrorf("Username is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return ConfigErrorf("Invalid port: %d", c.Port)
	}
	switch c.AuthType {
	case AuthPassword:
		if c.Password == "" {
			return ConfigErrorf("Password is required for password authentication")
		}
	case AuthKey:
		if strings.TrimSpace(c.PrivateKeyPath) == "" {
			return ConfigErrorf("Private key path is required for key authentication")
		}
	case AuthAgent:
	default:
		return ConfigErrorf("Invalid authentication type: %s", c.AuthType)
	}
	return nil
}

// Preflight validates the config and, for key auth, the key file. The
// key path is expanded in the returned copy.
func (c Config) Preflight() (Config, error) {
	if err := c.Validate(); err != nil {
		return c, err
	}
	if c.AuthType != AuthKey {
		return c, nil
	}
	expanded, err := pathutil.ExpandHome(c.PrivateKeyPath)
	if err != nil {
		return c, ConfigErrorf("Invalid private key path: %v", err)
	}
	c.PrivateKeyPath = expanded
	if err := CheckPrivateKeyFile(c.PrivateKeyPath); err != nil {
		if IsInsecureKey(err) && c.AcceptInsecureKey {
			return c, nil
		}
		return c, err
	}
	return c, nil
}
