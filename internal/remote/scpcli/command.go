package scpcli

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/houzin/scp-explorer/internal/constants"
	"github.com/houzin/scp-explorer/internal/remote"
)

// shellQuote quotes s for a POSIX shell. Single quotes inside s are
// closed, escaped and reopened.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// commonOptions are passed to both ssh and scp.
func commonOptions(cfg remote.Config) []string {
	opts := []string{
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(constants.CLIConnectTimeout.Seconds())),
		"-o", fmt.Sprintf("ServerAliveInterval=%d", constants.CLIServerAliveInterval),
		"-o", fmt.Sprintf("ServerAliveCountMax=%d", constants.CLIServerAliveCountMax),
		"-o", "TCPKeepAlive=yes",
	}
	if cfg.KnownHostsPath != "" {
		opts = append(opts, "-o", "StrictHostKeyChecking=yes", "-o", "UserKnownHostsFile="+cfg.KnownHostsPath)
	} else {
		opts = append(opts, "-o", "StrictHostKeyChecking=no")
	}

	switch cfg.AuthType {
	case remote.AuthPassword:
		opts = append(opts,
			"-o", "PreferredAuthentications=password,keyboard-interactive",
			"-o", "PubkeyAuthentication=no",
		)
	case remote.AuthKey:
		opts = append(opts, "-i", cfg.PrivateKeyPath, "-o", "IdentitiesOnly=yes")
		if cfg.Passphrase == "" {
			opts = append(opts, "-o", "BatchMode=yes")
		}
	case remote.AuthAgent:
		opts = append(opts, "-o", "BatchMode=yes")
	}
	return opts
}

// sshCommand builds an ssh invocation running remoteCmd on the server.
func sshCommand(cfg remote.Config, remoteCmd string) Command {
	args := commonOptions(cfg)
	args = append(args, "-p", strconv.Itoa(cfg.EffectivePort()), cfg.Username+"@"+cfg.Host, remoteCmd)
	return withAuth(cfg, cfg.Tools.SSH, args)
}

// scpCommand builds an scp invocation copying src to dst.
func scpCommand(cfg remote.Config, legacy bool, src, dst string) Command {
	args := commonOptions(cfg)
	if legacy {
		args = append(args, "-O")
	}
	args = append(args, "-q", "-p", "-P", strconv.Itoa(cfg.EffectivePort()), "--", src, dst)
	return withAuth(cfg, cfg.Tools.SCP, args)
}

// remoteSpec formats user@host:path for scp. The path is shell quoted
// because the legacy protocol expands it on the server.
func remoteSpec(cfg remote.Config, p string) string {
	host := cfg.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return cfg.Username + "@" + host + ":" + shellQuote(p)
}

// withAuth wraps bin in sshpass when a secret has to be typed.
func withAuth(cfg remote.Config, bin string, args []string) Command {
	switch {
	case cfg.AuthType == remote.AuthPassword:
		return Command{
			Path: cfg.Tools.SSHPass,
			Args: append([]string{"-e", bin}, args...),
			Env:  []string{"SSHPASS=" + cfg.Password},
		}
	case cfg.AuthType == remote.AuthKey && cfg.Passphrase != "":
		return Command{
			Path: cfg.Tools.SSHPass,
			Args: append([]string{"-P", "passphrase", "-e", bin}, args...),
			Env:  []string{"SSHPASS=" + cfg.Passphrase},
		}
	}
	return Command{Path: bin, Args: args}
}

var opensshVersion = regexp.MustCompile(`OpenSSH_(?:for_Windows_)?(\d+\.\d+)`)

// legacyConstraint matches clients whose scp defaults to the sftp protocol.
var legacyConstraint = mustConstraint(">= 9.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// parseSSHVersion extracts the OpenSSH version from `ssh -V` output.
func parseSSHVersion(out string) (*semver.Version, error) {
	m := opensshVersion.FindStringSubmatch(out)
	if m == nil {
		return nil, fmt.Errorf("unrecognized ssh version output: %q", strings.TrimSpace(out))
	}
	return semver.NewVersion(m[1])
}

// needsLegacyFlag reports whether scp must be told to use the scp protocol (-O).
func needsLegacyFlag(v *semver.Version) bool {
	return v != nil && legacyConstraint.Check(v)
}

// installHint returns how to obtain a missing tool.
func installHint(tool string) string {
	switch tool {
	case "sshpass":
		return "sshpass is required for password or passphrase authentication with the SCP client. " +
			"Install it with 'sudo apt-get install sshpass' (Debian/Ubuntu), 'sudo yum install sshpass' (RHEL/CentOS) " +
			"or 'brew install hudochenkov/sshpass/sshpass' (macOS), or use key authentication without a passphrase."
	default:
		return tool + " was not found on PATH. Install the OpenSSH client tools and make sure " + tool + " is on PATH."
	}
}
