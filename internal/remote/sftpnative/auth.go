package sftpnative

import (
	"errors"
	"fmt"
	"net"
	"os"

	sshagent "github.com/xanzy/ssh-agent"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/houzin/scp-explorer/internal/remote"
)

// authMethods builds the ssh auth chain for cfg. The returned closer
// releases the agent connection, if one was opened.
func authMethods(cfg remote.Config) ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	closer := func() {}

	switch cfg.AuthType {
	case remote.AuthPassword:
		methods = append(methods,
			ssh.Password(cfg.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = cfg.Password
				}
				return answers, nil
			}),
		)
	case remote.AuthKey:
		signer, err := loadSigner(cfg.PrivateKeyPath, cfg.Passphrase)
		if err != nil {
			return nil, closer, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.UseAgent || cfg.AuthType == remote.AuthAgent {
		agentClient, conn, err := sshagent.New()
		if err != nil {
			if cfg.AuthType == remote.AuthAgent {
				return nil, closer, remote.ConfigErrorf("Couldn't connect to ssh-agent: %v", err)
			}
		} else {
			if conn != nil {
				closer = func() { _ = conn.Close() }
			}
			methods = append(methods, ssh.PublicKeysCallback(agentClient.Signers))
		}
	}

	return methods, closer, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, remote.ConfigErrorf("Cannot read private key file %s: %v", path, err)
	}

	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
		if err != nil {
			return nil, remote.ConfigErrorf("Failed to decrypt private key (wrong passphrase?): %v", err)
		}
		return signer, nil
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, remote.ConfigErrorf("Private key %s is encrypted; a passphrase is required", path)
		}
		return nil, remote.ConfigErrorf("Failed to parse private key file: %v", err)
	}
	return signer, nil
}

// hostKeyCallback verifies against known_hosts when a path is configured.
// Without one every host key is accepted, matching StrictHostKeyChecking=no.
func hostKeyCallback(cfg remote.Config) (ssh.HostKeyCallback, error) {
	if cfg.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(cfg.KnownHostsPath)
	if err != nil {
		return nil, remote.ConfigErrorf("Failed to load known_hosts %s: %v", cfg.KnownHostsPath, err)
	}
	return func(hostname string, addr net.Addr, key ssh.PublicKey) error {
		err := cb(hostname, addr, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) {
			if len(keyErr.Want) == 0 {
				return fmt.Errorf("host %s is not in %s", hostname, cfg.KnownHostsPath)
			}
			return fmt.Errorf("host key mismatch for %s", hostname)
		}
		return err
	}, nil
}

// authError rewrites handshake authentication failures into a user-facing message.
func authError(cfg remote.Config, err error) error {
	prefix := "SSH authentication failed: "
	if cfg.AuthType == remote.AuthKey {
		prefix = "SSH key authentication failed: "
	}
	return &remote.Error{Kind: remote.KindFatal, Op: "connect", Msg: prefix + err.Error(), Err: err}
}
