// Package sshconfig resolves Host aliases from an OpenSSH client config file.
package sshconfig

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"

	"github.com/houzin/scp-explorer/internal/pathutil"
	"github.com/houzin/scp-explorer/internal/remote"
)

// Host is what a matching Host block says about an alias.
type Host struct {
	Alias        string
	HostName     string
	Port         int
	User         string
	IdentityFile string
}

// Resolver answers alias lookups against one decoded config.
type Resolver struct {
	cfg *ssh_config.Config
}

// DefaultPath returns ~/.ssh/config.
func DefaultPath() (string, error) {
	home, err := pathutil.ExpandHome("~")
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ssh", "config"), nil
}

// Load decodes the config at path. A missing file yields an empty resolver.
func Load(path string) (*Resolver, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return &Resolver{}, nil
		}
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &Resolver{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error opening ssh config file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses config text.
func Decode(r io.Reader) (*Resolver, error) {
	cfg, err := ssh_config.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("error decoding ssh config file: %w", err)
	}
	return &Resolver{cfg: cfg}, nil
}

// Aliases returns the literal (non-wildcard) Host patterns in file order.
func (r *Resolver) Aliases() []string {
	if r == nil || r.cfg == nil {
		return nil
	}
	var out []string
	for _, h := range r.cfg.Hosts {
		for _, p := range h.Patterns {
			s := p.String()
			if s == "" || strings.ContainsAny(s, "*?!") {
				continue
			}
			out = append(out, s)
		}
	}
	return out
}

// Lookup resolves alias. The bool is false when no Host block other than
// a bare "*" matches it.
func (r *Resolver) Lookup(alias string) (Host, bool, error) {
	h := Host{Alias: alias}
	if r == nil || r.cfg == nil || !r.matches(alias) {
		return h, false, nil
	}

	get := func(key string) (string, error) {
		v, err := r.cfg.Get(alias, key)
		if err != nil {
			return "", fmt.Errorf("failed to read %s for %s: %w", key, alias, err)
		}
		return strings.TrimSpace(v), nil
	}

	var err error
	if h.HostName, err = get("HostName"); err != nil {
		return h, true, err
	}
	if h.User, err = get("User"); err != nil {
		return h, true, err
	}
	if h.IdentityFile, err = get("IdentityFile"); err != nil {
		return h, true, err
	}
	port, err := get("Port")
	if err != nil {
		return h, true, err
	}
	if port != "" {
		n, convErr := strconv.Atoi(port)
		if convErr != nil {
			return h, true, fmt.Errorf("invalid Port %q for %s", port, alias)
		}
		h.Port = n
	}
	if strings.HasPrefix(h.IdentityFile, "~") {
		if h.IdentityFile, err = pathutil.ExpandHome(h.IdentityFile); err != nil {
			return h, true, err
		}
	}
	return h, true, nil
}

func (r *Resolver) matches(alias string) bool {
	for _, h := range r.cfg.Hosts {
		if len(h.Patterns) == 1 && h.Patterns[0].String() == "*" {
			continue
		}
		if h.Matches(alias) {
			return true
		}
	}
	return false
}

// Apply rewrites rc.Host when it names an alias and fills the port, user
// and key path the caller left empty. It reports whether an alias matched.
func (r *Resolver) Apply(rc *remote.Config) (bool, error) {
	h, ok, err := r.Lookup(rc.Host)
	if err != nil || !ok {
		return ok, err
	}
	if h.HostName != "" {
		rc.Host = h.HostName
	}
	if rc.Port == 0 && h.Port != 0 {
		rc.Port = h.Port
	}
	if rc.Username == "" {
		rc.Username = h.User
	}
	if rc.PrivateKeyPath == "" && h.IdentityFile != "" {
		rc.PrivateKeyPath = h.IdentityFile
		if rc.AuthType == "" {
			rc.AuthType = remote.AuthKey
		}
	}
	return true, nil
}
