package services

import (
	"github.com/houzin/scp-explorer/internal/config"
	"github.com/houzin/scp-explorer/internal/profiles"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/sshconfig"
)

// ConnectionPreparer turns a partially filled config into the one that is
// dialed. Every field is optional.
type ConnectionPreparer struct {
	Store    *profiles.Store
	Resolver *sshconfig.Resolver
	App      *config.AppConfig
}

// Prepare fills cfg from, in order: the saved connection named by profile,
// a matching ~/.ssh/config Host block, and the application defaults.
// Fields already set in cfg win over the saved connection.
func (p ConnectionPreparer) Prepare(cfg remote.Config, profile string) (remote.Config, error) {
	if profile != "" {
		if p.Store == nil {
			return cfg, remote.ConfigErrorf("Saved connections are not available")
		}
		conn, err := p.Store.Find(profile)
		if err != nil {
			return cfg, remote.ConfigErrorf("Saved connection %q: %v", profile, err)
		}
		saved, err := conn.RemoteConfig()
		if err != nil {
			return cfg, err
		}
		cfg = overlay(saved, cfg)
	}

	if p.Resolver != nil {
		if _, err := p.Resolver.Apply(&cfg); err != nil {
			return cfg, remote.ConfigErrorf("Failed to read ssh config: %v", err)
		}
	}
	if p.App != nil {
		p.App.ApplyTo(&cfg)
	}
	if cfg.AuthType == "" && cfg.Password != "" {
		cfg.AuthType = remote.AuthPassword
	}
	return cfg, nil
}

// overlay copies the non-zero fields of top onto base.
func overlay(base, top remote.Config) remote.Config {
	if top.Host != "" {
		base.Host = top.Host
	}
	if top.Port != 0 {
		base.Port = top.Port
	}
	if top.Username != "" {
		base.Username = top.Username
	}
	if top.AuthType != "" {
		base.AuthType = top.AuthType
	}
	if top.Password != "" {
		base.Password = top.Password
	}
	if top.PrivateKeyPath != "" {
		base.PrivateKeyPath = top.PrivateKeyPath
	}
	if top.Passphrase != "" {
		base.Passphrase = top.Passphrase
	}
	if top.ClientType != "" {
		base.ClientType = top.ClientType
	}
	base.AcceptInsecureKey = base.AcceptInsecureKey || top.AcceptInsecureKey
	base.UseAgent = base.UseAgent || top.UseAgent
	if top.KnownHostsPath != "" {
		base.KnownHostsPath = top.KnownHostsPath
	}
	if top.ProxyURL != "" {
		base.ProxyURL = top.ProxyURL
	}
	if top.ConnectTimeout != 0 {
		base.ConnectTimeout = top.ConnectTimeout
	}
	if top.Tools != (remote.Tools{}) {
		base.Tools = top.Tools
	}
	return base
}
