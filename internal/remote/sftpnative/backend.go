// Package sftpnative implements remote.Backend on the sftp subsystem of a
// persistent ssh connection.
package sftpnative

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/net/proxy"

	"github.com/houzin/scp-explorer/internal/constants"
	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/pathutil"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/retry"
)

// Options tunes the sftp client.
type Options struct {
	MaxPacket          int
	ConcurrentRequests int
	ListTimeout        time.Duration
	Retry              retry.Policy
}

// DefaultOptions returns the standard window and timeout settings.
func DefaultOptions() Options {
	return Options{
		MaxPacket:          constants.NativeMaxPacket,
		ConcurrentRequests: constants.NativeConcurrentRequests,
		ListTimeout:        constants.ListTimeout,
		Retry:              retry.DefaultPolicy(),
	}
}

// Backend is the native sftp implementation of remote.Backend.
type Backend struct {
	opts    Options
	logger  *logging.Logger
	life    remote.Lifecycle
	streams remote.StreamTracker

	mu         sync.Mutex
	sshClient  io.Closer
	client     *sftp.Client
	closeAgent func()
}

var _ remote.Backend = (*Backend)(nil)

// New creates a disconnected native backend.
func New(logger *logging.Logger, opts Options) *Backend {
	if opts.MaxPacket <= 0 {
		opts.MaxPacket = constants.NativeMaxPacket
	}
	if opts.ConcurrentRequests <= 0 {
		opts.ConcurrentRequests = constants.NativeConcurrentRequests
	}
	if opts.ListTimeout <= 0 {
		opts.ListTimeout = constants.ListTimeout
	}
	return &Backend{opts: opts, logger: logger.Component("sftp")}
}

// newWithClient wraps an already-established sftp client.
func newWithClient(logger *logging.Logger, opts Options, client *sftp.Client, closer io.Closer) *Backend {
	b := New(logger, opts)
	_ = b.life.BeginConnect()
	b.client = client
	b.sshClient = closer
	b.closeAgent = func() {}
	_ = b.life.Connected()
	return b
}

func (b *Backend) Type() remote.ClientType { return remote.ClientNative }
func (b *Backend) State() remote.State     { return b.life.State() }

// Connect dials, authenticates and opens the sftp subsystem.
func (b *Backend) Connect(ctx context.Context, cfg remote.Config) error {
	if err := b.life.BeginConnect(); err != nil {
		return err
	}
	established := false
	defer func() {
		if !established {
			b.life.Reset()
		}
	}()

	cfg, err := cfg.Preflight()
	if err != nil {
		return err
	}
	auth, closeAgent, err := authMethods(cfg)
	if err != nil {
		return err
	}
	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		closeAgent()
		return err
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout(),
	}

	policy := b.opts.Retry
	policy.OnRetry = func(name string, attempt int, err error, delay time.Duration) {
		b.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msgf("%s failed, retrying", name)
	}
	sshClient, err := retry.DoValue(ctx, policy, "ssh connect", func(ctx context.Context) (*ssh.Client, error) {
		return dial(ctx, cfg, clientCfg)
	})
	if err != nil {
		closeAgent()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return authError(cfg, err)
		}
		return remote.Wrap("connect", cfg.Addr(), err)
	}

	client, err := sftp.NewClient(sshClient,
		sftp.MaxPacketUnchecked(b.opts.MaxPacket),
		sftp.MaxConcurrentRequestsPerFile(b.opts.ConcurrentRequests),
		sftp.UseConcurrentReads(true),
		sftp.UseConcurrentWrites(true),
	)
	if err != nil {
		_ = sshClient.Close()
		closeAgent()
		return remote.Wrap("connect", cfg.Addr(), err)
	}

	b.mu.Lock()
	b.sshClient = sshClient
	b.client = client
	b.closeAgent = closeAgent
	b.mu.Unlock()

	established = true
	b.logger.Info().Str("host", cfg.Addr()).Str("user", cfg.Username).Msg("SFTP session established")
	return b.life.Connected()
}

func dial(ctx context.Context, cfg remote.Config, clientCfg *ssh.ClientConfig) (*ssh.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	conn, err := dialTCP(ctx, cfg)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(cfg.Timeout()))
	c, chans, reqs, err := ssh.NewClientConn(conn, cfg.Addr(), clientCfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func dialTCP(ctx context.Context, cfg remote.Config) (net.Conn, error) {
	if cfg.ProxyURL == "" {
		// Honors ALL_PROXY / NO_PROXY.
		return proxy.Dial(ctx, "tcp", cfg.Addr())
	}
	u, err := url.Parse(cfg.ProxyURL)
	if err != nil {
		return nil, remote.ConfigErrorf("Invalid proxy URL %q: %v", cfg.ProxyURL, err)
	}
	d, err := proxy.FromURL(u, &net.Dialer{Timeout: cfg.Timeout()})
	if err != nil {
		return nil, remote.ConfigErrorf("Unsupported proxy URL %q: %v", cfg.ProxyURL, err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", cfg.Addr())
	}
	return d.Dial("tcp", cfg.Addr())
}

// Disconnect aborts open streams and closes the session. Safe to repeat.
func (b *Backend) Disconnect() error {
	var result *multierror.Error
	if err := b.streams.AbortAll(); err != nil {
		result = multierror.Append(result, err)
	}

	b.mu.Lock()
	client, sshClient, closeAgent := b.client, b.sshClient, b.closeAgent
	b.client, b.sshClient, b.closeAgent = nil, nil, nil
	b.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil && !errors.Is(err, io.EOF) {
			result = multierror.Append(result, fmt.Errorf("close sftp client: %w", err))
		}
	}
	if sshClient != nil {
		if err := sshClient.Close(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
			result = multierror.Append(result, fmt.Errorf("close ssh connection: %w", err))
		}
	}
	if closeAgent != nil {
		closeAgent()
	}

	if prev := b.life.Reset(); prev != remote.StateDisconnected {
		b.logger.Debug().Str("from", prev.String()).Msg("SFTP session closed")
	}
	return result.ErrorOrNil()
}

func (b *Backend) sftp() (*sftp.Client, error) {
	if err := b.life.RequireConnected(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, remote.ErrNotConnected
	}
	return b.client, nil
}

// List reads a directory, bounded by the list timeout.
func (b *Backend) List(ctx context.Context, p string) ([]remote.Entry, error) {
	c, err := b.sftp()
	if err != nil {
		return nil, err
	}
	p = pathutil.NormalizeRemote(p)

	lctx, cancel := context.WithTimeout(ctx, b.opts.ListTimeout)
	defer cancel()

	infos, err := c.ReadDirContext(lctx, p)
	if err != nil {
		if ctx.Err() == nil && errors.Is(lctx.Err(), context.DeadlineExceeded) {
			return nil, remote.NewError(remote.KindTransient, "list", p,
				fmt.Errorf("directory listing timed out after %s", b.opts.ListTimeout))
		}
		return nil, remote.Wrap("list", p, err)
	}

	entries := make([]remote.Entry, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if name == "." || name == ".." {
			continue
		}
		entries = append(entries, remote.Entry{
			Name:       name,
			IsDir:      fi.IsDir(),
			Size:       fi.Size(),
			ModifyTime: fi.ModTime().UnixMilli(),
		})
	}
	return entries, nil
}

// Mkdir creates one directory. An existing entry of any type is a conflict.
func (b *Backend) Mkdir(ctx context.Context, p string) error {
	c, err := b.sftp()
	if err != nil {
		return err
	}
	p = pathutil.NormalizeRemote(p)

	if fi, err := c.Lstat(p); err == nil {
		if fi.IsDir() {
			return remote.Conflictf("mkdir", p, "A directory with the same name already exists at the target path: %s", p)
		}
		return remote.Conflictf("mkdir", p, "A file with the same name already exists at the target path: %s", p)
	} else if !errors.Is(err, os.ErrNotExist) {
		return remote.Wrap("mkdir", p, err)
	}

	if err := c.Mkdir(p); err != nil {
		return remote.Wrap("mkdir", p, err)
	}
	return nil
}

// Rmdir removes a directory tree, depth first.
func (b *Backend) Rmdir(ctx context.Context, p string) error {
	c, err := b.sftp()
	if err != nil {
		return err
	}
	return b.removeTree(ctx, c, pathutil.NormalizeRemote(p))
}

func (b *Backend) removeTree(ctx context.Context, c *sftp.Client, p string) error {
	if err := ctx.Err(); err != nil {
		return remote.Wrap("rmdir", p, err)
	}
	infos, err := c.ReadDirContext(ctx, p)
	if err != nil {
		return remote.Wrap("rmdir", p, err)
	}
	for _, fi := range infos {
		child := pathutil.JoinRemote(p, fi.Name())
		if fi.IsDir() {
			if err := b.removeTree(ctx, c, child); err != nil {
				return err
			}
			continue
		}
		if err := c.Remove(child); err != nil {
			return remote.Wrap("unlink", child, err)
		}
	}
	if err := c.RemoveDirectory(p); err != nil {
		return remote.Wrap("rmdir", p, err)
	}
	return nil
}

// Unlink removes a single file.
func (b *Backend) Unlink(ctx context.Context, p string) error {
	c, err := b.sftp()
	if err != nil {
		return err
	}
	p = pathutil.NormalizeRemote(p)
	if err := c.Remove(p); err != nil {
		return remote.Wrap("unlink", p, err)
	}
	return nil
}

// Rename moves oldPath to newPath, refusing to replace an existing target.
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	c, err := b.sftp()
	if err != nil {
		return err
	}
	oldPath, newPath = pathutil.NormalizeRemote(oldPath), pathutil.NormalizeRemote(newPath)

	if _, err := c.Lstat(newPath); err == nil {
		return remote.Conflictf("rename", newPath, "A file or directory already exists at the target path: %s", newPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return remote.Wrap("rename", newPath, err)
	}

	if err := c.Rename(oldPath, newPath); err != nil {
		return remote.Wrap("rename", oldPath, err)
	}
	return nil
}

// Stat returns size and type.
func (b *Backend) Stat(ctx context.Context, p string) (remote.FileInfo, error) {
	c, err := b.sftp()
	if err != nil {
		return remote.FileInfo{}, err
	}
	p = pathutil.NormalizeRemote(p)
	fi, err := c.Stat(p)
	if err != nil {
		return remote.FileInfo{}, remote.Wrap("stat", p, err)
	}
	return remote.FileInfo{Size: fi.Size(), IsDir: fi.IsDir()}, nil
}

// OpenRead opens a remote file for streaming.
func (b *Backend) OpenRead(ctx context.Context, p string) (remote.ReadStream, error) {
	c, err := b.sftp()
	if err != nil {
		return nil, err
	}
	p = pathutil.NormalizeRemote(p)
	f, err := c.Open(p)
	if err != nil {
		return nil, remote.Wrap("open", p, err)
	}
	s := &readStream{f: f}
	s.release = b.streams.Track(s)
	return s, nil
}

// OpenWrite creates or truncates a remote file for streaming.
func (b *Backend) OpenWrite(ctx context.Context, p string) (remote.WriteStream, error) {
	c, err := b.sftp()
	if err != nil {
		return nil, err
	}
	p = pathutil.NormalizeRemote(p)
	f, err := c.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, remote.Wrap("create", p, err)
	}
	s := &writeStream{f: f, client: c, path: p}
	s.release = b.streams.Track(s)
	return s, nil
}
