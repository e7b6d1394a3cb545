// Package scpcli implements remote.Backend by running the OpenSSH ssh and
// scp binaries once per operation. Reads and writes are staged through
// local temp files.
package scpcli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/houzin/scp-explorer/internal/constants"
	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/pathutil"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/retry"
)

// sshpass exit status for a rejected password.
const sshpassBadPassword = 5

type listMode int32

const (
	listUnknown listMode = iota
	listFind
	listLs
)

// Options tunes the command-line backend.
type Options struct {
	Runner      Runner
	Retry       retry.Policy
	ListTimeout time.Duration
	// TempDir holds staged transfer files; empty means os.TempDir.
	TempDir string
}

// DefaultOptions returns options that run the real binaries.
func DefaultOptions() Options {
	return Options{
		Runner:      ExecRunner{},
		Retry:       retry.DefaultPolicy(),
		ListTimeout: constants.ListTimeout,
	}
}

// Backend is the command-line implementation of remote.Backend.
type Backend struct {
	opts    Options
	logger  *logging.Logger
	life    remote.Lifecycle
	streams remote.StreamTracker
	mode    atomic.Int32

	mu      sync.Mutex
	cfg     remote.Config
	legacy  bool
	connCtx context.Context
	cancel  context.CancelFunc
}

var _ remote.Backend = (*Backend)(nil)

// New creates a disconnected command-line backend.
func New(logger *logging.Logger, opts Options) *Backend {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.ListTimeout <= 0 {
		opts.ListTimeout = constants.ListTimeout
	}
	return &Backend{opts: opts, logger: logger.Component("scp")}
}

func (b *Backend) Type() remote.ClientType { return remote.ClientCommandLine }
func (b *Backend) State() remote.State     { return b.life.State() }

// Connect locates the tools, detects the scp protocol flag and runs a
// trivial remote command to prove the credentials work.
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
	if cfg.Tools, err = b.resolveTools(cfg); err != nil {
		return err
	}
	legacy := b.detectLegacy(ctx, cfg.Tools.SSH)

	connCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.cfg, b.legacy, b.connCtx, b.cancel = cfg, legacy, connCtx, cancel
	b.mu.Unlock()
	b.mode.Store(int32(listUnknown))

	res, err := b.exec(ctx, "connect", cfg.Addr(), sshCommand(cfg, "echo Connection test"))
	if err == nil && !strings.Contains(string(res.Stdout), "Connection test") {
		err = remote.NewError(remote.KindFatal, "connect", cfg.Addr(),
			fmt.Errorf("unexpected response from server: %q", strings.TrimSpace(string(res.Stdout))))
	}
	if err != nil {
		cancel()
		b.mu.Lock()
		b.cfg, b.connCtx, b.cancel = remote.Config{}, nil, nil
		b.mu.Unlock()
		return err
	}

	established = true
	b.logger.Info().Str("host", cfg.Addr()).Str("user", cfg.Username).Bool("legacy_scp", legacy).Msg("SCP session established")
	return b.life.Connected()
}

// resolveTools fills in absolute tool paths, failing with install hints.
func (b *Backend) resolveTools(cfg remote.Config) (remote.Tools, error) {
	tools := cfg.Tools
	lookup := func(name, configured string) (string, error) {
		if configured == "" {
			configured = name
		}
		p, err := b.opts.Runner.LookPath(configured)
		if err != nil {
			return "", &remote.Error{Kind: remote.KindConfig, Op: "connect", Msg: installHint(name), Err: err}
		}
		return p, nil
	}

	var err error
	if tools.SSH, err = lookup("ssh", tools.SSH); err != nil {
		return tools, err
	}
	if tools.SCP, err = lookup("scp", tools.SCP); err != nil {
		return tools, err
	}
	if cfg.AuthType == remote.AuthPassword || (cfg.AuthType == remote.AuthKey && cfg.Passphrase != "") {
		if tools.SSHPass, err = lookup("sshpass", tools.SSHPass); err != nil {
			return tools, err
		}
	}
	return tools, nil
}

// detectLegacy reports whether scp needs -O. Unknown versions get no flag.
func (b *Backend) detectLegacy(ctx context.Context, ssh string) bool {
	res, err := b.opts.Runner.Run(ctx, Command{Path: ssh, Args: []string{"-V"}})
	if err != nil {
		b.logger.Debug().Err(err).Msg("ssh -V failed")
		return false
	}
	v, err := parseSSHVersion(string(res.Stderr) + string(res.Stdout))
	if err != nil {
		b.logger.Debug().Err(err).Msg("Could not determine OpenSSH version")
		return false
	}
	return needsLegacyFlag(v)
}

// Disconnect kills running commands, aborts streams and forgets the
// session. Safe to repeat.
func (b *Backend) Disconnect() error {
	err := b.streams.AbortAll()

	b.mu.Lock()
	cancel := b.cancel
	b.cfg, b.connCtx, b.cancel = remote.Config{}, nil, nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if prev := b.life.Reset(); prev != remote.StateDisconnected {
		b.logger.Debug().Str("from", prev.String()).Msg("SCP session closed")
	}
	return err
}

type session struct {
	cfg     remote.Config
	legacy  bool
	connCtx context.Context
}

func (b *Backend) session() (session, error) {
	if err := b.life.RequireConnected(); err != nil {
		return session{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connCtx == nil {
		return session{}, remote.ErrNotConnected
	}
	return session{cfg: b.cfg, legacy: b.legacy, connCtx: b.connCtx}, nil
}

func (b *Backend) policy() retry.Policy {
	p := b.opts.Retry
	p.OnRetry = func(name string, attempt int, err error, delay time.Duration) {
		b.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msgf("%s failed, retrying", name)
	}
	return p
}

// exec runs cmd under the retry policy. The invocation is killed when ctx
// ends or the backend disconnects.
func (b *Backend) exec(ctx context.Context, op, p string, cmd Command) (Result, error) {
	b.mu.Lock()
	connCtx := b.connCtx
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if connCtx != nil {
		stop := context.AfterFunc(connCtx, cancel)
		defer stop()
	}

	res, err := retry.DoValue(ctx, b.policy(), op, func(ctx context.Context) (Result, error) {
		res, err := b.opts.Runner.Run(ctx, cmd)
		if err == nil && res.ExitCode == 0 {
			return res, nil
		}
		return res, commandError(op, p, cmd, res, err)
	})
	if err != nil && connCtx != nil && connCtx.Err() != nil {
		return res, remote.ErrNotConnected
	}
	return res, remote.Wrap(op, p, err)
}

// ssh runs remoteCmd on the connected server.
func (b *Backend) ssh(ctx context.Context, op, p, remoteCmd string) (Result, error) {
	s, err := b.session()
	if err != nil {
		return Result{}, err
	}
	return b.exec(ctx, op, p, sshCommand(s.cfg, remoteCmd))
}

// commandError classifies a failed invocation from its exit status and stderr.
func commandError(op, p string, cmd Command, res Result, err error) error {
	if err != nil {
		return remote.Wrap(op, p, err)
	}
	stderr := strings.TrimSpace(string(res.Stderr))

	if idx := strings.Index(stderr, existsMarker); idx >= 0 && res.ExitCode == existsExitCode {
		isDir := strings.HasPrefix(strings.TrimSpace(stderr[idx+len(existsMarker):]), "dir")
		if op == "rename" {
			return remote.Conflictf(op, p, "A file or directory already exists at the target path: %s", p)
		}
		if isDir {
			return remote.Conflictf(op, p, "A directory with the same name already exists at the target path: %s", p)
		}
		return remote.Conflictf(op, p, "A file with the same name already exists at the target path: %s", p)
	}

	if strings.HasSuffix(cmd.Path, "sshpass") && res.ExitCode == sshpassBadPassword {
		return &remote.Error{Kind: remote.KindFatal, Op: op, Msg: "SSH authentication failed: invalid password or passphrase"}
	}
	if strings.Contains(stderr, "Permission denied (") {
		return &remote.Error{Kind: remote.KindFatal, Op: op, Msg: "SSH authentication failed: " + stderr}
	}
	if stderr == "" {
		stderr = fmt.Sprintf("command exited with status %d", res.ExitCode)
	}
	return remote.Wrap(op, p, errors.New(stderr))
}

// List lists a directory, preferring find and falling back to ls.
func (b *Backend) List(ctx context.Context, p string) ([]remote.Entry, error) {
	if _, err := b.session(); err != nil {
		return nil, err
	}
	p = pathutil.NormalizeRemote(p)

	lctx, cancel := context.WithTimeout(ctx, b.opts.ListTimeout)
	defer cancel()

	entries, err := b.list(lctx, p)
	if err != nil && ctx.Err() == nil && errors.Is(lctx.Err(), context.DeadlineExceeded) {
		return nil, remote.NewError(remote.KindTransient, "list", p,
			fmt.Errorf("directory listing timed out after %s", b.opts.ListTimeout))
	}
	return entries, err
}

func (b *Backend) list(ctx context.Context, p string) ([]remote.Entry, error) {
	if listMode(b.mode.Load()) != listLs {
		res, err := b.ssh(ctx, "list", p, findListCommand(p))
		if err == nil {
			entries, perr := parseFindOutput(string(res.Stdout))
			if perr == nil {
				b.mode.Store(int32(listFind))
				return entries, nil
			}
			err = perr
		}
		if listMode(b.mode.Load()) == listFind || !fallbackToLs(err) {
			return nil, err
		}
		b.logger.Debug().Err(err).Msg("find listing unavailable, falling back to ls")
	}

	res, err := b.ssh(ctx, "list", p, lsListCommand(p))
	if err != nil {
		return nil, err
	}
	b.mode.Store(int32(listLs))
	return parseLsOutput(string(res.Stdout), time.Now()), nil
}

// fallbackToLs reports whether a find failure could be a missing -printf.
func fallbackToLs(err error) bool {
	switch remote.KindOf(err) {
	case remote.KindNotFound, remote.KindTransient, remote.KindCancelled:
		return false
	}
	return !errors.Is(err, remote.ErrNotConnected)
}

// Mkdir creates one directory. An existing entry of any type is a conflict.
func (b *Backend) Mkdir(ctx context.Context, p string) error {
	p = pathutil.NormalizeRemote(p)
	_, err := b.ssh(ctx, "mkdir", p, mkdirCommand(p))
	return err
}

// Rmdir removes a directory tree.
func (b *Backend) Rmdir(ctx context.Context, p string) error {
	p = pathutil.NormalizeRemote(p)
	_, err := b.ssh(ctx, "rmdir", p, rmdirCommand(p))
	return err
}

// Unlink removes a single file.
func (b *Backend) Unlink(ctx context.Context, p string) error {
	p = pathutil.NormalizeRemote(p)
	_, err := b.ssh(ctx, "unlink", p, unlinkCommand(p))
	return err
}

// Rename moves oldPath to newPath, refusing to replace an existing target.
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	oldPath, newPath = pathutil.NormalizeRemote(oldPath), pathutil.NormalizeRemote(newPath)
	_, err := b.ssh(ctx, "rename", newPath, renameCommand(oldPath, newPath))
	return err
}

// Stat returns size and type.
func (b *Backend) Stat(ctx context.Context, p string) (remote.FileInfo, error) {
	p = pathutil.NormalizeRemote(p)
	res, err := b.ssh(ctx, "stat", p, statCommand(p))
	if err != nil {
		return remote.FileInfo{}, err
	}
	fi, err := parseStatOutput(string(res.Stdout))
	if err != nil {
		return remote.FileInfo{}, remote.Wrap("stat", p, err)
	}
	return fi, nil
}

// OpenRead downloads p to a temp file and streams it from disk.
func (b *Backend) OpenRead(ctx context.Context, p string) (remote.ReadStream, error) {
	s, err := b.session()
	if err != nil {
		return nil, err
	}
	p = pathutil.NormalizeRemote(p)

	tmp, err := b.tempFile()
	if err != nil {
		return nil, remote.Wrap("open", p, err)
	}
	cmd := scpCommand(s.cfg, s.legacy, remoteSpec(s.cfg, p), tmp)
	if _, err := b.exec(ctx, "download", p, cmd); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}

	f, err := os.Open(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return nil, remote.Wrap("open", p, err)
	}
	rs := &readStream{f: f, tmp: tmp}
	rs.release = b.streams.Track(rs)
	return rs, nil
}

// OpenWrite stages writes in a temp file and uploads it on Close.
func (b *Backend) OpenWrite(ctx context.Context, p string) (remote.WriteStream, error) {
	if _, err := b.session(); err != nil {
		return nil, err
	}
	p = pathutil.NormalizeRemote(p)

	tmp, err := b.tempFile()
	if err != nil {
		return nil, remote.Wrap("create", p, err)
	}
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		_ = os.Remove(tmp)
		return nil, remote.Wrap("create", p, err)
	}
	ws := &writeStream{f: f, tmp: tmp, path: p, ctx: ctx, push: b.push}
	ws.release = b.streams.Track(ws)
	return ws, nil
}

// push uploads a staged file to p, creating the parent directory first.
func (b *Backend) push(ctx context.Context, tmp, p string) error {
	s, err := b.session()
	if err != nil {
		return err
	}
	if parent := pathutil.ParentOf(p); parent != "/" {
		if _, err := b.exec(ctx, "upload", p, sshCommand(s.cfg, mkdirAllCommand(parent))); err != nil {
			return err
		}
	}
	_, err = b.exec(ctx, "upload", p, scpCommand(s.cfg, s.legacy, tmp, remoteSpec(s.cfg, p)))
	return err
}

func (b *Backend) tempFile() (string, error) {
	f, err := os.CreateTemp(b.opts.TempDir, "scp-explorer-*.part")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}
