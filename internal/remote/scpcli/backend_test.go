package scpcli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/retry"
)

// fakeRunner answers ssh -V and the connection test itself and hands
// everything else to handle.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []Command
	missing map[string]bool
	version string
	handle  func(bin string, args []string) (Result, error)
}

func (f *fakeRunner) LookPath(file string) (string, error) {
	if f.missing[file] {
		return "", exec.ErrNotFound
	}
	return "/usr/bin/" + file, nil
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	bin, args := unwrapSSHPass(cmd)
	if len(args) == 1 && args[0] == "-V" {
		v := f.version
		if v == "" {
			v = "OpenSSH_9.6p1 Ubuntu-3ubuntu13, OpenSSL 3.0.13 30 Jan 2024"
		}
		return Result{Stderr: []byte(v)}, nil
	}
	if f.handle != nil {
		return f.handle(bin, args)
	}
	if strings.HasSuffix(bin, "ssh") && args[len(args)-1] == "echo Connection test" {
		return Result{Stdout: []byte("Connection test\n")}, nil
	}
	return Result{ExitCode: 1, Stderr: []byte("unexpected command")}, nil
}

func (f *fakeRunner) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.calls...)
}

func unwrapSSHPass(cmd Command) (string, []string) {
	if !strings.HasSuffix(cmd.Path, "sshpass") {
		return cmd.Path, cmd.Args
	}
	for i, a := range cmd.Args {
		if a == "-e" {
			return cmd.Args[i+1], cmd.Args[i+2:]
		}
	}
	return cmd.Path, cmd.Args
}

func testConfig(auth remote.AuthMethod) remote.Config {
	cfg := remote.Config{Host: "files.example.com", Username: "deploy", AuthType: auth}
	if auth == remote.AuthPassword {
		cfg.Password = "s3cret"
	}
	return cfg
}

func fastOptions(r Runner) Options {
	return Options{
		Runner:      r,
		Retry:       retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		ListTimeout: 2 * time.Second,
	}
}

// connected returns a backend connected through r with agent auth.
func connected(t *testing.T, r *fakeRunner) *Backend {
	t.Helper()
	handle := r.handle
	r.handle = nil
	b := New(logging.NewNopLogger(), fastOptions(r))
	require.NoError(t, b.Connect(context.Background(), testConfig(remote.AuthAgent)))
	r.handle = handle
	t.Cleanup(func() { _ = b.Disconnect() })
	return b
}

func remoteCmd(args []string) string { return args[len(args)-1] }

func TestConnect_PasswordUsesSSHPass(t *testing.T) {
	r := &fakeRunner{}
	b := New(logging.NewNopLogger(), fastOptions(r))

	require.NoError(t, b.Connect(context.Background(), testConfig(remote.AuthPassword)))
	assert.Equal(t, remote.StateConnected, b.State())
	assert.Equal(t, remote.ClientCommandLine, b.Type())

	calls := r.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "/usr/bin/sshpass", last.Path)
	assert.Contains(t, last.Env, "SSHPASS=s3cret")
	assert.NotContains(t, strings.Join(last.Args, " "), "s3cret")
	assert.Contains(t, last.Args, "PreferredAuthentications=password,keyboard-interactive")
	assert.Contains(t, last.Args, "deploy@files.example.com")
}

func TestConnect_MissingSSHPass(t *testing.T) {
	r := &fakeRunner{missing: map[string]bool{"sshpass": true}}
	b := New(logging.NewNopLogger(), fastOptions(r))

	err := b.Connect(context.Background(), testConfig(remote.AuthPassword))
	require.Error(t, err)
	assert.Equal(t, remote.KindConfig, remote.KindOf(err))
	assert.Contains(t, err.Error(), "sshpass")
	assert.Equal(t, remote.StateDisconnected, b.State())
	assert.Empty(t, r.Calls())
}

func TestConnect_BadPasswordIsNotRetried(t *testing.T) {
	r := &fakeRunner{handle: func(bin string, args []string) (Result, error) {
		return Result{ExitCode: sshpassBadPassword}, nil
	}}
	b := New(logging.NewNopLogger(), fastOptions(r))

	err := b.Connect(context.Background(), testConfig(remote.AuthPassword))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSH authentication failed")
	assert.Equal(t, remote.StateDisconnected, b.State())
	// ssh -V plus exactly one connection attempt
	assert.Len(t, r.Calls(), 2)
}

func TestConnect_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	r := &fakeRunner{}
	r.handle = func(bin string, args []string) (Result, error) {
		attempts++
		if attempts < 3 {
			return Result{ExitCode: 255, Stderr: []byte("kex_exchange_identification: read: Connection reset by peer")}, nil
		}
		return Result{Stdout: []byte("Connection test\n")}, nil
	}
	b := New(logging.NewNopLogger(), fastOptions(r))

	require.NoError(t, b.Connect(context.Background(), testConfig(remote.AuthAgent)))
	assert.Equal(t, 3, attempts)
}

func TestConnect_ExhaustedRetries(t *testing.T) {
	r := &fakeRunner{handle: func(bin string, args []string) (Result, error) {
		return Result{ExitCode: 255, Stderr: []byte("Connection closed by 10.0.0.5 port 22")}, nil
	}}
	b := New(logging.NewNopLogger(), fastOptions(r))

	err := b.Connect(context.Background(), testConfig(remote.AuthAgent))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, remote.StateDisconnected, b.State())
}

func TestList_FindOutput(t *testing.T) {
	r := &fakeRunner{}
	b := connected(t, r)
	r.handle = func(bin string, args []string) (Result, error) {
		cmd := remoteCmd(args)
		require.Contains(t, cmd, "cd -- '/srv/it'\\''s'")
		return Result{Stdout: []byte("d\t4096\t1700000000.5\tlogs\nf\t12\t1700000001.0000000000\tnotes.txt\n")}, nil
	}

	entries, err := b.List(context.Background(), "/srv/it's")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, remote.Entry{Name: "logs", IsDir: true, Size: 4096, ModifyTime: 1700000000500}, entries[0])
	assert.Equal(t, remote.Entry{Name: "notes.txt", Size: 12, ModifyTime: 1700000001000}, entries[1])
}

func TestList_FallsBackToLs(t *testing.T) {
	r := &fakeRunner{}
	b := connected(t, r)
	var finds, lss int
	r.handle = func(bin string, args []string) (Result, error) {
		cmd := remoteCmd(args)
		if strings.Contains(cmd, "find .") {
			finds++
			return Result{ExitCode: 1, Stderr: []byte("find: -printf: unknown primary or operator")}, nil
		}
		lss++
		return Result{Stdout: []byte("total 8\n" +
			"drwxr-xr-x  3 deploy deploy 4096 Jan  1 10:00 .\n" +
			"drwxr-xr-x  9 root   root   4096 Jan  1 10:00 ..\n" +
			"-rw-r--r--  1 deploy deploy   42 Jan  1 10:00 my report.txt\n")}, nil
	}

	for i := 0; i < 2; i++ {
		entries, err := b.List(context.Background(), "/home/deploy")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "my report.txt", entries[0].Name)
		assert.Equal(t, int64(42), entries[0].Size)
	}
	assert.Equal(t, 1, finds, "find is not retried once ls is chosen")
	assert.Equal(t, 2, lss)
}

func TestList_MissingDirectory(t *testing.T) {
	r := &fakeRunner{}
	b := connected(t, r)
	r.handle = func(bin string, args []string) (Result, error) {
		return Result{ExitCode: 2, Stderr: []byte("sh: 1: cd: can't cd to /nope: No such file or directory")}, nil
	}

	_, err := b.List(context.Background(), "/nope")
	assert.True(t, remote.IsNotFound(err), "got %v", err)

	calls := r.Calls()
	assert.NotContains(t, remoteCmd(calls[len(calls)-1].Args), "ls -la", "missing paths do not trigger the ls fallback")
}

func TestMkdir_Conflict(t *testing.T) {
	r := &fakeRunner{}
	b := connected(t, r)
	r.handle = func(bin string, args []string) (Result, error) {
		return Result{ExitCode: existsExitCode, Stderr: []byte(existsMarker + " dir\n")}, nil
	}

	err := b.Mkdir(context.Background(), "/data")
	require.Error(t, err)
	assert.True(t, remote.IsConflict(err))
	assert.Equal(t, "Warning: A directory with the same name already exists at the target path: /data", err.Error())
}

func TestRename_Conflict(t *testing.T) {
	r := &fakeRunner{}
	b := connected(t, r)
	r.handle = func(bin string, args []string) (Result, error) {
		assert.Contains(t, remoteCmd(args), "mv -- '/a' '/b'")
		return Result{ExitCode: existsExitCode, Stderr: []byte(existsMarker + " file\n")}, nil
	}

	err := b.Rename(context.Background(), "/a", "/b")
	assert.True(t, remote.IsConflict(err))
	assert.Contains(t, err.Error(), "already exists at the target path: /b")
}

func TestStat(t *testing.T) {
	r := &fakeRunner{}
	b := connected(t, r)
	r.handle = func(bin string, args []string) (Result, error) {
		if strings.Contains(remoteCmd(args), "'/missing'") {
			return Result{ExitCode: 2, Stderr: []byte("stat: cannot stat '/missing': No such file or directory")}, nil
		}
		return Result{Stdout: []byte("f 1234\n")}, nil
	}

	fi, err := b.Stat(context.Background(), "/file.bin")
	require.NoError(t, err)
	assert.Equal(t, remote.FileInfo{Size: 1234}, fi)

	_, err = b.Stat(context.Background(), "/missing")
	assert.True(t, remote.IsNotFound(err))
}

func TestOperationsRequireConnection(t *testing.T) {
	b := New(logging.NewNopLogger(), fastOptions(&fakeRunner{}))
	_, err := b.List(context.Background(), "/")
	assert.ErrorIs(t, err, remote.ErrNotConnected)
	assert.ErrorIs(t, b.Mkdir(context.Background(), "/x"), remote.ErrNotConnected)
	_, err = b.OpenWrite(context.Background(), "/x")
	assert.ErrorIs(t, err, remote.ErrNotConnected)
}

// scpServer serves scp copies from and to an in-memory file map.
type scpServer struct {
	mu    sync.Mutex
	files map[string]string
	dirs  []string
}

func (s *scpServer) handle(bin string, args []string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.HasSuffix(bin, "ssh") {
		cmd := remoteCmd(args)
		if strings.HasPrefix(cmd, "mkdir -p -- ") {
			s.dirs = append(s.dirs, unquote(strings.TrimPrefix(cmd, "mkdir -p -- ")))
		}
		return Result{}, nil
	}
	src, dst := args[len(args)-2], args[len(args)-1]
	if i := strings.Index(src, ":'"); i >= 0 {
		content, ok := s.files[unquote(src[i+1:])]
		if !ok {
			return Result{ExitCode: 1, Stderr: []byte("scp: " + src + ": No such file or directory")}, nil
		}
		return Result{}, os.WriteFile(dst, []byte(content), 0o600)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return Result{}, err
	}
	i := strings.Index(dst, ":'")
	s.files[unquote(dst[i+1:])] = string(data)
	return Result{}, nil
}

func unquote(s string) string {
	return strings.ReplaceAll(strings.Trim(s, "'"), `'\''`, "'")
}

func TestStreams_RoundTrip(t *testing.T) {
	srv := &scpServer{files: map[string]string{"/remote/in.txt": "downloaded bytes"}}
	r := &fakeRunner{handle: srv.handle}
	b := connected(t, r)
	b.opts.TempDir = t.TempDir()
	ctx := context.Background()

	rs, err := b.OpenRead(ctx, "/remote/in.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rs)
	require.NoError(t, err)
	require.NoError(t, rs.Close())
	assert.Equal(t, "downloaded bytes", string(data))

	ws, err := b.OpenWrite(ctx, "/remote/out/new.txt")
	require.NoError(t, err)
	_, err = io.WriteString(ws, "uploaded bytes")
	require.NoError(t, err)
	require.NoError(t, ws.Close())

	assert.Equal(t, "uploaded bytes", srv.files["/remote/out/new.txt"])
	assert.Equal(t, []string{"/remote/out"}, srv.dirs)

	leftovers, err := filepath.Glob(filepath.Join(b.opts.TempDir, "*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "staged files are removed")

	var scpCall Command
	for _, c := range r.Calls() {
		if strings.HasSuffix(c.Path, "scp") {
			scpCall = c
		}
	}
	assert.Contains(t, scpCall.Args, "-O", "OpenSSH 9 needs the legacy protocol flag")
}

func TestStreams_OpenReadMissing(t *testing.T) {
	srv := &scpServer{files: map[string]string{}}
	r := &fakeRunner{handle: srv.handle}
	b := connected(t, r)
	b.opts.TempDir = t.TempDir()

	_, err := b.OpenRead(context.Background(), "/gone.txt")
	assert.True(t, remote.IsNotFound(err), "got %v", err)
	leftovers, _ := filepath.Glob(filepath.Join(b.opts.TempDir, "*"))
	assert.Empty(t, leftovers)
}

func TestDisconnect_AbortsStagedWrite(t *testing.T) {
	srv := &scpServer{files: map[string]string{}}
	r := &fakeRunner{handle: srv.handle}
	b := connected(t, r)
	b.opts.TempDir = t.TempDir()

	ws, err := b.OpenWrite(context.Background(), "/partial.bin")
	require.NoError(t, err)
	_, err = ws.Write([]byte("half"))
	require.NoError(t, err)

	require.NoError(t, b.Disconnect())
	require.NoError(t, b.Disconnect())
	assert.Equal(t, remote.StateDisconnected, b.State())

	assert.NoError(t, ws.Close(), "close after abort is a no-op")
	assert.Empty(t, srv.files)
	leftovers, _ := filepath.Glob(filepath.Join(b.opts.TempDir, "*"))
	assert.Empty(t, leftovers)
}

func TestDisconnect_KillsRunningCommand(t *testing.T) {
	r := &fakeRunner{}
	b := connected(t, r)
	started := make(chan struct{})
	r.handle = func(bin string, args []string) (Result, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return Result{}, context.Canceled
	}

	done := make(chan error, 1)
	go func() { done <- b.Mkdir(context.Background(), "/slow") }()
	<-started
	require.NoError(t, b.Disconnect())

	err := <-done
	assert.True(t, errors.Is(err, remote.ErrNotConnected), "got %v", err)
}
