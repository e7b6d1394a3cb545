// Package remotetest provides an in-memory remote.Backend for tests.
package remotetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/houzin/scp-explorer/internal/pathutil"
	"github.com/houzin/scp-explorer/internal/remote"
)

// Backend is an in-memory remote filesystem. Paths are POSIX-style.
type Backend struct {
	kind    remote.ClientType
	life    remote.Lifecycle
	streams remote.StreamTracker

	mu       sync.Mutex
	dirs     map[string]bool
	files    map[string][]byte
	ops      []string
	connects int
	lastCfg  remote.Config

	// ConnectErr, when set, is returned from Connect.
	ConnectErr func(cfg remote.Config) error
	// Fail, when set, is consulted before every operation.
	Fail func(op, path string) error
	// OnChunk, when set, is called after every Read or Write on a stream.
	OnChunk func(op, path string, n int)
}

var _ remote.Backend = (*Backend)(nil)

// New returns an empty filesystem containing only "/".
func New(kind remote.ClientType) *Backend {
	return &Backend{
		kind:  kind,
		dirs:  map[string]bool{"/": true},
		files: make(map[string][]byte),
	}
}

// AddDir creates p and its parents.
func (b *Backend) AddDir(p string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addDirLocked(clean(p))
}

func (b *Backend) addDirLocked(p string) {
	for p != "/" {
		b.dirs[p] = true
		p = pathutil.ParentOf(p)
	}
}

// AddFile stores a file, creating parent directories.
func (b *Backend) AddFile(p string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p = clean(p)
	b.addDirLocked(pathutil.ParentOf(p))
	b.files[p] = append([]byte(nil), data...)
}

// File returns the content stored at p.
func (b *Backend) File(p string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[clean(p)]
	return data, ok
}

// IsDir reports whether p is a directory.
func (b *Backend) IsDir(p string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirs[clean(p)]
}

// Ops returns the mutating operations performed so far, e.g. "mkdir /a".
func (b *Backend) Ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ops...)
}

// Connects returns how many times Connect succeeded.
func (b *Backend) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// LastConfig returns the config passed to the last successful Connect.
func (b *Backend) LastConfig() remote.Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastCfg
}

// OpenStreams returns the number of streams not yet closed.
func (b *Backend) OpenStreams() int { return b.streams.Len() }

func (b *Backend) Type() remote.ClientType { return b.kind }
func (b *Backend) State() remote.State     { return b.life.State() }

func (b *Backend) Connect(ctx context.Context, cfg remote.Config) error {
	if err := b.life.BeginConnect(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		b.life.Reset()
		return err
	}
	if b.ConnectErr != nil {
		if err := b.ConnectErr(cfg); err != nil {
			b.life.Reset()
			return err
		}
	}
	b.mu.Lock()
	b.connects++
	b.lastCfg = cfg
	b.mu.Unlock()
	return b.life.Connected()
}

func (b *Backend) Disconnect() error {
	err := b.streams.AbortAll()
	b.life.Reset()
	return err
}

func (b *Backend) check(op, p string) error {
	if err := b.life.RequireConnected(); err != nil {
		return err
	}
	if b.Fail != nil {
		if err := b.Fail(op, p); err != nil {
			return remote.Wrap(op, p, err)
		}
	}
	return nil
}

func (b *Backend) List(ctx context.Context, p string) ([]remote.Entry, error) {
	p = clean(p)
	if err := b.check("list", p); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirs[p] {
		return nil, remote.NewError(remote.KindNotFound, "list", p, fmt.Errorf("no such file"))
	}
	now := time.Now().UnixMilli()
	var out []remote.Entry
	for d := range b.dirs {
		if d != "/" && pathutil.ParentOf(d) == p {
			out = append(out, remote.Entry{Name: pathutil.BaseRemote(d), IsDir: true, ModifyTime: now})
		}
	}
	for f, data := range b.files {
		if pathutil.ParentOf(f) == p {
			out = append(out, remote.Entry{Name: pathutil.BaseRemote(f), Size: int64(len(data)), ModifyTime: now})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) Mkdir(ctx context.Context, p string) error {
	p = clean(p)
	if err := b.check("mkdir", p); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dirs[p] || b.files[p] != nil {
		return remote.Conflictf("mkdir", p, "Path already exists: %s", p)
	}
	if !b.dirs[pathutil.ParentOf(p)] {
		return remote.NewError(remote.KindNotFound, "mkdir", p, fmt.Errorf("no such file"))
	}
	b.dirs[p] = true
	b.ops = append(b.ops, "mkdir "+p)
	return nil
}

func (b *Backend) Rmdir(ctx context.Context, p string) error {
	p = clean(p)
	if err := b.check("rmdir", p); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirs[p] {
		return remote.NewError(remote.KindNotFound, "rmdir", p, fmt.Errorf("no such file"))
	}
	prefix := p + "/"
	for d := range b.dirs {
		if d == p || strings.HasPrefix(d, prefix) {
			delete(b.dirs, d)
		}
	}
	for f := range b.files {
		if strings.HasPrefix(f, prefix) {
			delete(b.files, f)
		}
	}
	b.ops = append(b.ops, "rmdir "+p)
	return nil
}

func (b *Backend) Unlink(ctx context.Context, p string) error {
	p = clean(p)
	if err := b.check("unlink", p); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[p]; !ok {
		return remote.NewError(remote.KindNotFound, "unlink", p, fmt.Errorf("no such file"))
	}
	delete(b.files, p)
	b.ops = append(b.ops, "unlink "+p)
	return nil
}

func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	oldPath, newPath = clean(oldPath), clean(newPath)
	if err := b.check("rename", oldPath); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dirs[newPath] || b.files[newPath] != nil {
		return remote.Conflictf("rename", newPath, "A file or directory already exists at the target path: %s", newPath)
	}
	if data, ok := b.files[oldPath]; ok {
		delete(b.files, oldPath)
		b.files[newPath] = data
	} else if b.dirs[oldPath] {
		prefix := oldPath + "/"
		for d := range b.dirs {
			if d == oldPath || strings.HasPrefix(d, prefix) {
				delete(b.dirs, d)
				b.dirs[newPath+strings.TrimPrefix(d, oldPath)] = true
			}
		}
		for f, data := range b.files {
			if strings.HasPrefix(f, prefix) {
				delete(b.files, f)
				b.files[newPath+strings.TrimPrefix(f, oldPath)] = data
			}
		}
	} else {
		return remote.NewError(remote.KindNotFound, "rename", oldPath, fmt.Errorf("no such file"))
	}
	b.ops = append(b.ops, "rename "+oldPath+" "+newPath)
	return nil
}

func (b *Backend) Stat(ctx context.Context, p string) (remote.FileInfo, error) {
	p = clean(p)
	if err := b.check("stat", p); err != nil {
		return remote.FileInfo{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dirs[p] {
		return remote.FileInfo{IsDir: true}, nil
	}
	if data, ok := b.files[p]; ok {
		return remote.FileInfo{Size: int64(len(data))}, nil
	}
	return remote.FileInfo{}, remote.NewError(remote.KindNotFound, "stat", p, fmt.Errorf("no such file"))
}

func (b *Backend) OpenRead(ctx context.Context, p string) (remote.ReadStream, error) {
	p = clean(p)
	if err := b.check("read", p); err != nil {
		return nil, err
	}
	b.mu.Lock()
	data, ok := b.files[p]
	b.mu.Unlock()
	if !ok {
		return nil, remote.NewError(remote.KindNotFound, "read", p, fmt.Errorf("no such file"))
	}
	rs := &readStream{b: b, path: p, r: bytes.NewReader(data)}
	rs.release = b.streams.Track(rs)
	return rs, nil
}

func (b *Backend) OpenWrite(ctx context.Context, p string) (remote.WriteStream, error) {
	p = clean(p)
	if err := b.check("write", p); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dirs[p] {
		return nil, remote.Conflictf("write", p, "A directory with the same name already exists at the target path: %s", p)
	}
	if !b.dirs[pathutil.ParentOf(p)] {
		return nil, remote.NewError(remote.KindNotFound, "write", p, fmt.Errorf("no such file"))
	}
	b.ops = append(b.ops, "write "+p)
	ws := &writeStream{b: b, path: p}
	ws.release = b.streams.Track(ws)
	return ws, nil
}

type readStream struct {
	b       *Backend
	path    string
	r       *bytes.Reader
	release func()
	mu      sync.Mutex
	closed  bool
	aborted bool
}

func (s *readStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	n, err := s.r.Read(p)
	s.mu.Unlock()
	if n > 0 && s.b.OnChunk != nil {
		s.b.OnChunk("read", s.path, n)
	}
	return n, err
}

func (s *readStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.release()
	}
	return nil
}

func (s *readStream) Abort() error {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
	return s.Close()
}

type writeStream struct {
	b       *Backend
	path    string
	buf     bytes.Buffer
	release func()
	mu      sync.Mutex
	closed  bool
}

func (s *writeStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	n, err := s.buf.Write(p)
	s.mu.Unlock()
	if n > 0 && s.b.OnChunk != nil {
		s.b.OnChunk("write", s.path, n)
	}
	return n, err
}

func (s *writeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.release()
	s.b.mu.Lock()
	s.b.files[s.path] = append([]byte(nil), s.buf.Bytes()...)
	s.b.mu.Unlock()
	return nil
}

// Abort discards the buffered content without committing it.
func (s *writeStream) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.release()
	return nil
}

func clean(p string) string {
	p = pathutil.NormalizeRemote(p)
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
