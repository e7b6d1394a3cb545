package scpcli

import (
	"context"
	"os"
	"sync"

	"github.com/houzin/scp-explorer/internal/remote"
)

// readStream reads a downloaded temp file and removes it when done.
type readStream struct {
	f       *os.File
	tmp     string
	release func()
	once    sync.Once
	err     error
}

func (s *readStream) Read(p []byte) (int, error) {
	return s.f.Read(p)
}

func (s *readStream) Close() error {
	s.once.Do(func() {
		s.release()
		s.err = s.f.Close()
		_ = os.Remove(s.tmp)
	})
	return s.err
}

// Abort is Close; nothing remote is left behind by a read.
func (s *readStream) Abort() error {
	return s.Close()
}

// writeStream collects bytes in a temp file and pushes it on Close.
type writeStream struct {
	f       *os.File
	tmp     string
	path    string
	ctx     context.Context
	push    func(ctx context.Context, tmp, p string) error
	release func()

	mu   sync.Mutex
	done bool
}

func (s *writeStream) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

// Close uploads the staged file. The temp file is removed either way.
func (s *writeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.release()
	defer os.Remove(s.tmp)

	if err := s.f.Close(); err != nil {
		return remote.Wrap("close", s.path, err)
	}
	return s.push(s.ctx, s.tmp, s.path)
}

// Abort drops the staged file without uploading.
func (s *writeStream) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.release()
	_ = s.f.Close()
	_ = os.Remove(s.tmp)
	return nil
}
