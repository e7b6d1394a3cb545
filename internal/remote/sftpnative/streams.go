package sftpnative

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"

	"github.com/houzin/scp-explorer/internal/remote"
)

type readStream struct {
	f       *sftp.File
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
	})
	return s.err
}

// Abort closes the handle; any Read in flight fails.
func (s *readStream) Abort() error {
	return bounded(s.Close)
}

type writeStream struct {
	f       *sftp.File
	client  *sftp.Client
	path    string
	release func()

	mu   sync.Mutex
	done bool
}

func (s *writeStream) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

// Close commits the file.
func (s *writeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.release()
	if err := s.f.Close(); err != nil {
		return remote.Wrap("close", s.path, err)
	}
	return nil
}

// Abort closes the handle and removes the partial file.
func (s *writeStream) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.release()
	return bounded(func() error {
		_ = s.f.Close()
		if err := s.client.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return remote.Wrap("abort", s.path, err)
		}
		return nil
	})
}

// abortTimeout caps how long an abort waits on an unresponsive server.
const abortTimeout = 3 * time.Second

// bounded runs fn but gives up waiting after abortTimeout.
func bounded(fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(abortTimeout):
		return nil
	}
}
