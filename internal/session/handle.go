package session

import (
	"context"

	"github.com/houzin/scp-explorer/internal/remote"
)

// Handle borrows the live backend for one generation. Once the manager
// reconnects or disconnects, every call fails with ErrStaleHandle.
type Handle struct {
	m   *Manager
	b   remote.Backend
	gen uint64
}

// Generation is the session generation the handle belongs to.
func (h *Handle) Generation() uint64 { return h.gen }

// Type reports the backend kind.
func (h *Handle) Type() remote.ClientType { return h.b.Type() }

func (h *Handle) check() error {
	if h.m.Generation() != h.gen {
		return ErrStaleHandle
	}
	return nil
}

// MarkLost reports a connection loss observed through this handle.
func (h *Handle) MarkLost(cause error) bool {
	return h.m.MarkLost(h.gen, cause)
}

func (h *Handle) List(ctx context.Context, p string) ([]remote.Entry, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	return h.b.List(ctx, p)
}

// ListOrRoot lists p, falling back to "/" when p is missing.
func (h *Handle) ListOrRoot(ctx context.Context, p string) ([]remote.Entry, string, error) {
	if err := h.check(); err != nil {
		return nil, p, err
	}
	return remote.ListOrRoot(ctx, h.b, p)
}

func (h *Handle) Mkdir(ctx context.Context, p string) error {
	if err := h.check(); err != nil {
		return err
	}
	return h.b.Mkdir(ctx, p)
}

func (h *Handle) Rmdir(ctx context.Context, p string) error {
	if err := h.check(); err != nil {
		return err
	}
	return h.b.Rmdir(ctx, p)
}

func (h *Handle) Unlink(ctx context.Context, p string) error {
	if err := h.check(); err != nil {
		return err
	}
	return h.b.Unlink(ctx, p)
}

func (h *Handle) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := h.check(); err != nil {
		return err
	}
	return h.b.Rename(ctx, oldPath, newPath)
}

func (h *Handle) Stat(ctx context.Context, p string) (remote.FileInfo, error) {
	if err := h.check(); err != nil {
		return remote.FileInfo{}, err
	}
	return h.b.Stat(ctx, p)
}

func (h *Handle) OpenRead(ctx context.Context, p string) (remote.ReadStream, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	return h.b.OpenRead(ctx, p)
}

func (h *Handle) OpenWrite(ctx context.Context, p string) (remote.WriteStream, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	return h.b.OpenWrite(ctx, p)
}
