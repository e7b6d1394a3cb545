// Package remote defines the capability set shared by every remote session
// backend, along with the error taxonomy, connection config and lifecycle
// helpers the backends build on.
package remote

import (
	"context"
	"io"

	"github.com/houzin/scp-explorer/internal/pathutil"
)

// Entry is one directory listing row.
type Entry struct {
	Name       string `json:"name"`
	IsDir      bool   `json:"isDirectory"`
	Size       int64  `json:"size"`
	ModifyTime int64  `json:"modifyTime"` // epoch milliseconds
}

// FileInfo is the result of Stat.
type FileInfo struct {
	Size  int64
	IsDir bool
}

// Aborter is implemented by streams that can be torn down mid-transfer.
// Abort discards any partial data and releases the stream; Close after
// Abort is a no-op.
type Aborter interface {
	Abort() error
}

// ReadStream is an abortable remote file reader.
type ReadStream interface {
	io.ReadCloser
	Aborter
}

// WriteStream is an abortable remote file writer. Close commits the file.
type WriteStream interface {
	io.WriteCloser
	Aborter
}

// Backend is a remote filesystem reached over one authenticated session.
type Backend interface {
	// Type reports which implementation this is.
	Type() ClientType
	// State reports the lifecycle state.
	State() State

	// Connect establishes the session. It fails with a KindConfig error
	// when credentials required by the auth method are absent.
	Connect(ctx context.Context, cfg Config) error
	// Disconnect tears the session down and aborts every open stream.
	// It is safe to call at any time, any number of times.
	Disconnect() error

	List(ctx context.Context, path string) ([]Entry, error)
	// Mkdir fails with KindConflict when path exists as anything.
	Mkdir(ctx context.Context, path string) error
	// Rmdir removes a directory tree.
	Rmdir(ctx context.Context, path string) error
	Unlink(ctx context.Context, path string) error
	// Rename fails with KindConflict when newPath exists. It never overwrites.
	Rename(ctx context.Context, oldPath, newPath string) error
	// Stat fails with KindNotFound when path does not exist.
	Stat(ctx context.Context, path string) (FileInfo, error)

	OpenRead(ctx context.Context, path string) (ReadStream, error)
	OpenWrite(ctx context.Context, path string) (WriteStream, error)
}

// ListOrRoot lists path, falling back to "/" when path does not exist.
// The second result is the path that was actually listed.
func ListOrRoot(ctx context.Context, b Backend, path string) ([]Entry, string, error) {
	path = pathutil.NormalizeRemote(path)
	entries, err := b.List(ctx, path)
	if err == nil {
		return entries, path, nil
	}
	if !IsNotFound(err) || path == "/" {
		return nil, path, err
	}
	entries, err = b.List(ctx, "/")
	if err != nil {
		return nil, "/", err
	}
	return entries, "/", nil
}
