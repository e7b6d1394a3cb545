// Package services provides frontend-agnostic file operations for the panel
// controller and the CLI. Remote calls borrow the live session for exactly
// one operation; errors that mean the connection is gone tear the session
// down before they are returned.
package services

import (
	"context"
	"sync"

	"github.com/houzin/scp-explorer/internal/events"
	"github.com/houzin/scp-explorer/internal/localfs"
	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/pathutil"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/session"
	"github.com/houzin/scp-explorer/internal/transfer"
	"github.com/houzin/scp-explorer/internal/validation"
)

// FileService handles listing, CRUD and transfers on both sides.
type FileService struct {
	sessions *session.Manager
	engine   *transfer.Engine
	bus      *events.EventBus
	logger   *logging.Logger

	mu          sync.RWMutex
	currentPath string
	localOpts   localfs.ListOptions
}

// NewFileService creates a FileService. engine may be nil, in which case
// one is built with default options.
func NewFileService(sessions *session.Manager, engine *transfer.Engine, bus *events.EventBus, logger *logging.Logger) *FileService {
	if engine == nil {
		engine = transfer.NewEngine(transfer.NewQueue(bus), logger, transfer.DefaultOptions())
	}
	return &FileService{
		sessions:    sessions,
		engine:      engine,
		bus:         bus,
		logger:      logger.Component("file-service"),
		currentPath: "/",
	}
}

// Sessions returns the session manager the service borrows from.
func (fs *FileService) Sessions() *session.Manager { return fs.sessions }

// Engine returns the transfer engine.
func (fs *FileService) Engine() *transfer.Engine { return fs.engine }

// CurrentPath is the last remote directory listed successfully.
func (fs *FileService) CurrentPath() string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.currentPath
}

// ResetPath forgets the remote navigation state.
func (fs *FileService) ResetPath() {
	fs.mu.Lock()
	fs.currentPath = "/"
	fs.mu.Unlock()
}

// SetLocalOptions changes how local directories are listed.
func (fs *FileService) SetLocalOptions(opts localfs.ListOptions) {
	fs.mu.Lock()
	fs.localOpts = opts
	fs.mu.Unlock()
}

// client borrows the live session.
func (fs *FileService) client() (*session.Handle, error) {
	return fs.sessions.Client()
}

// observe tears the session down when err means the connection is gone.
func (fs *FileService) observe(h *session.Handle, err error) error {
	if err == nil || h == nil {
		return err
	}
	if remote.IsConnectionLost(err) && h.MarkLost(err) {
		fs.logger.Warn().Err(err).Msg("Session dropped after connection loss")
	}
	return err
}

// ListRemote lists path on the server. A missing path falls back to "/";
// the directory actually listed is returned alongside the entries.
func (fs *FileService) ListRemote(ctx context.Context, path string) ([]remote.Entry, string, error) {
	h, err := fs.client()
	if err != nil {
		return nil, path, err
	}
	if path == "" {
		path = fs.CurrentPath()
	}
	path = pathutil.NormalizeRemote(path)

	entries, actual, err := h.ListOrRoot(ctx, path)
	if err != nil {
		return nil, path, fs.observe(h, remote.WithPath(err, path))
	}
	if actual != path {
		fs.logger.Debug().Str("requested", path).Str("actual", actual).Msg("Listing fell back to root")
	}

	fs.mu.Lock()
	fs.currentPath = actual
	fs.mu.Unlock()
	return entries, actual, nil
}

// ListLocal lists a local directory. An empty path lists the drive roots
// on Windows and the home directory elsewhere.
func (fs *FileService) ListLocal(path string) ([]remote.Entry, string, error) {
	fs.mu.RLock()
	opts := fs.localOpts
	fs.mu.RUnlock()
	return localfs.List(path, opts)
}

// CreateFolder creates folderName inside parent and returns the new path.
func (fs *FileService) CreateFolder(ctx context.Context, parent, folderName string, isLocal bool) (string, error) {
	if isLocal {
		return localfs.CreateFolder(parent, folderName)
	}

	name, err := validation.CleanFolderName(folderName)
	if err != nil {
		return "", remote.ConfigErrorf("Invalid folder name: %v", err)
	}
	h, err := fs.client()
	if err != nil {
		return "", err
	}
	full := pathutil.JoinRemote(pathutil.NormalizeRemote(parent), name)
	if err := h.Mkdir(ctx, full); err != nil {
		return "", fs.observe(h, remote.WithPath(err, full))
	}
	fs.logger.Info().Str("path", full).Msg("Folder created")
	return full, nil
}

// Delete removes a file, or a directory tree when isDir is set.
func (fs *FileService) Delete(ctx context.Context, path string, isDir, isLocal bool) error {
	if isLocal {
		return localfs.Delete(path, isDir)
	}

	h, err := fs.client()
	if err != nil {
		return err
	}
	path = pathutil.NormalizeRemote(path)
	if isDir {
		err = h.Rmdir(ctx, path)
	} else {
		err = h.Unlink(ctx, path)
	}
	if err != nil {
		return fs.observe(h, remote.WithPath(err, path))
	}
	fs.logger.Info().Str("path", path).Bool("dir", isDir).Msg("Deleted")
	return nil
}

// Rename moves oldPath to newPath without overwriting.
func (fs *FileService) Rename(ctx context.Context, oldPath, newPath string, isLocal bool) error {
	if isLocal {
		return localfs.Rename(oldPath, newPath)
	}

	h, err := fs.client()
	if err != nil {
		return err
	}
	oldPath = pathutil.NormalizeRemote(oldPath)
	newPath = pathutil.NormalizeRemote(newPath)
	if err := h.Rename(ctx, oldPath, newPath); err != nil {
		return fs.observe(h, remote.WithPath(err, oldPath))
	}
	fs.logger.Info().Str("from", oldPath).Str("to", newPath).Msg("Renamed")
	return nil
}

// Stat returns size and type of a remote path.
func (fs *FileService) Stat(ctx context.Context, path string) (remote.FileInfo, error) {
	h, err := fs.client()
	if err != nil {
		return remote.FileInfo{}, err
	}
	path = pathutil.NormalizeRemote(path)
	info, err := h.Stat(ctx, path)
	if err != nil {
		return remote.FileInfo{}, fs.observe(h, remote.WithPath(err, path))
	}
	return info, nil
}

// Upload copies local files and directories into remoteDir.
func (fs *FileService) Upload(ctx context.Context, localPaths []string, remoteDir string, onProgress transfer.ProgressFunc) error {
	h, err := fs.client()
	if err != nil {
		return err
	}
	return fs.observe(h, fs.engine.Upload(ctx, h, localPaths, remoteDir, onProgress))
}

// Download copies remote files and directories into localDir.
func (fs *FileService) Download(ctx context.Context, remotePaths []string, localDir string, onProgress transfer.ProgressFunc) error {
	h, err := fs.client()
	if err != nil {
		return err
	}
	return fs.observe(h, fs.engine.Download(ctx, h, remotePaths, localDir, onProgress))
}

// CancelTransfer cancels the running transfer, if any.
func (fs *FileService) CancelTransfer() bool {
	return fs.engine.Cancel()
}
