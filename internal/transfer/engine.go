package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/houzin/scp-explorer/internal/constants"
	"github.com/houzin/scp-explorer/internal/diskspace"
	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/metrics"
	"github.com/houzin/scp-explorer/internal/pathutil"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/util/buffers"
	"github.com/houzin/scp-explorer/internal/validation"
)

// ErrTransferInProgress is returned when a task is started while another runs.
var ErrTransferInProgress = errors.New("A transfer is already in progress")

// Remote is the part of a session the engine borrows for one task.
type Remote interface {
	List(ctx context.Context, path string) ([]remote.Entry, error)
	Mkdir(ctx context.Context, path string) error
	Stat(ctx context.Context, path string) (remote.FileInfo, error)
	OpenRead(ctx context.Context, path string) (remote.ReadStream, error)
	OpenWrite(ctx context.Context, path string) (remote.WriteStream, error)
}

// Progress is one per-file progress report.
type Progress struct {
	FileName  string    `json:"fileName"`
	Progress  float64   `json:"progress"`
	Direction Direction `json:"direction"`
	Bytes     int64     `json:"-"`
	Total     int64     `json:"-"`
}

// ProgressFunc receives progress reports. For each file the percentages
// never decrease and the last report is exactly 100.
type ProgressFunc func(Progress)

// Options tunes the engine.
type Options struct {
	// ThrottleInterval is the minimum gap between partial reports for one file.
	ThrottleInterval time.Duration
	// CheckDiskSpace enables the free-space preflight for downloads.
	CheckDiskSpace bool
	// DiskSpaceBuffer is the headroom fraction required above the download size.
	DiskSpaceBuffer float64
	// ChunkSize caps each read; zero or anything above the pooled buffer
	// size means the full buffer.
	ChunkSize int
}

// DefaultOptions returns the standard throttle and preflight settings.
func DefaultOptions() Options {
	return Options{
		ThrottleInterval: constants.ProgressThrottleInterval,
		CheckDiskSpace:   true,
		DiskSpaceBuffer:  constants.DiskSpaceBufferPercent,
	}
}

// Engine runs one transfer task at a time.
type Engine struct {
	queue  *Queue
	logger *logging.Logger
	opts   Options

	mu     sync.Mutex
	active *TransferTask
}

// NewEngine creates an engine that records tasks in queue.
func NewEngine(queue *Queue, logger *logging.Logger, opts Options) *Engine {
	if queue == nil {
		queue = NewQueue(nil)
	}
	return &Engine{queue: queue, logger: logger.Component("transfer"), opts: opts}
}

// Queue returns the task history.
func (e *Engine) Queue() *Queue { return e.queue }

// Active returns a snapshot of the running task.
func (e *Engine) Active() (TransferTask, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return TransferTask{}, false
	}
	return e.active.Clone(), true
}

// Cancel requests cancellation of the running task. It reports whether a
// task was running.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	task := e.active
	e.mu.Unlock()
	if task == nil {
		return false
	}
	e.logger.Info().Str("task", task.ID).Msg("Transfer cancellation requested")
	task.Cancel()
	return true
}

func (e *Engine) begin(ctx context.Context, dir Direction, sources []string, dest string) (*TransferTask, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return nil, ErrTransferInProgress
	}
	task := NewTransferTask(ctx, dir, sources, dest)
	e.active = task
	e.queue.Track(task)
	return task, nil
}

func (e *Engine) finish(task *TransferTask, err error) error {
	e.mu.Lock()
	if e.active == task {
		e.active = nil
	}
	e.mu.Unlock()
	task.cancel()

	snap := task.Clone()
	outcome := "completed"
	switch {
	case err == nil:
		e.queue.Complete(task)
		e.logger.Info().Str("task", task.ID).Str("direction", string(task.Direction)).
			Int("units", snap.Units).Int64("bytes", snap.Bytes).
			Float64("bytes_per_sec", snap.Speed).Msg("Transfer completed")
	case remote.IsCancelled(err):
		outcome = "cancelled"
		e.queue.Cancelled(task)
		e.logger.Info().Str("task", task.ID).Msg("Transfer cancelled")
	default:
		outcome = "failed"
		e.queue.Fail(task, err)
		e.logger.Error().Err(err).Str("task", task.ID).Msg("Transfer failed")
	}
	metrics.RecordTransfer(string(task.Direction), outcome, snap.Bytes, time.Since(snap.CreatedAt))
	return err
}

// Upload copies local files and directories into remoteDir.
func (e *Engine) Upload(ctx context.Context, r Remote, localPaths []string, remoteDir string, onProgress ProgressFunc) error {
	remoteDir = pathutil.NormalizeRemote(remoteDir)
	task, err := e.begin(ctx, Upload, localPaths, remoteDir)
	if err != nil {
		return err
	}
	e.queue.Start(task)

	u := &unitRunner{e: e, task: task, r: r, onProgress: onProgress}
	for _, p := range localPaths {
		if task.Cancelled() {
			return e.finish(task, remote.Cancelled("upload", p))
		}
		local := pathutil.NormalizeLocal(p)
		fi, err := os.Stat(local)
		if err != nil {
			if os.IsNotExist(err) {
				err = &remote.Error{Kind: remote.KindNotFound, Op: "upload", Path: local, Msg: "File does not exist: " + local, Err: err}
			}
			return e.finish(task, remote.WithPath(err, local))
		}
		if fi.IsDir() {
			err = u.uploadDir(local, remoteDir)
		} else {
			err = u.uploadFile(local, fi.Size(), remoteDir)
		}
		if err != nil {
			return e.finish(task, err)
		}
	}
	return e.finish(task, nil)
}

// Download copies remote files and directories into localDir.
func (e *Engine) Download(ctx context.Context, r Remote, remotePaths []string, localDir string, onProgress ProgressFunc) error {
	localDir = pathutil.NormalizeLocal(localDir)
	task, err := e.begin(ctx, Download, remotePaths, localDir)
	if err != nil {
		return err
	}
	e.queue.Start(task)

	u := &unitRunner{e: e, task: task, r: r, onProgress: onProgress}
	if e.opts.CheckDiskSpace {
		if err := u.preflight(remotePaths, localDir); err != nil {
			return e.finish(task, err)
		}
	}

	for _, p := range remotePaths {
		if task.Cancelled() {
			return e.finish(task, remote.Cancelled("download", p))
		}
		rp := pathutil.NormalizeRemote(p)
		fi, err := r.Stat(task.ctx, rp)
		if err != nil {
			return e.finish(task, u.wrap(err, rp))
		}
		if fi.IsDir {
			err = u.downloadDir(rp, localDir)
		} else {
			err = u.downloadFile(rp, fi.Size, localDir)
		}
		if err != nil {
			return e.finish(task, err)
		}
	}
	return e.finish(task, nil)
}

// unitRunner walks the sources of one task.
type unitRunner struct {
	e          *Engine
	task       *TransferTask
	r          Remote
	onProgress ProgressFunc

	// reported is the byte count of the current file already added to the task.
	reported int64
}

func (u *unitRunner) ctx() context.Context { return u.task.ctx }

// wrap attaches path context, turning a context cancelled by the user
// into a cancellation outcome.
func (u *unitRunner) wrap(err error, path string) error {
	if u.task.Cancelled() && (errors.Is(err, context.Canceled) || remote.IsCancelled(err)) {
		return remote.Cancelled(string(u.task.Direction), path)
	}
	return remote.WithPath(err, path)
}

func (u *unitRunner) checkCancel(path string) error {
	if u.task.Cancelled() {
		return remote.Cancelled(string(u.task.Direction), path)
	}
	return nil
}

func (u *unitRunner) uploadDir(localDir, remoteParent string) error {
	if err := u.checkCancel(localDir); err != nil {
		return err
	}
	remoteDir := pathutil.JoinRemote(remoteParent, filepath.Base(localDir))
	if err := u.ensureRemoteDir(remoteDir); err != nil {
		return err
	}

	entries, err := os.ReadDir(localDir)
	if err != nil {
		return remote.WithPath(err, localDir)
	}
	for _, de := range entries {
		child := filepath.Join(localDir, de.Name())
		fi, err := os.Stat(child)
		if err != nil {
			return remote.WithPath(err, child)
		}
		if fi.IsDir() {
			err = u.uploadDir(child, remoteDir)
		} else {
			err = u.uploadFile(child, fi.Size(), remoteDir)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (u *unitRunner) ensureRemoteDir(p string) error {
	fi, err := u.r.Stat(u.ctx(), p)
	switch {
	case err == nil && fi.IsDir:
		return nil
	case err == nil:
		return remote.Conflictf("mkdir", p, "A file with the same name already exists at the target path: %s", p)
	case !remote.IsNotFound(err):
		return u.wrap(err, p)
	}
	if err := u.r.Mkdir(u.ctx(), p); err != nil {
		return u.wrap(err, p)
	}
	return nil
}

func (u *unitRunner) uploadFile(localPath string, size int64, remoteDir string) error {
	if err := u.checkCancel(localPath); err != nil {
		return err
	}
	name := filepath.Base(localPath)
	dest := pathutil.JoinRemote(remoteDir, name)

	fi, err := u.r.Stat(u.ctx(), dest)
	switch {
	case err == nil && fi.IsDir:
		return remote.Conflictf("upload", dest, "A directory with the same name already exists at the target path: %s", dest)
	case err != nil && !remote.IsNotFound(err):
		return u.wrap(err, dest)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return remote.WithPath(err, localPath)
	}
	dst, err := u.r.OpenWrite(u.ctx(), dest)
	if err != nil {
		_ = src.Close()
		return u.wrap(err, dest)
	}

	copied, err := u.copy(name, size, src, dst, func() { _ = src.Close() }, func() { _ = dst.Abort() })
	_ = src.Close()
	if err != nil {
		return u.wrap(err, dest)
	}
	if err := dst.Close(); err != nil {
		return u.wrap(err, dest)
	}
	u.complete(name, copied)
	return nil
}

func (u *unitRunner) downloadDir(remoteDir, localParent string) error {
	if err := u.checkCancel(remoteDir); err != nil {
		return err
	}
	localDir := filepath.Join(localParent, pathutil.BaseRemote(remoteDir))
	if err := ensureLocalDir(localDir); err != nil {
		return err
	}

	entries, err := u.r.List(u.ctx(), remoteDir)
	if err != nil {
		return u.wrap(err, remoteDir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	for _, ent := range entries {
		if err := validation.ValidateName(ent.Name); err != nil {
			return remote.WithPath(fmt.Errorf("refusing remote entry: %w", err), remoteDir)
		}
		child := pathutil.JoinRemote(remoteDir, ent.Name)
		// Stat follows links, so a link to a directory is walked as one.
		fi, err := u.r.Stat(u.ctx(), child)
		if err != nil {
			return u.wrap(err, child)
		}
		if fi.IsDir {
			err = u.downloadDir(child, localDir)
		} else {
			err = u.downloadFile(child, fi.Size, localDir)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func ensureLocalDir(p string) error {
	fi, err := os.Stat(p)
	switch {
	case err == nil && fi.IsDir():
		return nil
	case err == nil:
		return remote.Conflictf("mkdir", p, "A file with the same name already exists at the target path: %s", p)
	case !os.IsNotExist(err):
		return remote.WithPath(err, p)
	}
	if err := os.Mkdir(p, 0o755); err != nil {
		return remote.WithPath(fmt.Errorf("failed to create directory: %w", err), p)
	}
	return nil
}

func (u *unitRunner) downloadFile(remotePath string, size int64, localDir string) error {
	if err := u.checkCancel(remotePath); err != nil {
		return err
	}
	name := pathutil.BaseRemote(remotePath)
	dest := filepath.Join(localDir, name)

	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		return remote.Conflictf("download", dest, "A directory with the same name already exists at the target path: %s", dest)
	} else if err != nil && !os.IsNotExist(err) {
		return remote.WithPath(err, dest)
	}

	src, err := u.r.OpenRead(u.ctx(), remotePath)
	if err != nil {
		return u.wrap(err, remotePath)
	}
	dst, err := os.Create(dest)
	if err != nil {
		_ = src.Abort()
		return remote.WithPath(err, dest)
	}

	discard := func() {
		_ = dst.Close()
		_ = os.Remove(dest)
	}
	copied, err := u.copy(name, size, src, dst, func() { _ = src.Abort() }, discard)
	if err != nil {
		_ = src.Abort()
		return u.wrap(err, remotePath)
	}
	_ = src.Close()
	if err := dst.Close(); err != nil {
		_ = os.Remove(dest)
		return remote.WithPath(err, dest)
	}
	u.complete(name, copied)
	return nil
}

// copy streams src to dst in pooled chunks, reporting partial progress.
// On cancellation or error it destroys the source and discards the
// destination. The caller commits dst and reports 100 on success.
func (u *unitRunner) copy(name string, total int64, src io.Reader, dst io.Writer, destroySrc, discardDst func()) (int64, error) {
	pooled, release := buffers.ForSize(total)
	defer release()
	chunk := *pooled
	if n := u.e.opts.ChunkSize; n > 0 && n < len(chunk) {
		chunk = chunk[:n]
	}
	u.reported = 0

	var copied int64
	var lastEmit time.Time
	for {
		if u.task.Cancelled() {
			destroySrc()
			discardDst()
			return copied, remote.Cancelled(string(u.task.Direction), name)
		}

		n, rerr := src.Read(chunk)
		if n > 0 {
			if _, werr := dst.Write(chunk[:n]); werr != nil {
				destroySrc()
				discardDst()
				return copied, werr
			}
			copied += int64(n)

			if total > 0 && copied < total && time.Since(lastEmit) >= u.e.opts.ThrottleInterval {
				lastEmit = time.Now()
				u.report(Progress{FileName: name, Progress: float64(copied) / float64(total) * 100, Bytes: copied, Total: total})
			}
		}
		if rerr == io.EOF {
			return copied, nil
		}
		if rerr != nil {
			destroySrc()
			discardDst()
			return copied, rerr
		}
	}
}

func (u *unitRunner) complete(name string, copied int64) {
	u.report(Progress{FileName: name, Progress: 100, Bytes: copied, Total: copied})
	u.e.queue.UnitDone(u.task)
}

func (u *unitRunner) report(p Progress) {
	p.Direction = u.task.Direction
	delta := p.Bytes - u.reported
	u.reported = p.Bytes
	u.e.queue.UpdateProgress(u.task, p, delta)
	if u.onProgress != nil {
		u.onProgress(p)
	}
}

// preflight sums the remote sizes and checks the local volume has room.
func (u *unitRunner) preflight(remotePaths []string, localDir string) error {
	var total int64
	for _, p := range remotePaths {
		n, err := u.remoteSize(pathutil.NormalizeRemote(p))
		if err != nil {
			return err
		}
		total += n
	}
	if err := diskspace.CheckAvailableSpace(localDir, total, u.e.opts.DiskSpaceBuffer); err != nil {
		return &remote.Error{Kind: remote.KindFatal, Op: "download", Path: localDir, Err: err}
	}
	return nil
}

func (u *unitRunner) remoteSize(p string) (int64, error) {
	if err := u.checkCancel(p); err != nil {
		return 0, err
	}
	fi, err := u.r.Stat(u.ctx(), p)
	if err != nil {
		return 0, u.wrap(err, p)
	}
	if !fi.IsDir {
		return fi.Size, nil
	}
	entries, err := u.r.List(u.ctx(), p)
	if err != nil {
		return 0, u.wrap(err, p)
	}
	var total int64
	for _, ent := range entries {
		if !ent.IsDir {
			total += ent.Size
			continue
		}
		n, err := u.remoteSize(pathutil.JoinRemote(p, ent.Name))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
