package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/houzin/scp-explorer/internal/constants"
	"github.com/houzin/scp-explorer/internal/transfer"
)

// TransferUI shows one mpb bar per file of a task. Files run serially, so
// at most one bar is incomplete at a time.
type TransferUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool
	direction  transfer.Direction
	totalFiles int

	mu        sync.Mutex
	bars      map[string]*fileBar
	started   int
	completed int
}

type fileBar struct {
	bar        *mpb.Bar
	index      int
	name       string
	size       int64
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
}

// NewTransferUI creates bars on stderr when it is a terminal; otherwise it
// prints one line per file to stdout.
func NewTransferUI(direction transfer.Direction, totalFiles int) *TransferUI {
	tty := stderrIsTerminal()

	var p *mpb.Progress
	if tty {
		enableANSI(os.Stderr)
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(constants.ProgressUpdateInterval),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &TransferUI{
		progress:   p,
		out:        os.Stdout,
		isTerminal: tty,
		direction:  direction,
		totalFiles: totalFiles,
		bars:       make(map[string]*fileBar),
	}
}

// Observe implements UI.
func (u *TransferUI) Observe(p transfer.Progress) {
	u.mu.Lock()
	fb, ok := u.bars[p.FileName]
	if !ok {
		fb = u.addBarLocked(p.FileName, p.Total)
	}
	u.mu.Unlock()

	if p.Progress >= 100 {
		u.complete(fb, p.Bytes)
		return
	}
	fb.update(p.Bytes)
}

func (u *TransferUI) addBarLocked(name string, size int64) *fileBar {
	u.started++
	fb := &fileBar{
		index:      u.started,
		name:       name,
		size:       size,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
	}
	u.bars[name] = fb

	label := fmt.Sprintf("[%d/%d] %s (%.1f MiB)", fb.index, u.totalFiles, truncatePath(name, 2), float64(size)/(1024*1024))
	if !u.isTerminal {
		fmt.Fprintf(u.out, "%s %s\n", directionLabel(u.direction), label)
		return fb
	}

	fb.bar = u.progress.New(size,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(label, decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Name("ETA ", decor.WCSyncWidth),
			decor.EwmaETA(decor.ET_STYLE_GO, 30),
		),
		mpb.BarRemoveOnComplete(),
	)
	return fb
}

// update feeds the byte delta with its elapsed time so mpb's EWMA speed
// and ETA stay accurate.
func (f *fileBar) update(bytes int64) {
	if f.bar == nil {
		return
	}
	now := time.Now()
	f.bar.EwmaIncrBy(int(bytes-f.lastBytes), now.Sub(f.lastUpdate))
	f.lastBytes = bytes
	f.lastUpdate = now
}

func (u *TransferUI) complete(fb *fileBar, bytes int64) {
	elapsed := time.Since(fb.startTime)
	speed := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		speed = float64(bytes) / secs / (1024 * 1024)
	}

	if fb.bar != nil {
		fb.bar.SetCurrent(bytes)
		fb.bar.SetTotal(bytes, true)
	}

	u.mu.Lock()
	u.completed++
	// Names repeat across directories; the next unit gets a fresh bar.
	delete(u.bars, fb.name)
	u.mu.Unlock()

	u.print(fmt.Sprintf("✓ %s (%.1f MiB, %s, %.1f MiB/s)\n",
		truncatePath(fb.name, 2),
		float64(bytes)/(1024*1024),
		elapsed.Round(time.Second),
		speed))
}

// Finish implements UI. Bars still open are aborted and left visible.
func (u *TransferUI) Finish(err error) {
	u.mu.Lock()
	var open []*fileBar
	for _, fb := range u.bars {
		if fb.bar != nil {
			open = append(open, fb)
		}
	}
	completed := u.completed
	u.mu.Unlock()

	for _, fb := range open {
		fb.bar.Abort(false)
		if err != nil {
			u.print(fmt.Sprintf("✗ %s: %v\n", truncatePath(fb.name, 2), err))
		}
	}
	u.progress.Wait()

	if err == nil {
		fmt.Fprintf(u.out, "%s complete: %d file(s)\n", strings.TrimSuffix(directionLabel(u.direction), "ing"), completed)
	}
}

// Completed returns the number of files finished so far.
func (u *TransferUI) Completed() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.completed
}

func (u *TransferUI) print(msg string) {
	// Write through mpb's writer so the bars are not corrupted.
	if u.isTerminal {
		_, _ = u.progress.Write([]byte(msg))
		return
	}
	fmt.Fprint(u.out, msg)
}

// Writer implements UI.
func (u *TransferUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return os.Stderr
}

// IsTerminal implements UI.
func (u *TransferUI) IsTerminal() bool { return u.isTerminal }

// truncatePath shows only the last maxComponents components of path.
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}
