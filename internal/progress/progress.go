// Package progress renders transfer progress in the terminal: one mpb bar
// per file, or a single aggregated progressbar, or nothing when output is
// not a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/houzin/scp-explorer/internal/transfer"
)

// isTerminal is swapped out in tests.
var isTerminal = func(f *os.File) bool { return term.IsTerminal(int(f.Fd())) }

func stderrIsTerminal() bool { return isTerminal(os.Stderr) }

// Reporter is a single progress bar over a byte count.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// CLIProgress implements Reporter with a progressbar on stderr.
type CLIProgress struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a new CLI progress reporter.
func NewCLIProgress() *CLIProgress {
	return &CLIProgress{out: os.Stderr}
}

// Start initializes the progress bar with total size and description.
func (p *CLIProgress) Start(total int64, description string) {
	out := p.out
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update updates the progress bar to the current position.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// SetDescription updates the progress bar description.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// AggregateUI drives one Reporter with the byte total of a whole task.
type AggregateUI struct {
	reporter  Reporter
	direction transfer.Direction

	mu      sync.Mutex
	done    int64            // bytes of finished files
	current map[string]int64 // bytes of the file in flight
	files   int
}

// NewAggregateUI starts reporter over totalBytes.
func NewAggregateUI(reporter Reporter, direction transfer.Direction, totalBytes int64) *AggregateUI {
	reporter.Start(totalBytes, directionLabel(direction))
	return &AggregateUI{reporter: reporter, direction: direction, current: make(map[string]int64)}
}

// Observe implements UI.
func (a *AggregateUI) Observe(p transfer.Progress) {
	a.mu.Lock()
	if p.Progress >= 100 {
		a.done += p.Bytes
		delete(a.current, p.FileName)
		a.files++
	} else {
		a.current[p.FileName] = p.Bytes
	}
	total := a.done
	for _, n := range a.current {
		total += n
	}
	a.mu.Unlock()

	a.reporter.SetDescription(fmt.Sprintf("%s %s", directionLabel(a.direction), p.FileName))
	a.reporter.Update(total)
}

// Transferred returns the bytes counted so far and the number of files finished.
func (a *AggregateUI) Transferred() (int64, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := a.done
	for _, n := range a.current {
		total += n
	}
	return total, a.files
}

// Finish implements UI.
func (a *AggregateUI) Finish(err error) {
	if err != nil {
		a.reporter.Error(err)
		return
	}
	a.reporter.Finish()
}

// Writer implements UI.
func (a *AggregateUI) Writer() io.Writer { return os.Stderr }

// IsTerminal implements UI.
func (a *AggregateUI) IsTerminal() bool { return true }

// NoOpUI renders nothing.
type NoOpUI struct{}

// NewNoOpUI creates a renderer that discards progress.
func NewNoOpUI() *NoOpUI { return &NoOpUI{} }

func (NoOpUI) Observe(transfer.Progress) {}
func (NoOpUI) Finish(error)              {}
func (NoOpUI) Writer() io.Writer         { return os.Stderr }
func (NoOpUI) IsTerminal() bool          { return false }

func directionLabel(d transfer.Direction) string {
	if d == transfer.Download {
		return "Downloading"
	}
	return "Uploading"
}
