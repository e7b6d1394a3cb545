package progress

import (
	"io"

	"github.com/houzin/scp-explorer/internal/transfer"
)

// UI renders the progress of one upload or download task.
type UI interface {
	// Observe consumes one progress report from the transfer engine.
	Observe(p transfer.Progress)

	// Finish closes any open bars and prints a summary. err is the task outcome.
	Finish(err error)

	// Writer returns an io.Writer that safely outputs above the progress bars.
	Writer() io.Writer

	// IsTerminal returns true if output is to a terminal (progress bars are active)
	IsTerminal() bool
}

// Mode selects a progress renderer.
type Mode string

const (
	ModeBars   Mode = "bars"   // one mpb bar per file
	ModeSimple Mode = "simple" // a single aggregated bar
	ModeNone   Mode = "none"
)

// New returns the renderer for mode. Bar modes fall back to ModeNone when
// stderr is not a terminal.
func New(mode Mode, direction transfer.Direction, totalFiles int, totalBytes int64) UI {
	if mode != ModeNone && !stderrIsTerminal() {
		mode = ModeNone
	}
	switch mode {
	case ModeBars:
		return NewTransferUI(direction, totalFiles)
	case ModeSimple:
		return NewAggregateUI(NewCLIProgress(), direction, totalBytes)
	}
	return NewNoOpUI()
}
