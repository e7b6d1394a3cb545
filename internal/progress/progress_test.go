package progress

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/houzin/scp-explorer/internal/transfer"
)

type fakeReporter struct {
	total    int64
	updates  []int64
	finished bool
	err      error
}

func (f *fakeReporter) Start(total int64, description string) { f.total = total }
func (f *fakeReporter) Update(current int64)                  { f.updates = append(f.updates, current) }
func (f *fakeReporter) Finish()                               { f.finished = true }
func (f *fakeReporter) Error(err error)                       { f.err = err }
func (f *fakeReporter) SetDescription(desc string)            {}

func withTerminal(t *testing.T, tty bool) {
	t.Helper()
	prev := isTerminal
	isTerminal = func(*os.File) bool { return tty }
	t.Cleanup(func() { isTerminal = prev })
}

func TestAggregateUI_SumsAcrossFiles(t *testing.T) {
	r := &fakeReporter{}
	ui := NewAggregateUI(r, transfer.Upload, 300)
	if r.total != 300 {
		t.Fatalf("total = %d, want 300", r.total)
	}

	ui.Observe(transfer.Progress{FileName: "a.bin", Progress: 50, Bytes: 50, Total: 100})
	ui.Observe(transfer.Progress{FileName: "a.bin", Progress: 100, Bytes: 100, Total: 100})
	ui.Observe(transfer.Progress{FileName: "b.bin", Progress: 25, Bytes: 50, Total: 200})
	ui.Observe(transfer.Progress{FileName: "b.bin", Progress: 100, Bytes: 200, Total: 200})

	want := []int64{50, 100, 150, 300}
	if len(r.updates) != len(want) {
		t.Fatalf("updates = %v, want %v", r.updates, want)
	}
	for i := range want {
		if r.updates[i] != want[i] {
			t.Errorf("updates[%d] = %d, want %d", i, r.updates[i], want[i])
		}
	}
	if n, files := ui.Transferred(); n != 300 || files != 2 {
		t.Errorf("Transferred() = %d, %d", n, files)
	}

	ui.Finish(nil)
	if !r.finished {
		t.Error("expected Finish to complete the bar")
	}
}

func TestAggregateUI_FinishWithError(t *testing.T) {
	r := &fakeReporter{}
	ui := NewAggregateUI(r, transfer.Download, 10)
	boom := errors.New("boom")
	ui.Finish(boom)
	if r.finished || r.err != boom {
		t.Errorf("finished=%v err=%v", r.finished, r.err)
	}
}

func TestNew_FallsBackWithoutTerminal(t *testing.T) {
	withTerminal(t, false)
	for _, mode := range []Mode{ModeBars, ModeSimple, ModeNone} {
		if _, ok := New(mode, transfer.Upload, 1, 10).(*NoOpUI); !ok {
			t.Errorf("mode %s without a terminal should render nothing", mode)
		}
	}
}

func TestTransferUI_PlainOutput(t *testing.T) {
	withTerminal(t, false)
	ui := NewTransferUI(transfer.Download, 2)
	var out bytes.Buffer
	ui.out = &out

	ui.Observe(transfer.Progress{FileName: "x.txt", Progress: 40, Bytes: 4, Total: 10})
	ui.Observe(transfer.Progress{FileName: "x.txt", Progress: 100, Bytes: 10, Total: 10})
	ui.Observe(transfer.Progress{FileName: "x.txt", Progress: 100, Bytes: 3, Total: 3})
	ui.Finish(nil)

	text := out.String()
	if strings.Count(text, "Downloading [") != 2 {
		t.Errorf("expected a start line per unit, got:\n%s", text)
	}
	if !strings.Contains(text, "[2/2] x.txt") {
		t.Errorf("repeated names should get a new index, got:\n%s", text)
	}
	if !strings.Contains(text, "Download complete: 2 file(s)") {
		t.Errorf("missing summary, got:\n%s", text)
	}
	if ui.Completed() != 2 {
		t.Errorf("Completed() = %d", ui.Completed())
	}
}

func TestTruncatePath(t *testing.T) {
	if got := truncatePath("/a/b/c/d/file.txt", 3); got != "…/c/d/file.txt" {
		t.Errorf("got %q", got)
	}
	if got := truncatePath("file.txt", 2); got != "file.txt" {
		t.Errorf("got %q", got)
	}
}
