package profiles

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/houzin/scp-explorer/internal/events"
	"github.com/houzin/scp-explorer/internal/logging"
)

// WatcherDebounce coalesces bursts of file events into one reload.
const WatcherDebounce = 300 * time.Millisecond

var now = time.Now

// Watcher republishes the saved connection list when the store file is
// edited outside this process.
type Watcher struct {
	store    *Store
	bus      *events.EventBus
	logger   *logging.Logger
	onChange func([]Connection)
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher creates a watcher for store. onChange may be nil.
func NewWatcher(store *Store, bus *events.EventBus, logger *logging.Logger, onChange func([]Connection)) *Watcher {
	return &Watcher{
		store:    store,
		bus:      bus,
		logger:   logger.Component("profiles"),
		onChange: onChange,
		debounce: WatcherDebounce,
	}
}

// Start watches the directory holding the store file. Watching the
// directory survives editors that replace the file by rename.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return fmt.Errorf("profile watcher already running")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(w.store.Path())
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.watcher = fw
	w.stopChan = make(chan struct{})
	w.doneChan = make(chan struct{})
	go w.loop(fw, w.stopChan, w.doneChan)
	w.logger.Debug().Str("dir", dir).Msg("Profile watcher started")
	return nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer fw.Close()
	target := filepath.Clean(w.store.Path())
	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Profile watcher error")
		case <-stop:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	conns, err := w.store.List()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Failed to reload saved connections")
		return
	}
	if w.bus != nil {
		w.bus.Publish(&events.ProfilesChangedEvent{
			BaseEvent: events.BaseEvent{EventType: events.EventProfilesChanged, Time: now()},
			Count:     len(conns),
			Source:    "watcher",
		})
	}
	if w.onChange != nil {
		w.onChange(conns)
	}
}

// Stop ends the watch and waits for the loop to exit. Safe to call twice.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	close(w.stopChan)
	done := w.doneChan
	w.watcher = nil
	w.mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		w.logger.Warn().Msg("Profile watcher did not exit in time")
	}
}
