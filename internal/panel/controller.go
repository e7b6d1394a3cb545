package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/houzin/scp-explorer/internal/events"
	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/profiles"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/services"
	"github.com/houzin/scp-explorer/internal/session"
	"github.com/houzin/scp-explorer/internal/transfer"
)

// Sink receives events for the front-end. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

// Send implements Sink.
func (f SinkFunc) Send(e Event) error { return f(e) }

// ErrProfilesUnavailable is returned by connection requests when no store
// is configured.
var ErrProfilesUnavailable = errors.New("Saved connections are not available")

const subsystemPrompt = "SFTP is not available. Would you like to switch to SCP mode (using scp -O for optimized copy)?"

// Options wires a Controller.
type Options struct {
	Files *services.FileService
	// Bus must be the bus the session manager publishes to.
	Bus *events.EventBus
	// Heartbeat may be nil; one probing the current remote path is built.
	Heartbeat *session.Heartbeat
	// Store may be nil when saved connections are disabled.
	Store            *profiles.Store
	Preparer         services.ConnectionPreparer
	HeartbeatEnabled bool
	Logger           *logging.Logger
}

// Controller turns front-end requests into file service calls and relays
// session, heartbeat and transfer outcomes back as events.
type Controller struct {
	files     *services.FileService
	sessions  *session.Manager
	heartbeat *session.Heartbeat
	store     *profiles.Store
	preparer  services.ConnectionPreparer
	bus       *events.EventBus
	logger    *logging.Logger
	sink      Sink

	mu               sync.Mutex
	heartbeatEnabled bool
	baseCtx          context.Context
	stopRelay        context.CancelFunc

	transferring atomic.Bool
	wg           sync.WaitGroup
}

// NewController creates a controller that sends its events to sink.
func NewController(opts Options, sink Sink) *Controller {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	c := &Controller{
		files:            opts.Files,
		sessions:         opts.Files.Sessions(),
		heartbeat:        opts.Heartbeat,
		store:            opts.Store,
		preparer:         opts.Preparer,
		bus:              opts.Bus,
		logger:           opts.Logger.Component("panel"),
		sink:             sink,
		heartbeatEnabled: opts.HeartbeatEnabled,
		baseCtx:          context.Background(),
	}
	if c.preparer.Store == nil {
		c.preparer.Store = opts.Store
	}
	if c.heartbeat == nil {
		cfg := session.DefaultHeartbeatConfig()
		cfg.Path = c.files.CurrentPath
		c.heartbeat = session.NewHeartbeat(c.sessions, cfg, opts.Bus, opts.Logger)
	}
	return c
}

// Start begins relaying bus events and, when enabled, the heartbeat loop.
// It announces the heartbeat status and the saved connections.
func (c *Controller) Start(ctx context.Context) {
	relayCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.baseCtx = ctx
	c.stopRelay = cancel
	enabled := c.heartbeatEnabled
	c.mu.Unlock()

	if c.bus != nil {
		c.relay(relayCtx)
	}
	if enabled {
		_ = c.heartbeat.Start(ctx)
	}

	c.emit(NewHeartbeatStatusEvent(enabled))
	if c.store != nil {
		if conns, err := c.store.List(); err == nil {
			c.emit(NewSavedConnectionsEvent(conns))
		} else {
			c.logger.Warn().Err(err).Msg("Failed to read saved connections")
		}
	}
}

// Close cancels any running transfer, waits for it, and stops the
// heartbeat and the relay.
func (c *Controller) Close() {
	c.files.CancelTransfer()
	c.wg.Wait()
	c.heartbeat.Stop()

	c.mu.Lock()
	stop := c.stopRelay
	c.stopRelay = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Wait blocks until background transfers have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Handle processes one request. Failures are reported to the sink.
func (c *Controller) Handle(ctx context.Context, req *Request) {
	c.logger.Debug().Str("type", string(req.Type)).Msg("Request received")
	if err := c.dispatch(ctx, req); err != nil {
		c.emitError(err)
	}
}

func (c *Controller) dispatch(ctx context.Context, req *Request) error {
	switch req.Type {
	case MsgConnect:
		return c.connect(ctx, req.Connect())

	case MsgSwitchClient:
		kind, err := remote.ParseClientType(req.Connect().ClientType)
		if err != nil {
			return err
		}
		return c.reportConnect(c.sessions.ReconnectWith(ctx, kind))

	case MsgListFiles:
		files, actual, err := c.files.ListRemote(ctx, req.Path)
		if err != nil {
			return err
		}
		c.emit(NewFileListEvent(files, actual))

	case MsgListLocalFiles:
		files, actual, err := c.files.ListLocal(req.Path)
		if err != nil {
			return err
		}
		c.emit(NewLocalFileListEvent(files, actual))

	case MsgCreateFolder:
		if _, err := c.files.CreateFolder(ctx, req.Path, req.FolderName, req.IsLocal); err != nil {
			return err
		}
		c.emit(NewSideEvent(MsgFolderCreated, req.IsLocal))

	case MsgDelete:
		if err := c.files.Delete(ctx, req.Path, req.IsDirectory, req.IsLocal); err != nil {
			return err
		}
		c.emit(NewSideEvent(MsgDeleted, req.IsLocal))

	case MsgRename:
		if err := c.files.Rename(ctx, req.OldPath, req.NewPath, req.IsLocal); err != nil {
			return err
		}
		c.emit(NewSideEvent(MsgRenamed, req.IsLocal))

	case MsgUpload:
		paths, dest := req.LocalPaths, req.RemotePath
		return c.startTransfer(transfer.Upload, func(ctx context.Context, fn transfer.ProgressFunc) error {
			return c.files.Upload(ctx, paths, dest, fn)
		})

	case MsgDownload:
		paths, dest := req.RemotePaths, req.LocalPath
		return c.startTransfer(transfer.Download, func(ctx context.Context, fn transfer.ProgressFunc) error {
			return c.files.Download(ctx, paths, dest, fn)
		})

	case MsgCancelTransfer:
		if !c.files.CancelTransfer() {
			c.logger.Debug().Msg("Cancel requested with no transfer running")
		}

	case MsgDisconnect:
		if err := c.sessions.Disconnect(); err != nil {
			c.logger.Debug().Err(err).Msg("Errors while disconnecting")
		}
		c.files.ResetPath()
		c.emit(Event{Type: MsgDisconnected})

	case MsgHeartbeat:
		return c.probe(ctx)

	case MsgSetHeartbeat:
		enabled := req.Enabled != nil && *req.Enabled
		c.setHeartbeat(enabled)
		c.emit(NewHeartbeatStatusEvent(enabled))

	case MsgSaveConnection, MsgUpdateConnection, MsgDeleteConnection, MsgListConnections:
		return c.connections(req)

	case MsgLog:
		c.logger.Debug().Str("source", "front-end").Msg(req.Message)
		if req.Message == "WebView initialized" {
			c.emit(NewHeartbeatStatusEvent(c.HeartbeatEnabled()))
		}

	default:
		return fmt.Errorf("unknown request type: %s", req.Type)
	}
	return nil
}

func (c *Controller) connect(ctx context.Context, d ConnectData) error {
	cfg, err := d.RemoteConfig()
	if err != nil {
		return err
	}
	cfg, err = c.preparer.Prepare(cfg, d.Profile)
	if err != nil {
		return err
	}
	return c.reportConnect(c.sessions.Connect(ctx, cfg))
}

// reportConnect turns a connect outcome into events. The recoverable
// outcomes become prompts instead of errors.
func (c *Controller) reportConnect(err error) error {
	var insecure *remote.InsecureKeyError
	switch {
	case err == nil:
		c.files.ResetPath()
		c.emit(NewConnectedEvent(c.sessions.ClientType()))
		return nil
	case errors.As(err, &insecure):
		c.emit(NewConfirmInsecureKeyEvent(insecure))
		return nil
	}
	if _, ok := session.IsFallback(err); ok {
		c.emit(NewMessageEvent(MsgSubsystemUnavailable, subsystemPrompt))
		return nil
	}
	return err
}

// startTransfer runs one transfer in the background so cancelTransfer can
// be handled while it is in flight.
func (c *Controller) startTransfer(dir transfer.Direction, run func(context.Context, transfer.ProgressFunc) error) error {
	if !c.transferring.CompareAndSwap(false, true) {
		return transfer.ErrTransferInProgress
	}

	c.mu.Lock()
	ctx := c.baseCtx
	c.mu.Unlock()

	direction := string(dir)
	onProgress := func(p transfer.Progress) {
		c.emit(NewProgressEvent(p.FileName, p.Progress, direction))
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := run(ctx, onProgress)
		c.transferring.Store(false)
		c.finishTransfer(direction, err)
	}()
	return nil
}

func (c *Controller) finishTransfer(direction string, err error) {
	switch {
	case err == nil:
		c.emit(NewDirectionEvent(MsgTransferComplete, direction))
		msg := "File upload successful"
		if direction == string(transfer.Download) {
			msg = "File download successful"
		}
		c.emit(NewMessageEvent(MsgSuccess, msg))
	case remote.IsCancelled(err):
		c.emit(NewDirectionEvent(MsgTransferCancelled, direction))
	default:
		c.emitError(err)
	}
}

// probe runs one heartbeat on request. Results reach the front-end through
// the relay; only a probe that could not run is answered here.
func (c *Controller) probe(ctx context.Context) error {
	if !c.HeartbeatEnabled() {
		return nil
	}
	result, err := c.heartbeat.Probe(ctx)
	if result == session.ProbeSkipped && err != nil {
		c.emit(Event{Type: MsgHeartbeatFail, Message: err.Error()})
	}
	return nil
}

// HeartbeatEnabled reports whether probing is on.
func (c *Controller) HeartbeatEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeatEnabled
}

func (c *Controller) setHeartbeat(enabled bool) {
	c.mu.Lock()
	c.heartbeatEnabled = enabled
	ctx := c.baseCtx
	c.mu.Unlock()

	if enabled {
		if !c.heartbeat.Running() {
			_ = c.heartbeat.Start(ctx)
		}
		return
	}
	c.heartbeat.Stop()
}

func (c *Controller) connections(req *Request) error {
	if c.store == nil {
		return ErrProfilesUnavailable
	}

	var ev Event
	switch req.Type {
	case MsgSaveConnection:
		if req.Connection == nil {
			return remote.ConfigErrorf("No connection to save")
		}
		saved, err := c.store.Add(*req.Connection)
		if err != nil {
			return err
		}
		ev = Event{Success: true, SavedConnection: &saved}
	case MsgUpdateConnection:
		if req.Connection == nil {
			return remote.ConfigErrorf("No connection to update")
		}
		if err := c.store.Update(*req.Connection); err != nil {
			return err
		}
		ev = Event{Success: true, IsUpdate: true}
	case MsgDeleteConnection:
		if err := c.store.Delete(req.ID); err != nil {
			return err
		}
		ev = Event{Success: true, IsDelete: true}
	}

	conns, err := c.store.List()
	if err != nil {
		return err
	}
	list := NewSavedConnectionsEvent(conns)
	list.Success, list.IsUpdate, list.IsDelete, list.SavedConnection = ev.Success, ev.IsUpdate, ev.IsDelete, ev.SavedConnection
	c.emit(list)
	return nil
}

// relay forwards session losses, heartbeat results and external profile
// edits from the bus.
func (c *Controller) relay(ctx context.Context) {
	ch := c.bus.SubscribeAll()
	go func() {
		defer c.bus.UnsubscribeAll(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				c.relayOne(ev)
			}
		}
	}()
}

func (c *Controller) relayOne(ev events.Event) {
	switch e := ev.(type) {
	case *events.SessionStateEvent:
		if session.IsLoss(e) {
			c.files.ResetPath()
			c.emit(Event{Type: MsgDisconnected, Message: e.Reason})
		}
	case *events.HeartbeatEvent:
		if e.OK {
			c.emit(Event{Type: MsgHeartbeatOK})
			return
		}
		msg := ""
		if e.Error != nil {
			msg = e.Error.Error()
		}
		c.emit(Event{Type: MsgHeartbeatFail, Failures: e.Failures, Message: msg})
	case *events.ProfilesChangedEvent:
		if e.Source != "watcher" || c.store == nil {
			return
		}
		if conns, err := c.store.List(); err == nil {
			c.emit(NewSavedConnectionsEvent(conns))
		}
	}
}

func (c *Controller) emitError(err error) {
	if remote.IsWarning(err) {
		c.emit(NewMessageEvent(MsgWarning, err.Error()))
		return
	}
	c.logger.Warn().Err(err).Msg("Request failed")
	c.emit(NewMessageEvent(MsgError, err.Error()))
}

func (c *Controller) emit(e Event) {
	if err := c.sink.Send(e); err != nil {
		c.logger.Warn().Err(err).Str("type", string(e.Type)).Msg("Failed to send event")
	}
}
