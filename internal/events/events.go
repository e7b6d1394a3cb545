package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/houzin/scp-explorer/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventLog EventType = "log"

	// Session lifecycle
	EventSessionState EventType = "session_state" // Backend state transition
	EventHeartbeat    EventType = "heartbeat"     // Probe result

	// Transfer events
	EventTransferStarted   EventType = "transfer_started"   // Task accepted, first unit about to run
	EventTransferProgress  EventType = "transfer_progress"  // Per-file progress update
	EventTransferCompleted EventType = "transfer_completed" // Every unit finished
	EventTransferFailed    EventType = "transfer_failed"    // Aborted with error
	EventTransferCancelled EventType = "transfer_cancelled" // Aborted by user

	// Saved connections changed on disk or through the store
	EventProfilesChanged EventType = "profiles_changed"
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	Source  string
	Error   error
}

// SessionStateEvent represents a backend state transition.
// Reason is set when the transition was forced by an error.
type SessionStateEvent struct {
	BaseEvent
	OldState   string
	NewState   string
	ClientType string
	Host       string
	Generation uint64
	Reason     string
}

// HeartbeatEvent reports one liveness probe.
type HeartbeatEvent struct {
	BaseEvent
	OK       bool
	Failures int // consecutive failures including this one
	Error    error
}

// TransferEvent represents transfer lifecycle and progress events
type TransferEvent struct {
	BaseEvent
	TaskID    string
	Direction string  // "upload" or "download"
	Dest      string  // Destination directory of the task
	FileName  string  // Unit being copied (progress events only)
	Progress  float64 // 0 to 100
	Bytes     int64   // Bytes copied for FileName so far
	Total     int64   // Size of FileName
	Units     int     // Files completed so far in the task
	Speed     float64 // Smoothed task throughput in bytes/sec
	Error     error
}

// ProfilesChangedEvent is published after the saved connection store changes.
type ProfilesChangedEvent struct {
	BaseEvent
	Count  int
	Source string // "store" or "watcher"
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking.
// Events for a full subscriber are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, source string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: BaseEvent{EventType: EventLog, Time: time.Now()},
		Level:     level,
		Message:   message,
		Source:    source,
		Error:     err,
	})
}

// PublishSessionState is a convenience method for publishing backend state transitions
func (eb *EventBus) PublishSessionState(oldState, newState, clientType, host string, generation uint64, reason string) {
	eb.Publish(&SessionStateEvent{
		BaseEvent:  BaseEvent{EventType: EventSessionState, Time: time.Now()},
		OldState:   oldState,
		NewState:   newState,
		ClientType: clientType,
		Host:       host,
		Generation: generation,
		Reason:     reason,
	})
}

// PublishHeartbeat is a convenience method for publishing probe results
func (eb *EventBus) PublishHeartbeat(ok bool, failures int, err error) {
	eb.Publish(&HeartbeatEvent{
		BaseEvent: BaseEvent{EventType: EventHeartbeat, Time: time.Now()},
		OK:        ok,
		Failures:  failures,
		Error:     err,
	})
}

// PublishTransfer is a convenience method for publishing transfer events
func (eb *EventBus) PublishTransfer(eventType EventType, ev TransferEvent) {
	ev.BaseEvent = BaseEvent{EventType: eventType, Time: time.Now()}
	eb.Publish(&ev)
}

// Unsubscribe removes a subscription channel from a specific event type
// This prevents memory leaks from abandoned subscriptions
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
