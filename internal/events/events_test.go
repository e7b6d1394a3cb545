package events

import (
	"errors"
	"testing"
	"time"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventTransferProgress)

	bus.PublishTransfer(EventTransferProgress, TransferEvent{
		TaskID:    "task-1",
		Direction: "upload",
		FileName:  "a.txt",
		Progress:  50,
	})

	select {
	case received := <-ch:
		progress, ok := received.(*TransferEvent)
		if !ok {
			t.Fatal("Expected TransferEvent")
		}
		if progress.FileName != "a.txt" {
			t.Errorf("Expected file name 'a.txt', got '%s'", progress.FileName)
		}
		if progress.Progress != 50 {
			t.Errorf("Expected progress 50, got %f", progress.Progress)
		}
		if progress.Type() != EventTransferProgress {
			t.Errorf("Expected type %s, got %s", EventTransferProgress, progress.Type())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch1 := bus.Subscribe(EventLog)
	ch2 := bus.Subscribe(EventLog)

	bus.PublishLog(InfoLevel, "Test log", "test", nil)

	received1 := false
	received2 := false

	select {
	case <-ch1:
		received1 = true
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case <-ch2:
		received2 = true
	case <-time.After(100 * time.Millisecond):
	}

	if !received1 || !received2 {
		t.Error("Not all subscribers received the event")
	}
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	heartbeatCh := bus.Subscribe(EventHeartbeat)
	logCh := bus.Subscribe(EventLog)

	bus.PublishHeartbeat(true, 0, nil)

	select {
	case <-heartbeatCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("Heartbeat subscriber didn't receive event")
	}

	select {
	case <-logCh:
		t.Error("Log subscriber received wrong event type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	allCh := bus.SubscribeAll()

	bus.PublishSessionState("disconnected", "connecting", "sftp-client", "example.com", 1, "")
	bus.PublishLog(WarnLevel, "slow listing", "session", nil)

	count := 0
	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
			count++
		case <-time.After(100 * time.Millisecond):
		}
	}

	if count != 2 {
		t.Errorf("Expected to receive 2 events, got %d", count)
	}
}

func TestEventBus_NonBlocking(t *testing.T) {
	bus := NewEventBus(2)
	defer bus.Close()

	ch := bus.Subscribe(EventTransferProgress)

	for i := 0; i < 10; i++ {
		bus.PublishTransfer(EventTransferProgress, TransferEvent{FileName: "big.bin", Progress: float64(i * 10)})
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		case <-time.After(10 * time.Millisecond):
			goto done
		}
	}
done:

	if count != 2 {
		t.Errorf("Expected 2 buffered events, got %d", count)
	}
	if dropped := bus.GetDroppedEventCount(); dropped != 8 {
		t.Errorf("Expected 8 dropped events, got %d", dropped)
	}
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)

	ch := bus.Subscribe(EventSessionState)

	bus.Close()

	_, ok := <-ch
	if ok {
		t.Error("Channel should be closed after bus.Close()")
	}

	// Publishing after close should not panic
	bus.PublishSessionState("connected", "disconnected", "", "", 0, "")
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventProfilesChanged)
	bus.Unsubscribe(EventProfilesChanged, ch)

	bus.Publish(&ProfilesChangedEvent{
		BaseEvent: BaseEvent{EventType: EventProfilesChanged, Time: time.Now()},
		Count:     3,
	})

	select {
	case <-ch:
		t.Error("Unsubscribed channel received an event")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("Level %d: expected %s, got %s", tt.level, tt.expected, got)
		}
	}
}

func TestConvenienceMethods(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	stateCh := bus.Subscribe(EventSessionState)
	heartbeatCh := bus.Subscribe(EventHeartbeat)

	bus.PublishSessionState("connected", "disconnected", "scp-client", "host", 4, "connection reset")

	select {
	case event := <-stateCh:
		state, ok := event.(*SessionStateEvent)
		if !ok {
			t.Fatal("Expected SessionStateEvent")
		}
		if state.NewState != "disconnected" || state.Generation != 4 {
			t.Errorf("Unexpected state event: %+v", state)
		}
		if state.Reason != "connection reset" {
			t.Errorf("Expected reason 'connection reset', got '%s'", state.Reason)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Timeout waiting for state event")
	}

	probeErr := errors.New("probe failed")
	bus.PublishHeartbeat(false, 2, probeErr)

	select {
	case event := <-heartbeatCh:
		hb, ok := event.(*HeartbeatEvent)
		if !ok {
			t.Fatal("Expected HeartbeatEvent")
		}
		if hb.OK || hb.Failures != 2 || !errors.Is(hb.Error, probeErr) {
			t.Errorf("Unexpected heartbeat event: %+v", hb)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Timeout waiting for heartbeat event")
	}
}
