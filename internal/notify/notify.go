// Package notify sends desktop notifications when a transfer finishes or a
// session is lost. It uses github.com/gen2brain/beeep for cross-platform
// notification support.
package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/houzin/scp-explorer/internal/events"
	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/session"
)

const appTitle = "SCP Explorer"

// Notifier handles desktop notifications.
type Notifier struct {
	logger  *logging.Logger
	enabled bool
	mu      sync.RWMutex

	// send and alert are swapped out in tests.
	send  func(title, message string) error
	alert func(title, message string) error
}

// NewNotifier creates a notifier. Notifications are off unless enabled.
func NewNotifier(enabled bool, logger *logging.Logger) *Notifier {
	return &Notifier{
		logger:  logger.Component("notify"),
		enabled: enabled,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		alert: func(title, message string) error {
			return beeep.Alert(title, message, "")
		},
	}
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// TransferComplete announces a finished upload or download.
func (n *Notifier) TransferComplete(direction string, units int, dest string) {
	if !n.IsEnabled() {
		return
	}
	title := "Upload Complete"
	if direction == "download" {
		title = "Download Complete"
	}
	message := fmt.Sprintf("%d file(s) transferred to:\n%s", units, shortenPath(dest))
	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Str("direction", direction).Msg("Failed to send transfer complete notification")
	}
}

// TransferFailed announces a failed upload or download.
func (n *Notifier) TransferFailed(direction string, errorMsg string) {
	if !n.IsEnabled() {
		return
	}
	title := "Upload Failed"
	if direction == "download" {
		title = "Download Failed"
	}
	if err := n.send(title, truncate(errorMsg, 100)); err != nil {
		n.logger.Warn().Err(err).Str("direction", direction).Msg("Failed to send transfer failed notification")
	}
}

// ConnectionLost raises an alert for a dropped session.
func (n *Notifier) ConnectionLost(host, reason string) {
	if !n.IsEnabled() {
		return
	}
	title := appTitle + " Alert"
	message := fmt.Sprintf("Connection to %s was lost:\n%s", truncate(host, 40), truncate(reason, 100))

	// Alert is more prominent on some platforms; fall back to a plain notification.
	if err := n.alert(title, message); err != nil {
		if err := n.send(title, message); err != nil {
			n.logger.Error().Err(err).Str("host", host).Msg("Failed to send connection lost notification")
		}
	}
}

// Watch turns transfer and session events on bus into notifications until
// ctx is done.
func (n *Notifier) Watch(ctx context.Context, bus *events.EventBus) {
	ch := bus.SubscribeAll()
	go func() {
		defer bus.UnsubscribeAll(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				n.handle(ev)
			}
		}
	}()
}

func (n *Notifier) handle(ev events.Event) {
	switch e := ev.(type) {
	case *events.TransferEvent:
		switch e.Type() {
		case events.EventTransferCompleted:
			n.TransferComplete(e.Direction, e.Units, e.Dest)
		case events.EventTransferFailed:
			msg := "unknown error"
			if e.Error != nil {
				msg = e.Error.Error()
			}
			n.TransferFailed(e.Direction, msg)
		}
	case *events.SessionStateEvent:
		if session.IsLoss(e) {
			n.ConnectionLost(e.Host, e.Reason)
		}
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortenPath abbreviates a long path for display in notifications.
func shortenPath(path string) string {
	const maxLen = 60

	if len(path) <= maxLen {
		return path
	}

	_, file := filepath.Split(path)
	parentDir := filepath.Base(filepath.Dir(path))
	short := filepath.Join("...", parentDir, file)

	vol := filepath.VolumeName(path)
	if vol != "" && len(vol)+len(short)+1 <= maxLen {
		short = vol + string(filepath.Separator) + short
	}

	if len(short) > maxLen {
		return "..." + path[len(path)-(maxLen-3):]
	}
	return short
}
