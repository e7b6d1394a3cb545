package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/houzin/scp-explorer/internal/retry"
)

// WarningPrefix marks user-facing conflict messages. Upstream layers route
// anything that carries it to a non-blocking notification.
const WarningPrefix = "Warning: "

// Kind classifies a remote or transfer error.
type Kind int

const (
	// KindFatal is anything unclassified.
	KindFatal Kind = iota
	// KindConfig is a missing credential field or invalid auth type.
	KindConfig
	// KindTransient is a reset, closed or handshake-failed connection, or a timeout.
	KindTransient
	// KindNotFound means the path does not exist.
	KindNotFound
	// KindConflict means the target already exists. Reported as a warning.
	KindConflict
	// KindCancelled means the user cancelled the transfer.
	KindCancelled
	// KindSubsystemUnavailable means the server refused the sftp subsystem.
	KindSubsystemUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindCancelled:
		return "cancelled"
	case KindSubsystemUnavailable:
		return "subsystem_unavailable"
	default:
		return "fatal"
	}
}

// Error is a classified error carrying the operation and path it happened on.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Msg  string // user-facing message; replaces Op/Path/Err in Error() when set
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		inner := ""
		if e.Err != nil {
			inner = strings.TrimPrefix(e.Err.Error(), WarningPrefix)
		}
		switch {
		case e.Op != "" && e.Path != "":
			msg = fmt.Sprintf("%s %s: %s", e.Op, e.Path, inner)
		case e.Path != "":
			msg = e.Path + ": " + inner
		case e.Op != "":
			msg = e.Op + ": " + inner
		default:
			msg = inner
		}
	}
	if e.Kind == KindConflict {
		return WarningPrefix + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the error qualifies for retry.
func (e *Error) Transient() bool { return e.Kind == KindTransient }

// ErrNotConnected is returned when an operation needs a live session.
var ErrNotConnected = &Error{Kind: KindFatal, Msg: "Not connected to a server"}

// NewError builds a classified error.
func NewError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Conflictf builds a conflict warning with a formatted user-facing message.
func Conflictf(op, path, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Op: op, Path: path, Msg: fmt.Sprintf(format, args...)}
}

// ConfigErrorf builds a configuration error.
func ConfigErrorf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfig, Msg: fmt.Sprintf(format, args...)}
}

// Cancelled builds a cancellation outcome for path.
func Cancelled(op, path string) *Error {
	return &Error{Kind: KindCancelled, Op: op, Path: path, Msg: "Transfer cancelled by user", Err: context.Canceled}
}

// KindOf returns the classification of err, or KindFatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindFatal
}

// IsNotFound reports whether err means the path does not exist.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IsConflict reports whether err is a conflict warning.
func IsConflict(err error) bool { return err != nil && KindOf(err) == KindConflict }

// IsWarning reports whether err should be shown as a warning rather than an error.
func IsWarning(err error) bool {
	return IsConflict(err) || (err != nil && strings.HasPrefix(err.Error(), WarningPrefix))
}

// IsCancelled reports whether err is a cancellation outcome.
func IsCancelled(err error) bool { return err != nil && KindOf(err) == KindCancelled }

// IsSubsystemUnavailable reports whether the server refused the sftp subsystem.
func IsSubsystemUnavailable(err error) bool {
	return err != nil && KindOf(err) == KindSubsystemUnavailable
}

// connectionLostSignatures mark errors after which the session is unusable.
var connectionLostSignatures = []string{
	"econnreset",
	"etimedout",
	"enetunreach",
	"ehostunreach",
	"connection lost",
	"broken pipe",
	"use of closed network connection",
	"network is unreachable",
	"no route to host",
}

// IsConnectionLost reports whether err means the session must be torn down.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) {
		return true
	}
	if KindOf(err) == KindTransient {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if retry.MatchesTransientSignature(err.Error()) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, sig := range connectionLostSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// WithPath attaches path context to err unless it already names a path.
func WithPath(err error, path string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Path != "" {
		return err
	}
	return &Error{Kind: KindOf(err), Path: path, Err: err}
}

// Wrap classifies a raw error from a backend operation.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled(op, path)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(KindTransient, op, path, err)
	case strings.Contains(msg, "subsystem"):
		return &Error{
			Kind: KindSubsystemUnavailable,
			Op:   op,
			Msg:  "SFTP subsystem not available on the remote server. The server may only support SCP.",
			Err:  err,
		}
	case errors.Is(err, os.ErrNotExist) || strings.Contains(msg, "no such file") ||
		strings.Contains(msg, "enoent") ||
		(strings.Contains(msg, "not found") && !strings.Contains(msg, "command not found")):
		return NewError(KindNotFound, op, path, err)
	case errors.Is(err, os.ErrExist) || strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "file exists"):
		return &Error{Kind: KindConflict, Op: op, Path: path, Msg: "Path already exists: " + path, Err: err}
	case IsConnectionLost(err) || errors.Is(err, io.ErrUnexpectedEOF):
		return NewError(KindTransient, op, path, err)
	}
	return NewError(KindFatal, op, path, err)
}
