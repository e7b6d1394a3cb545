// Package logging provides structured logging for both the CLI and the panel server.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/houzin/scp-explorer/internal/events"
)

// Modes understood by NewLogger.
const (
	ModeCLI   = "cli"
	ModeServe = "serve"
)

// Logger wraps zerolog with mode-specific behavior.
type Logger struct {
	zlog     zerolog.Logger
	mode     string // "cli" or "serve"
	eventBus *events.EventBus
	output   io.Writer // current output writer
	file     *FileWriter
}

// NewLogger creates a new logger for the specified mode.
func NewLogger(mode string, eventBus *events.EventBus) *Logger {
	var out *os.File
	if mode == ModeCLI {
		// CLI mode: stdout for logs, stderr is reserved for progress bars
		out = os.Stdout
	} else {
		// Serve mode: stdout carries the message stream
		out = os.Stderr
	}

	l := &Logger{
		mode:     mode,
		eventBus: eventBus,
	}
	l.rebuild(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
	return l
}

// NewDefaultCLILogger creates a default CLI logger.
func NewDefaultCLILogger() *Logger {
	return NewLogger(ModeCLI, nil)
}

// NewNopLogger returns a logger that discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop(), mode: ModeCLI, output: io.Discard}
}

func (l *Logger) rebuild(console io.Writer) {
	l.output = console
	w := console
	if l.file != nil {
		w = zerolog.MultiLevelWriter(console, l.file)
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	if l.eventBus != nil {
		zl = zl.Hook(busHook{bus: l.eventBus})
	}
	l.zlog = zl
}

// busHook mirrors warnings and errors onto the event bus.
type busHook struct {
	bus *events.EventBus
}

func (h busHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	switch level {
	case zerolog.WarnLevel:
		h.bus.PublishLog(events.WarnLevel, msg, "logger", nil)
	case zerolog.ErrorLevel, zerolog.FatalLevel:
		h.bus.PublishLog(events.ErrorLevel, msg, "logger", nil)
	}
}

// EnableFile tees log output into a rotating file.
func (l *Logger) EnableFile(path string) error {
	fw, err := NewFileWriter(path)
	if err != nil {
		return err
	}
	l.file = fw
	l.rebuild(l.output)
	return nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// Fatal returns a fatal level event.
func (l *Logger) Fatal() *zerolog.Event {
	return l.zlog.Fatal()
}

// With creates a child logger context with additional fields.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// Component returns a copy of the logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	cp := *l
	cp.zlog = l.zlog.With().Str("component", name).Logger()
	return &cp
}

// SetOutput changes the console writer for the logger.
// This is useful for redirecting logs through progress bars.
// A writer previously returned by Output is reused as is.
func (l *Logger) SetOutput(w io.Writer) {
	if cw, ok := w.(zerolog.ConsoleWriter); ok {
		l.rebuild(cw)
		return
	}
	l.rebuild(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"})
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
