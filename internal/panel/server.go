package panel

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/profiles"
)

// maxLine bounds a single request line.
const maxLine = 4 * 1024 * 1024

// Server speaks the panel protocol over a pair of streams, one JSON object
// per line in each direction.
type Server struct {
	ctrl    *Controller
	watcher *profiles.Watcher
	in      io.Reader
	logger  *logging.Logger

	mu  sync.Mutex
	out *bufio.Writer
}

// NewServer creates a server reading requests from in and writing events
// to out. When opts.Store is set, external edits of the store file are
// pushed to the front-end.
func NewServer(opts Options, in io.Reader, out io.Writer) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	s := &Server{
		in:     in,
		out:    bufio.NewWriter(out),
		logger: opts.Logger.Component("panel-server"),
	}
	s.ctrl = NewController(opts, s)
	if opts.Store != nil && opts.Bus != nil {
		s.watcher = profiles.NewWatcher(opts.Store, opts.Bus, opts.Logger, nil)
	}
	return s
}

// Controller returns the request handler.
func (s *Server) Controller() *Controller { return s.ctrl }

// Send writes one event line. It implements Sink.
func (s *Server) Send(e Event) error {
	data, err := e.Encode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		return err
	}
	return s.out.Flush()
}

// Serve handles requests until the input ends or ctx is cancelled. Running
// transfers are cancelled on return.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			s.logger.Warn().Err(err).Msg("Saved connection changes will not be watched")
		} else {
			defer s.watcher.Stop()
		}
	}

	s.ctrl.Start(ctx)
	defer s.ctrl.Close()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go s.read(ctx, lines, readErr)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			req, err := DecodeRequest(line)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Malformed request")
				_ = s.Send(NewMessageEvent(MsgError, "Malformed request: "+err.Error()))
				continue
			}
			s.ctrl.Handle(ctx, req)
		}
	}
}

func (s *Server) read(ctx context.Context, lines chan<- []byte, done chan<- error) {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		select {
		case lines <- append([]byte(nil), line...):
		case <-ctx.Done():
			return
		}
	}
	err := scanner.Err()
	if errors.Is(err, io.EOF) {
		err = nil
	}
	done <- err
}
