package localserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInUse is returned when another process serves the socket path.
var ErrInUse = errors.New("socket path in use")

// ConnServer accepts connections from a listener until it is closed. The
// worker manager implements it.
type ConnServer interface {
	Serve(ln net.Listener) error
}

// Server represents the local socket server.
type Server struct {
	path    string
	perm    fs.FileMode
	backend ConnServer
	logger  *slog.Logger

	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New creates a new local server. perm is applied to the socket file.
func New(socketPath string, perm fs.FileMode, backend ConnServer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		path:    socketPath,
		perm:    perm,
		backend: backend,
		logger:  logger,
	}
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Listen binds the socket, replacing a stale one.
func (s *Server) Listen() error {
	if err := removeStale(s.path); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, s.perm); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod %s: %w", s.path, err)
	}
	s.listener = ln
	return nil
}

// Serve hands the listener to the backend in the background.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("localserver: Serve called before Listen")
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("localserver: already serving")
	}

	s.logger.Info("resp server listening", "address", s.path, "transport", "unix")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.backend.Serve(s.listener); err != nil && s.running.Load() {
			s.logger.Error("resp server error", "transport", "unix", "error", err)
		}
	}()
	return nil
}

// ListenAndServe binds the socket and starts serving.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown closes the listener, waits for the accept loop to exit and
// removes the socket file. Connections already handed to the backend are
// drained by the backend.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var closeErr error
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			closeErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Join(closeErr, err)
	}
	return closeErr
}

// removeStale deletes path if it is a socket nobody answers on.
func removeStale(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode().Type() != fs.ModeSocket {
		return fmt.Errorf("%s exists and is not a socket", path)
	}

	conn, err := net.DialTimeout("unix", path, 100*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrInUse, path)
	}
	return os.Remove(path)
}
