package redisserver

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/yndnr/sabledb-go/internal/core/domain"
	"github.com/yndnr/sabledb-go/internal/storage"
)

// Server binds the listeners and feeds accepted connections to the
// worker manager.
type Server struct {
	cfg     *Config
	manager *Manager
	logger  *slog.Logger
	plainLn net.Listener
	tlsLn   net.Listener
	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a server for engine. Options are passed to the manager.
func New(cfg *Config, engine storage.Engine, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := NewManager(cfg, engine, opts...)
	return &Server{
		cfg:     m.cfg,
		manager: m,
		logger:  m.logger,
	}
}

// Manager returns the worker manager.
func (s *Server) Manager() *Manager {
	return s.manager
}

// Start binds the listeners and starts the workers. Bind failures are
// reported as startup errors before any worker is spawned.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Addr == "" && !s.cfg.TLSEnabled {
		return domain.ErrStartup.WithDetails("no listener enabled")
	}

	if s.cfg.Addr != "" {
		ln, err := net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			return domain.ErrStartup.WithCause(err).WithDetails("listen " + s.cfg.Addr)
		}
		s.plainLn = ln
	}
	if s.cfg.TLSEnabled {
		if s.cfg.TLSConfig == nil {
			s.closeListeners()
			return domain.ErrStartup.WithDetails("tls enabled without a tls config")
		}
		ln, err := tls.Listen("tcp", s.cfg.TLSAddr, s.cfg.TLSConfig)
		if err != nil {
			s.closeListeners()
			return domain.ErrStartup.WithCause(err).WithDetails("listen " + s.cfg.TLSAddr)
		}
		s.tlsLn = ln
	}

	if err := s.manager.Start(ctx); err != nil {
		s.closeListeners()
		return err
	}
	s.running.Store(true)

	if s.plainLn != nil {
		s.serve(s.plainLn, "plain")
	}
	if s.tlsLn != nil {
		s.serve(s.tlsLn, "tls")
	}
	return nil
}

func (s *Server) serve(ln net.Listener, kind string) {
	s.logger.Info("resp server listening", "address", ln.Addr().String(), "transport", kind)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.manager.Serve(ln); err != nil && s.running.Load() {
			s.logger.Error("resp server error", "transport", kind, "error", err)
		}
	}()
}

// Addr returns the plaintext listener address, or nil if it is disabled.
func (s *Server) Addr() net.Addr {
	if s.plainLn == nil {
		return nil
	}
	return s.plainLn.Addr()
}

// TLSAddr returns the TLS listener address, or nil if it is disabled.
func (s *Server) TLSAddr() net.Addr {
	if s.tlsLn == nil {
		return nil
	}
	return s.tlsLn.Addr()
}

// Shutdown drains the workers and waits for the accept loops to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	err := s.manager.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *Server) closeListeners() {
	if s.plainLn != nil {
		_ = s.plainLn.Close()
	}
	if s.tlsLn != nil {
		_ = s.tlsLn.Close()
	}
}
