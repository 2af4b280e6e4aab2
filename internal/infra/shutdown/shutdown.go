package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Handler runs hooks once the process is asked to stop.
type Handler struct {
	grace   time.Duration
	logger  *slog.Logger
	signals []os.Signal
	sigCh   chan os.Signal

	mu    sync.Mutex
	hooks []hook

	stop     chan string
	stopOnce sync.Once
	done     chan struct{}
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger that records each hook.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithSignals replaces the default SIGINT and SIGTERM. With no signals
// only Trigger starts shutdown.
func WithSignals(sigs ...os.Signal) Option {
	return func(h *Handler) {
		h.signals = sigs
	}
}

// New creates a Handler whose hooks share a grace deadline. Signals are
// captured from here on, so one arriving before Wait is not lost.
func New(grace time.Duration, opts ...Option) *Handler {
	h := &Handler{
		grace:   grace,
		logger:  slog.Default(),
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		stop:    make(chan string, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if len(h.signals) > 0 {
		h.sigCh = make(chan os.Signal, 1)
		signal.Notify(h.sigCh, h.signals...)
	}
	return h
}

// OnShutdown registers a hook under name.
func (h *Handler) OnShutdown(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// Trigger starts shutdown without a signal. Only the first reason is kept.
func (h *Handler) Trigger(reason string) {
	h.stopOnce.Do(func() { h.stop <- reason })
}

// Wait blocks until a signal or Trigger, then runs every hook, including
// the ones after a failure or an expired deadline. The returned error
// joins the hook errors.
func (h *Handler) Wait() error {
	if h.sigCh != nil {
		defer signal.Stop(h.sigCh)
	}

	var reason string
	select {
	case sig := <-h.sigCh:
		reason = sig.String()
	case reason = <-h.stop:
	}
	h.logger.Info("shutting down", "reason", reason, "grace", h.grace)

	ctx, cancel := context.WithTimeout(context.Background(), h.grace)
	defer cancel()

	h.mu.Lock()
	hooks := append([]hook(nil), h.hooks...)
	h.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		start := time.Now()
		err := hooks[i].fn(ctx)
		if err != nil {
			h.logger.Error("shutdown step failed", "step", hooks[i].name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", hooks[i].name, err))
			continue
		}
		h.logger.Info("shutdown step done", "step", hooks[i].name, "took", time.Since(start).Round(time.Millisecond))
	}

	close(h.done)
	return errors.Join(errs...)
}

// Done is closed after Wait has run every hook.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}
