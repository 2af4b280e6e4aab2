package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/yndnr/sabledb-go/internal/core/domain"
)

// BreakerConfig configures Guard.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears the failure counts while closed. Zero never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

// Guard wraps an Engine with a circuit breaker. Engine failures count
// against the breaker; expected outcomes such as ErrNotFound or
// ErrWrongType do not. While open, calls fail fast with
// domain.ErrStorageUnavailable. Other engine failures are surfaced as
// domain.ErrStorage wrapping the cause.
type Guard struct {
	next Engine
	cb   *gobreaker.CircuitBreaker[any]
}

var _ Engine = (*Guard)(nil)

// NewGuard wraps next.
func NewGuard(next Engine, cfg BreakerConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        "storage",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("storage circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
		IsSuccessful: IsUserError,
	}
	return &Guard{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State returns the breaker state.
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}

// Unwrap returns the guarded engine.
func (g *Guard) Unwrap() Engine {
	return g.next
}

func guarded[T any](g *Guard, fn func() (T, error)) (T, error) {
	out, err := g.cb.Execute(func() (any, error) {
		return fn()
	})
	v, _ := out.(T)
	if err == nil || IsUserError(err) {
		return v, err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return v, domain.ErrStorageUnavailable.WithCause(err)
	}
	return v, domain.ErrStorage.WithCause(err)
}

type none struct{}

func (g *Guard) Get(ctx context.Context, key string) ([]byte, error) {
	return guarded(g, func() ([]byte, error) { return g.next.Get(ctx, key) })
}

func (g *Guard) Set(ctx context.Context, key string, value []byte, opts SetOptions) (bool, error) {
	return guarded(g, func() (bool, error) { return g.next.Set(ctx, key, value, opts) })
}

func (g *Guard) Delete(ctx context.Context, keys ...string) (int, error) {
	return guarded(g, func() (int, error) { return g.next.Delete(ctx, keys...) })
}

func (g *Guard) Exists(ctx context.Context, keys ...string) (int, error) {
	return guarded(g, func() (int, error) { return g.next.Exists(ctx, keys...) })
}

func (g *Guard) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return guarded(g, func() (int64, error) { return g.next.IncrBy(ctx, key, delta) })
}

func (g *Guard) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return guarded(g, func() (bool, error) { return g.next.Expire(ctx, key, ttl) })
}

func (g *Guard) TTL(ctx context.Context, key string) (time.Duration, error) {
	return guarded(g, func() (time.Duration, error) { return g.next.TTL(ctx, key) })
}

func (g *Guard) Type(ctx context.Context, key string) (Type, error) {
	return guarded(g, func() (Type, error) { return g.next.Type(ctx, key) })
}

func (g *Guard) Push(ctx context.Context, key string, end End, values ...[]byte) (int, error) {
	return guarded(g, func() (int, error) { return g.next.Push(ctx, key, end, values...) })
}

func (g *Guard) Pop(ctx context.Context, key string, end End, count int) ([][]byte, error) {
	return guarded(g, func() ([][]byte, error) { return g.next.Pop(ctx, key, end, count) })
}

func (g *Guard) Len(ctx context.Context, key string) (int, error) {
	return guarded(g, func() (int, error) { return g.next.Len(ctx, key) })
}

func (g *Guard) Range(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	return guarded(g, func() ([][]byte, error) { return g.next.Range(ctx, key, start, stop) })
}

func (g *Guard) Scan(ctx context.Context, cursor uint64, pattern string, count int) (uint64, []string, error) {
	var keys []string
	next, err := guarded(g, func() (uint64, error) {
		n, k, err := g.next.Scan(ctx, cursor, pattern, count)
		keys = k
		return n, err
	})
	return next, keys, err
}

func (g *Guard) Count(ctx context.Context) (int, error) {
	return guarded(g, func() (int, error) { return g.next.Count(ctx) })
}

func (g *Guard) Flush(ctx context.Context) error {
	_, err := guarded(g, func() (none, error) { return none{}, g.next.Flush(ctx) })
	return err
}

// Close closes the guarded engine without going through the breaker.
func (g *Guard) Close() error {
	return g.next.Close()
}
