package storage

import (
	"context"
	"errors"
	"time"

	"github.com/yndnr/sabledb-go/internal/core/domain"
)

// Type is the kind of value stored under a key.
type Type string

const (
	TypeNone   Type = "none"
	TypeString Type = "string"
	TypeList   Type = "list"
)

// End selects a side of a list.
type End int

const (
	Head End = iota
	Tail
)

// NoExpiry is returned by TTL for a key without an expiry.
const NoExpiry time.Duration = -1

var (
	// ErrNotFound reports a missing (or expired) key.
	ErrNotFound = errors.New("storage: key not found")
	// ErrClosed reports use of a closed engine.
	ErrClosed = errors.New("storage: engine closed")

	ErrWrongType  = domain.ErrWrongType
	ErrNotInteger = domain.ErrNotInteger
	ErrOverflow   = domain.ErrNotInteger.WithMessagef("increment or decrement would overflow")
)

// SetOptions modify Set.
type SetOptions struct {
	// TTL > 0 sets an expiry; otherwise any previous expiry is cleared.
	TTL time.Duration
	// NX only sets a missing key, XX only an existing one.
	NX bool
	XX bool
}

// Engine is the key space used by the command table. Implementations are
// safe for concurrent use. Values handed to an engine are copied; values
// returned must not be modified by the caller.
type Engine interface {
	// Get returns a string value, ErrNotFound or ErrWrongType.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a string value, replacing any type. It reports whether
	// the write happened (NX/XX may suppress it).
	Set(ctx context.Context, key string, value []byte, opts SetOptions) (bool, error)
	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)
	// Exists counts the keys that exist; repeated keys count repeatedly.
	Exists(ctx context.Context, keys ...string) (int, error)
	// IncrBy adds delta to an integer string, creating it at 0.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	// Expire sets a TTL. ttl <= 0 deletes the key. Reports whether the
	// key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns the remaining time to live, NoExpiry, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Type returns the value type, TypeNone for a missing key.
	Type(ctx context.Context, key string) (Type, error)

	// Push adds values to one end of a list and returns the new length.
	Push(ctx context.Context, key string, end End, values ...[]byte) (int, error)
	// Pop removes up to count values from one end. A missing key yields
	// ErrNotFound; a list emptied by Pop is deleted.
	Pop(ctx context.Context, key string, end End, count int) ([][]byte, error)
	// Len returns a list's length, 0 for a missing key.
	Len(ctx context.Context, key string) (int, error)
	// Range returns elements start..stop inclusive; negative indexes count
	// from the tail.
	Range(ctx context.Context, key string, start, stop int) ([][]byte, error)

	// Scan returns a batch of keys matching pattern starting at cursor and
	// the cursor of the next batch, 0 when the iteration is complete.
	Scan(ctx context.Context, cursor uint64, pattern string, count int) (uint64, []string, error)
	// Count returns the number of live keys.
	Count(ctx context.Context) (int, error)
	// Flush removes every key.
	Flush(ctx context.Context) error
	Close() error
}

// ListRange resolves Redis style start/stop indexes against a list of
// length n. It returns an empty range when nothing is selected.
func ListRange(n, start, stop int) (lo, hi int, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}

// IsUserError reports whether err is an expected outcome of a command
// (missing key, wrong type, bad integer) rather than an engine failure.
func IsUserError(err error) bool {
	return err == nil ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWrongType) ||
		errors.Is(err, ErrNotInteger)
}
