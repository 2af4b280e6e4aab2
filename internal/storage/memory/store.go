package memory

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/yndnr/sabledb-go/internal/storage"
	"github.com/yndnr/sabledb-go/pkg/cmap"
)

// Default configuration values.
const (
	DefaultShards         = 64
	DefaultExpireInterval = 100 * time.Millisecond
)

type entry struct {
	typ      storage.Type
	str      []byte
	list     *deque
	expireAt int64 // unix nanoseconds, 0 = never
}

func (e *entry) expired(now int64) bool {
	return e.expireAt != 0 && now >= e.expireAt
}

// Store is the in-memory storage engine.
type Store struct {
	data           *cmap.Map[*entry]
	expireInterval time.Duration
	logger         *slog.Logger
	now            func() time.Time

	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

var _ storage.Engine = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithShards sets the number of map shards (a power of two).
func WithShards(n int) Option {
	return func(s *Store) {
		s.data = cmap.New[*entry](n)
	}
}

// WithExpireInterval sets the period of the background expiry sweep.
// Zero disables the sweep; expiry is then purely lazy.
func WithExpireInterval(d time.Duration) Option {
	return func(s *Store) {
		s.expireInterval = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store and starts its expiry sweep.
func New(opts ...Option) *Store {
	s := &Store{
		data:           cmap.New[*entry](DefaultShards),
		expireInterval: DefaultExpireInterval,
		logger:         slog.Default(),
		now:            time.Now,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.expireInterval > 0 {
		go s.expireLoop()
	} else {
		close(s.doneCh)
	}
	return s
}

func (s *Store) nowNano() int64 { return s.now().UnixNano() }

// live returns the entry for key if it exists and has not expired. It must
// run under the shard lock.
func (s *Store) live(e *entry, ok bool) (*entry, bool) {
	if !ok || e.expired(s.nowNano()) {
		return nil, false
	}
	return e, true
}

// Get implements storage.Engine.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var (
		val []byte
		err error
	)
	s.data.View(key, func(e *entry, ok bool) {
		e, ok = s.live(e, ok)
		switch {
		case !ok:
			err = storage.ErrNotFound
		case e.typ != storage.TypeString:
			err = storage.ErrWrongType
		default:
			val = e.str
		}
	})
	return val, err
}

// Set implements storage.Engine.
func (s *Store) Set(_ context.Context, key string, value []byte, opts storage.SetOptions) (bool, error) {
	applied := false
	s.data.Compute(key, func(old *entry, ok bool) (*entry, bool) {
		_, exists := s.live(old, ok)
		if (opts.NX && exists) || (opts.XX && !exists) {
			return old, ok
		}
		applied = true
		e := &entry{typ: storage.TypeString, str: clone(value)}
		if opts.TTL > 0 {
			e.expireAt = s.now().Add(opts.TTL).UnixNano()
		}
		return e, true
	})
	return applied, nil
}

// Delete implements storage.Engine.
func (s *Store) Delete(_ context.Context, keys ...string) (int, error) {
	n := 0
	for _, key := range keys {
		s.data.Compute(key, func(old *entry, ok bool) (*entry, bool) {
			if _, live := s.live(old, ok); live {
				n++
			}
			return nil, false
		})
	}
	return n, nil
}

// Exists implements storage.Engine.
func (s *Store) Exists(_ context.Context, keys ...string) (int, error) {
	n := 0
	for _, key := range keys {
		s.data.View(key, func(e *entry, ok bool) {
			if _, live := s.live(e, ok); live {
				n++
			}
		})
	}
	return n, nil
}

// IncrBy implements storage.Engine.
func (s *Store) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	var (
		result int64
		err    error
	)
	s.data.Compute(key, func(old *entry, ok bool) (*entry, bool) {
		cur, exists := s.live(old, ok)
		var n int64
		if exists {
			if cur.typ != storage.TypeString {
				err = storage.ErrWrongType
				return old, ok
			}
			v, perr := strconv.ParseInt(string(cur.str), 10, 64)
			if perr != nil {
				err = storage.ErrNotInteger
				return old, ok
			}
			n = v
		}
		if (delta > 0 && n > math.MaxInt64-delta) || (delta < 0 && n < math.MinInt64-delta) {
			err = storage.ErrOverflow
			return old, ok
		}
		result = n + delta
		e := &entry{typ: storage.TypeString, str: strconv.AppendInt(nil, result, 10)}
		if exists {
			e.expireAt = cur.expireAt
		}
		return e, true
	})
	return result, err
}

// Expire implements storage.Engine.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	found := false
	s.data.Compute(key, func(old *entry, ok bool) (*entry, bool) {
		cur, exists := s.live(old, ok)
		if !exists {
			return nil, false
		}
		found = true
		if ttl <= 0 {
			return nil, false
		}
		e := *cur
		e.expireAt = s.now().Add(ttl).UnixNano()
		return &e, true
	})
	return found, nil
}

// TTL implements storage.Engine.
func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	ttl := storage.NoExpiry
	var err error
	s.data.View(key, func(e *entry, ok bool) {
		e, ok = s.live(e, ok)
		switch {
		case !ok:
			err = storage.ErrNotFound
		case e.expireAt != 0:
			ttl = time.Duration(e.expireAt - s.nowNano())
		}
	})
	return ttl, err
}

// Type implements storage.Engine.
func (s *Store) Type(_ context.Context, key string) (storage.Type, error) {
	typ := storage.TypeNone
	s.data.View(key, func(e *entry, ok bool) {
		if e, ok = s.live(e, ok); ok {
			typ = e.typ
		}
	})
	return typ, nil
}

// Push implements storage.Engine.
func (s *Store) Push(_ context.Context, key string, end storage.End, values ...[]byte) (int, error) {
	var (
		n   int
		err error
	)
	s.data.Compute(key, func(old *entry, ok bool) (*entry, bool) {
		cur, exists := s.live(old, ok)
		if exists && cur.typ != storage.TypeList {
			err = storage.ErrWrongType
			return old, ok
		}
		if !exists {
			cur = &entry{typ: storage.TypeList, list: &deque{}}
		}
		for _, v := range values {
			if end == storage.Head {
				cur.list.pushFront(clone(v))
			} else {
				cur.list.pushBack(clone(v))
			}
		}
		n = cur.list.len()
		return cur, true
	})
	return n, err
}

// Pop implements storage.Engine.
func (s *Store) Pop(_ context.Context, key string, end storage.End, count int) ([][]byte, error) {
	var (
		out [][]byte
		err error
	)
	s.data.Compute(key, func(old *entry, ok bool) (*entry, bool) {
		cur, exists := s.live(old, ok)
		if !exists {
			err = storage.ErrNotFound
			return nil, false
		}
		if cur.typ != storage.TypeList {
			err = storage.ErrWrongType
			return old, ok
		}
		for i := 0; i < count && cur.list.len() > 0; i++ {
			if end == storage.Head {
				out = append(out, cur.list.popFront())
			} else {
				out = append(out, cur.list.popBack())
			}
		}
		return cur, cur.list.len() > 0
	})
	return out, err
}

// Len implements storage.Engine.
func (s *Store) Len(_ context.Context, key string) (int, error) {
	var (
		n   int
		err error
	)
	s.data.View(key, func(e *entry, ok bool) {
		if e, ok = s.live(e, ok); !ok {
			return
		}
		if e.typ != storage.TypeList {
			err = storage.ErrWrongType
			return
		}
		n = e.list.len()
	})
	return n, err
}

// Range implements storage.Engine.
func (s *Store) Range(_ context.Context, key string, start, stop int) ([][]byte, error) {
	var (
		out [][]byte
		err error
	)
	s.data.View(key, func(e *entry, ok bool) {
		if e, ok = s.live(e, ok); !ok {
			return
		}
		if e.typ != storage.TypeList {
			err = storage.ErrWrongType
			return
		}
		if lo, hi, ok := storage.ListRange(e.list.len(), start, stop); ok {
			out = e.list.slice(lo, hi)
		}
	})
	return out, err
}

// Scan implements storage.Engine. The cursor is the next shard to visit;
// whole shards are returned, so a batch may exceed count.
func (s *Store) Scan(_ context.Context, cursor uint64, pattern string, count int) (uint64, []string, error) {
	if count <= 0 {
		count = 10
	}
	shards := uint64(s.data.ShardCount())
	now := s.nowNano()
	var keys []string
	for i := cursor; i < shards; i++ {
		s.data.RangeShard(int(i), func(k string, e *entry) bool {
			if !e.expired(now) && storage.Match(pattern, k) {
				keys = append(keys, k)
			}
			return true
		})
		if len(keys) >= count && i+1 < shards {
			return i + 1, keys, nil
		}
	}
	return 0, keys, nil
}

// Count implements storage.Engine.
func (s *Store) Count(_ context.Context) (int, error) {
	now := s.nowNano()
	n := 0
	s.data.Range(func(_ string, e *entry) bool {
		if !e.expired(now) {
			n++
		}
		return true
	})
	return n, nil
}

// Flush implements storage.Engine.
func (s *Store) Flush(_ context.Context) error {
	s.data.Clear()
	return nil
}

// Close stops the expiry sweep.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
	return nil
}

// DeleteExpired removes every expired key and returns how many it removed.
func (s *Store) DeleteExpired() int {
	now := s.nowNano()
	return s.data.DeleteIf(func(_ string, e *entry) bool {
		return e.expired(now)
	})
}

func (s *Store) expireLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.expireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.DeleteExpired(); n > 0 {
				s.logger.Debug("expired keys removed", "count", n)
			}
		case <-s.stopCh:
			return
		}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append(make([]byte, 0, len(b)), b...)
}
