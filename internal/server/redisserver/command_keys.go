package redisserver

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/sabledb-go/internal/core/domain"
	"github.com/yndnr/sabledb-go/internal/storage"
)

const (
	defaultScanCount = 10
	keysBatch        = 1000
)

// GET <key>
func (h *CommandHandler) handleGet(x *execCtx) error {
	v, err := h.engine.Get(h.ctx(), string(x.args[1]))
	if errors.Is(err, storage.ErrNotFound) {
		x.null()
		return nil
	}
	if err != nil {
		return err
	}
	x.bulk(v)
	return nil
}

// SET <key> <value> [EX seconds | PX milliseconds] [NX | XX]
func (h *CommandHandler) handleSet(x *execCtx) error {
	key := string(x.args[1])

	var opts storage.SetOptions
	for i := 3; i < len(x.args); i++ {
		switch opt := strings.ToUpper(string(x.args[i])); opt {
		case "NX":
			if opts.XX {
				return domain.ErrSyntax
			}
			opts.NX = true
		case "XX":
			if opts.NX {
				return domain.ErrSyntax
			}
			opts.XX = true
		case "EX", "PX":
			if opts.TTL != 0 || i+1 >= len(x.args) {
				return domain.ErrSyntax
			}
			unit := time.Second
			if opt == "PX" {
				unit = time.Millisecond
			}
			ttl, err := parseTTL(x.args[i+1], unit, "set")
			if err != nil {
				return err
			}
			if ttl <= 0 {
				return domain.ErrInvalidExpire.WithMessagef("invalid expire time in 'set' command")
			}
			opts.TTL = ttl
			i++
		default:
			return domain.ErrSyntax
		}
	}

	written, err := h.engine.Set(h.ctx(), key, x.args[2], opts)
	if err != nil {
		return err
	}
	if !written {
		x.null()
		return nil
	}
	h.registry.NotifyAll(key)
	x.ok()
	return nil
}

// parseTTL converts an EXPIRE style argument to a duration.
func parseTTL(arg []byte, unit time.Duration, cmd string) (time.Duration, error) {
	n, err := parseInt(arg)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64/int64(unit) || n < math.MinInt64/int64(unit) {
		return 0, domain.ErrInvalidExpire.WithMessagef("invalid expire time in '%s' command", cmd)
	}
	return time.Duration(n) * unit, nil
}

// DEL <key> [key ...]
func (h *CommandHandler) handleDel(x *execCtx) error {
	keys := argStrings(x.args[1:])
	n, err := h.engine.Delete(h.ctx(), keys...)
	if err != nil {
		return err
	}
	if n > 0 {
		for _, k := range keys {
			h.registry.NotifyAll(k)
		}
	}
	x.integer(int64(n))
	return nil
}

// EXISTS <key> [key ...]
func (h *CommandHandler) handleExists(x *execCtx) error {
	n, err := h.engine.Exists(h.ctx(), argStrings(x.args[1:])...)
	if err != nil {
		return err
	}
	x.integer(int64(n))
	return nil
}

// INCR <key>
func (h *CommandHandler) handleIncr(x *execCtx) error {
	return h.incrBy(x, 1)
}

// DECR <key>
func (h *CommandHandler) handleDecr(x *execCtx) error {
	return h.incrBy(x, -1)
}

// INCRBY <key> <increment>
func (h *CommandHandler) handleIncrBy(x *execCtx) error {
	delta, err := parseInt(x.args[2])
	if err != nil {
		return err
	}
	return h.incrBy(x, delta)
}

// DECRBY <key> <decrement>
func (h *CommandHandler) handleDecrBy(x *execCtx) error {
	delta, err := parseInt(x.args[2])
	if err != nil {
		return err
	}
	if delta == math.MinInt64 {
		return domain.ErrNotInteger.WithMessagef("decrement would overflow")
	}
	return h.incrBy(x, -delta)
}

func (h *CommandHandler) incrBy(x *execCtx, delta int64) error {
	n, err := h.engine.IncrBy(h.ctx(), string(x.args[1]), delta)
	if err != nil {
		return err
	}
	x.integer(n)
	return nil
}

// EXPIRE <key> <seconds>
func (h *CommandHandler) handleExpire(x *execCtx) error {
	return h.expire(x, time.Second, "expire")
}

// PEXPIRE <key> <milliseconds>
func (h *CommandHandler) handlePExpire(x *execCtx) error {
	return h.expire(x, time.Millisecond, "pexpire")
}

func (h *CommandHandler) expire(x *execCtx, unit time.Duration, cmd string) error {
	key := string(x.args[1])
	ttl, err := parseTTL(x.args[2], unit, cmd)
	if err != nil {
		return err
	}
	existed, err := h.engine.Expire(h.ctx(), key, ttl)
	if err != nil {
		return err
	}
	if existed && ttl <= 0 {
		h.registry.NotifyAll(key)
	}
	x.integer(boolInt(existed))
	return nil
}

// TTL <key>
func (h *CommandHandler) handleTTL(x *execCtx) error {
	return h.ttl(x, time.Second)
}

// PTTL <key>
func (h *CommandHandler) handlePTTL(x *execCtx) error {
	return h.ttl(x, time.Millisecond)
}

// ttl replies -2 for a missing key, -1 for a key without expiry, and the
// remaining time rounded to the nearest unit otherwise.
func (h *CommandHandler) ttl(x *execCtx, unit time.Duration) error {
	d, err := h.engine.TTL(h.ctx(), string(x.args[1]))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		x.integer(-2)
	case err != nil:
		return err
	case d == storage.NoExpiry:
		x.integer(-1)
	default:
		x.integer(int64((d + unit/2) / unit))
	}
	return nil
}

// TYPE <key>
func (h *CommandHandler) handleType(x *execCtx) error {
	t, err := h.engine.Type(h.ctx(), string(x.args[1]))
	if err != nil {
		return err
	}
	x.simple(string(t))
	return nil
}

// SCAN <cursor> [MATCH pattern] [COUNT count]
func (h *CommandHandler) handleScan(x *execCtx) error {
	cursor, err := strconv.ParseUint(string(x.args[1]), 10, 64)
	if err != nil {
		return domain.ErrSyntax.WithMessagef("invalid cursor")
	}

	pattern, count := "", defaultScanCount
	for i := 2; i < len(x.args); i += 2 {
		if i+1 >= len(x.args) {
			return domain.ErrSyntax
		}
		switch strings.ToUpper(string(x.args[i])) {
		case "MATCH":
			pattern = string(x.args[i+1])
		case "COUNT":
			n, err := parseInt(x.args[i+1])
			if err != nil {
				return err
			}
			if n < 1 {
				return domain.ErrSyntax
			}
			count = int(min(n, math.MaxInt32))
		default:
			return domain.ErrSyntax
		}
	}

	next, keys, err := h.engine.Scan(h.ctx(), cursor, pattern, count)
	if err != nil {
		return err
	}
	x.arrayHeader(2)
	x.bulkString(strconv.FormatUint(next, 10))
	x.bulkStrings(keys)
	return nil
}

// KEYS <pattern>
func (h *CommandHandler) handleKeys(x *execCtx) error {
	pattern := string(x.args[1])
	var (
		all    []string
		cursor uint64
	)
	for {
		next, keys, err := h.engine.Scan(h.ctx(), cursor, pattern, keysBatch)
		if err != nil {
			return err
		}
		all = append(all, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	x.bulkStrings(all)
	return nil
}

// DBSIZE
func (h *CommandHandler) handleDBSize(x *execCtx) error {
	n, err := h.engine.Count(h.ctx())
	if err != nil {
		return err
	}
	x.integer(int64(n))
	return nil
}

// FLUSHALL [ASYNC | SYNC]
//
// Blocked clients stay blocked: an emptied key space has nothing for them.
func (h *CommandHandler) handleFlush(x *execCtx) error {
	if len(x.args) > 2 {
		return domain.ErrSyntax
	}
	if len(x.args) == 2 {
		switch strings.ToUpper(string(x.args[1])) {
		case "ASYNC", "SYNC":
		default:
			return domain.ErrSyntax
		}
	}
	if err := h.engine.Flush(h.ctx()); err != nil {
		return err
	}
	x.ok()
	return nil
}

func argStrings(args [][]byte) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
