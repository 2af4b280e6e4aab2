package redisserver

import (
	"errors"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/yndnr/sabledb-go/internal/core/domain"
	"github.com/yndnr/sabledb-go/internal/storage"
)

// LPUSH <key> <element> [element ...]
func (h *CommandHandler) handleLPush(x *execCtx) error {
	return h.push(x, storage.Head)
}

// RPUSH <key> <element> [element ...]
func (h *CommandHandler) handleRPush(x *execCtx) error {
	return h.push(x, storage.Tail)
}

// push wakes one waiter per pushed element.
func (h *CommandHandler) push(x *execCtx, end storage.End) error {
	key := string(x.args[1])
	n, err := h.engine.Push(h.ctx(), key, end, x.args[2:]...)
	if err != nil {
		return err
	}
	h.registry.Notify(key, len(x.args)-2)
	x.integer(int64(n))
	return nil
}

// LPOP <key> [count]
func (h *CommandHandler) handleLPop(x *execCtx) error {
	return h.pop(x, storage.Head)
}

// RPOP <key> [count]
func (h *CommandHandler) handleRPop(x *execCtx) error {
	return h.pop(x, storage.Tail)
}

func (h *CommandHandler) pop(x *execCtx, end storage.End) error {
	if len(x.args) > 3 {
		return domain.ErrSyntax
	}
	key := string(x.args[1])

	if len(x.args) == 2 {
		vals, err := h.engine.Pop(h.ctx(), key, end, 1)
		if errors.Is(err, storage.ErrNotFound) {
			x.null()
			return nil
		}
		if err != nil {
			return err
		}
		x.bulk(vals[0])
		return nil
	}

	count, err := parseInt(x.args[2])
	if err != nil {
		return err
	}
	if count < 0 {
		return domain.ErrNotInteger.WithMessagef("value is out of range, must be positive")
	}
	if count == 0 {
		// Nothing is removed; only the key's existence and type matter.
		t, err := h.engine.Type(h.ctx(), key)
		switch {
		case err != nil:
			return err
		case t == storage.TypeNone:
			x.nullArray()
		case t != storage.TypeList:
			return domain.ErrWrongType
		default:
			x.arrayHeader(0)
		}
		return nil
	}

	vals, err := h.engine.Pop(h.ctx(), key, end, int(min(count, math.MaxInt32)))
	if errors.Is(err, storage.ErrNotFound) {
		x.nullArray()
		return nil
	}
	if err != nil {
		return err
	}
	x.arrayHeader(len(vals))
	for _, v := range vals {
		x.bulk(v)
	}
	return nil
}

// LLEN <key>
func (h *CommandHandler) handleLLen(x *execCtx) error {
	n, err := h.engine.Len(h.ctx(), string(x.args[1]))
	if err != nil {
		return err
	}
	x.integer(int64(n))
	return nil
}

// LRANGE <key> <start> <stop>
func (h *CommandHandler) handleLRange(x *execCtx) error {
	start, err := parseInt(x.args[2])
	if err != nil {
		return err
	}
	stop, err := parseInt(x.args[3])
	if err != nil {
		return err
	}
	vals, err := h.engine.Range(h.ctx(), string(x.args[1]), clampInt(start), clampInt(stop))
	if err != nil {
		return err
	}
	x.arrayHeader(len(vals))
	for _, v := range vals {
		x.bulk(v)
	}
	return nil
}

func clampInt(n int64) int {
	return int(max(min(n, math.MaxInt32), math.MinInt32))
}

// BLPOP <key> [key ...] <timeout>
func (h *CommandHandler) handleBLPop(x *execCtx) error {
	return h.blockingPop(x, storage.Head)
}

// BRPOP <key> [key ...] <timeout>
func (h *CommandHandler) handleBRPop(x *execCtx) error {
	return h.blockingPop(x, storage.Tail)
}

// blockingPop pops from the first non-empty key, in argument order. When
// every key is empty it asks the worker to block the client. The
// registry versions are read before storage is checked, so a push that
// lands between the check and the registration makes the registration
// fail and the command run again.
//
// A command resumed by a wake-up tries the woken key first: the
// notification was issued for that key's element, and taking another
// key's instead would leave it unclaimed.
func (h *CommandHandler) blockingPop(x *execCtx, end storage.End) error {
	deadline, err := h.blockDeadline(x)
	if err != nil {
		return err
	}

	keys := argStrings(x.args[1 : len(x.args)-1])
	versions := make([]uint64, len(keys))
	for i, k := range keys {
		versions[i] = h.registry.Version(k)
	}

	for _, key := range popOrder(keys, x.resumed) {
		vals, err := h.engine.Pop(h.ctx(), key, end, 1)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		x.arrayHeader(2)
		x.bulkString(key)
		x.bulk(vals[0])
		return nil
	}

	if !deadline.IsZero() && !x.now.Before(deadline) {
		x.nullArray()
		return nil
	}
	x.block = &BlockInfo{Resources: keys, Deadline: deadline}
	x.versions = versions
	return nil
}

// popOrder returns keys with the woken key, if any, moved to the front.
func popOrder(keys []string, resumed *BlockInfo) []string {
	if resumed == nil || resumed.Woken == "" {
		return keys
	}
	i := slices.Index(keys, resumed.Woken)
	if i <= 0 {
		return keys
	}
	order := make([]string, 0, len(keys))
	order = append(order, keys[i])
	order = append(order, keys[:i]...)
	return append(order, keys[i+1:]...)
}

// blockDeadline parses the trailing timeout in seconds. A re-run after a
// wake-up keeps the original deadline.
func (h *CommandHandler) blockDeadline(x *execCtx) (time.Time, error) {
	if x.resumed != nil {
		return x.resumed.Deadline, nil
	}

	secs, err := strconv.ParseFloat(string(x.args[len(x.args)-1]), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs > math.MaxInt64/float64(time.Second) {
		return time.Time{}, domain.ErrInvalidTimeout
	}
	if secs < 0 {
		return time.Time{}, domain.ErrInvalidTimeout.WithMessagef("timeout is negative")
	}

	timeout := time.Duration(secs * float64(time.Second))
	if timeout == 0 {
		timeout = h.m.cfg.BlockingDefaultTimeout
	}
	if timeout == 0 {
		return time.Time{}, nil
	}
	return x.now.Add(timeout), nil
}
