package redisserver

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yndnr/sabledb-go/internal/core/domain"
	"github.com/yndnr/sabledb-go/internal/server/watcher"
	"github.com/yndnr/sabledb-go/internal/telemetry/metric"
	"github.com/yndnr/sabledb-go/pkg/resp"
)

// Worker runs the event loop for a set of clients. Everything reachable
// from clients is touched only by the worker's own goroutine; other
// goroutines talk to it through its mailbox and the atomic fields.
type Worker struct {
	id     int
	m      *Manager
	cfg    *Config
	logger *slog.Logger
	stats  metric.Stats
	mail   *mailbox

	clients map[uint64]*Client

	// load counts clients assigned to this worker, including ones still
	// in the mailbox. The accept loop balances on it.
	load      atomic.Int64
	heartbeat atomic.Int64
	healthy   atomic.Bool
	retired   atomic.Bool
	panicked  atomic.Bool

	draining    bool
	drainedShut bool
	drained     chan struct{}
	kill        chan struct{}
	stop        chan struct{}
	started     chan struct{}
	done        chan struct{}
}

func newWorker(id int, m *Manager) *Worker {
	w := &Worker{
		id:      id,
		m:       m,
		cfg:     m.cfg,
		logger:  m.logger.With("worker_id", id),
		mail:    newMailbox(),
		clients: make(map[uint64]*Client),
		drained: make(chan struct{}),
		kill:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.healthy.Store(true)
	return w
}

// ID returns the worker id.
func (w *Worker) ID() int {
	return w.id
}

// Stats returns the worker's counters.
func (w *Worker) Stats() metric.Snapshot {
	return w.stats.Snapshot()
}

func (w *Worker) beat(now time.Time) {
	w.heartbeat.Store(now.UnixNano())
}

func (w *Worker) lastBeat() time.Time {
	return time.Unix(0, w.heartbeat.Load())
}

func (w *Worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.panicked.Store(true)
			w.healthy.Store(false)
			w.logger.Error("worker panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	w.beat(time.Now())
	close(w.started)

	for {
		select {
		case <-w.mail.signal:
			w.handleMail()
		case now := <-ticker.C:
			w.beat(now)
			if !w.retired.Load() {
				w.checkTimeouts(now)
			}
		case <-w.kill:
			panic(fmt.Sprintf("worker %d killed", w.id))
		case <-w.stop:
			return
		}
		if w.retired.Load() {
			return
		}
	}
}

// handleMail processes one mailbox batch. A retired worker stops
// touching clients: the manager has already handed them elsewhere. The
// wake-ups it had not yet handled are passed on to other waiters.
func (w *Worker) handleMail() {
	b := w.mail.take()
	for _, a := range b.assigned {
		if w.retired.Load() {
			w.passOn(b.wakeups)
			return
		}
		w.adopt(a.client, a.migrated)
	}
	for i, wk := range b.wakeups {
		if w.retired.Load() {
			w.passOn(b.wakeups[i:])
			return
		}
		w.wake(wk)
	}
	for _, c := range b.ready {
		if w.retired.Load() {
			return
		}
		if w.clients[c.ID] == c {
			w.service(c)
		}
	}
	if b.drain && !w.draining {
		w.beginDrain()
	}
}

// adopt takes ownership of a client handed over by the manager.
func (w *Worker) adopt(c *Client, migrated bool) {
	if c.closed.Load() {
		w.load.Add(-1)
		w.m.forget(c)
		return
	}
	w.clients[c.ID] = c
	w.stats.ConnectionAdded(!migrated)
	if c.State == StateBlocked {
		w.stats.ClientBlocked()
	}
	if migrated {
		w.logger.Debug("client migrated", "client_id", c.ID, "state", c.State.String())
	}
	w.service(c)
}

// service drains the client's queued input, runs every complete frame
// and flushes the replies.
func (w *Worker) service(c *Client) {
	c.pending.Store(false)

	limit := 0
	if c.State == StateBlocked {
		limit = w.cfg.MaxFrameSize
	}
	if n := c.drain(limit); n > 0 {
		w.stats.BytesRead(n)
		c.LastActivity = time.Now()
	}

	w.process(c)
	if w.retired.Load() {
		return
	}
	w.flush(c)

	if w.draining && c.State == StateIdle && len(c.ReadBuf) == 0 {
		w.closeClient(c, "shutdown")
	}
}

// process runs the state machine over the buffered input until it needs
// more bytes, the client blocks, or the connection is condemned.
func (w *Worker) process(c *Client) {
	for c.State == StateIdle || c.State == StateReadingFrame {
		if c.CloseAfterFlush || c.Consumed == len(c.ReadBuf) || w.retired.Load() {
			break
		}
		if c.State == StateIdle {
			c.FrameStart = time.Now()
			if !w.transition(c, StateReadingFrame) {
				return
			}
		}

		args, n, err := resp.ParseFrame(c.ReadBuf[c.Consumed:], w.cfg.MaxFrameSize)
		if errors.Is(err, resp.ErrIncomplete) {
			break
		}
		if err != nil {
			w.protocolError(c, err)
			break
		}
		c.Consumed += n

		if len(args) == 0 {
			w.settle(c)
			continue
		}
		if !w.transition(c, StateExecuting) {
			return
		}
		w.dispatch(c, args, nil)
		if c.State == StateExecuting {
			w.settle(c)
		}
	}

	if c.Consumed > 0 {
		c.ReadBuf = append(c.ReadBuf[:0], c.ReadBuf[c.Consumed:]...)
		c.Consumed = 0
	}
	if len(c.ReadBuf) == 0 && cap(c.ReadBuf) > maxIdleOut {
		c.ReadBuf = nil
	}
}

// settle moves a client that finished a frame to Idle, or to
// ReadingFrame when more bytes are buffered.
func (w *Worker) settle(c *Client) {
	if c.Consumed < len(c.ReadBuf) {
		c.FrameStart = time.Now()
		w.transition(c, StateReadingFrame)
		return
	}
	w.transition(c, StateIdle)
}

func (w *Worker) transition(c *Client, next State) bool {
	if err := c.transition(next); err != nil {
		w.logger.Error("connection state machine violated", "client_id", c.ID, "error", err)
		w.closeClient(c, "illegal transition")
		return false
	}
	return true
}

// dispatch executes one command. A blocking command that found nothing
// to consume is parked in the registry; if a notification raced its
// storage check the command simply runs again.
func (w *Worker) dispatch(c *Client, args [][]byte, resumed *BlockInfo) {
	for attempt := 0; ; attempt++ {
		x := &execCtx{w: w, c: c, args: args, now: time.Now(), resumed: resumed, retry: attempt > 0}
		w.execute(x)
		if x.block == nil {
			return
		}

		ok := w.m.registry.Block(watcher.BlockRequest{
			Ref:       watcher.Ref{ClientID: c.ID, WorkerID: w.id},
			Resources: x.block.Resources,
			Versions:  x.versions,
			Deadline:  x.block.Deadline,
			Front:     resumed != nil,
		})
		if !ok {
			continue
		}

		if resumed != nil {
			x.block.Command, x.block.Since = resumed.Command, resumed.Since
		} else {
			x.block.Command, x.block.Since = cloneArgs(args), x.now
		}
		c.Blocked = x.block
		if w.transition(c, StateBlocked) {
			w.stats.ClientBlocked()
		}
		return
	}
}

// wake handles a registry wake-up for one of this worker's clients.
func (w *Worker) wake(wk watcher.Wakeup) {
	c := w.clients[wk.ClientID]
	if c == nil || c.State != StateBlocked {
		// The client left before it could consume.
		w.passOn([]watcher.Wakeup{wk})
		return
	}

	info := c.Blocked
	c.Blocked = nil
	w.stats.ClientUnblocked()
	if !w.transition(c, StateExecuting) {
		return
	}

	if wk.Timeout {
		w.stats.BlockTimeout()
		c.Out = resp.AppendNullArray(c.Out)
	} else {
		w.stats.Wakeup()
		info.Woken = wk.Resource
		w.dispatch(c, info.Command, info)
	}
	if c.State == StateExecuting {
		w.settle(c)
	}
	w.service(c)
}

// passOn re-issues key notifications this worker will never consume.
func (w *Worker) passOn(wakeups []watcher.Wakeup) {
	for _, wk := range wakeups {
		if !wk.Timeout && wk.Resource != "" {
			w.m.registry.Notify(wk.Resource, 1)
		}
	}
}

func (w *Worker) protocolError(c *Client, err error) {
	w.stats.ProtocolError()

	perr := domain.ErrProtocol.WithCause(err).WithDetails(protocolDetail(err))
	if errors.Is(err, resp.ErrFrameTooLarge) {
		perr = domain.ErrFrameTooLarge.WithCause(err)
	}
	c.Out = resp.AppendError(c.Out, perr.RESP())
	c.CloseAfterFlush = true
	w.logger.Debug("protocol error", "client_id", c.ID, "remote", c.remote, "error", err)
}

func protocolDetail(err error) string {
	return strings.TrimPrefix(err.Error(), resp.ErrProtocol.Error()+": ")
}

// flush writes pending replies and closes the connection if it is done.
func (w *Worker) flush(c *Client) {
	if c.State == StateClosing {
		return
	}
	if len(c.Out) > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
		n, err := c.conn.Write(c.Out)
		w.stats.BytesWritten(n)
		if cap(c.Out) > maxIdleOut {
			c.Out = nil
		} else {
			c.Out = c.Out[:0]
		}
		if err != nil {
			w.logger.Debug("write failed", "client_id", c.ID, "remote", c.remote, "error", err)
			w.closeClient(c, "write error")
			return
		}
	}
	switch {
	case c.CloseAfterFlush:
		w.closeClient(c, "closed by server")
	case c.eof():
		w.closeClient(c, "closed by peer")
	}
}

// closeClient moves a client to Closing and releases everything it holds.
func (w *Worker) closeClient(c *Client, reason string) {
	if c.State == StateClosing {
		return
	}
	if c.State == StateBlocked {
		w.m.registry.DeregisterAll(c.ID)
		c.Blocked = nil
		w.stats.ClientUnblocked()
	}
	c.State = StateClosing
	c.ReadBuf, c.Out = nil, nil

	delete(w.clients, c.ID)
	w.load.Add(-1)
	w.stats.ConnectionRemoved(true)
	c.shut()
	w.m.forget(c)

	w.logger.Debug("client closed", "client_id", c.ID, "remote", c.remote, "reason", reason)
	w.checkDrained()
}

func (w *Worker) checkTimeouts(now time.Time) {
	for _, c := range w.clients {
		switch c.State {
		case StateIdle:
			if w.cfg.IdleTimeout > 0 && now.Sub(c.LastActivity) > w.cfg.IdleTimeout {
				w.closeClient(c, "idle timeout")
			}
		case StateReadingFrame:
			if now.Sub(c.FrameStart) > w.cfg.ReadTimeout {
				w.closeClient(c, "read timeout")
			}
		}
	}
}

// beginDrain starts a graceful shutdown: blocked clients are told and
// closed, idle ones are closed, busy ones are closed once they go idle.
func (w *Worker) beginDrain() {
	w.draining = true
	for _, c := range w.clients {
		switch {
		case c.State == StateBlocked:
			c.Out = resp.AppendError(c.Out, domain.ErrShuttingDown.RESP())
			c.CloseAfterFlush = true
			w.flush(c)
		case c.State == StateIdle && len(c.ReadBuf) == 0:
			w.flush(c)
			w.closeClient(c, "shutdown")
		}
	}
	w.checkDrained()
}

func (w *Worker) checkDrained() {
	if w.draining && !w.drainedShut && len(w.clients) == 0 {
		w.drainedShut = true
		close(w.drained)
	}
}

// status reports the worker for telemetry.
func (w *Worker) status() metric.WorkerStatus {
	return metric.WorkerStatus{
		ID:      w.id,
		Clients: int(w.load.Load()),
		Healthy: w.healthy.Load(),
	}
}
