package redisserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/sabledb-go/internal/core/domain"
	"github.com/yndnr/sabledb-go/internal/core/service"
	"github.com/yndnr/sabledb-go/internal/server/watcher"
	"github.com/yndnr/sabledb-go/internal/storage"
	"github.com/yndnr/sabledb-go/internal/telemetry/metric"
	"github.com/yndnr/sabledb-go/pkg/cmap"
	"github.com/yndnr/sabledb-go/pkg/resp"
)

const (
	stateNew int32 = iota
	stateRunning
	stateDraining
	stateStopped
)

// ErrNotRunning is returned by Serve before Start or after Shutdown.
var ErrNotRunning = errors.New("redisserver: manager is not running")

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithAuth enables AUTH and per-client rate limiting.
func WithAuth(auth *service.AuthService) Option {
	return func(m *Manager) {
		m.auth = auth
	}
}

// WithMetrics records command latency and worker restarts in reg.
func WithMetrics(reg *metric.Registry) Option {
	return func(m *Manager) {
		m.metrics = reg
	}
}

// Manager owns the worker pool. It assigns accepted connections to
// workers, watches their heartbeats and replaces failed ones.
type Manager struct {
	cfg      *Config
	engine   storage.Engine
	registry *watcher.Registry
	auth     *service.AuthService
	metrics  *metric.Registry
	logger   *slog.Logger
	handler  *CommandHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	workers   []*Worker // healthy and serving, ordered by id
	dying     []*Worker // failed, clients not yet handed off
	nextID    int
	retired   metric.Snapshot
	listeners []net.Listener

	// byID resolves wake-up targets without taking mu; the registry
	// delivers while holding its own lock.
	byID atomic.Pointer[map[int]*Worker]

	clients      *cmap.Map[*Client]
	nextClientID atomic.Uint64

	state     atomic.Int32
	bg        sync.WaitGroup
	startedAt time.Time
	port      atomic.Int64
	rejected  atomic.Uint64
	restarts  atomic.Uint64
}

// NewManager creates a manager serving engine. Call Start before Serve.
func NewManager(cfg *Config, engine storage.Engine, opts ...Option) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{
		cfg:     cfg.withDefaults(),
		engine:  engine,
		logger:  slog.Default(),
		clients: cmap.New[*Client](cmap.DefaultShardCount),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.auth == nil {
		m.auth, _ = service.NewAuthService(service.AuthServiceConfig{})
	}
	m.registry = watcher.New(m, watcher.DefaultShards)
	m.handler = newCommandHandler(m, m.metrics)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.byID.Store(&map[int]*Worker{})
	return m
}

// Registry returns the watcher registry.
func (m *Manager) Registry() *watcher.Registry {
	return m.registry
}

// Start spawns the workers and returns once every one of them is running.
func (m *Manager) Start(ctx context.Context) error {
	if !m.state.CompareAndSwap(stateNew, stateRunning) {
		return domain.ErrStartup.WithDetails("worker manager already started")
	}
	m.startedAt = time.Now()

	m.mu.Lock()
	for i := 0; i < m.cfg.Workers; i++ {
		m.spawnLocked()
	}
	workers := slices.Clone(m.workers)
	m.mu.Unlock()

	for _, w := range workers {
		select {
		case <-w.started:
		case <-ctx.Done():
			m.cancel()
			return domain.ErrStartup.WithCause(ctx.Err()).WithDetails("workers did not start")
		}
	}

	m.bg.Add(2)
	go func() {
		defer m.bg.Done()
		m.registry.Run(m.ctx, m.cfg.SweepInterval)
	}()
	go func() {
		defer m.bg.Done()
		m.supervise(m.ctx)
	}()

	m.logger.Info("worker manager started", "workers", len(workers))
	return nil
}

func (m *Manager) spawnLocked() *Worker {
	w := newWorker(m.nextID, m)
	m.nextID++
	m.workers = append(m.workers, w)
	m.publishLocked()
	go w.run()
	return w
}

func (m *Manager) publishLocked() {
	t := make(map[int]*Worker, len(m.workers)+len(m.dying))
	for _, w := range m.workers {
		t[w.id] = w
	}
	for _, w := range m.dying {
		t[w.id] = w
	}
	m.byID.Store(&t)
}

// Deliver implements watcher.Deliverer.
func (m *Manager) Deliver(workerID int, wk watcher.Wakeup) {
	if w := (*m.byID.Load())[workerID]; w != nil {
		w.mail.wake(wk)
	}
}

// Serve accepts connections from ln until it is closed.
func (m *Manager) Serve(ln net.Listener) error {
	if m.state.Load() != stateRunning {
		return ErrNotRunning
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, ln)
	m.mu.Unlock()
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		m.port.CompareAndSwap(0, int64(addr.Port))
	}

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if m.state.Load() != stateRunning || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Resource exhaustion (EMFILE and friends) is retried with
			// backoff instead of tearing down the listener.
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, time.Second)
			}
			m.logger.Warn("accept failed", "error", err, "retry_in", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0
		m.accept(conn)
	}
}

func (m *Manager) accept(conn net.Conn) {
	if m.cfg.MaxClients > 0 && m.clients.Count() >= m.cfg.MaxClients {
		m.reject(conn, domain.ErrServerBusy.WithMessagef("max number of clients reached"))
		return
	}

	c := newClient(m.nextClientID.Add(1), conn, time.Now())

	m.mu.Lock()
	w := m.pickLocked()
	if w == nil {
		m.mu.Unlock()
		m.reject(conn, domain.ErrServerBusy)
		return
	}
	m.clients.Set(clientKey(c.ID), c)
	m.handOffLocked(c, w, false)
	m.mu.Unlock()

	go c.readLoop()
}

func (m *Manager) reject(conn net.Conn, err error) {
	m.rejected.Add(1)
	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	_, _ = conn.Write(resp.AppendError(nil, domain.RESP(err)))
	_ = conn.Close()
	m.logger.Warn("connection rejected", "remote", conn.RemoteAddr().String(), "error", err)
}

// pickLocked returns the healthy worker with the fewest clients, the
// lowest id on ties.
func (m *Manager) pickLocked() *Worker {
	var best *Worker
	for _, w := range m.workers {
		if !w.healthy.Load() {
			continue
		}
		if best == nil || w.load.Load() < best.load.Load() {
			best = w
		}
	}
	return best
}

// handOffLocked queues c for w. The owner is published first so reader
// nudges already target w.
func (m *Manager) handOffLocked(c *Client, w *Worker, migrated bool) {
	c.owner.Store(w)
	w.load.Add(1)
	w.mail.assign(c, migrated)
}

func (m *Manager) forget(c *Client) {
	m.clients.Delete(clientKey(c.ID))
}

func clientKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// supervise checks worker heartbeats every heartbeat interval.
func (m *Manager) supervise(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.checkWorkers(now)
		}
	}
}

func (m *Manager) checkWorkers(now time.Time) {
	if m.state.Load() != stateRunning {
		return
	}

	type failure struct {
		w     *Worker
		cause string
	}
	var failed []failure

	m.mu.Lock()
	for _, w := range m.workers {
		switch {
		case w.exited():
			failed = append(failed, failure{w, "panic"})
		case now.Sub(w.lastBeat()) > m.cfg.HeartbeatTimeout:
			failed = append(failed, failure{w, "heartbeat"})
		}
	}
	m.mu.Unlock()

	for _, f := range failed {
		m.replace(f.w, f.cause)
	}
}

// replace retires a failed worker, starts its successor and deals with
// its clients: they are migrated when the worker goroutine is gone, and
// closed with a worker failure error when it is hung and may still
// touch them.
func (m *Manager) replace(failed *Worker, cause string) {
	failed.healthy.Store(false)
	failed.retired.Store(true)
	m.restarts.Add(1)
	if m.metrics != nil {
		m.metrics.WorkerRestarts.WithLabelValues(cause).Inc()
	}

	m.mu.Lock()
	m.workers = slices.DeleteFunc(m.workers, func(w *Worker) bool { return w == failed })
	m.dying = append(m.dying, failed)
	successor := m.spawnLocked()
	m.mu.Unlock()
	<-successor.started

	m.logger.Error("worker failed",
		"worker_id", failed.id,
		"cause", cause,
		"clients", failed.load.Load(),
		"successor_id", successor.id)

	if failed.exited() {
		m.migrate(failed)
	} else {
		m.abandon(failed)
	}

	m.mu.Lock()
	m.dying = slices.DeleteFunc(m.dying, func(w *Worker) bool { return w == failed })
	m.publishLocked()
	s := failed.stats.Snapshot()
	s.ActiveConnections, s.BlockedClients = 0, 0
	m.retired = metric.Merge(m.retired, s)
	m.mu.Unlock()
}

// migrate hands the clients of an exited worker to the survivors. The
// worker goroutine is gone, so its client table can be read freely until
// each client is handed off; after that only the snapshot taken here is
// used.
func (m *Manager) migrate(failed *Worker) {
	type blockedClient struct {
		id       uint64
		owner    *Worker
		resource string
	}
	moved := make(map[uint64]*Worker, len(failed.clients))
	var (
		stranded []*Client
		blocked  []blockedClient
		rewake   []blockedClient
	)

	m.mu.Lock()
	pending := failed.mail.take()
	for _, c := range failed.clients {
		w := m.pickLocked()
		if w == nil {
			stranded = append(stranded, c)
			continue
		}
		resetInFlight(c)
		if c.State == StateBlocked && c.Blocked != nil && len(c.Blocked.Resources) > 0 {
			blocked = append(blocked, blockedClient{id: c.ID, owner: w, resource: c.Blocked.Resources[0]})
		}
		m.handOffLocked(c, w, true)
		moved[c.ID] = w
	}
	for _, a := range pending.assigned {
		if w := m.pickLocked(); w != nil {
			m.handOffLocked(a.client, w, false)
			moved[a.client.ID] = w
		}
	}
	m.mu.Unlock()

	for _, c := range stranded {
		m.registry.DeregisterAll(c.ID)
		c.abort(domain.ErrWorkerFailure, m.cfg.WriteTimeout)
		m.forget(c)
	}

	// Rebinding after the hand-off guarantees a wake-up routed to the new
	// owner finds the client already queued for adoption. A client whose
	// ticket was claimed before the rebind gets a fresh wake-up; its
	// command re-runs and blocks again if there is nothing to pop.
	for _, b := range blocked {
		if !m.registry.Rebind(b.id, b.owner.id) {
			rewake = append(rewake, b)
		}
	}

	late := failed.mail.take()
	for _, wk := range append(pending.wakeups, late.wakeups...) {
		if _, ok := moved[wk.ClientID]; !ok && !wk.Timeout && wk.Resource != "" {
			m.registry.Notify(wk.Resource, 1)
		}
	}
	for _, b := range rewake {
		b.owner.mail.wake(watcher.Wakeup{ClientID: b.id, Resource: b.resource})
	}

	m.logger.Info("clients migrated", "worker_id", failed.id, "clients", len(moved), "rewoken", len(rewake))
}

// resetInFlight settles a client whose command was interrupted by a
// worker failure. The lost reply is replaced by an error so replies stay
// aligned with requests.
func resetInFlight(c *Client) {
	if c.State != StateExecuting {
		return
	}
	c.Out = resp.AppendError(c.Out, domain.ErrWorkerFailure.RESP())
	if c.Consumed < len(c.ReadBuf) {
		c.State = StateReadingFrame
		c.FrameStart = time.Now()
	} else {
		c.State = StateIdle
	}
}

// abandon closes the clients of a hung worker. Their sessions stay with
// the hung goroutine; only the sockets and registry entries are touched.
func (m *Manager) abandon(failed *Worker) {
	var victims []*Client
	m.clients.DeleteIf(func(_ string, c *Client) bool {
		if c.owner.Load() == failed {
			victims = append(victims, c)
			return true
		}
		return false
	})
	for _, c := range victims {
		m.registry.DeregisterAll(c.ID)
		c.abort(domain.ErrWorkerFailure, m.cfg.WriteTimeout)
	}

	b := failed.mail.take()
	for _, wk := range b.wakeups {
		if !wk.Timeout && wk.Resource != "" {
			m.registry.Notify(wk.Resource, 1)
		}
	}
	m.logger.Warn("clients of hung worker closed", "worker_id", failed.id, "clients", len(victims))
}

// Kill forces a worker failure, as if its goroutine had panicked.
func (m *Manager) Kill(workerID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workers {
		if w.id == workerID {
			select {
			case w.kill <- struct{}{}:
			default:
			}
			return nil
		}
	}
	return domain.ErrSyntax.WithMessagef("no such worker '%d'", workerID)
}

// Shutdown stops accepting, lets workers finish in-flight commands for up
// to the shutdown grace period, then closes whatever is left.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.state.CompareAndSwap(stateRunning, stateDraining) {
		return nil
	}

	m.mu.Lock()
	for _, ln := range m.listeners {
		_ = ln.Close()
	}
	workers := slices.Clone(m.workers)
	m.mu.Unlock()

	m.logger.Info("draining workers", "workers", len(workers), "clients", m.clients.Count())
	for _, w := range workers {
		w.mail.requestDrain()
	}

	grace := time.NewTimer(m.cfg.ShutdownGrace)
	defer grace.Stop()

	var err error
wait:
	for _, w := range workers {
		select {
		case <-w.drained:
		case <-w.done:
		case <-grace.C:
			err = domain.ErrShuttingDown.WithDetails("grace period expired")
			break wait
		case <-ctx.Done():
			err = ctx.Err()
			break wait
		}
	}

	for _, w := range workers {
		close(w.stop)
	}
	var leftover []*Client
	m.clients.DeleteIf(func(_ string, c *Client) bool {
		leftover = append(leftover, c)
		return true
	})
	for _, c := range leftover {
		c.shut()
	}
	for _, w := range workers {
		select {
		case <-w.done:
		case <-ctx.Done():
		}
	}

	m.cancel()
	m.bg.Wait()
	m.state.Store(stateStopped)
	m.logger.Info("worker manager stopped", "force_closed", len(leftover))
	return err
}

// Snapshot merges the telemetry of every worker, including retired ones.
func (m *Manager) Snapshot() metric.Snapshot {
	m.mu.Lock()
	snaps := make([]metric.Snapshot, 0, len(m.workers)+1)
	snaps = append(snaps, m.retired)
	for _, w := range m.workers {
		snaps = append(snaps, w.Stats())
	}
	m.mu.Unlock()
	return metric.Merge(snaps...)
}

// Workers reports the serving workers.
func (m *Manager) Workers() []metric.WorkerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]metric.WorkerStatus, len(m.workers))
	for i, w := range m.workers {
		out[i] = w.status()
	}
	return out
}

// Healthy reports whether every serving worker is heartbeating.
func (m *Manager) Healthy() bool {
	if m.state.Load() != stateRunning {
		return false
	}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.workers) == 0 {
		return false
	}
	for _, w := range m.workers {
		if !w.healthy.Load() || now.Sub(w.lastBeat()) > m.cfg.HeartbeatTimeout {
			return false
		}
	}
	return true
}

// Stats implements metric.Source.
func (m *Manager) Stats() metric.Snapshot {
	return m.Snapshot()
}

// WorkerStatuses implements metric.Source.
func (m *Manager) WorkerStatuses() []metric.WorkerStatus {
	return m.Workers()
}

// WaitingClients implements metric.Source.
func (m *Manager) WaitingClients() int {
	return m.registry.Len()
}
