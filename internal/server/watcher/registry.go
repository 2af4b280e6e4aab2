package watcher

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaolacci/murmur3"
)

// DefaultShards is the number of resource shards.
const DefaultShards = 64

// Ref identifies a blocked client and the worker that owns it.
type Ref struct {
	ClientID uint64
	WorkerID int
}

// Wakeup is posted to a worker for one of its blocked clients.
type Wakeup struct {
	ClientID uint64
	// Resource is the key whose write woke the client; empty on timeout.
	Resource string
	// Timeout is set when the client's deadline passed.
	Timeout bool
}

// Deliverer posts wake-ups to workers. Deliver must not block and must not
// call back into the registry.
type Deliverer interface {
	Deliver(workerID int, w Wakeup)
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(workerID int, w Wakeup)

// Deliver implements Deliverer.
func (f DelivererFunc) Deliver(workerID int, w Wakeup) { f(workerID, w) }

type ticket struct {
	clientID uint64
	deadline time.Time
	claimed  atomic.Bool

	mu        sync.Mutex
	resources []string
}

func (t *ticket) keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.resources)
}

type shard struct {
	mu       sync.Mutex
	queues   map[string][]*ticket
	versions map[string]uint64
}

type client struct {
	ticket   *ticket
	workerID int
}

// clientShard holds the blocked clients whose id maps to it. Deliveries
// for a client happen under its shard lock so that Rebind fences every
// wake-up addressed to the previous worker.
type clientShard struct {
	mu      sync.Mutex
	clients map[uint64]*client
}

// Registry tracks blocked clients per resource.
type Registry struct {
	shards    []*shard
	mask      uint64
	deliverer Deliverer

	// clients is indexed by client id & mask. A client shard lock may be
	// taken while resource shards are held, never the other way round.
	clients []*clientShard
}

// New creates a registry with shardCount shards (a power of two; other
// values fall back to DefaultShards).
func New(d Deliverer, shardCount int) *Registry {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = DefaultShards
	}
	r := &Registry{
		shards:    make([]*shard, shardCount),
		mask:      uint64(shardCount - 1),
		deliverer: d,
		clients:   make([]*clientShard, shardCount),
	}
	for i := range r.shards {
		r.shards[i] = &shard{
			queues:   make(map[string][]*ticket),
			versions: make(map[string]uint64),
		}
		r.clients[i] = &clientShard{clients: make(map[uint64]*client)}
	}
	return r
}

func (r *Registry) clientShard(id uint64) *clientShard {
	return r.clients[id&r.mask]
}

func (r *Registry) shardIndex(resource string) int {
	return int(murmur3.Sum64([]byte(resource)) & r.mask)
}

func (r *Registry) shard(resource string) *shard {
	return r.shards[r.shardIndex(resource)]
}

// lockShards locks the shards of resources in index order and returns the
// unlock function.
func (r *Registry) lockShards(resources []string) func() {
	idx := make([]int, 0, len(resources))
	for _, res := range resources {
		idx = append(idx, r.shardIndex(res))
	}
	sort.Ints(idx)
	idx = slices.Compact(idx)
	for _, i := range idx {
		r.shards[i].mu.Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			r.shards[idx[j]].mu.Unlock()
		}
	}
}

// Version returns the notification counter of resource. Read it before
// checking storage and pass it to Block.
func (r *Registry) Version(resource string) uint64 {
	s := r.shard(resource)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[resource]
}

// BlockRequest describes a client that wants to wait.
type BlockRequest struct {
	Ref       Ref
	Resources []string
	// Versions holds Version(resource) as read before the storage check,
	// one per resource. Nil skips the check.
	Versions []uint64
	// Deadline is when the wait times out; zero waits forever.
	Deadline time.Time
	// Front queues the client ahead of existing waiters. Used when a woken
	// client found the resource already drained.
	Front bool
}

// Block registers the client on every resource unless a notification hit
// one of them since the versions were read. It reports whether the client
// is now blocked; on false the caller re-runs its command.
func (r *Registry) Block(req BlockRequest) bool {
	resources := dedupe(req.Resources)

	unlock := r.lockShards(resources)
	if req.Versions != nil {
		for i, res := range req.Resources {
			if r.shard(res).versions[res] != req.Versions[i] {
				unlock()
				return false
			}
		}
	}

	t := &ticket{clientID: req.Ref.ClientID, deadline: req.Deadline, resources: resources}
	var stale *ticket
	cs := r.clientShard(req.Ref.ClientID)
	cs.mu.Lock()
	if old, ok := cs.clients[req.Ref.ClientID]; ok && old.ticket.claimed.CompareAndSwap(false, true) {
		stale = old.ticket
	}
	cs.clients[req.Ref.ClientID] = &client{ticket: t, workerID: req.Ref.WorkerID}
	cs.mu.Unlock()

	for _, res := range resources {
		s := r.shard(res)
		if req.Front {
			s.queues[res] = append([]*ticket{t}, s.queues[res]...)
		} else {
			s.queues[res] = append(s.queues[res], t)
		}
	}
	unlock()

	if stale != nil {
		r.unqueue(stale, "")
	}
	return true
}

// Register appends the client to resource's queue. Registering the same
// (resource, client) pair twice has no effect.
func (r *Registry) Register(resource string, ref Ref, deadline time.Time) {
	s := r.shard(resource)
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := r.clientShard(ref.ClientID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.clients[ref.ClientID]
	if !ok || c.ticket.claimed.Load() {
		c = &client{ticket: &ticket{clientID: ref.ClientID, deadline: deadline}, workerID: ref.WorkerID}
		cs.clients[ref.ClientID] = c
	}
	t := c.ticket

	t.mu.Lock()
	defer t.mu.Unlock()
	if slices.Contains(t.resources, resource) {
		return
	}
	t.resources = append(t.resources, resource)
	s.queues[resource] = append(s.queues[resource], t)
}

// Notify wakes up to n clients waiting on resource, oldest first, and
// returns how many were woken.
func (r *Registry) Notify(resource string, n int) int {
	return r.notify(resource, n)
}

// NotifyAll wakes every client waiting on resource.
func (r *Registry) NotifyAll(resource string) int {
	return r.notify(resource, -1)
}

func (r *Registry) notify(resource string, n int) int {
	s := r.shard(resource)
	s.mu.Lock()
	s.versions[resource]++
	q := s.queues[resource]
	var woken []*ticket
	i := 0
	for ; i < len(q) && (n < 0 || len(woken) < n); i++ {
		if q[i].claimed.CompareAndSwap(false, true) {
			woken = append(woken, q[i])
		}
	}
	if i == len(q) {
		delete(s.queues, resource)
	} else {
		s.queues[resource] = q[i:]
	}
	s.mu.Unlock()

	if len(woken) == 0 {
		return 0
	}

	// A ticket whose client left between the claim and the delivery still
	// consumed a wake-up; hand it to the next waiter.
	lost := 0
	for _, t := range woken {
		if !r.deliver(t, resource) {
			lost++
		}
	}

	for _, t := range woken {
		r.unqueue(t, resource)
	}
	if lost > 0 && n > 0 {
		return len(woken) - lost + r.notify(resource, lost)
	}
	return len(woken) - lost
}

// deliver posts a wake-up for a claimed ticket and reports whether its
// client was still registered.
func (r *Registry) deliver(t *ticket, resource string) bool {
	cs := r.clientShard(t.clientID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.clients[t.clientID]
	if !ok || c.ticket != t {
		return false
	}
	delete(cs.clients, t.clientID)
	r.deliverer.Deliver(c.workerID, Wakeup{ClientID: t.clientID, Resource: resource})
	return true
}

// unqueue removes a claimed ticket from every queue except skip.
func (r *Registry) unqueue(t *ticket, skip string) {
	for _, res := range t.keys() {
		if res == skip {
			continue
		}
		s := r.shard(res)
		s.mu.Lock()
		q := s.queues[res]
		if i := slices.Index(q, t); i >= 0 {
			q = slices.Delete(q, i, i+1)
			if len(q) == 0 {
				delete(s.queues, res)
			} else {
				s.queues[res] = q
			}
		}
		s.mu.Unlock()
	}
}

// ExpireDeadlines delivers a timeout to every client whose deadline is at
// or before now and returns how many timed out.
func (r *Registry) ExpireDeadlines(now time.Time) int {
	var expired []*ticket

	for _, cs := range r.clients {
		cs.mu.Lock()
		for id, c := range cs.clients {
			t := c.ticket
			if t.deadline.IsZero() || t.deadline.After(now) {
				continue
			}
			if !t.claimed.CompareAndSwap(false, true) {
				continue
			}
			delete(cs.clients, id)
			expired = append(expired, t)
			r.deliverer.Deliver(c.workerID, Wakeup{ClientID: id, Timeout: true})
		}
		cs.mu.Unlock()
	}

	for _, t := range expired {
		r.unqueue(t, "")
	}
	return len(expired)
}

// DeregisterAll removes the client from every queue. Later notifications
// do not reach it. It reports whether the client was blocked.
func (r *Registry) DeregisterAll(clientID uint64) bool {
	cs := r.clientShard(clientID)
	cs.mu.Lock()
	c, ok := cs.clients[clientID]
	if ok {
		delete(cs.clients, clientID)
	}
	cs.mu.Unlock()

	if !ok || !c.ticket.claimed.CompareAndSwap(false, true) {
		return false
	}
	r.unqueue(c.ticket, "")
	return true
}

// Rebind moves a blocked client to another worker. Once Rebind returns no
// wake-up for the client is delivered to the previous worker.
func (r *Registry) Rebind(clientID uint64, workerID int) bool {
	cs := r.clientShard(clientID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.clients[clientID]
	if ok {
		c.workerID = workerID
	}
	return ok
}

// Waiters returns the ids of clients waiting on resource in wake-up order.
func (r *Registry) Waiters(resource string) []uint64 {
	s := r.shard(resource)
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uint64
	for _, t := range s.queues[resource] {
		if !t.claimed.Load() {
			ids = append(ids, t.clientID)
		}
	}
	return ids
}

// Len returns the number of blocked clients.
func (r *Registry) Len() int {
	n := 0
	for _, cs := range r.clients {
		cs.mu.Lock()
		n += len(cs.clients)
		cs.mu.Unlock()
	}
	return n
}

// IsBlocked reports whether the client is registered.
func (r *Registry) IsBlocked(clientID uint64) bool {
	cs := r.clientShard(clientID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, ok := cs.clients[clientID]
	return ok
}

// Run sweeps deadlines every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			r.ExpireDeadlines(now)
		case <-ctx.Done():
			return
		}
	}
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
