package redisserver

import (
	"sync"

	"github.com/yndnr/sabledb-go/internal/server/watcher"
)

type assignment struct {
	client   *Client
	migrated bool
}

// mailbox is a worker's inbox. Producers (accept loop, reader goroutines,
// watcher registry, supervisor) never block on it; the worker swaps the
// queues out whenever signal fires.
type mailbox struct {
	mu       sync.Mutex
	assigned []assignment
	wakeups  []watcher.Wakeup
	ready    []*Client
	drain    bool

	signal chan struct{}
}

type batch struct {
	assigned []assignment
	wakeups  []watcher.Wakeup
	ready    []*Client
	drain    bool
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) assign(c *Client, migrated bool) {
	m.mu.Lock()
	m.assigned = append(m.assigned, assignment{client: c, migrated: migrated})
	m.mu.Unlock()
	m.notify()
}

func (m *mailbox) wake(w watcher.Wakeup) {
	m.mu.Lock()
	m.wakeups = append(m.wakeups, w)
	m.mu.Unlock()
	m.notify()
}

func (m *mailbox) markReady(c *Client) {
	m.mu.Lock()
	m.ready = append(m.ready, c)
	m.mu.Unlock()
	m.notify()
}

func (m *mailbox) requestDrain() {
	m.mu.Lock()
	m.drain = true
	m.mu.Unlock()
	m.notify()
}

// take empties the mailbox. Within a batch assignments come first, then
// wake-ups, then readiness, so a client is always adopted before anything
// else addressed to it is handled.
func (m *mailbox) take() batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := batch{assigned: m.assigned, wakeups: m.wakeups, ready: m.ready, drain: m.drain}
	m.assigned, m.wakeups, m.ready = nil, nil, nil
	return b
}
