package watcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// recorder collects deliveries.
type recorder struct {
	mu  sync.Mutex
	got []delivery
}

type delivery struct {
	worker int
	w      Wakeup
}

func (r *recorder) Deliver(workerID int, w Wakeup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, delivery{workerID, w})
}

func (r *recorder) all() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.got...)
}

func block(t *testing.T, reg *Registry, id uint64, worker int, deadline time.Time, keys ...string) {
	t.Helper()
	if !reg.Block(BlockRequest{Ref: Ref{ClientID: id, WorkerID: worker}, Resources: keys, Deadline: deadline}) {
		t.Fatalf("Block(%d) returned false", id)
	}
}

// ============================================================================
// Notify
// ============================================================================

func TestNotify_FIFO(t *testing.T) {
	rec := &recorder{}
	reg := New(rec, 4)

	for id := uint64(1); id <= 3; id++ {
		block(t, reg, id, 0, time.Time{}, "q")
	}

	if n := reg.Notify("q", 2); n != 2 {
		t.Fatalf("Notify() = %d, want 2", n)
	}
	got := rec.all()
	if len(got) != 2 || got[0].w.ClientID != 1 || got[1].w.ClientID != 2 {
		t.Fatalf("deliveries = %+v, want clients 1, 2", got)
	}
	if got[0].w.Resource != "q" || got[0].w.Timeout {
		t.Errorf("wakeup = %+v", got[0].w)
	}
	if w := reg.Waiters("q"); len(w) != 1 || w[0] != 3 {
		t.Errorf("Waiters() = %v, want [3]", w)
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

func TestNotify_NoWaiters(t *testing.T) {
	reg := New(&recorder{}, 4)
	before := reg.Version("q")
	if n := reg.Notify("q", 1); n != 0 {
		t.Errorf("Notify() = %d, want 0", n)
	}
	if reg.Version("q") != before+1 {
		t.Error("Notify should bump the version even without waiters")
	}
}

func TestNotifyAll(t *testing.T) {
	rec := &recorder{}
	reg := New(rec, 4)
	for id := uint64(1); id <= 5; id++ {
		block(t, reg, id, int(id%2), time.Time{}, "k")
	}

	if n := reg.NotifyAll("k"); n != 5 {
		t.Errorf("NotifyAll() = %d, want 5", n)
	}
	for _, d := range rec.all() {
		if d.worker != int(d.w.ClientID%2) {
			t.Errorf("client %d delivered to worker %d", d.w.ClientID, d.worker)
		}
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}

func TestNotify_MultiResourceWakesOnce(t *testing.T) {
	rec := &recorder{}
	reg := New(rec, 4)
	block(t, reg, 1, 0, time.Time{}, "a", "b", "c")

	reg.Notify("b", 1)
	reg.Notify("a", 1)
	reg.Notify("c", 1)

	if got := rec.all(); len(got) != 1 || got[0].w.Resource != "b" {
		t.Fatalf("deliveries = %+v, want one from b", got)
	}
	for _, k := range []string{"a", "b", "c"} {
		if w := reg.Waiters(k); len(w) != 0 {
			t.Errorf("Waiters(%s) = %v, want none", k, w)
		}
	}
}

// ============================================================================
// Block
// ============================================================================

func TestBlock_VersionMismatch(t *testing.T) {
	reg := New(&recorder{}, 4)

	versions := []uint64{reg.Version("a"), reg.Version("b")}
	reg.Notify("b", 1) // a write lands between the storage check and Block

	ok := reg.Block(BlockRequest{
		Ref:       Ref{ClientID: 1},
		Resources: []string{"a", "b"},
		Versions:  versions,
	})
	if ok {
		t.Fatal("Block() should refuse after a notification")
	}
	if reg.IsBlocked(1) {
		t.Error("client should not be registered")
	}

	versions = []uint64{reg.Version("a"), reg.Version("b")}
	if !reg.Block(BlockRequest{Ref: Ref{ClientID: 1}, Resources: []string{"a", "b"}, Versions: versions}) {
		t.Error("Block() with current versions should succeed")
	}
}

func TestBlock_Front(t *testing.T) {
	reg := New(&recorder{}, 4)
	block(t, reg, 1, 0, time.Time{}, "q")
	block(t, reg, 2, 0, time.Time{}, "q")
	reg.Block(BlockRequest{Ref: Ref{ClientID: 3}, Resources: []string{"q"}, Front: true})

	if w := reg.Waiters("q"); fmt.Sprint(w) != "[3 1 2]" {
		t.Errorf("Waiters() = %v, want [3 1 2]", w)
	}
}

func TestBlock_ReplacesPreviousTicket(t *testing.T) {
	rec := &recorder{}
	reg := New(rec, 4)
	block(t, reg, 1, 0, time.Time{}, "a")
	block(t, reg, 1, 0, time.Time{}, "b")

	if w := reg.Waiters("a"); len(w) != 0 {
		t.Errorf("Waiters(a) = %v, want none", w)
	}
	reg.Notify("a", 1)
	if len(rec.all()) != 0 {
		t.Error("the replaced ticket must not be woken")
	}
	reg.Notify("b", 1)
	if len(rec.all()) != 1 {
		t.Error("the current ticket should be woken")
	}
}

func TestRegister_Idempotent(t *testing.T) {
	reg := New(&recorder{}, 4)
	ref := Ref{ClientID: 7, WorkerID: 1}
	reg.Register("k", ref, time.Time{})
	reg.Register("k", ref, time.Time{})
	reg.Register("j", ref, time.Time{})

	if w := reg.Waiters("k"); len(w) != 1 {
		t.Errorf("Waiters(k) = %v, want one entry", w)
	}
	if w := reg.Waiters("j"); len(w) != 1 {
		t.Errorf("Waiters(j) = %v, want one entry", w)
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

// ============================================================================
// Deadlines, deregistration, rebind
// ============================================================================

func TestExpireDeadlines(t *testing.T) {
	rec := &recorder{}
	reg := New(rec, 4)
	now := time.Now()
	block(t, reg, 1, 0, now.Add(time.Second), "q")
	block(t, reg, 2, 0, time.Time{}, "q")
	block(t, reg, 3, 0, now.Add(time.Hour), "q")

	if n := reg.ExpireDeadlines(now); n != 0 {
		t.Errorf("ExpireDeadlines(now) = %d, want 0", n)
	}
	if n := reg.ExpireDeadlines(now.Add(time.Second)); n != 1 {
		t.Fatalf("ExpireDeadlines(+1s) = %d, want 1", n)
	}
	got := rec.all()
	if len(got) != 1 || got[0].w.ClientID != 1 || !got[0].w.Timeout {
		t.Errorf("deliveries = %+v, want timeout for client 1", got)
	}
	if w := reg.Waiters("q"); fmt.Sprint(w) != "[2 3]" {
		t.Errorf("Waiters() = %v, want [2 3]", w)
	}

	// A timed-out client is not woken again.
	reg.Notify("q", 3)
	for _, d := range rec.all()[1:] {
		if d.w.ClientID == 1 {
			t.Error("client 1 woken after timing out")
		}
	}
}

func TestDeregisterAll(t *testing.T) {
	rec := &recorder{}
	reg := New(rec, 4)
	block(t, reg, 1, 0, time.Time{}, "a", "b")

	if !reg.DeregisterAll(1) {
		t.Error("DeregisterAll() should report true for a blocked client")
	}
	if reg.DeregisterAll(1) {
		t.Error("second DeregisterAll() should report false")
	}
	reg.Notify("a", 1)
	reg.Notify("b", 1)
	if len(rec.all()) != 0 {
		t.Error("a deregistered client must not be woken")
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}

// A client removed between the claim and the delivery must not swallow
// the wake-up.
func TestNotify_DepartedClientPassesWakeOn(t *testing.T) {
	rec := &recorder{}
	reg := New(rec, 4)
	block(t, reg, 1, 0, time.Time{}, "q")
	block(t, reg, 2, 0, time.Time{}, "q")

	// First half of DeregisterAll: the entry is gone, the ticket is still
	// queued and unclaimed.
	cs := reg.clientShard(1)
	cs.mu.Lock()
	delete(cs.clients, 1)
	cs.mu.Unlock()

	if n := reg.Notify("q", 1); n != 1 {
		t.Errorf("Notify() = %d, want 1", n)
	}
	if got := rec.all(); len(got) != 1 || got[0].w.ClientID != 2 {
		t.Errorf("deliveries = %+v, want client 2", got)
	}
	if w := reg.Waiters("q"); len(w) != 0 {
		t.Errorf("Waiters() = %v, want none", w)
	}
}

func TestRegistry_ClientsAcrossShards(t *testing.T) {
	rec := &recorder{}
	reg := New(rec, 4)
	for id := uint64(1); id <= 10; id++ {
		block(t, reg, id, 0, time.Time{}, "q")
	}
	if reg.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", reg.Len())
	}
	for id := uint64(1); id <= 10; id++ {
		if !reg.IsBlocked(id) {
			t.Errorf("IsBlocked(%d) = false", id)
		}
	}
	reg.Rebind(7, 3)
	reg.NotifyAll("q")
	for _, d := range rec.all() {
		want := 0
		if d.w.ClientID == 7 {
			want = 3
		}
		if d.worker != want {
			t.Errorf("client %d delivered to worker %d, want %d", d.w.ClientID, d.worker, want)
		}
	}
	if len(rec.all()) != 10 || reg.Len() != 0 {
		t.Errorf("deliveries = %d, Len() = %d, want 10, 0", len(rec.all()), reg.Len())
	}
}

func TestRebind(t *testing.T) {
	rec := &recorder{}
	reg := New(rec, 4)
	block(t, reg, 1, 3, time.Time{}, "q")

	if !reg.Rebind(1, 5) {
		t.Fatal("Rebind() should report true")
	}
	if reg.Rebind(99, 5) {
		t.Error("Rebind(unknown) should report false")
	}
	reg.Notify("q", 1)
	if got := rec.all(); len(got) != 1 || got[0].worker != 5 {
		t.Errorf("deliveries = %+v, want worker 5", got)
	}
}

func TestRun_SweepsDeadlines(t *testing.T) {
	done := make(chan Wakeup, 1)
	reg := New(DelivererFunc(func(_ int, w Wakeup) { done <- w }), 4)
	block(t, reg, 1, 0, time.Now().Add(20*time.Millisecond), "q")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx, 5*time.Millisecond)

	select {
	case w := <-done:
		if !w.Timeout {
			t.Errorf("wakeup = %+v, want timeout", w)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deadline was not swept")
	}
}

// ============================================================================
// Concurrency
// ============================================================================

// 100 clients block on one key and 100 single-element pushes arrive
// concurrently: every client is woken exactly once.
func TestNotify_ExactlyOnceUnderConcurrency(t *testing.T) {
	rec := &recorder{}
	reg := New(rec, 16)

	var wg sync.WaitGroup
	for id := uint64(1); id <= 100; id++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			reg.Block(BlockRequest{Ref: Ref{ClientID: id, WorkerID: int(id % 4)}, Resources: []string{"q", fmt.Sprint("other", id%3)}})
		}(id)
	}
	wg.Wait()

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Notify("q", 1)
		}()
	}
	// Notifications on the secondary keys race with the pushes.
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.NotifyAll(fmt.Sprint("other", i))
		}(i)
	}
	wg.Wait()

	seen := map[uint64]int{}
	for _, d := range rec.all() {
		seen[d.w.ClientID]++
	}
	if len(seen) != 100 {
		t.Errorf("woken clients = %d, want 100", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("client %d woken %d times", id, n)
		}
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}

// A waiter leaving while a single-element push is in flight: the element
// reaches exactly one client, either the leaver or the one behind it.
func TestNotify_RacesDeregisterAll(t *testing.T) {
	for i := 0; i < 500; i++ {
		rec := &recorder{}
		reg := New(rec, 4)
		block(t, reg, 1, 0, time.Time{}, "q")
		block(t, reg, 2, 0, time.Time{}, "q")

		var wg sync.WaitGroup
		var left bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Notify("q", 1)
		}()
		go func() {
			defer wg.Done()
			left = reg.DeregisterAll(1)
		}()
		wg.Wait()

		got := rec.all()
		if len(got) != 1 {
			t.Fatalf("iteration %d: deliveries = %+v, want exactly 1", i, got)
		}
		if left && got[0].w.ClientID != 2 {
			t.Fatalf("iteration %d: departed client 1 was woken", i)
		}
	}
}
