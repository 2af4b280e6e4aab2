package redisserver

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/yndnr/sabledb-go/internal/server/watcher"
)

// ============================================================
// State machine
// ============================================================

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateReadingFrame, true},
		{StateIdle, StateExecuting, false},
		{StateIdle, StateBlocked, false},
		{StateReadingFrame, StateReadingFrame, true},
		{StateReadingFrame, StateExecuting, true},
		{StateReadingFrame, StateIdle, true},
		{StateReadingFrame, StateBlocked, false},
		{StateExecuting, StateIdle, true},
		{StateExecuting, StateReadingFrame, true},
		{StateExecuting, StateBlocked, true},
		{StateBlocked, StateExecuting, true},
		{StateBlocked, StateIdle, false},
		{StateBlocked, StateReadingFrame, false},
		{StateIdle, StateClosing, true},
		{StateReadingFrame, StateClosing, true},
		{StateExecuting, StateClosing, true},
		{StateBlocked, StateClosing, true},
		{StateClosing, StateIdle, false},
		{StateClosing, StateClosing, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_Transition(t *testing.T) {
	s := &Session{}
	for _, next := range []State{StateReadingFrame, StateExecuting, StateBlocked, StateExecuting, StateIdle} {
		if err := s.transition(next); err != nil {
			t.Fatalf("transition(%s) error = %v", next, err)
		}
	}

	err := s.transition(StateBlocked)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("transition(blocked) from idle error = %v, want ErrIllegalTransition", err)
	}
	if s.State != StateIdle {
		t.Errorf("State = %s after rejected transition, want idle", s.State)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateIdle, "idle"},
		{StateReadingFrame, "reading_frame"},
		{StateExecuting, "executing"},
		{StateBlocked, "blocked"},
		{StateClosing, "closing"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestCloneArgs(t *testing.T) {
	buf := []byte("BLPOPkey")
	args := [][]byte{buf[:5], buf[5:]}
	out := cloneArgs(args)
	buf[0] = 'X'
	if string(out[0]) != "BLPOP" || string(out[1]) != "key" {
		t.Errorf("cloneArgs() = %q, want independent copy", out)
	}
}

// ============================================================
// Mailbox
// ============================================================

func TestMailbox_TakeOrderAndSignal(t *testing.T) {
	mb := newMailbox()
	server, peer := net.Pipe()
	defer server.Close()
	defer peer.Close()
	c := newClient(7, server, time.Now())

	mb.markReady(c)
	mb.wake(watcher.Wakeup{ClientID: 7, Resource: "k"})
	mb.assign(c, true)

	select {
	case <-mb.signal:
	default:
		t.Fatal("no signal after posting")
	}
	select {
	case <-mb.signal:
		t.Fatal("signal not coalesced")
	default:
	}

	b := mb.take()
	if len(b.assigned) != 1 || !b.assigned[0].migrated || b.assigned[0].client != c {
		t.Errorf("assigned = %+v, want one migrated assignment", b.assigned)
	}
	if len(b.wakeups) != 1 || b.wakeups[0].Resource != "k" {
		t.Errorf("wakeups = %+v, want one wake-up for k", b.wakeups)
	}
	if len(b.ready) != 1 || b.drain {
		t.Errorf("ready = %d, drain = %v, want 1, false", len(b.ready), b.drain)
	}

	if b := mb.take(); len(b.assigned)+len(b.wakeups)+len(b.ready) != 0 {
		t.Errorf("second take() = %+v, want empty", b)
	}

	mb.requestDrain()
	if b := mb.take(); !b.drain {
		t.Error("take() after requestDrain: drain = false, want true")
	}
}

func TestClient_ShutIsIdempotent(t *testing.T) {
	server, peer := net.Pipe()
	defer peer.Close()
	c := newClient(1, server, time.Now())

	if !c.shut() {
		t.Error("first shut() = false, want true")
	}
	if c.shut() {
		t.Error("second shut() = true, want false")
	}
	if c.abort(errors.New("late"), time.Second) {
		t.Error("abort() after shut = true, want false")
	}
}
