package redisserver

import (
	"errors"
	"fmt"
	"time"
)

// ErrIllegalTransition is returned for a state change the connection state
// machine does not allow.
var ErrIllegalTransition = errors.New("redisserver: illegal state transition")

// State is the position of a client in its connection state machine.
type State int

const (
	// StateIdle: no bytes of an unfinished frame are buffered.
	StateIdle State = iota
	// StateReadingFrame: part of a frame has arrived.
	StateReadingFrame
	// StateExecuting: a complete frame is being dispatched.
	StateExecuting
	// StateBlocked: waiting in the watcher registry. Input is buffered
	// but not executed.
	StateBlocked
	// StateClosing: terminal.
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReadingFrame:
		return "reading_frame"
	case StateExecuting:
		return "executing"
	case StateBlocked:
		return "blocked"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the legal successors of each state. Closing is
// reachable from every state and is handled separately.
var transitions = map[State][]State{
	StateIdle:         {StateReadingFrame},
	StateReadingFrame: {StateReadingFrame, StateExecuting, StateIdle},
	StateExecuting:    {StateIdle, StateReadingFrame, StateBlocked},
	StateBlocked:      {StateExecuting},
}

// CanTransition reports whether a client may move from s to next.
func (s State) CanTransition(next State) bool {
	if s == StateClosing {
		return false
	}
	if next == StateClosing {
		return true
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// transition moves the session to next.
func (s *Session) transition(next State) error {
	if !s.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.State, next)
	}
	s.State = next
	return nil
}

// BlockInfo is the deferred command of a blocked client.
type BlockInfo struct {
	// Command is the full argument vector, copied out of the read buffer.
	Command [][]byte
	// Resources are the keys the client waits on, in argument order.
	Resources []string
	// Deadline is when the wait times out; zero waits forever. It is kept
	// across re-blocks so a wake-up does not extend the wait.
	Deadline time.Time
	// Since is when the client first blocked.
	Since time.Time
	// Woken is the key whose notification resumed the command, if any.
	Woken string
}

func cloneArgs(args [][]byte) [][]byte {
	out := make([][]byte, len(args))
	for i, a := range args {
		out[i] = append([]byte(nil), a...)
	}
	return out
}
