package metric

import "sync/atomic"

// Stats holds the counters of one worker. Fields are updated with atomic
// operations by the owning worker and read by anyone through Snapshot.
type Stats struct {
	commandsProcessed   uint64
	commandErrors       uint64
	protocolErrors      uint64
	bytesRead           uint64
	bytesWritten        uint64
	connectionsAccepted uint64
	connectionsClosed   uint64
	wakeups             uint64
	blockTimeouts       uint64

	activeConnections int64
	blockedClients    int64
}

// Snapshot is an immutable copy of one or more workers' counters.
type Snapshot struct {
	CommandsProcessed   uint64 `json:"commands_processed"`
	CommandErrors       uint64 `json:"command_errors"`
	ProtocolErrors      uint64 `json:"protocol_errors"`
	BytesRead           uint64 `json:"bytes_read"`
	BytesWritten        uint64 `json:"bytes_written"`
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	ConnectionsClosed   uint64 `json:"connections_closed"`
	Wakeups             uint64 `json:"wakeups"`
	BlockTimeouts       uint64 `json:"block_timeouts"`

	ActiveConnections int64 `json:"active_connections"`
	BlockedClients    int64 `json:"blocked_clients"`
}

// CommandProcessed counts one executed command.
func (s *Stats) CommandProcessed() { atomic.AddUint64(&s.commandsProcessed, 1) }

// CommandFailed counts a command that replied with an error.
func (s *Stats) CommandFailed() { atomic.AddUint64(&s.commandErrors, 1) }

// ProtocolError counts a connection condemned for malformed input.
func (s *Stats) ProtocolError() { atomic.AddUint64(&s.protocolErrors, 1) }

// BytesRead adds n bytes read from clients.
func (s *Stats) BytesRead(n int) { atomic.AddUint64(&s.bytesRead, uint64(n)) }

// BytesWritten adds n bytes written to clients.
func (s *Stats) BytesWritten(n int) { atomic.AddUint64(&s.bytesWritten, uint64(n)) }

// Wakeup counts a blocked command resumed by a key notification.
func (s *Stats) Wakeup() { atomic.AddUint64(&s.wakeups, 1) }

// BlockTimeout counts a blocked command that hit its deadline.
func (s *Stats) BlockTimeout() { atomic.AddUint64(&s.blockTimeouts, 1) }

// ClientBlocked records a client entering the blocked state.
func (s *Stats) ClientBlocked() { atomic.AddInt64(&s.blockedClients, 1) }

// ClientUnblocked records a client leaving the blocked state.
func (s *Stats) ClientUnblocked() { atomic.AddInt64(&s.blockedClients, -1) }

// ConnectionAdded counts a client that became owned by this worker. New
// connections also bump the accepted counter; migrated ones do not.
func (s *Stats) ConnectionAdded(accepted bool) {
	if accepted {
		atomic.AddUint64(&s.connectionsAccepted, 1)
	}
	atomic.AddInt64(&s.activeConnections, 1)
}

// ConnectionRemoved counts a client leaving this worker. closed is false
// when the client moves to another worker.
func (s *Stats) ConnectionRemoved(closed bool) {
	if closed {
		atomic.AddUint64(&s.connectionsClosed, 1)
	}
	atomic.AddInt64(&s.activeConnections, -1)
}

// Snapshot returns the current values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		CommandsProcessed:   atomic.LoadUint64(&s.commandsProcessed),
		CommandErrors:       atomic.LoadUint64(&s.commandErrors),
		ProtocolErrors:      atomic.LoadUint64(&s.protocolErrors),
		BytesRead:           atomic.LoadUint64(&s.bytesRead),
		BytesWritten:        atomic.LoadUint64(&s.bytesWritten),
		ConnectionsAccepted: atomic.LoadUint64(&s.connectionsAccepted),
		ConnectionsClosed:   atomic.LoadUint64(&s.connectionsClosed),
		Wakeups:             atomic.LoadUint64(&s.wakeups),
		BlockTimeouts:       atomic.LoadUint64(&s.blockTimeouts),
		ActiveConnections:   atomic.LoadInt64(&s.activeConnections),
		BlockedClients:      atomic.LoadInt64(&s.blockedClients),
	}
}

// Merge sums snapshots. Counters and gauges both add up across workers.
func Merge(snaps ...Snapshot) Snapshot {
	var out Snapshot
	for _, s := range snaps {
		out.CommandsProcessed += s.CommandsProcessed
		out.CommandErrors += s.CommandErrors
		out.ProtocolErrors += s.ProtocolErrors
		out.BytesRead += s.BytesRead
		out.BytesWritten += s.BytesWritten
		out.ConnectionsAccepted += s.ConnectionsAccepted
		out.ConnectionsClosed += s.ConnectionsClosed
		out.Wakeups += s.Wakeups
		out.BlockTimeouts += s.BlockTimeouts
		out.ActiveConnections += s.ActiveConnections
		out.BlockedClients += s.BlockedClients
	}
	return out
}
