package redisserver

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/yndnr/sabledb-go/internal/core/domain"
	"github.com/yndnr/sabledb-go/pkg/resp"
)

const (
	// readChunkSize is the reader goroutine's socket read size.
	readChunkSize = 16 * 1024
	// inboundDepth bounds the chunks a reader may queue ahead of its worker.
	inboundDepth = 64
	// maxIdleOut is the reply buffer capacity kept between flushes.
	maxIdleOut = 64 * 1024
)

// Session is the per-connection state. It is plain data: only the owning
// worker reads or writes it, and ownership moves between workers by
// handing over the *Client that embeds it.
type Session struct {
	ID            uint64
	Name          string
	Authenticated bool
	State         State
	// Blocked is set while State is StateBlocked.
	Blocked *BlockInfo

	// ReadBuf holds received bytes not yet consumed as frames.
	ReadBuf []byte
	// Consumed counts the bytes at the front of ReadBuf that were already
	// parsed into frames.
	Consumed int
	// Out holds encoded replies not yet written.
	Out []byte

	CreatedAt    time.Time
	LastActivity time.Time
	// FrameStart is when the first byte of the unfinished frame arrived.
	FrameStart time.Time
	// CloseAfterFlush closes the connection once Out is written.
	CloseAfterFlush bool
}

// Client couples a Session with its socket. The reader goroutine only
// touches the socket, the inbound channel and the atomic fields.
type Client struct {
	Session

	conn   net.Conn
	remote string

	owner   atomic.Pointer[Worker]
	pending atomic.Bool
	closed  atomic.Bool

	inbound  chan []byte
	readErr  error
	readDone chan struct{}
	done     chan struct{}
}

func newClient(id uint64, conn net.Conn, now time.Time) *Client {
	return &Client{
		Session: Session{
			ID:           id,
			State:        StateIdle,
			CreatedAt:    now,
			LastActivity: now,
		},
		conn:     conn,
		remote:   conn.RemoteAddr().String(),
		inbound:  make(chan []byte, inboundDepth),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string {
	return c.remote
}

// readLoop copies socket bytes into the inbound channel and nudges the
// owning worker. It exits on a read error or when the client is closed.
func (c *Client) readLoop() {
	defer func() {
		close(c.readDone)
		c.nudge()
	}()

	buf := make([]byte, readChunkSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case c.inbound <- chunk:
			case <-c.done:
				return
			}
			c.nudge()
		}
		if err != nil {
			c.readErr = err
			return
		}
	}
}

// nudge tells the owner that input is waiting. Only the first nudge after
// the owner last serviced the client reaches the mailbox.
func (c *Client) nudge() {
	if !c.pending.CompareAndSwap(false, true) {
		return
	}
	if w := c.owner.Load(); w != nil {
		w.mail.markReady(c)
	}
}

// drain moves queued chunks into ReadBuf until it holds at least limit
// bytes. limit <= 0 drains everything queued. It returns the bytes moved.
func (c *Client) drain(limit int) int {
	moved := 0
	for limit <= 0 || len(c.ReadBuf) < limit {
		select {
		case chunk := <-c.inbound:
			c.ReadBuf = append(c.ReadBuf, chunk...)
			moved += len(chunk)
		default:
			return moved
		}
	}
	return moved
}

// eof reports whether the peer is gone and every byte it sent has been
// drained.
func (c *Client) eof() bool {
	select {
	case <-c.readDone:
		return len(c.inbound) == 0
	default:
		return false
	}
}

// shut closes the socket once. It reports whether this call closed it.
func (c *Client) shut() bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}
	close(c.done)
	_ = c.conn.Close()
	return true
}

// abort writes err straight to the socket and closes it. The manager uses
// it for clients whose worker can no longer be trusted to reply.
func (c *Client) abort(err error, writeTimeout time.Duration) bool {
	if c.closed.Load() {
		return false
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, _ = c.conn.Write(resp.AppendError(nil, domain.RESP(err)))
	return c.shut()
}
