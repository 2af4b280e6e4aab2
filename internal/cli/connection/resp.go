package connection

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/yndnr/sabledb-go/internal/infra/tlsroots"
	"github.com/yndnr/sabledb-go/pkg/resp"
)

// ErrServer wraps an error reply to AUTH during connect.
var ErrServer = errors.New("server error")

// Options configures a RESPClient.
type Options struct {
	Addr     string
	Password string

	TLS bool
	// InsecureSkipVerify disables certificate verification (self-signed
	// test servers).
	InsecureSkipVerify bool
	// CACert is a PEM file or directory trusted in addition to the system
	// roots.
	CACert string

	DialTimeout time.Duration
}

// RESPClient is a single RESP2 connection. It is not safe for concurrent
// use. After an I/O error the connection is dropped and the next Do dials
// again.
type RESPClient struct {
	opts Options
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// NewRESPClient creates a client. No connection is made until Connect or Do.
func NewRESPClient(opts Options) *RESPClient {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return &RESPClient{opts: opts}
}

// Addr returns the server address.
func (c *RESPClient) Addr() string {
	return c.opts.Addr
}

// Connect dials the server and authenticates when a password is set.
func (c *RESPClient) Connect(ctx context.Context) error {
	_ = c.Close()

	network, addr := splitNetwork(c.opts.Addr)
	dialer := &net.Dialer{Timeout: c.opts.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if c.opts.TLS && network == "tcp" {
		var roots *x509.CertPool
		if c.opts.CACert != "" {
			if roots, err = tlsroots.LoadPool(true, c.opts.CACert); err != nil {
				return fmt.Errorf("load CA certificates: %w", err)
			}
		}
		td := &tls.Dialer{NetDialer: dialer, Config: tlsroots.ClientConfig(roots, c.opts.InsecureSkipVerify)}
		conn, err = td.DialContext(ctx, network, addr)
	} else {
		conn, err = dialer.DialContext(ctx, network, addr)
	}
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.opts.Addr, err)
	}

	c.conn = conn
	c.r = bufio.NewReader(conn)
	c.w = bufio.NewWriter(conn)

	if c.opts.Password != "" {
		v, err := c.roundTrip(ctx, "AUTH", c.opts.Password)
		if err != nil {
			return err
		}
		if v.IsError() {
			_ = c.Close()
			return fmt.Errorf("%w: %s", ErrServer, v.Str)
		}
	}
	return nil
}

// splitNetwork maps "unix:///path" and absolute paths to a Unix socket and
// everything else to TCP.
func splitNetwork(addr string) (string, string) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		return "unix", path
	}
	if strings.HasPrefix(addr, "/") {
		return "unix", addr
	}
	return "tcp", addr
}

// Do sends one command and reads its reply. Error replies are returned as
// values, not errors.
func (c *RESPClient) Do(ctx context.Context, args ...string) (resp.Value, error) {
	if len(args) == 0 {
		return resp.Value{}, errors.New("empty command")
	}
	if c.conn == nil {
		if err := c.Connect(ctx); err != nil {
			return resp.Value{}, err
		}
	}
	return c.roundTrip(ctx, args...)
}

func (c *RESPClient) roundTrip(ctx context.Context, args ...string) (resp.Value, error) {
	conn := c.conn
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Time{})
	}
	// Unblock the read if ctx is cancelled mid-command.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := resp.WriteCommand(c.w, args...); err != nil {
		_ = c.Close()
		return resp.Value{}, err
	}
	v, err := resp.ReadValue(c.r)
	if err != nil {
		_ = c.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return resp.Value{}, ctxErr
		}
		if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
			return resp.Value{}, context.DeadlineExceeded
		}
		return resp.Value{}, err
	}
	return v, nil
}

// Connected reports whether a connection is open.
func (c *RESPClient) Connected() bool {
	return c.conn != nil
}

// Close closes the connection.
func (c *RESPClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.r, c.w = nil, nil, nil
	return err
}
