package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yndnr/sabledb-go/internal/cli/config"
	"github.com/yndnr/sabledb-go/internal/cli/connection"
	"github.com/yndnr/sabledb-go/internal/cli/output"
)

// ErrNotConnected is returned when a command needs a server and none is set.
var ErrNotConnected = errors.New("not connected")

// Session sends commands over the connection manager and prints replies.
// It implements repl.Executor.
type Session struct {
	mgr      *connection.Manager
	cfg      *config.CLIConfig
	defaults connection.Connection
	out      io.Writer
	raw      bool
	timeout  time.Duration
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRaw prints replies without type annotations.
func WithRaw(raw bool) SessionOption {
	return func(s *Session) { s.raw = raw }
}

// WithTimeout bounds every command. Zero means no bound; blocking commands
// like BLPOP carry their own timeout.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.timeout = d }
}

// NewSession creates a session that connects to defaults on first use.
func NewSession(mgr *connection.Manager, cfg *config.CLIConfig, defaults connection.Connection, out io.Writer, opts ...SessionOption) *Session {
	if mgr == nil {
		mgr = connection.NewManager()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Session{mgr: mgr, cfg: cfg, defaults: defaults, out: out}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials the default connection unless one is already open.
func (s *Session) Connect(ctx context.Context) error {
	if s.mgr.IsConnected() {
		return nil
	}
	if s.defaults.Addr == "" {
		return ErrNotConnected
	}
	conn := s.defaults
	return s.mgr.Connect(ctx, &conn)
}

// Prompt returns "addr> " for the current connection.
func (s *Session) Prompt() string {
	if cur := s.mgr.Current(); cur != nil {
		return cur.Addr + "> "
	}
	return "not connected> "
}

// Execute runs one command line. Error replies are printed, not returned.
func (s *Session) Execute(ctx context.Context, args []string) error {
	_, err := s.Run(ctx, args)
	return err
}

// Run runs one command line and reports whether the server answered with
// an error reply.
func (s *Session) Run(ctx context.Context, args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	if strings.EqualFold(args[0], "connect") {
		return false, s.connect(ctx, args[1:])
	}

	if err := s.Connect(ctx); err != nil {
		return false, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	v, err := s.mgr.Client().Do(ctx, args...)
	if err != nil {
		return false, err
	}

	if s.raw {
		err = output.WriteRaw(s.out, v)
	} else {
		err = output.WriteReply(s.out, v)
	}
	return v.IsError(), err
}

// connect handles "connect NAME", "connect ADDR [PASSWORD]" and a bare
// "connect", which reconnects to the current or default server.
func (s *Session) connect(ctx context.Context, args []string) error {
	if len(args) > 2 {
		return fmt.Errorf("usage: connect [NAME | ADDR [PASSWORD]]")
	}

	var conn connection.Connection
	switch {
	case len(args) == 0:
		if cur := s.mgr.Current(); cur != nil {
			conn = *cur
		} else {
			conn = s.defaults
		}
	case len(args) == 1 && s.isSaved(args[0]):
		saved := s.cfg.Connections[args[0]]
		conn = connection.Connection{
			Name:     args[0],
			Addr:     saved.Addr,
			Password: saved.Password,
			TLS:      saved.TLS,
			Insecure: saved.Insecure,
			CACert:   saved.CACert,
		}
	default:
		conn = connection.Connection{
			Addr:     args[0],
			TLS:      s.defaults.TLS,
			Insecure: s.defaults.Insecure,
			CACert:   s.defaults.CACert,
		}
		if len(args) == 2 {
			conn.Password = args[1]
		}
	}
	if conn.Addr == "" {
		return ErrNotConnected
	}

	if err := s.mgr.Connect(ctx, &conn); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Connected to %s\n", conn.Addr)
	return nil
}

func (s *Session) isSaved(name string) bool {
	_, ok := s.cfg.Connections[name]
	return ok
}
