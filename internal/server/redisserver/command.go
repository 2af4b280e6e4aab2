package redisserver

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/sabledb-go/internal/core/domain"
	"github.com/yndnr/sabledb-go/internal/core/service"
	"github.com/yndnr/sabledb-go/internal/server/watcher"
	"github.com/yndnr/sabledb-go/internal/storage"
	"github.com/yndnr/sabledb-go/internal/telemetry/logger"
	"github.com/yndnr/sabledb-go/internal/telemetry/metric"
	"github.com/yndnr/sabledb-go/pkg/resp"
)

type cmdFlags uint8

const (
	// flagNoAuth commands run before the client authenticated.
	flagNoAuth cmdFlags = 1 << iota
	// flagWrite commands modify the key space.
	flagWrite
	// flagBlocking commands may park the client in the watcher registry.
	flagBlocking
)

type command struct {
	name string
	// arity follows the Redis convention: N means exactly N arguments
	// including the name, -N means at least N.
	arity   int
	flags   cmdFlags
	handler func(*CommandHandler, *execCtx) error
}

func (c *command) arityOK(n int) bool {
	if c.arity >= 0 {
		return n == c.arity
	}
	return n >= -c.arity
}

// commandTable maps upper-case command names to their definitions.
var commandTable = map[string]*command{}

func init() {
	for _, c := range []*command{
		// connection
		{"ping", -1, flagNoAuth, (*CommandHandler).handlePing},
		{"echo", 2, 0, (*CommandHandler).handleEcho},
		{"quit", 1, flagNoAuth, (*CommandHandler).handleQuit},
		{"auth", -2, flagNoAuth, (*CommandHandler).handleAuth},
		{"select", 2, 0, (*CommandHandler).handleSelect},
		{"client", -2, 0, (*CommandHandler).handleClient},

		// strings and keys
		{"get", 2, 0, (*CommandHandler).handleGet},
		{"set", -3, flagWrite, (*CommandHandler).handleSet},
		{"del", -2, flagWrite, (*CommandHandler).handleDel},
		{"exists", -2, 0, (*CommandHandler).handleExists},
		{"incr", 2, flagWrite, (*CommandHandler).handleIncr},
		{"decr", 2, flagWrite, (*CommandHandler).handleDecr},
		{"incrby", 3, flagWrite, (*CommandHandler).handleIncrBy},
		{"decrby", 3, flagWrite, (*CommandHandler).handleDecrBy},
		{"expire", 3, flagWrite, (*CommandHandler).handleExpire},
		{"pexpire", 3, flagWrite, (*CommandHandler).handlePExpire},
		{"ttl", 2, 0, (*CommandHandler).handleTTL},
		{"pttl", 2, 0, (*CommandHandler).handlePTTL},
		{"type", 2, 0, (*CommandHandler).handleType},
		{"scan", -2, 0, (*CommandHandler).handleScan},
		{"keys", 2, 0, (*CommandHandler).handleKeys},
		{"dbsize", 1, 0, (*CommandHandler).handleDBSize},
		{"flushall", -1, flagWrite, (*CommandHandler).handleFlush},
		{"flushdb", -1, flagWrite, (*CommandHandler).handleFlush},

		// lists
		{"lpush", -3, flagWrite, (*CommandHandler).handleLPush},
		{"rpush", -3, flagWrite, (*CommandHandler).handleRPush},
		{"lpop", -2, flagWrite, (*CommandHandler).handleLPop},
		{"rpop", -2, flagWrite, (*CommandHandler).handleRPop},
		{"llen", 2, 0, (*CommandHandler).handleLLen},
		{"lrange", 4, 0, (*CommandHandler).handleLRange},
		{"blpop", -3, flagWrite | flagBlocking, (*CommandHandler).handleBLPop},
		{"brpop", -3, flagWrite | flagBlocking, (*CommandHandler).handleBRPop},

		// server
		{"info", -1, 0, (*CommandHandler).handleInfo},
		{"command", -1, 0, (*CommandHandler).handleCommand},
		{"time", 1, 0, (*CommandHandler).handleTime},
		{"debug", -2, 0, (*CommandHandler).handleDebug},
	} {
		commandTable[strings.ToUpper(c.name)] = c
	}
}

// CommandHandler executes commands on behalf of workers. It holds no
// per-connection state, so one instance serves every worker.
type CommandHandler struct {
	m        *Manager
	engine   storage.Engine
	registry *watcher.Registry
	auth     *service.AuthService
	logger   *slog.Logger

	// latency holds one pre-resolved histogram per command. Nil when
	// metrics are disabled.
	latency map[string]prometheus.Observer
}

func newCommandHandler(m *Manager, metrics *metric.Registry) *CommandHandler {
	h := &CommandHandler{
		m:        m,
		engine:   m.engine,
		registry: m.registry,
		auth:     m.auth,
		logger:   m.logger,
	}
	if metrics != nil {
		h.latency = make(map[string]prometheus.Observer, len(commandTable))
		for _, c := range commandTable {
			h.latency[c.name] = metrics.CommandDuration.WithLabelValues(c.name)
		}
	}
	return h
}

// execCtx carries one command execution.
type execCtx struct {
	w    *Worker
	c    *Client
	args [][]byte
	now  time.Time
	// resumed is set when a blocked command re-runs after a wake-up.
	resumed *BlockInfo
	// retry is set when the command re-runs because a notification raced
	// its registration.
	retry bool

	// block and versions are set by a blocking command that found nothing
	// to consume.
	block    *BlockInfo
	versions []uint64
}

func (x *execCtx) ok()                 { x.c.Out = resp.AppendOK(x.c.Out) }
func (x *execCtx) simple(s string)     { x.c.Out = resp.AppendSimple(x.c.Out, s) }
func (x *execCtx) integer(n int64)     { x.c.Out = resp.AppendInt(x.c.Out, n) }
func (x *execCtx) bulk(b []byte)       { x.c.Out = resp.AppendBulk(x.c.Out, b) }
func (x *execCtx) bulkString(s string) { x.c.Out = resp.AppendBulkString(x.c.Out, s) }
func (x *execCtx) null()               { x.c.Out = resp.AppendNull(x.c.Out) }
func (x *execCtx) nullArray()          { x.c.Out = resp.AppendNullArray(x.c.Out) }
func (x *execCtx) arrayHeader(n int)   { x.c.Out = resp.AppendArrayHeader(x.c.Out, n) }

func (x *execCtx) bulkStrings(s []string) {
	x.arrayHeader(len(s))
	for _, v := range s {
		x.bulkString(v)
	}
}

// fail renders err as an error reply. Errors outside the taxonomy can
// only come from the storage engine and are reported as storage errors.
func (x *execCtx) fail(err error) {
	if !domain.IsDomainError(err, "") {
		err = domain.ErrStorage.WithCause(err).WithDetails(err.Error())
	}
	x.w.stats.CommandFailed()
	x.c.Out = resp.AppendError(x.c.Out, domain.RESP(err))

	kind := domain.KindOf(err)
	if kind == domain.KindStorage {
		x.w.logger.Warn("storage error", "client_id", x.c.ID, "command", string(x.args[0]), "error", err)
	}
	if kind.ClosesConnection() {
		x.c.CloseAfterFlush = true
	}
}

// execute looks up and runs one command, writing its reply to the client.
func (w *Worker) execute(x *execCtx) {
	h := w.m.handler
	name := strings.ToUpper(string(x.args[0]))
	cmd, ok := commandTable[name]
	if !ok {
		x.fail(domain.ErrUnknownCommand.WithMessagef("unknown command '%s', with args beginning with: %s",
			x.args[0], quoteArgs(x.args[1:])))
		return
	}
	if !cmd.arityOK(len(x.args)) {
		x.fail(domain.ErrWrongArgs.WithMessagef("wrong number of arguments for '%s' command", cmd.name))
		return
	}
	if h.auth.Enabled() && !x.c.Authenticated && cmd.flags&flagNoAuth == 0 {
		x.fail(domain.ErrNoAuth)
		return
	}

	first := x.resumed == nil && !x.retry
	if first {
		if err := h.auth.CheckRateLimit(x.c.remote); err != nil {
			x.fail(err)
			return
		}
		if w.logger.Enabled(context.Background(), slog.LevelDebug) {
			w.logger.Debug("command", "client_id", x.c.ID, "args", logger.RedactArgs(x.args))
		}
	}

	start := time.Now()
	err := cmd.handler(h, x)
	if first {
		w.stats.CommandProcessed()
		if o := h.latency[cmd.name]; o != nil {
			o.Observe(time.Since(start).Seconds())
		}
	}
	if err != nil {
		x.fail(err)
	}
}

func quoteArgs(args [][]byte) string {
	var b strings.Builder
	for i, a := range args {
		if i == 4 {
			break
		}
		b.WriteByte('\'')
		if len(a) > 128 {
			a = a[:128]
		}
		b.Write(a)
		b.WriteString("' ")
	}
	return b.String()
}

func (h *CommandHandler) ctx() context.Context {
	return h.m.ctx
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, domain.ErrNotInteger
	}
	return n, nil
}

// ============================================================================
// Connection commands
// ============================================================================

// PING [message]
func (h *CommandHandler) handlePing(x *execCtx) error {
	switch len(x.args) {
	case 1:
		x.simple("PONG")
	case 2:
		x.bulk(x.args[1])
	default:
		return domain.ErrWrongArgs.WithMessagef("wrong number of arguments for 'ping' command")
	}
	return nil
}

// ECHO <message>
func (h *CommandHandler) handleEcho(x *execCtx) error {
	x.bulk(x.args[1])
	return nil
}

// QUIT
func (h *CommandHandler) handleQuit(x *execCtx) error {
	x.ok()
	x.c.CloseAfterFlush = true
	return nil
}

// AUTH [username] <password>
//
// Only the "default" user exists.
func (h *CommandHandler) handleAuth(x *execCtx) error {
	var user, password string
	switch len(x.args) {
	case 2:
		password = string(x.args[1])
	case 3:
		user, password = string(x.args[1]), string(x.args[2])
	default:
		return domain.ErrSyntax
	}

	if !h.auth.Enabled() {
		return domain.ErrAuthNotConfigured
	}
	if user != "" && user != "default" {
		return domain.ErrWrongPass
	}
	if err := h.auth.Authenticate(password); err != nil {
		h.logger.Info("authentication failed", "client_id", x.c.ID, "remote", x.c.remote)
		return err
	}
	x.c.Authenticated = true
	x.ok()
	return nil
}

// SELECT <db>
//
// A single database is supported.
func (h *CommandHandler) handleSelect(x *execCtx) error {
	db, err := parseInt(x.args[1])
	if err != nil {
		return err
	}
	if db != 0 {
		return domain.ErrSyntax.WithMessagef("DB index is out of range")
	}
	x.ok()
	return nil
}

// CLIENT ID | SETNAME <name> | GETNAME | INFO
func (h *CommandHandler) handleClient(x *execCtx) error {
	sub := strings.ToUpper(string(x.args[1]))
	switch {
	case sub == "ID" && len(x.args) == 2:
		x.integer(int64(x.c.ID))
	case sub == "GETNAME" && len(x.args) == 2:
		if x.c.Name == "" {
			x.null()
		} else {
			x.bulkString(x.c.Name)
		}
	case sub == "SETNAME" && len(x.args) == 3:
		name := string(x.args[2])
		if strings.ContainsAny(name, " \n") {
			return domain.ErrSyntax.WithMessagef("Client names cannot contain spaces, newlines or special characters.")
		}
		x.c.Name = name
		x.ok()
	case sub == "INFO" && len(x.args) == 2:
		x.bulkString(clientInfoLine(x.c, x.w.id, x.now))
	default:
		return domain.ErrSyntax.WithMessagef("unknown subcommand or wrong number of arguments for '%s'. Try CLIENT HELP.", x.args[1])
	}
	return nil
}

func clientInfoLine(c *Client, workerID int, now time.Time) string {
	var b strings.Builder
	b.WriteString("id=")
	b.WriteString(strconv.FormatUint(c.ID, 10))
	b.WriteString(" addr=")
	b.WriteString(c.remote)
	b.WriteString(" name=")
	b.WriteString(c.Name)
	b.WriteString(" age=")
	b.WriteString(strconv.FormatInt(int64(now.Sub(c.CreatedAt)/time.Second), 10))
	b.WriteString(" worker=")
	b.WriteString(strconv.Itoa(workerID))
	b.WriteString(" state=")
	b.WriteString(c.State.String())
	b.WriteString("\n")
	return b.String()
}
