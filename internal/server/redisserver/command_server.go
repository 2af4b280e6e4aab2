package redisserver

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/sabledb-go/internal/core/domain"
	"github.com/yndnr/sabledb-go/internal/infra/buildinfo"
)

// redisVersion is reported to clients that gate features on it.
const redisVersion = "7.0.0"

// maxDebugSleep bounds DEBUG SLEEP.
const maxDebugSleep = time.Minute

// INFO [section]
func (h *CommandHandler) handleInfo(x *execCtx) error {
	if len(x.args) > 2 {
		return domain.ErrSyntax
	}
	section := "default"
	if len(x.args) == 2 {
		section = strings.ToLower(string(x.args[1]))
	}
	want := func(name string) bool {
		switch section {
		case "default", "all", "everything":
			return true
		}
		return section == name
	}

	m := h.m
	snap := m.Snapshot()
	bi := buildinfo.Get()

	var b strings.Builder
	if want("server") {
		uptime := time.Since(m.startedAt)
		b.WriteString("# Server\r\n")
		fmt.Fprintf(&b, "redis_version:%s\r\n", redisVersion)
		fmt.Fprintf(&b, "sabledb_version:%s\r\n", bi.Version)
		fmt.Fprintf(&b, "sabledb_git_sha1:%s\r\n", bi.Commit)
		fmt.Fprintf(&b, "redis_mode:standalone\r\n")
		fmt.Fprintf(&b, "os:%s %s\r\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(&b, "go_version:%s\r\n", bi.GoVersion)
		fmt.Fprintf(&b, "process_id:%d\r\n", os.Getpid())
		fmt.Fprintf(&b, "run_id:%s\r\n", bi.RunID)
		fmt.Fprintf(&b, "tcp_port:%d\r\n", m.port.Load())
		fmt.Fprintf(&b, "uptime_in_seconds:%d\r\n", int64(uptime/time.Second))
		fmt.Fprintf(&b, "uptime_in_days:%d\r\n", int64(uptime/(24*time.Hour)))
		fmt.Fprintf(&b, "workers:%d\r\n", len(m.Workers()))
		b.WriteString("\r\n")
	}
	if want("clients") {
		b.WriteString("# Clients\r\n")
		fmt.Fprintf(&b, "connected_clients:%d\r\n", snap.ActiveConnections)
		fmt.Fprintf(&b, "blocked_clients:%d\r\n", snap.BlockedClients)
		fmt.Fprintf(&b, "waiting_registrations:%d\r\n", h.registry.Len())
		fmt.Fprintf(&b, "maxclients:%d\r\n", m.cfg.MaxClients)
		b.WriteString("\r\n")
	}
	if want("stats") {
		b.WriteString("# Stats\r\n")
		fmt.Fprintf(&b, "total_connections_received:%d\r\n", snap.ConnectionsAccepted)
		fmt.Fprintf(&b, "total_connections_closed:%d\r\n", snap.ConnectionsClosed)
		fmt.Fprintf(&b, "total_commands_processed:%d\r\n", snap.CommandsProcessed)
		fmt.Fprintf(&b, "total_error_replies:%d\r\n", snap.CommandErrors)
		fmt.Fprintf(&b, "total_protocol_errors:%d\r\n", snap.ProtocolErrors)
		fmt.Fprintf(&b, "total_net_input_bytes:%d\r\n", snap.BytesRead)
		fmt.Fprintf(&b, "total_net_output_bytes:%d\r\n", snap.BytesWritten)
		fmt.Fprintf(&b, "total_blocking_wakeups:%d\r\n", snap.Wakeups)
		fmt.Fprintf(&b, "total_blocking_timeouts:%d\r\n", snap.BlockTimeouts)
		fmt.Fprintf(&b, "rejected_connections:%d\r\n", m.rejected.Load())
		fmt.Fprintf(&b, "worker_restarts:%d\r\n", m.restarts.Load())
		b.WriteString("\r\n")
	}
	if want("workers") {
		b.WriteString("# Workers\r\n")
		for _, ws := range m.Workers() {
			fmt.Fprintf(&b, "worker%d:clients=%d,healthy=%d\r\n", ws.ID, ws.Clients, boolInt(ws.Healthy))
		}
		b.WriteString("\r\n")
	}
	if want("keyspace") {
		b.WriteString("# Keyspace\r\n")
		n, err := h.engine.Count(h.ctx())
		if err != nil {
			return err
		}
		if n > 0 {
			fmt.Fprintf(&b, "db0:keys=%d\r\n", n)
		}
	}

	x.bulkString(strings.TrimSuffix(b.String(), "\r\n"))
	return nil
}

// COMMAND [COUNT | LIST]
func (h *CommandHandler) handleCommand(x *execCtx) error {
	if len(x.args) == 1 {
		names := commandNames()
		x.arrayHeader(len(names))
		for _, name := range names {
			c := commandTable[strings.ToUpper(name)]
			x.arrayHeader(3)
			x.bulkString(c.name)
			x.integer(int64(c.arity))
			flags := c.flagNames()
			x.arrayHeader(len(flags))
			for _, f := range flags {
				x.simple(f)
			}
		}
		return nil
	}

	switch strings.ToUpper(string(x.args[1])) {
	case "COUNT":
		x.integer(int64(len(commandTable)))
	case "LIST":
		x.bulkStrings(commandNames())
	default:
		return domain.ErrSyntax.WithMessagef("unknown subcommand '%s'. Try COMMAND HELP.", x.args[1])
	}
	return nil
}

func commandNames() []string {
	names := make([]string, 0, len(commandTable))
	for _, c := range commandTable {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

func (c *command) flagNames() []string {
	var out []string
	if c.flags&flagWrite != 0 {
		out = append(out, "write")
	} else {
		out = append(out, "readonly")
	}
	if c.flags&flagBlocking != 0 {
		out = append(out, "blocking")
	}
	if c.flags&flagNoAuth != 0 {
		out = append(out, "no_auth")
	}
	return out
}

// TIME
func (h *CommandHandler) handleTime(x *execCtx) error {
	now := time.Now()
	x.arrayHeader(2)
	x.bulkString(strconv.FormatInt(now.Unix(), 10))
	x.bulkString(strconv.FormatInt(int64(now.Nanosecond()/1000), 10))
	return nil
}

// DEBUG SLEEP <seconds> | KILLWORKER [worker-id]
//
// SLEEP stalls the calling worker, which is how a hung worker is
// simulated. KILLWORKER makes a worker fail as if it had panicked.
func (h *CommandHandler) handleDebug(x *execCtx) error {
	switch sub := strings.ToUpper(string(x.args[1])); {
	case sub == "SLEEP" && len(x.args) == 3:
		secs, err := strconv.ParseFloat(string(x.args[2]), 64)
		if err != nil || math.IsNaN(secs) || secs < 0 {
			return domain.ErrNotInteger.WithMessagef("value is not a valid float")
		}
		d := time.Duration(min(secs, maxDebugSleep.Seconds()) * float64(time.Second))
		time.Sleep(d)
		x.ok()
	case sub == "KILLWORKER" && len(x.args) <= 3:
		id := x.w.id
		if len(x.args) == 3 {
			n, err := parseInt(x.args[2])
			if err != nil {
				return err
			}
			id = int(n)
		}
		if err := h.m.Kill(id); err != nil {
			return err
		}
		x.ok()
	default:
		return domain.ErrSyntax.WithMessagef("unknown subcommand or wrong number of arguments for '%s'", x.args[1])
	}
	return nil
}
