package redisserver

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/sabledb-go/pkg/resp"
)

// step is one request and the reply it must produce. want is the reply
// in wire form, or a "-PREFIX" for an error whose text starts with PREFIX.
type step struct {
	args []string
	want string
}

func runSteps(t *testing.T, c *testClient, steps []step) {
	t.Helper()
	for _, s := range steps {
		got := c.do(s.args...)
		if strings.HasPrefix(s.want, "-") {
			if !got.IsError() || !strings.HasPrefix(got.Str, s.want[1:]) {
				t.Errorf("%v = %+v, want error %q", s.args, got, s.want[1:])
			}
			continue
		}
		if wire := string(got.Append(nil)); wire != s.want {
			t.Errorf("%v = %q, want %q", s.args, wire, s.want)
		}
	}
}

func cmd(args ...string) []string { return args }

// ============================================================
// Dispatch
// ============================================================

func TestCommand_Dispatch(t *testing.T) {
	srv := startServer(t, nil)
	c := dialReady(t, srv)

	runSteps(t, c, []step{
		{cmd("PING"), "+PONG\r\n"},
		{cmd("ping", "hi"), "$2\r\nhi\r\n"},
		{cmd("PING", "a", "b"), "-ERR wrong number of arguments for 'ping' command"},
		{cmd("ECHO", "x y"), "$3\r\nx y\r\n"},
		{cmd("NOPE", "a"), "-ERR unknown command 'NOPE', with args beginning with: 'a'"},
		{cmd("GET"), "-ERR wrong number of arguments for 'get' command"},
		{cmd("SELECT", "0"), "+OK\r\n"},
		{cmd("SELECT", "1"), "-ERR DB index is out of range"},
	})
}

func TestCommand_Quit(t *testing.T) {
	srv := startServer(t, nil)
	c := dialReady(t, srv)

	c.expectSimple("OK", "QUIT")
	c.expectClosed(2 * time.Second)
}

func TestCommand_Client(t *testing.T) {
	srv := startServer(t, nil)
	c := dialReady(t, srv)

	v := c.do("CLIENT", "ID")
	if v.Kind != resp.Integer || v.Int <= 0 {
		t.Fatalf("CLIENT ID = %+v, want positive integer", v)
	}
	runSteps(t, c, []step{
		{cmd("CLIENT", "GETNAME"), "$-1\r\n"},
		{cmd("CLIENT", "SETNAME", "worker-name1"), "+OK\r\n"},
		{cmd("CLIENT", "GETNAME"), "$12\r\nworker-name1\r\n"},
		{cmd("CLIENT", "SETNAME", "has space"), "-ERR"},
		{cmd("CLIENT", "BOGUS"), "-ERR"},
	})

	info := c.do("CLIENT", "INFO").Str
	for _, want := range []string{"id=" + strconv.FormatInt(v.Int, 10), "name=worker-name1", "state=executing"} {
		if !strings.Contains(info, want) {
			t.Errorf("CLIENT INFO = %q, missing %q", info, want)
		}
	}
}

// ============================================================
// Strings and keys
// ============================================================

func TestCommand_Strings(t *testing.T) {
	srv := startServer(t, nil)
	c := dialReady(t, srv)

	runSteps(t, c, []step{
		{cmd("GET", "s"), "$-1\r\n"},
		{cmd("SET", "s", "v1"), "+OK\r\n"},
		{cmd("GET", "s"), "$2\r\nv1\r\n"},
		{cmd("SET", "s", "v2", "NX"), "$-1\r\n"},
		{cmd("SET", "s", "v2", "XX"), "+OK\r\n"},
		{cmd("SET", "other", "v", "XX"), "$-1\r\n"},
		{cmd("SET", "s", "v", "NX", "XX"), "-ERR syntax error"},
		{cmd("SET", "s", "v", "EX"), "-ERR syntax error"},
		{cmd("SET", "s", "v", "EX", "0"), "-ERR invalid expire time in 'set' command"},
		{cmd("SET", "s", "v", "EX", "abc"), "-ERR value is not an integer"},
		{cmd("EXISTS", "s", "other", "s"), ":2\r\n"},
		{cmd("DEL", "s", "other"), ":1\r\n"},
		{cmd("EXISTS", "s"), ":0\r\n"},
	})
}

func TestCommand_Counters(t *testing.T) {
	srv := startServer(t, nil)
	c := dialReady(t, srv)

	runSteps(t, c, []step{
		{cmd("INCR", "n"), ":1\r\n"},
		{cmd("INCRBY", "n", "10"), ":11\r\n"},
		{cmd("DECR", "n"), ":10\r\n"},
		{cmd("DECRBY", "n", "4"), ":6\r\n"},
		{cmd("INCRBY", "n", "x"), "-ERR value is not an integer"},
		{cmd("SET", "n", "abc"), "+OK\r\n"},
		{cmd("INCR", "n"), "-ERR value is not an integer"},
		{cmd("SET", "n", "9223372036854775807"), "+OK\r\n"},
		{cmd("INCR", "n"), "-ERR"},
		{cmd("DECRBY", "n", "-9223372036854775808"), "-ERR"},
		{cmd("RPUSH", "l", "a"), ":1\r\n"},
		{cmd("INCR", "l"), "-WRONGTYPE"},
	})
}

func TestCommand_Expiry(t *testing.T) {
	srv := startServer(t, nil)
	c := dialReady(t, srv)

	runSteps(t, c, []step{
		{cmd("TTL", "e"), ":-2\r\n"},
		{cmd("SET", "e", "v"), "+OK\r\n"},
		{cmd("TTL", "e"), ":-1\r\n"},
		{cmd("EXPIRE", "e", "100"), ":1\r\n"},
		{cmd("TTL", "e"), ":100\r\n"},
		{cmd("PEXPIRE", "e", "5000"), ":1\r\n"},
		{cmd("PTTL", "e"), ":5000\r\n"},
		{cmd("EXPIRE", "missing", "10"), ":0\r\n"},
		{cmd("EXPIRE", "e", "99999999999999999"), "-ERR invalid expire time in 'expire' command"},
		{cmd("SET", "px", "v", "PX", "50"), "+OK\r\n"},
	})

	time.Sleep(100 * time.Millisecond)
	c.expectNull("GET", "px")

	c.expectInt(1, "EXPIRE", "e", "0")
	c.expectInt(0, "EXISTS", "e")
}

func TestCommand_Type(t *testing.T) {
	srv := startServer(t, nil)
	c := dialReady(t, srv)

	runSteps(t, c, []step{
		{cmd("SET", "s", "v"), "+OK\r\n"},
		{cmd("RPUSH", "l", "a"), ":1\r\n"},
		{cmd("TYPE", "s"), "+string\r\n"},
		{cmd("TYPE", "l"), "+list\r\n"},
		{cmd("TYPE", "none"), "+none\r\n"},
		{cmd("GET", "l"), "-WRONGTYPE"},
	})
}

func TestCommand_KeyspaceIteration(t *testing.T) {
	srv := startServer(t, nil)
	c := dialReady(t, srv)

	for i := 0; i < 25; i++ {
		c.expectSimple("OK", "SET", "user:"+strconv.Itoa(i), "v")
	}
	c.expectSimple("OK", "SET", "other", "v")
	c.expectInt(26, "DBSIZE")

	keys := c.do("KEYS", "user:*")
	if len(keys.Array) != 25 {
		t.Errorf("KEYS user:* returned %d keys, want 25", len(keys.Array))
	}

	seen := make(map[string]bool)
	cursor := "0"
	for {
		v := c.do("SCAN", cursor, "MATCH", "user:*", "COUNT", "7")
		if len(v.Array) != 2 {
			t.Fatalf("SCAN reply = %+v, want [cursor, keys]", v)
		}
		for _, k := range v.Array[1].Array {
			if !strings.HasPrefix(k.Str, "user:") {
				t.Errorf("SCAN returned %q, want user:*", k.Str)
			}
			seen[k.Str] = true
		}
		cursor = v.Array[0].Str
		if cursor == "0" {
			break
		}
	}
	if len(seen) != 25 {
		t.Errorf("SCAN visited %d keys, want 25", len(seen))
	}

	runSteps(t, c, []step{
		{cmd("SCAN", "x"), "-ERR invalid cursor"},
		{cmd("SCAN", "0", "COUNT", "0"), "-ERR syntax error"},
		{cmd("SCAN", "0", "MATCH"), "-ERR syntax error"},
		{cmd("FLUSHALL", "BOGUS"), "-ERR syntax error"},
		{cmd("FLUSHALL"), "+OK\r\n"},
		{cmd("DBSIZE"), ":0\r\n"},
		{cmd("SET", "a", "b"), "+OK\r\n"},
		{cmd("FLUSHDB", "ASYNC"), "+OK\r\n"},
		{cmd("DBSIZE"), ":0\r\n"},
	})
}

// ============================================================
// Lists
// ============================================================

func TestCommand_Lists(t *testing.T) {
	srv := startServer(t, nil)
	c := dialReady(t, srv)

	runSteps(t, c, []step{
		{cmd("RPUSH", "l", "a", "b", "c"), ":3\r\n"},
		{cmd("LPUSH", "l", "z"), ":4\r\n"},
		{cmd("LLEN", "l"), ":4\r\n"},
		{cmd("LRANGE", "l", "0", "-1"), "*4\r\n$1\r\nz\r\n$1\r\na\r\n$1\r\nb\r\n$1\r\nc\r\n"},
		{cmd("LRANGE", "l", "1", "2"), "*2\r\n$1\r\na\r\n$1\r\nb\r\n"},
		{cmd("LRANGE", "l", "10", "20"), "*0\r\n"},
		{cmd("LPOP", "l"), "$1\r\nz\r\n"},
		{cmd("RPOP", "l"), "$1\r\nc\r\n"},
		{cmd("LPOP", "l", "0"), "*0\r\n"},
		{cmd("LPOP", "l", "5"), "*2\r\n$1\r\na\r\n$1\r\nb\r\n"},
		{cmd("LPOP", "l"), "$-1\r\n"},
		{cmd("LPOP", "l", "2"), "*-1\r\n"},
		{cmd("LPOP", "l", "-1"), "-ERR value is out of range"},
		{cmd("LLEN", "l"), ":0\r\n"},
		{cmd("EXISTS", "l"), ":0\r\n"},
		{cmd("SET", "s", "v"), "+OK\r\n"},
		{cmd("LPUSH", "s", "x"), "-WRONGTYPE"},
		{cmd("LPOP", "s", "0"), "-WRONGTYPE"},
		{cmd("BLPOP", "s", "1"), "-WRONGTYPE"},
	})
}

func TestCommand_BlockingPopImmediate(t *testing.T) {
	srv := startServer(t, nil)
	c := dialReady(t, srv)

	runSteps(t, c, []step{
		{cmd("RPUSH", "b", "1", "2"), ":2\r\n"},
		{cmd("BLPOP", "a", "b", "0"), "*2\r\n$1\r\nb\r\n$1\r\n1\r\n"},
		{cmd("BRPOP", "a", "b", "0"), "*2\r\n$1\r\nb\r\n$1\r\n2\r\n"},
		{cmd("BLPOP", "a", "-1"), "-ERR timeout is negative"},
		{cmd("BLPOP", "a", "soon"), "-ERR timeout is not a float or out of range"},
		{cmd("BLPOP", "a"), "-ERR wrong number of arguments for 'blpop' command"},
	})
}

// ============================================================
// Server commands
// ============================================================

func TestCommand_Info(t *testing.T) {
	srv := startServer(t, nil)
	c := dialReady(t, srv)
	c.expectSimple("OK", "SET", "k", "v")

	all := c.do("INFO").Str
	_, port, _ := strings.Cut(srv.Addr().String(), ":")
	for _, want := range []string{
		"# Server\r\n", "redis_version:7.0.0", "tcp_port:" + port, "# Clients\r\n", "connected_clients:1",
		"# Stats\r\n", "total_commands_processed:", "# Workers\r\n", "worker0:clients=", "worker1:clients=",
		"# Keyspace\r\n", "db0:keys=1",
	} {
		if !strings.Contains(all, want) {
			t.Errorf("INFO missing %q", want)
		}
	}

	clients := c.do("INFO", "clients").Str
	if strings.Contains(clients, "# Server") || !strings.Contains(clients, "# Clients") {
		t.Errorf("INFO clients = %q, want only the clients section", clients)
	}
	c.expectError("ERR syntax error", "INFO", "a", "b")
}

func TestCommand_Command(t *testing.T) {
	srv := startServer(t, nil)
	c := dialReady(t, srv)

	c.expectInt(int64(len(commandTable)), "COMMAND", "COUNT")

	list := c.do("COMMAND", "LIST")
	if len(list.Array) != len(commandTable) {
		t.Errorf("COMMAND LIST returned %d names, want %d", len(list.Array), len(commandTable))
	}

	docs := c.do("COMMAND")
	var blpop []resp.Value
	for _, d := range docs.Array {
		if d.Array[0].Str == "blpop" {
			blpop = d.Array
		}
	}
	if blpop == nil {
		t.Fatal("COMMAND has no blpop entry")
	}
	if blpop[1].Int != -3 {
		t.Errorf("blpop arity = %d, want -3", blpop[1].Int)
	}
	var flags []string
	for _, f := range blpop[2].Array {
		flags = append(flags, f.Str)
	}
	if got := strings.Join(flags, ","); got != "write,blocking" {
		t.Errorf("blpop flags = %q, want write,blocking", got)
	}
}

func TestCommand_TimeAndDebug(t *testing.T) {
	srv := startServer(t, nil)
	c := dialReady(t, srv)

	v := c.do("TIME")
	if len(v.Array) != 2 {
		t.Fatalf("TIME = %+v, want two elements", v)
	}
	secs, err := strconv.ParseInt(v.Array[0].Str, 10, 64)
	if err != nil || time.Since(time.Unix(secs, 0)) > time.Minute {
		t.Errorf("TIME seconds = %q, want now", v.Array[0].Str)
	}

	runSteps(t, c, []step{
		{cmd("DEBUG", "SLEEP", "0"), "+OK\r\n"},
		{cmd("DEBUG", "SLEEP", "abc"), "-ERR value is not a valid float"},
		{cmd("DEBUG", "KILLWORKER", "99"), "-ERR no such worker '99'"},
		{cmd("DEBUG", "NOPE"), "-ERR unknown subcommand"},
	})
}
