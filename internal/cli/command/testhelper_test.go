package command

import (
	"bufio"
	"bytes"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sabledb-go/pkg/resp"
)

// fakeServer is a minimal RESP server with GET, SET, PING and AUTH.
type fakeServer struct {
	ln       net.Listener
	password string

	mu   sync.Mutex
	data map[string]string
}

func newFakeServer(t *testing.T, password string, seed map[string]string) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{ln: ln, password: password, data: make(map[string]string)}
	for k, v := range seed {
		s.data[k] = v
	}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *fakeServer) Addr() string {
	return s.ln.Addr().String()
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	authed := s.password == ""
	for {
		v, err := resp.ReadValue(r)
		if err != nil {
			return
		}
		args := make([]string, len(v.Array))
		for i, a := range v.Array {
			args[i] = a.Str
		}
		var out []byte
		switch cmd := strings.ToUpper(args[0]); {
		case cmd == "AUTH":
			if len(args) == 2 && args[1] == s.password {
				authed = true
				out = resp.AppendOK(nil)
			} else {
				out = resp.AppendError(nil, "WRONGPASS invalid password")
			}
		case !authed:
			out = resp.AppendError(nil, "NOAUTH Authentication required.")
		case cmd == "PING":
			out = resp.AppendSimple(nil, "PONG")
		case cmd == "SET" && len(args) == 3:
			s.mu.Lock()
			s.data[args[1]] = args[2]
			s.mu.Unlock()
			out = resp.AppendOK(nil)
		case cmd == "GET" && len(args) == 2:
			s.mu.Lock()
			val, ok := s.data[args[1]]
			s.mu.Unlock()
			if ok {
				out = resp.AppendBulkString(nil, val)
			} else {
				out = resp.AppendNull(nil)
			}
		case cmd == "KEYS":
			s.mu.Lock()
			out = resp.AppendArrayHeader(nil, len(s.data))
			for k := range s.data {
				out = resp.AppendBulkString(out, k)
			}
			s.mu.Unlock()
		default:
			out = resp.AppendError(nil, "ERR unknown command '"+args[0]+"'")
		}
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

// appResult is the captured outcome of one App run.
type appResult struct {
	stdout string
	stderr string
	err    error
}

func (r appResult) exitCode() int {
	if r.err == nil {
		return 0
	}
	if coder, ok := r.err.(cli.ExitCoder); ok {
		return coder.ExitCode()
	}
	return 1
}

// runApp runs the CLI with an isolated config and history file.
func runApp(t *testing.T, configPath, stdin string, args ...string) appResult {
	t.Helper()
	if configPath == "" {
		configPath = filepath.Join(t.TempDir(), "cli.yaml")
	}

	var stdout, stderr bytes.Buffer
	app := App()
	app.Reader = strings.NewReader(stdin)
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}

	full := append([]string{
		"sabledb-cli",
		"--config", configPath,
		"--history", filepath.Join(t.TempDir(), "history"),
	}, args...)
	err := app.Run(full)
	return appResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}
