package benchmark

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/yndnr/sabledb-go/internal/server/redisserver"
	"github.com/yndnr/sabledb-go/internal/storage"
	"github.com/yndnr/sabledb-go/internal/storage/memory"
	"github.com/yndnr/sabledb-go/internal/telemetry/logger"
	"github.com/yndnr/sabledb-go/pkg/resp"
)

// KeyCounts defines the preloaded key counts for benchmarking.
var KeyCounts = []int{1000, 10000, 100000}

// engineFactory opens a fresh engine for one benchmark.
type engineFactory struct {
	name string
	open func(b *testing.B) storage.Engine
}

func engines() []engineFactory {
	return []engineFactory{
		{"memory", func(b *testing.B) storage.Engine {
			e := memory.New(memory.WithExpireInterval(0))
			b.Cleanup(func() { _ = e.Close() })
			return e
		}},
		{"badger", func(b *testing.B) storage.Engine {
			cfg := storage.DefaultBadgerConfig(b.TempDir())
			cfg.GCInterval = 0
			e, err := storage.NewBadgerEngine(cfg, logger.Discard())
			if err != nil {
				b.Fatalf("NewBadgerEngine() error = %v", err)
			}
			b.Cleanup(func() { _ = e.Close() })
			return e
		}},
	}
}

// prefill stores count string keys named key-0..key-(count-1).
func prefill(ctx context.Context, b *testing.B, e storage.Engine, count int) {
	b.Helper()
	value := []byte("value")
	for i := 0; i < count; i++ {
		if _, err := e.Set(ctx, fmt.Sprintf("key-%d", i), value, storage.SetOptions{}); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
	}
}

// reportMemory reports memory usage.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// startServer runs a memory-backed server on a loopback port.
func startServer(b *testing.B, workers int) *redisserver.Server {
	b.Helper()
	cfg := redisserver.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Workers = workers

	engine := memory.New(memory.WithExpireInterval(0))
	srv := redisserver.New(cfg, engine, redisserver.WithLogger(logger.Discard()))
	if err := srv.Start(context.Background()); err != nil {
		b.Fatalf("Start() error = %v", err)
	}
	b.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = engine.Close()
	})
	return srv
}

// benchConn is a raw pipelining connection.
type benchConn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

func dial(b *testing.B, srv *redisserver.Server) *benchConn {
	b.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		b.Fatalf("dial: %v", err)
	}
	b.Cleanup(func() { _ = conn.Close() })
	return newBenchConn(conn)
}

func newBenchConn(conn net.Conn) *benchConn {
	return &benchConn{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}
}

// pipeline writes n copies of cmd and reads n replies.
func (c *benchConn) pipeline(cmd []byte, n int) error {
	for i := 0; i < n; i++ {
		if _, err := c.w.Write(cmd); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	for i := 0; i < n; i++ {
		v, err := resp.ReadValue(c.r)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if v.IsError() {
			return fmt.Errorf("reply error: %s", v.Str)
		}
	}
	return nil
}

// waitBlocked polls until n clients are blocked.
func waitBlocked(b *testing.B, srv *redisserver.Server, n int64) {
	b.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for srv.Manager().Snapshot().BlockedClients != n {
		if time.Now().After(deadline) {
			b.Fatalf("timed out waiting for %d blocked clients", n)
		}
		runtime.Gosched()
	}
}
