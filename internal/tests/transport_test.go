package tests

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/sabledb-go/internal/cli/connection"
	"github.com/yndnr/sabledb-go/internal/infra/tlsroots"
	"github.com/yndnr/sabledb-go/internal/server/localserver"
	"github.com/yndnr/sabledb-go/internal/server/redisserver"
	"github.com/yndnr/sabledb-go/internal/storage/memory"
	"github.com/yndnr/sabledb-go/internal/telemetry/logger"
)

// selfSigned returns a certificate for 127.0.0.1 and the path of its PEM.
func selfSigned(t *testing.T) (tls.Certificate, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "sabledb-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, path
}

// startTransports runs a server with plain, TLS and Unix socket listeners
// sharing one worker pool.
func startTransports(t *testing.T) (*redisserver.Server, string, string) {
	t.Helper()
	cert, caPath := selfSigned(t)

	engine := memory.New()
	t.Cleanup(func() { _ = engine.Close() })

	cfg := redisserver.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Workers = 2
	cfg.TLSEnabled = true
	cfg.TLSAddr = "127.0.0.1:0"
	cfg.TLSConfig = tlsroots.ServerConfig(func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		return &cert, nil
	}, nil)
	cfg.ShutdownGrace = time.Second

	srv := redisserver.New(cfg, engine, redisserver.WithLogger(logger.Discard()))
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	// Unix socket paths are length limited, so stay out of t.TempDir.
	dir, err := os.MkdirTemp("", "sdb")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")

	local := localserver.New(sock, 0o700, srv.Manager(), logger.Discard())
	if err := local.ListenAndServe(); err != nil {
		t.Fatalf("ListenAndServe() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = local.Shutdown(ctx)
	})
	return srv, sock, caPath
}

// ============================================================
// Transports
// ============================================================

func TestIntegration_TransportsShareKeyspace(t *testing.T) {
	srv, sock, caPath := startTransports(t)

	plain := connection.NewRESPClient(connection.Options{Addr: srv.Addr().String()})
	secure := connection.NewRESPClient(connection.Options{
		Addr:   srv.TLSAddr().String(),
		TLS:    true,
		CACert: caPath,
	})
	unix := connection.NewRESPClient(connection.Options{Addr: "unix://" + sock})
	for _, c := range []*connection.RESPClient{plain, secure, unix} {
		t.Cleanup(func() { _ = c.Close() })
	}

	if v := do(t, plain, "SET", "shared", "plain"); v.Str != "OK" {
		t.Fatalf("SET over TCP = %+v", v)
	}
	if v := do(t, secure, "GET", "shared"); v.Str != "plain" {
		t.Errorf("GET over TLS = %+v, want plain", v)
	}
	if v := do(t, unix, "NOPE"); !v.IsError() {
		t.Errorf("unknown command over unix = %+v, want error", v)
	}
	if v := do(t, unix, "GET", "shared"); v.Str != "plain" {
		t.Errorf("GET over unix = %+v, want plain", v)
	}

	// A blocked TLS client is woken by a push over the Unix socket.
	done := make(chan []string, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		v, err := secure.Do(ctx, "BLPOP", "q", "5")
		if err != nil || len(v.Array) != 2 {
			done <- nil
			return
		}
		done <- []string{v.Array[0].Str, v.Array[1].Str}
	}()
	deadline := time.Now().Add(5 * time.Second)
	for srv.Manager().Snapshot().BlockedClients != 1 {
		if time.Now().After(deadline) {
			t.Fatal("BLPOP never blocked")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if v := do(t, unix, "RPUSH", "q", "x"); v.Int != 1 {
		t.Fatalf("RPUSH over unix = %+v", v)
	}
	if got := <-done; len(got) != 2 || got[0] != "q" || got[1] != "x" {
		t.Errorf("BLPOP over TLS = %v, want [q x]", got)
	}
}

func TestIntegration_TLSRejectsUntrustedClient(t *testing.T) {
	srv, _, _ := startTransports(t)

	c := connection.NewRESPClient(connection.Options{
		Addr:        srv.TLSAddr().String(),
		TLS:         true,
		DialTimeout: 2 * time.Second,
	})
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Error("Connect() without the CA error = nil, want verification failure")
	}

	insecure := connection.NewRESPClient(connection.Options{
		Addr:               srv.TLSAddr().String(),
		TLS:                true,
		InsecureSkipVerify: true,
	})
	defer insecure.Close()
	if v := do(t, insecure, "PING"); v.Str != "PONG" {
		t.Errorf("PING with InsecureSkipVerify = %+v, want PONG", v)
	}
}
