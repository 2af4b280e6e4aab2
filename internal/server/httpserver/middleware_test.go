package httpserver

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/yndnr/sabledb-go/internal/core/service"
	"github.com/yndnr/sabledb-go/internal/telemetry/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newAuth(t *testing.T, password string) *service.AuthService {
	t.Helper()
	auth, err := service.NewAuthService(service.AuthServiceConfig{Password: password})
	if err != nil {
		t.Fatalf("NewAuthService() error = %v", err)
	}
	return auth
}

// ============================================================
// RequestID / Chain
// ============================================================

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
		if got := r.Header.Get("X-Request-ID"); got != seen {
			t.Errorf("request header = %q, want %q", got, seen)
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates request ID when not provided", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

		requestID := rec.Header().Get("X-Request-ID")
		if !strings.HasPrefix(requestID, "req-") || len(requestID) != 4+26 {
			t.Errorf("X-Request-ID = %q, want req-<ulid>", requestID)
		}
		if seen != requestID {
			t.Errorf("context request ID = %q, want %q", seen, requestID)
		}
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", "existing-id-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("X-Request-ID"); got != "existing-id-123" {
			t.Errorf("X-Request-ID = %q, want existing-id-123", got)
		}
	})
}

func TestChain(t *testing.T) {
	var order []int
	mark := func(n int) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, n)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		order = append(order, 4)
		w.WriteHeader(http.StatusOK)
	}), mark(1), mark(2), mark(3))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))

	want := []int{1, 2, 3, 4}
	if len(order) != len(want) {
		t.Fatalf("calls = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, order[i], want[i])
		}
	}
}

// ============================================================
// AdminAuth
// ============================================================

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		setup      func(r *http.Request)
		wantStatus int
		wantCode   string
	}{
		{"no password configured", "", func(*http.Request) {}, http.StatusOK, ""},
		{"missing credentials", "secret", func(*http.Request) {}, http.StatusUnauthorized, "SDB-AUTH-4010"},
		{"basic auth default user", "secret", func(r *http.Request) { r.SetBasicAuth("default", "secret") }, http.StatusOK, ""},
		{"basic auth empty user", "secret", func(r *http.Request) { r.SetBasicAuth("", "secret") }, http.StatusOK, ""},
		{"basic auth other user", "secret", func(r *http.Request) { r.SetBasicAuth("admin", "secret") }, http.StatusUnauthorized, "SDB-AUTH-4010"},
		{"basic auth wrong password", "secret", func(r *http.Request) { r.SetBasicAuth("default", "nope") }, http.StatusUnauthorized, "SDB-AUTH-4011"},
		{"bearer token", "secret", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }, http.StatusOK, ""},
		{"bearer wrong token", "secret", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, "SDB-AUTH-4011"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AdminAuth(newAuth(t, tt.password))(okHandler())
			req := httptest.NewRequest("GET", "/metrics", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("X-Error-Code"); got != tt.wantCode {
				t.Errorf("X-Error-Code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestAdminAuth_NilService(t *testing.T) {
	rec := httptest.NewRecorder()
	AdminAuth(nil)(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// ============================================================
// NetworkACL
// ============================================================

func TestParseAllowList(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    []string
		wantErr bool
	}{
		{"empty", nil, []string{}, false},
		{"single IPv4", []string{"192.168.1.100"}, []string{"192.168.1.100/32"}, false},
		{"CIDR is masked", []string{"10.1.2.3/8"}, []string{"10.0.0.0/8"}, false},
		{"IPv6", []string{"2001:db8::1", "2001:db8::/32"}, []string{"2001:db8::1/128", "2001:db8::/32"}, false},
		{"mapped IPv4", []string{"::ffff:127.0.0.1"}, []string{"127.0.0.1/32"}, false},
		{"bad IP", []string{"bogus"}, nil, true},
		{"bad prefix length", []string{"10.0.0.0/99"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAllowList(tt.entries)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAllowList() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseAllowList() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i].String() != tt.want[i] {
					t.Errorf("prefix %d = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNetworkACL(t *testing.T) {
	tests := []struct {
		name       string
		allow      []string
		remoteAddr string
		headers    map[string]string
		wantStatus int
	}{
		{"empty allowlist", nil, "192.168.1.100:12345", nil, http.StatusOK},
		{"single IP match", []string{"192.168.1.100"}, "192.168.1.100:12345", nil, http.StatusOK},
		{"CIDR match", []string{"10.0.0.0/8"}, "10.1.2.3:12345", nil, http.StatusOK},
		{"no match", []string{"192.168.1.0/24"}, "10.0.0.1:12345", nil, http.StatusForbidden},
		{"IPv6 CIDR", []string{"2001:db8::/32"}, "[2001:db8::1]:12345", nil, http.StatusOK},
		{"mapped peer", []string{"127.0.0.1"}, "[::ffff:127.0.0.1]:1", nil, http.StatusOK},
		{"unparseable peer", []string{"127.0.0.1"}, "@", nil, http.StatusForbidden},
		{"forwarded header ignored", []string{"203.0.113.0/24"}, "10.0.0.1:1",
			map[string]string{"X-Forwarded-For": "203.0.113.5"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allow, err := ParseAllowList(tt.allow)
			if err != nil {
				t.Fatalf("ParseAllowList() error = %v", err)
			}
			handler := NetworkACL(allow, logger.Discard())(okHandler())
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden && rec.Header().Get("X-Error-Code") != "SDB-ADM-4030" {
				t.Errorf("X-Error-Code = %q, want SDB-ADM-4030", rec.Header().Get("X-Error-Code"))
			}
		})
	}
}

// ============================================================
// RateLimit
// ============================================================

func TestRateLimit(t *testing.T) {
	handler := RateLimit(3)(okHandler())

	serve := func(addr string) int {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		if code := serve("10.0.0.1:1"); code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, code)
		}
	}
	if code := serve("10.0.0.1:2"); code != http.StatusTooManyRequests {
		t.Errorf("over-limit status = %d, want 429", code)
	}
	if code := serve("10.0.0.2:1"); code != http.StatusOK {
		t.Errorf("other IP status = %d, want 200", code)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	handler := RateLimit(0)(okHandler())
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}
}

func TestRateLimitConcurrency(t *testing.T) {
	handler := RateLimit(10)(okHandler())

	var ok, limited atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = "10.9.9.9:1"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code == http.StatusOK {
				ok.Add(1)
			} else {
				limited.Add(1)
			}
		}()
	}
	wg.Wait()

	if ok.Load() < 10 || ok.Load()+limited.Load() != 50 {
		t.Errorf("ok = %d, limited = %d, want at least 10 ok out of 50", ok.Load(), limited.Load())
	}
}

// ============================================================
// Recover / Audit
// ============================================================

func TestRecover(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), RequestID(), Recover(logger.Discard()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if got := rec.Header().Get("X-Error-Code"); got != "SDB-ADM-5000" {
		t.Errorf("X-Error-Code = %q, want SDB-ADM-5000", got)
	}
}

func TestAudit(t *testing.T) {
	tests := []struct {
		status    int
		wantLevel string
	}{
		{http.StatusOK, "level=DEBUG"},
		{http.StatusNotFound, "level=WARN"},
		{http.StatusServiceUnavailable, "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}), RequestID(), Audit(log))

			req := httptest.NewRequest("GET", "/healthz", nil)
			req.Header.Set("X-Request-ID", "audit-1")
			handler.ServeHTTP(httptest.NewRecorder(), req)

			out := buf.String()
			for _, want := range []string{tt.wantLevel, "request_id=audit-1", "path=/healthz", "peer=192.0.2.1"} {
				if !strings.Contains(out, want) {
					t.Errorf("log = %q, want %q", out, want)
				}
			}
		})
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	w.WriteHeader(http.StatusTeapot)
	_, _ = w.Write([]byte("short and stout"))

	if w.status != http.StatusTeapot || rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, recorder = %d, want 418", w.status, rec.Code)
	}
	if w.bytes != len("short and stout") {
		t.Errorf("bytes = %d, want %d", w.bytes, len("short and stout"))
	}
}

// ============================================================
// peerAddr
// ============================================================

func TestPeerAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"IPv4 with port", "192.168.1.1:12345", "192.168.1.1"},
		{"IPv6 with port", "[::1]:8080", "::1"},
		{"no port", "192.168.1.1", "192.168.1.1"},
		{"mapped", "[::ffff:10.0.0.1]:1", "10.0.0.1"},
		{"garbage", "not-an-addr", "invalid IP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			req.Header.Set("X-Forwarded-For", "203.0.113.5")
			if got := peerAddr(req).String(); got != tt.want {
				t.Errorf("peerAddr() = %q, want %q", got, tt.want)
			}
		})
	}
}
