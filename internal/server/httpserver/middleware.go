package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/sabledb-go/internal/core/domain"
	"github.com/yndnr/sabledb-go/internal/core/service"
	"github.com/yndnr/sabledb-go/internal/server/httpserver/handler"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so the first one runs outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RequestID keeps the caller's X-Request-ID or assigns "req-<ulid>". The
// id is echoed in the response and stored in the request context and
// headers, where the admin handlers pick it up.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = "req-" + ulid.MustNew(ulid.Now(), rand.Reader).String()
				r.Header.Set(requestIDHeader, id)
			}
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// RequestIDFrom returns the id RequestID stored in ctx, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// AdminAuth requires the server password as HTTP basic auth (user
// "default" or empty) or as a bearer token. Without a password every
// request passes.
func AdminAuth(auth *service.AuthService) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil || !auth.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			password, ok := credentials(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="sabledb"`)
				reject(w, r, http.StatusUnauthorized, domain.ErrNoAuth)
				return
			}
			if err := auth.Authenticate(password); err != nil {
				reject(w, r, http.StatusUnauthorized, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func credentials(r *http.Request) (string, bool) {
	if user, password, ok := r.BasicAuth(); ok {
		return password, user == "" || user == "default"
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token, ok && token != ""
}

// RateLimit allows perSecond requests per second per peer address, using
// the token buckets the RESP listener uses for AUTH.
func RateLimit(perSecond int) Middleware {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiters := service.NewRateLimiterRegistry()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.GetOrCreate(peerAddr(r).String(), perSecond).Allow() {
				w.Header().Set("Retry-After", "1")
				reject(w, r, http.StatusTooManyRequests, domain.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Audit logs one record per request: debug for success, warn for 4xx and
// error for 5xx.
func Audit(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			level := slog.LevelDebug
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "admin request",
				"request_id", RequestIDFrom(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.bytes,
				"duration", time.Since(start),
				"peer", peerAddr(r).String(),
			)
		})
	}
}

// Recover turns a handler panic into a 500 reply.
func Recover(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("admin handler panic",
						"request_id", RequestIDFrom(r.Context()),
						"path", r.URL.Path,
						"panic", fmt.Sprint(v))
					reject(w, r, http.StatusInternalServerError, domain.ErrInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ParseAllowList parses IPs and CIDRs. A bare IP becomes a single-address
// prefix.
func ParseAllowList(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("allow list: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("allow list: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// NetworkACL rejects peers outside allow. An empty list allows everyone.
// Only the TCP peer address counts; forwarding headers are ignored.
func NetworkACL(allow []netip.Prefix, logger *slog.Logger) Middleware {
	if len(allow) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer := peerAddr(r)
			for _, p := range allow {
				if p.Contains(peer) {
					next.ServeHTTP(w, r)
					return
				}
			}
			logger.Warn("admin request denied by allow list", "peer", peer.String(), "path", r.URL.Path)
			reject(w, r, http.StatusForbidden, domain.ErrForbidden.WithDetails("address not in allow list"))
		})
	}
}

// peerAddr returns the remote IP, or the zero Addr when RemoteAddr does
// not parse.
func peerAddr(r *http.Request) netip.Addr {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	addr, _ := netip.ParseAddr(r.RemoteAddr)
	return addr.Unmap()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	n, err := s.ResponseWriter.Write(p)
	s.bytes += n
	return n, err
}

// reject writes a middleware refusal in the admin envelope.
func reject(w http.ResponseWriter, r *http.Request, status int, err error) {
	code := domain.GetErrorCode(err)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(handler.NewErrorResponse(r.Header.Get(requestIDHeader), code, err.Error(), nil))
}
