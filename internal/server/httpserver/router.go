package httpserver

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/yndnr/sabledb-go/internal/core/service"
	"github.com/yndnr/sabledb-go/internal/server/httpserver/handler"
	"github.com/yndnr/sabledb-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the admin router.
type RouterConfig struct {
	// Source reports worker pool state.
	Source handler.Source

	// Keys counts stored keys for /debug/snapshot. Optional.
	Keys handler.KeyCounter

	// Metrics is served on /metrics. Optional.
	Metrics *metric.Registry

	// Auth guards /metrics and /debug/snapshot when a password is set.
	Auth *service.AuthService

	Logger *slog.Logger

	// AllowList restricts peers. Empty allows everyone. See ParseAllowList.
	AllowList []netip.Prefix

	// RateLimit is the per-IP rate limit (requests/second, 0 = off).
	RateLimit int

	// EnableAudit logs every request.
	EnableAudit bool
}

// NewRouter builds the admin mux.
//
// /healthz stays open so load balancers can check it without credentials;
// the other routes go through AdminAuth.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := handler.New(cfg.Source, cfg.Keys, log)

	base := []Middleware{RequestID()}
	if cfg.EnableAudit {
		// Outside the ACL and limiter so refusals are logged too.
		base = append(base, Audit(log))
	}
	base = append(base, Recover(log), NetworkACL(cfg.AllowList, log), RateLimit(cfg.RateLimit))
	protected := append(append([]Middleware{}, base...), AdminAuth(cfg.Auth))

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", Chain(h, base...))
	mux.Handle("GET /debug/snapshot", Chain(h, protected...))
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics.Handler(), protected...))
	}
	return mux
}
