// Package httpserver serves the SableDB admin endpoint.
//
// Routes:
//   - GET /healthz: worker pool health, 503 when a worker is unhealthy
//   - GET /debug/snapshot: build info, counters and per-worker load
//   - GET /metrics: Prometheus exposition
//
// All routes share request IDs, panic recovery, an optional IP allowlist,
// per-IP rate limiting and audit logging. When requirepass is set, every
// route except /healthz needs the password as basic auth or a bearer token.
package httpserver
