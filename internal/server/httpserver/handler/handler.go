package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yndnr/sabledb-go/internal/telemetry/metric"
)

// Source is what the admin endpoints report on. The worker manager
// implements it.
type Source interface {
	metric.Source
	Healthy() bool
}

// KeyCounter reports the size of the key space. It is optional.
type KeyCounter interface {
	Count(ctx context.Context) (int, error)
}

// Handler serves the admin endpoints.
type Handler struct {
	src    Source
	keys   KeyCounter
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Handler. keys may be nil.
func New(src Source, keys KeyCounter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		src:    src,
		keys:   keys,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /healthz", h.handleHealthz)
	h.mux.HandleFunc("GET /debug/snapshot", h.handleSnapshot)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)
	response := NewResponse(requestID, data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := getRequestID(r)
	response := NewErrorResponse(requestID, code, message, details)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// getRequestID returns the id the RequestID middleware put on the
// request, if any.
func getRequestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}
