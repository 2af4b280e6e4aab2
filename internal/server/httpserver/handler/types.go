package handler

import (
	"time"

	"github.com/yndnr/sabledb-go/internal/infra/buildinfo"
	"github.com/yndnr/sabledb-go/internal/telemetry/metric"
)

// Response is the standard response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string         `json:"status"`
	Time    string         `json:"time"`
	Workers []WorkerHealth `json:"workers"`
}

// WorkerHealth is one worker in a health or snapshot response.
type WorkerHealth struct {
	ID      int  `json:"id"`
	Clients int  `json:"clients"`
	Healthy bool `json:"healthy"`
}

// SnapshotResponse is the body of GET /debug/snapshot.
type SnapshotResponse struct {
	Build          buildinfo.Info  `json:"build"`
	Stats          metric.Snapshot `json:"stats"`
	Workers        []WorkerHealth  `json:"workers"`
	WaitingClients int             `json:"waiting_clients"`
	KeyCount       *int            `json:"key_count,omitempty"`
}

func workerViews(ws []metric.WorkerStatus) []WorkerHealth {
	out := make([]WorkerHealth, len(ws))
	for i, w := range ws {
		out[i] = WorkerHealth{ID: w.ID, Clients: w.Clients, Healthy: w.Healthy}
	}
	return out
}
