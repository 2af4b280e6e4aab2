// Package handler provides the admin HTTP endpoints of the server.
//
//   - health.go: liveness derived from worker heartbeats
//   - snapshot.go: JSON dump of connection telemetry and worker state
//
// Responses use a common JSON envelope (see Response).
package handler
