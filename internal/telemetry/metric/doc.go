// Package metric provides SableDB's telemetry.
//
//   - stats.go: per-worker counters and the merged, immutable Snapshot
//   - prometheus.go: the Prometheus registry and /metrics handler
//   - collector.go: a Collector that pulls a Snapshot at scrape time
//
// Each worker owns one Stats and is its only writer. Readers (INFO, the
// admin endpoint, scrapes) take snapshots and merge them; nothing on the
// command path takes a lock for telemetry.
package metric
