// Package main provides the entry point for sabledb-server.
//
// The server speaks RESP2 on a plaintext and an optional TLS listener and
// can expose an HTTP admin endpoint with /healthz, /metrics and
// /debug/snapshot.
//
// Usage:
//
//	sabledb-server [flags]
//	sabledb-server -config /etc/sabledb/sabledb.yaml
//	sabledb-server -hash-password 's3cret'
//
// Configuration is read from the YAML file and then from SABLEDB_*
// environment variables. Changes to log.level in the file are applied
// without a restart.
package main
