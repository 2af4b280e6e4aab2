// Package buildinfo provides build information for SableDB.
//
// Version, Commit and BuildTime are injected via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/sabledb-go/internal/infra/buildinfo.Version=v1.0.0"
//
// RunID identifies the running process; INFO reports it as run_id.
package buildinfo
