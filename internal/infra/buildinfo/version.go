// Package buildinfo provides build-time version information.
package buildinfo

import (
	"crypto/rand"
	"runtime"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Build-time variables (set via ldflags).
var (
	// Version is the semantic version.
	Version = "dev"

	// Commit is the git commit hash.
	Commit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"

	// GoVersion is the Go version used to build. Defaults to the runtime's.
	GoVersion = runtime.Version()
)

// runID is fixed for the lifetime of the process.
var runID = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)

// Info contains build information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	RunID     string `json:"run_id"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		RunID:     RunID(),
	}
}

// RunID returns the process run id as 40 lowercase hex characters, the
// shape redis clients expect for run_id.
func RunID() string {
	const hex = "0123456789abcdef"
	var b strings.Builder
	b.Grow(40)
	for _, c := range runID.Bytes() {
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	// A ULID is 16 bytes; repeat the head of its entropy to reach 20.
	for _, c := range runID.Entropy()[:4] {
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built at " + BuildTime
}
