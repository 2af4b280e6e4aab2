// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for sabledb-server.
//
// It is read once at startup and treated as immutable afterwards; only
// log.level is re-applied by the file watcher.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Blocking BlockingSection `koanf:"blocking"`
	Storage  StorageSection  `koanf:"storage"`
	Security SecuritySection `koanf:"security"`
	Admin    AdminSection    `koanf:"admin"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures the RESP listener and the worker pool.
type ServerSection struct {
	// Addr is the plaintext RESP address. Empty disables it.
	Addr string `koanf:"addr"`

	TLSEnabled  bool   `koanf:"tls_enabled"`
	TLSAddr     string `koanf:"tls_addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
	// TLSCAFile turns on client certificate verification against the
	// given CA bundle (file or directory).
	TLSCAFile string `koanf:"tls_ca_file"`

	// UnixSocket is an extra RESP listener on a Unix domain socket. Empty
	// disables it.
	UnixSocket     string `koanf:"unix_socket"`
	UnixSocketPerm uint32 `koanf:"unix_socket_perm"`

	// Workers is the number of worker goroutines. 0 means GOMAXPROCS.
	Workers int `koanf:"workers"`

	// ReadTimeout bounds how long a partially received frame may stay
	// incomplete (slowloris protection).
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// IdleTimeout closes connections idle this long. 0 disables it.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// MaxFrameSize is the largest accepted request frame in bytes.
	MaxFrameSize int `koanf:"max_frame_size"`
	// MaxClients caps concurrent connections. 0 means unlimited.
	MaxClients int `koanf:"max_clients"`

	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	// HeartbeatTimeout is how stale a worker heartbeat may get before the
	// worker is declared failed.
	HeartbeatTimeout time.Duration `koanf:"heartbeat_timeout"`

	ShutdownGrace time.Duration `koanf:"shutdown_grace"`

	// RateLimit is the maximum commands per second per client IP. 0 disables it.
	RateLimit int `koanf:"rate_limit"`
}

// BlockingSection configures blocking commands.
type BlockingSection struct {
	// DefaultTimeout applies when a client passes timeout 0. 0 waits forever.
	DefaultTimeout time.Duration `koanf:"default_timeout"`
	// SweepInterval is the resolution of blocking deadlines.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// StorageSection configures the storage engine.
type StorageSection struct {
	// Engine is "memory" or "badger".
	Engine  string        `koanf:"engine"`
	DataDir string        `koanf:"data_dir"`
	Badger  BadgerConfig  `koanf:"badger"`
	Breaker BreakerConfig `koanf:"breaker"`
	Memory  MemoryConfig  `koanf:"memory"`
}

// BadgerConfig tunes the persistent engine.
type BadgerConfig struct {
	GCInterval  time.Duration `koanf:"gc_interval"`
	GCThreshold float64       `koanf:"gc_threshold"`
	CacheSizeMB int64         `koanf:"cache_size_mb"`
	SyncWrites  bool          `koanf:"sync_writes"`
}

// BreakerConfig tunes the circuit breaker in front of the storage engine.
type BreakerConfig struct {
	Enabled bool `koanf:"enabled"`
	// MaxRequests allowed while half-open.
	MaxRequests uint32 `koanf:"max_requests"`
	// Interval clears failure counts while closed.
	Interval time.Duration `koanf:"interval"`
	// Timeout is how long the breaker stays open.
	Timeout time.Duration `koanf:"timeout"`
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32 `koanf:"consecutive_failures"`
}

// MemoryConfig tunes the in-memory engine.
type MemoryConfig struct {
	Shards         int           `koanf:"shards"`
	ExpireInterval time.Duration `koanf:"expire_interval"`
}

// SecuritySection configures client authentication.
type SecuritySection struct {
	// RequirePass enables AUTH with a plaintext password.
	RequirePass string `koanf:"requirepass"`
	// RequirePassHash enables AUTH with an argon2id hash
	// ("$argon2id$v=19$m=...,t=...,p=...$salt$hash"). Takes precedence.
	RequirePassHash string `koanf:"requirepass_hash"`
}

// AuthEnabled reports whether clients must AUTH.
func (s SecuritySection) AuthEnabled() bool {
	return s.RequirePass != "" || s.RequirePassHash != ""
}

// AdminSection configures the HTTP admin endpoint.
type AdminSection struct {
	// Addr serves /metrics and /healthz. Empty disables it.
	Addr string `koanf:"addr"`
	// AllowList restricts the admin endpoint to these IPs or CIDRs.
	AllowList []string `koanf:"allow_list"`
	// RateLimit is requests per second per IP. 0 disables it.
	RateLimit int  `koanf:"rate_limit"`
	Audit     bool `koanf:"audit"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
