// Package config defines the server configuration structure.
package config

import "time"

// Default configuration values.
const (
	DefaultAddr    = "127.0.0.1:6379"
	DefaultTLSAddr = "127.0.0.1:6380"

	DefaultUnixSocketPerm = 0o700

	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultMaxFrameSize      = 512 * 1024 * 1024
	DefaultHeartbeatInterval = 500 * time.Millisecond
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultShutdownGrace     = 10 * time.Second

	DefaultBlockingTimeout = 0
	DefaultSweepInterval   = 100 * time.Millisecond

	DefaultEngine         = EngineMemory
	DefaultDataDir        = "/var/lib/sabledb/data"
	DefaultGCInterval     = 5 * time.Minute
	DefaultGCThreshold    = 0.5
	DefaultCacheSizeMB    = 256
	DefaultMemoryShards   = 64
	DefaultExpireInterval = 100 * time.Millisecond

	DefaultBreakerMaxRequests = 1
	DefaultBreakerInterval    = 60 * time.Second
	DefaultBreakerTimeout     = 30 * time.Second
	DefaultBreakerFailures    = 5

	DefaultAdminRateLimit = 100

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Storage engine names.
const (
	EngineMemory = "memory"
	EngineBadger = "badger"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Addr:              DefaultAddr,
			TLSAddr:           DefaultTLSAddr,
			UnixSocketPerm:    DefaultUnixSocketPerm,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			MaxFrameSize:      DefaultMaxFrameSize,
			HeartbeatInterval: DefaultHeartbeatInterval,
			HeartbeatTimeout:  DefaultHeartbeatTimeout,
			ShutdownGrace:     DefaultShutdownGrace,
		},
		Blocking: BlockingSection{
			DefaultTimeout: DefaultBlockingTimeout,
			SweepInterval:  DefaultSweepInterval,
		},
		Storage: StorageSection{
			Engine:  DefaultEngine,
			DataDir: DefaultDataDir,
			Badger: BadgerConfig{
				GCInterval:  DefaultGCInterval,
				GCThreshold: DefaultGCThreshold,
				CacheSizeMB: DefaultCacheSizeMB,
			},
			Breaker: BreakerConfig{
				Enabled:             true,
				MaxRequests:         DefaultBreakerMaxRequests,
				Interval:            DefaultBreakerInterval,
				Timeout:             DefaultBreakerTimeout,
				ConsecutiveFailures: DefaultBreakerFailures,
			},
			Memory: MemoryConfig{
				Shards:         DefaultMemoryShards,
				ExpireInterval: DefaultExpireInterval,
			},
		},
		Admin: AdminSection{
			RateLimit: DefaultAdminRateLimit,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
