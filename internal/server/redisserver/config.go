package redisserver

import (
	"crypto/tls"
	"runtime"
	"time"

	"github.com/yndnr/sabledb-go/internal/server/config"
)

// Config holds the RESP server configuration.
type Config struct {
	// Addr is the plaintext listener address. Empty disables it.
	Addr string
	// TLSEnabled enables the TLS listener.
	TLSEnabled bool
	// TLSAddr is the address for the TLS listener.
	TLSAddr string
	// TLSConfig is the TLS configuration (required if TLSEnabled is true).
	TLSConfig *tls.Config

	// Workers is the number of worker goroutines. 0 means GOMAXPROCS.
	Workers int

	// ReadTimeout bounds how long a frame may stay incomplete once its
	// first byte arrived. Helps prevent slowloris attacks.
	ReadTimeout time.Duration
	// WriteTimeout is the deadline for flushing replies.
	WriteTimeout time.Duration
	// IdleTimeout closes connections without traffic. 0 disables it.
	IdleTimeout time.Duration

	MaxFrameSize int
	// MaxClients caps concurrent connections. 0 means unlimited.
	MaxClients int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ShutdownGrace     time.Duration

	// BlockingDefaultTimeout applies when a blocking command passes 0.
	// 0 waits forever.
	BlockingDefaultTimeout time.Duration
	// SweepInterval is the resolution of blocking deadlines.
	SweepInterval time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:              config.DefaultAddr,
		TLSAddr:           config.DefaultTLSAddr,
		ReadTimeout:       config.DefaultReadTimeout,
		WriteTimeout:      config.DefaultWriteTimeout,
		IdleTimeout:       config.DefaultIdleTimeout,
		MaxFrameSize:      config.DefaultMaxFrameSize,
		HeartbeatInterval: config.DefaultHeartbeatInterval,
		HeartbeatTimeout:  config.DefaultHeartbeatTimeout,
		ShutdownGrace:     config.DefaultShutdownGrace,
		SweepInterval:     config.DefaultSweepInterval,
	}
}

// FromServerConfig derives the listener configuration from the loaded
// server configuration. TLSConfig is left for the caller to fill in.
func FromServerConfig(sc *config.ServerConfig) *Config {
	s := sc.Server
	return &Config{
		Addr:                   s.Addr,
		TLSEnabled:             s.TLSEnabled,
		TLSAddr:                s.TLSAddr,
		Workers:                s.Workers,
		ReadTimeout:            s.ReadTimeout,
		WriteTimeout:           s.WriteTimeout,
		IdleTimeout:            s.IdleTimeout,
		MaxFrameSize:           s.MaxFrameSize,
		MaxClients:             s.MaxClients,
		HeartbeatInterval:      s.HeartbeatInterval,
		HeartbeatTimeout:       s.HeartbeatTimeout,
		ShutdownGrace:          s.ShutdownGrace,
		BlockingDefaultTimeout: sc.Blocking.DefaultTimeout,
		SweepInterval:          sc.Blocking.SweepInterval,
	}
}

// withDefaults fills zero values so a hand-built Config is usable.
func (c *Config) withDefaults() *Config {
	out := *c
	d := DefaultConfig()
	if out.Workers <= 0 {
		out.Workers = runtime.GOMAXPROCS(0)
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = d.ReadTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.MaxFrameSize <= 0 {
		out.MaxFrameSize = d.MaxFrameSize
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = d.HeartbeatInterval
	}
	if out.HeartbeatTimeout <= out.HeartbeatInterval {
		out.HeartbeatTimeout = 10 * out.HeartbeatInterval
	}
	if out.ShutdownGrace <= 0 {
		out.ShutdownGrace = d.ShutdownGrace
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = d.SweepInterval
	}
	return &out
}
