// Package config defines the server configuration structure.
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/yndnr/sabledb-go/internal/core/domain"
	"github.com/yndnr/sabledb-go/internal/core/service"
)

// MinMaxFrameSize is the smallest accepted server.max_frame_size.
const MinMaxFrameSize = 64

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyBlocking(&cfg.Blocking); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifySecurity(&cfg.Security); err != nil {
		return err
	}
	if cfg.Admin.Addr != "" {
		if err := verifyAddr("admin.addr", cfg.Admin.Addr); err != nil {
			return err
		}
	}
	if cfg.Admin.RateLimit < 0 {
		return invalid("admin.rate_limit must be >= 0, got %d", cfg.Admin.RateLimit)
	}
	for _, entry := range cfg.Admin.AllowList {
		if _, _, err := net.ParseCIDR(entry); err != nil && net.ParseIP(entry) == nil {
			return invalid("admin.allow_list entry %q is neither an IP nor a CIDR", entry)
		}
	}
	return verifyLog(&cfg.Log)
}

func invalid(format string, args ...any) error {
	return domain.ErrConfigInvalid.WithDetails(fmt.Sprintf(format, args...))
}

func verifyAddr(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return invalid("%s %q: %v", field, addr, err)
	}
	return nil
}

func verifyServer(cfg *ServerSection) error {
	if cfg.Addr == "" && !cfg.TLSEnabled {
		return invalid("server.addr is empty and TLS is disabled; nothing to listen on")
	}
	if cfg.Addr != "" {
		if err := verifyAddr("server.addr", cfg.Addr); err != nil {
			return err
		}
	}
	if cfg.TLSEnabled {
		if err := verifyAddr("server.tls_addr", cfg.TLSAddr); err != nil {
			return err
		}
		if cfg.TLSAddr == cfg.Addr {
			return invalid("server.tls_addr must differ from server.addr")
		}
		for field, path := range map[string]string{
			"server.tls_cert_file": cfg.TLSCertFile,
			"server.tls_key_file":  cfg.TLSKeyFile,
		} {
			if path == "" {
				return invalid("%s is required when TLS is enabled", field)
			}
			if _, err := os.Stat(path); err != nil {
				return invalid("%s: %v", field, err)
			}
		}
		if cfg.TLSCAFile != "" {
			if _, err := os.Stat(cfg.TLSCAFile); err != nil {
				return invalid("server.tls_ca_file: %v", err)
			}
		}
	}
	if cfg.UnixSocket != "" && (cfg.UnixSocketPerm == 0 || cfg.UnixSocketPerm > 0o777) {
		return invalid("server.unix_socket_perm %o is not a valid file mode", cfg.UnixSocketPerm)
	}
	if cfg.Workers < 0 {
		return invalid("server.workers must not be negative")
	}
	if cfg.MaxFrameSize < MinMaxFrameSize {
		return invalid("server.max_frame_size must be at least %d", MinMaxFrameSize)
	}
	if cfg.MaxClients < 0 {
		return invalid("server.max_clients must not be negative")
	}
	if cfg.ReadTimeout <= 0 || cfg.WriteTimeout <= 0 {
		return invalid("server.read_timeout and server.write_timeout must be positive")
	}
	if cfg.IdleTimeout < 0 {
		return invalid("server.idle_timeout must not be negative")
	}
	if cfg.HeartbeatInterval <= 0 {
		return invalid("server.heartbeat_interval must be positive")
	}
	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return invalid("server.heartbeat_timeout must exceed server.heartbeat_interval")
	}
	if cfg.ShutdownGrace < 0 {
		return invalid("server.shutdown_grace must not be negative")
	}
	if cfg.RateLimit < 0 {
		return invalid("server.rate_limit must not be negative")
	}
	return nil
}

func verifyBlocking(cfg *BlockingSection) error {
	if cfg.DefaultTimeout < 0 {
		return invalid("blocking.default_timeout must not be negative")
	}
	if cfg.SweepInterval <= 0 {
		return invalid("blocking.sweep_interval must be positive")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	switch cfg.Engine {
	case EngineMemory:
		if cfg.Memory.Shards <= 0 || cfg.Memory.Shards&(cfg.Memory.Shards-1) != 0 {
			return invalid("storage.memory.shards must be a power of two")
		}
		if cfg.Memory.ExpireInterval <= 0 {
			return invalid("storage.memory.expire_interval must be positive")
		}
	case EngineBadger:
		if cfg.DataDir == "" {
			return invalid("storage.data_dir is required for the badger engine")
		}
		if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
			return invalid("cannot create data directory: %v", err)
		}
		if cfg.Badger.GCThreshold <= 0 || cfg.Badger.GCThreshold >= 1 {
			return invalid("storage.badger.gc_threshold must be in (0, 1)")
		}
		if cfg.Badger.GCInterval <= 0 {
			return invalid("storage.badger.gc_interval must be positive")
		}
	default:
		return invalid("storage.engine %q: want %q or %q", cfg.Engine, EngineMemory, EngineBadger)
	}

	if cfg.Breaker.Enabled {
		if cfg.Breaker.ConsecutiveFailures == 0 {
			return invalid("storage.breaker.consecutive_failures must be positive")
		}
		if cfg.Breaker.Timeout <= 0 {
			return invalid("storage.breaker.timeout must be positive")
		}
	}
	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	if cfg.RequirePassHash != "" {
		if err := service.ValidatePasswordHash(cfg.RequirePassHash); err != nil {
			return err
		}
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q: want debug, info, warn or error", cfg.Level)
	}
	switch cfg.Format {
	case "json", "text":
	default:
		return invalid("log.format %q: want json or text", cfg.Format)
	}
	return nil
}
