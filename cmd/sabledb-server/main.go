package main

import (
	"context"
	"crypto/x509"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/sabledb-go/internal/core/service"
	"github.com/yndnr/sabledb-go/internal/infra/buildinfo"
	"github.com/yndnr/sabledb-go/internal/infra/confloader"
	"github.com/yndnr/sabledb-go/internal/infra/shutdown"
	"github.com/yndnr/sabledb-go/internal/infra/tlsroots"
	"github.com/yndnr/sabledb-go/internal/server/config"
	"github.com/yndnr/sabledb-go/internal/server/httpserver"
	"github.com/yndnr/sabledb-go/internal/server/localserver"
	"github.com/yndnr/sabledb-go/internal/server/redisserver"
	"github.com/yndnr/sabledb-go/internal/storage"
	"github.com/yndnr/sabledb-go/internal/storage/memory"
	"github.com/yndnr/sabledb-go/internal/telemetry/logger"
	"github.com/yndnr/sabledb-go/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile   = flag.String("config", "", "Path to configuration file")
		showVersion  = flag.Bool("version", false, "Show version information")
		hashPassword = flag.String("hash-password", "", "Print an argon2id hash for security.requirepass_hash and exit")
		addr         = flag.String("addr", "", "RESP listen address (overrides server.addr)")
		workers      = flag.Int("workers", 0, "Worker count (overrides server.workers)")
		logLevel     = flag.String("log-level", "", "Log level (overrides log.level)")
		engineName   = flag.String("engine", "", "Storage engine, memory or badger (overrides storage.engine)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("sabledb-server %s\n", buildinfo.String())
		return nil
	}
	if *hashPassword != "" {
		hash, err := service.HashPassword(*hashPassword)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	}

	// Only flags given on the command line override the file.
	overrides := make(map[string]any)
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			overrides["server.addr"] = *addr
		case "workers":
			overrides["server.workers"] = *workers
		case "log-level":
			overrides["log.level"] = *logLevel
		case "engine":
			overrides["storage.engine"] = *engineName
		}
	})
	loader := confloader.New(confloader.WithFile(*configFile), confloader.WithOverrides(overrides))
	cfg, err := loadConfig(loader)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(log)

	info := buildinfo.Get()
	log.Info("starting sabledb-server",
		"version", info.Version,
		"commit", info.Commit,
		"run_id", info.RunID,
		"config", *configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	registry := metric.NewRegistry()
	registry.SetBuildInfo(info.Version, info.Commit, info.GoVersion, info.RunID)

	engine, err := initStorage(cfg, registry, log)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	auth, err := service.NewAuthService(service.AuthServiceConfig{
		Password:     cfg.Security.RequirePass,
		PasswordHash: cfg.Security.RequirePassHash,
		RateLimit:    cfg.Server.RateLimit,
	})
	if err != nil {
		_ = engine.Close()
		return fmt.Errorf("init auth: %w", err)
	}

	shutdownHandler := shutdown.New(cfg.Server.ShutdownGrace+5*time.Second, shutdown.WithLogger(log))
	shutdownHandler.OnShutdown("storage", func(context.Context) error {
		return engine.Close()
	})

	serverCfg := redisserver.FromServerConfig(cfg)
	if cfg.Server.TLSEnabled {
		certs, err := tlsroots.NewWatcher(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile,
			tlsroots.WithLogger(log))
		if err != nil {
			_ = engine.Close()
			return fmt.Errorf("load tls certificate: %w", err)
		}
		certs.StartAsync()
		shutdownHandler.OnShutdown("tls certificate watcher", func(context.Context) error {
			certs.Stop()
			return nil
		})
		var clientCAs *x509.CertPool
		if cfg.Server.TLSCAFile != "" {
			if clientCAs, err = tlsroots.LoadPool(false, cfg.Server.TLSCAFile); err != nil {
				certs.Stop()
				_ = engine.Close()
				return fmt.Errorf("load client CAs: %w", err)
			}
		}
		serverCfg.TLSConfig = tlsroots.ServerConfig(certs.GetCertificate, clientCAs)
	}

	srv := redisserver.New(serverCfg, engine,
		redisserver.WithLogger(log),
		redisserver.WithAuth(auth),
		redisserver.WithMetrics(registry),
	)
	if err := registry.Register(metric.NewCollector(srv.Manager())); err != nil {
		_ = engine.Close()
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		_ = engine.Close()
		return err
	}
	shutdownHandler.OnShutdown("resp server", srv.Shutdown)
	log.Info("RESP server listening", "addr", srv.Addr(), "tls_addr", srv.TLSAddr())

	if path := cfg.Server.UnixSocket; path != "" {
		local := localserver.New(path, fs.FileMode(cfg.Server.UnixSocketPerm), srv.Manager(), log)
		if err := local.ListenAndServe(); err != nil {
			shutdownHandler.Trigger("unix socket failed")
			_ = shutdownHandler.Wait()
			return fmt.Errorf("unix socket: %w", err)
		}
		shutdownHandler.OnShutdown("unix socket", local.Shutdown)
		log.Info("RESP unix socket listening", "path", path)
	}

	var g errgroup.Group
	if cfg.Admin.Addr != "" {
		admin, ln, err := newAdminServer(cfg, srv, engine, registry, auth, log)
		if err != nil {
			shutdownHandler.Trigger("admin listener failed")
			_ = shutdownHandler.Wait()
			return err
		}
		shutdownHandler.OnShutdown("admin server", admin.Shutdown)
		g.Go(func() error {
			log.Info("admin server listening", "addr", ln.Addr().String())
			if err := admin.Serve(ln); err != nil {
				log.Error("admin server error", "error", err)
				shutdownHandler.Trigger("admin server failed")
				return err
			}
			return nil
		})
	}

	if loader.Path() != "" {
		cw, err := newConfigWatcher(loader, log)
		if err != nil {
			log.Warn("config file watcher disabled", "error", err)
		} else {
			watchCtx, stopWatch := context.WithCancel(ctx)
			shutdownHandler.OnShutdown("config watcher", func(context.Context) error {
				stopWatch()
				return nil
			})
			g.Go(func() error { return cw.Run(watchCtx) })
		}
	}

	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment.
func loadConfig(loader *confloader.Loader) (*config.ServerConfig, error) {
	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newConfigWatcher re-applies log.level whenever the config file changes.
// Everything else requires a restart.
func newConfigWatcher(loader *confloader.Loader, log *slog.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Add(loader.Path()); err != nil {
		_ = w.Close()
		return nil, err
	}
	w.OnChange(func(string) {
		cfg, err := loadConfig(loader)
		if err != nil {
			log.Warn("ignoring invalid config change", "error", err)
			return
		}
		if from := logger.Level(); cfg.Log.Level != from {
			if err := logger.SetLevel(cfg.Log.Level); err != nil {
				log.Warn("ignoring log level change", "error", err)
				return
			}
			log.Info("log level changed", "from", from, "to", cfg.Log.Level)
		}
	})
	return w, nil
}

// initStorage opens the configured engine and wraps it in the circuit
// breaker when enabled.
func initStorage(cfg *config.ServerConfig, registry *metric.Registry, log *slog.Logger) (storage.Engine, error) {
	var engine storage.Engine
	switch cfg.Storage.Engine {
	case config.EngineBadger:
		bc := storage.DefaultBadgerConfig(cfg.Storage.DataDir)
		bc.GCInterval = cfg.Storage.Badger.GCInterval
		bc.GCThreshold = cfg.Storage.Badger.GCThreshold
		bc.CacheSize = cfg.Storage.Badger.CacheSizeMB << 20
		bc.SyncWrites = cfg.Storage.Badger.SyncWrites
		be, err := storage.NewBadgerEngine(bc, log)
		if err != nil {
			return nil, err
		}
		engine = be.RegisterMetrics(registry.Prometheus())
	default:
		engine = memory.New(
			memory.WithShards(cfg.Storage.Memory.Shards),
			memory.WithExpireInterval(cfg.Storage.Memory.ExpireInterval),
			memory.WithLogger(log),
		)
	}
	log.Info("storage engine ready", "engine", cfg.Storage.Engine)

	if !cfg.Storage.Breaker.Enabled {
		return engine, nil
	}
	b := cfg.Storage.Breaker
	return storage.NewGuard(engine, storage.BreakerConfig{
		MaxRequests:         b.MaxRequests,
		Interval:            b.Interval,
		Timeout:             b.Timeout,
		ConsecutiveFailures: b.ConsecutiveFailures,
	}, log), nil
}

// newAdminServer binds the admin listener so a bad address fails startup.
func newAdminServer(cfg *config.ServerConfig, srv *redisserver.Server, keys storage.Engine,
	registry *metric.Registry, auth *service.AuthService, log *slog.Logger) (*httpserver.Server, net.Listener, error) {
	allow, err := httpserver.ParseAllowList(cfg.Admin.AllowList)
	if err != nil {
		return nil, nil, err
	}
	ln, err := net.Listen("tcp", cfg.Admin.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen admin %s: %w", cfg.Admin.Addr, err)
	}
	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Source:      srv.Manager(),
		Keys:        keys,
		Metrics:     registry,
		Auth:        auth,
		Logger:      log,
		AllowList:   allow,
		RateLimit:   cfg.Admin.RateLimit,
		EnableAudit: cfg.Admin.Audit,
	})
	return httpserver.New(cfg.Admin.Addr, router), ln, nil
}
