package daemon

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/siavashhub/lemonade/internal/api"
	"github.com/siavashhub/lemonade/internal/health"
	"github.com/siavashhub/lemonade/internal/infra/beacon"
	"github.com/siavashhub/lemonade/internal/infra/engine"
	_ "github.com/siavashhub/lemonade/internal/infra/metrics" // register Prometheus collectors
	"github.com/siavashhub/lemonade/internal/infra/registry"
	"github.com/siavashhub/lemonade/internal/infra/singleinstance"
	"github.com/siavashhub/lemonade/internal/infra/sqlite"
)

// Daemon is the core Lemonade runtime. It wires together the router,
// model store, model manager, health checker, and discovery beacon.
type Daemon struct {
	Config  Config
	DB      *sqlite.DB
	Models  *registry.Manager
	Manager *engine.ModelManager
	Server  *api.Server
	Health  *health.Checker
	Beacon  *beacon.Beacon

	lockHandle *singleinstance.Handle
	cancel     context.CancelFunc
}

// New creates and initializes a Daemon using the config found on disk (or
// defaults if absent).
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	home := LemonadeHome()

	var handle *singleinstance.Handle
	if cfg.SingleInstance.Enabled {
		h, err := singleinstance.Acquire(cfg.SingleInstance.Name)
		if err != nil {
			return nil, fmt.Errorf("another lemonade instance is already running: %w", err)
		}
		handle = h
	}

	d, err := buildDaemon(cfg, home)
	if err != nil {
		return nil, err
	}
	d.lockHandle = handle
	return d, nil
}

func buildDaemon(cfg Config, home string) (*Daemon, error) {
	db, err := sqlite.Open(home)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	modelsDir := cfg.Models.Dir
	models := registry.NewManager(modelsDir, db)
	if err := models.Init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init model store: %w", err)
	}

	binaryPaths := engine.BinaryPaths{
		LlamaServer:   resolveLlamaServer(cfg),
		WhisperServer: cfg.Inference.WhisperServerPath,
		OGAServer:     cfg.Inference.OGAServerPath,
		RyzenAIServer: cfg.Inference.RyzenAIServerPath,
		FLMServer:     cfg.Inference.FLMServerPath,
	}
	factory := engine.NewBackendFactory(binaryPaths, cfg.Inference.ApproximateTokens)

	manager, err := engine.NewModelManager(models, cfg.ClassCapacities(), factory)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init model manager: %w", err)
	}

	checker := health.NewChecker(db, modelsDir, manager)

	srv := api.NewServer(manager, models, checker)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	d := &Daemon{
		Config:  cfg,
		DB:      db,
		Models:  models,
		Manager: manager,
		Server:  srv,
		Health:  checker,
	}

	if cfg.Beacon.Enabled {
		d.Beacon = beacon.New()
	}

	return d, nil
}

// resolveLlamaServer auto-downloads llama-server into <home>/bin when the
// configured path does not exist, mirroring the bundled-binary expectation
// of a single-process local install.
func resolveLlamaServer(cfg Config) string {
	path := cfg.Inference.LlamaServerPath
	if _, err := os.Stat(path); err == nil {
		return path
	}

	downloaded, err := engine.DownloadLlamaServer(LemonadeHome(), func(status string, pct float64) {
		fmt.Fprintf(os.Stderr, "\r  %-70s", status)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n  WARNING: could not auto-download llama-server: %v\n", err)
		fmt.Fprintf(os.Stderr, "  install it manually at %s\n", path)
		return path
	}
	fmt.Fprintf(os.Stderr, "\n")
	return downloaded
}

// Serve starts the HTTP server and background services, blocking until
// shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)

	if d.Beacon != nil {
		addr := fmt.Sprintf("http://%s:%d", d.Config.API.Host, d.Config.API.Port)
		payload := beacon.DefaultPayload(addr)
		if err := d.Beacon.StartBroadcasting(d.Config.Beacon.Port, payload, d.Config.Beacon.IntervalSeconds); err != nil {
			slog.Warn("beacon start failed", "error", err)
		}
	}

	d.Server.OnShutdown(func() {
		if d.cancel != nil {
			d.cancel()
		}
	})

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     d.Server.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if d.Beacon != nil {
			d.Beacon.StopBroadcasting()
		}
		d.Manager.UnloadAll(shutdownCtx)
		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	log.Printf("lemonade serving on http://%s", addr)
	if d.Config.Telemetry.Prometheus {
		log.Printf("  metrics: http://%s/metrics", addr)
	}
	if d.Beacon != nil {
		log.Printf("  beacon: broadcasting on UDP port %d every %.1fs", d.Config.Beacon.Port, d.Config.Beacon.IntervalSeconds)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources without waiting for a signal.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Beacon != nil {
		d.Beacon.StopBroadcasting()
	}
	if d.Manager != nil {
		d.Manager.UnloadAll(context.Background())
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
