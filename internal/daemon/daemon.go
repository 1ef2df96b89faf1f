package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Krish-357/Academic-Advisor/internal/config"
	"github.com/Krish-357/Academic-Advisor/internal/logger"
	"github.com/Krish-357/Academic-Advisor/internal/observability"
	"github.com/Krish-357/Academic-Advisor/internal/tracing"
	"github.com/Krish-357/Academic-Advisor/pkg/gateway"
	"github.com/Krish-357/Academic-Advisor/pkg/memory"
	"github.com/Krish-357/Academic-Advisor/pkg/orchestrator"
)

// Daemon represents the advisor service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	core          *Core
	gatewayServer *gateway.Server
	watcher       *memory.FileWatcher
	snapshotter   *memory.Snapshotter
	lifecycle     *LifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status reports whether the daemon is serving and for how long.
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Provider  string
	Offline   bool
	Addr      string
}

// New creates a new daemon instance. Nothing listens until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized successfully")
		}
	}

	core, err := BuildCore(context.Background(), cfg, log.GetZerolog())
	if err != nil {
		return nil, err
	}
	d.core = core

	if err := d.initializeServices(); err != nil {
		_ = core.Close()
		return nil, err
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) initializeServices() error {
	cfg := d.config

	gw, err := gateway.NewServer(gateway.Config{
		Host:            cfg.Gateway.Host,
		Port:            cfg.Gateway.Port,
		Handler:         d.core.Orchestrator,
		RateLimit:       cfg.Gateway.RateLimit,
		RateBurst:       cfg.Gateway.RateBurst,
		ShutdownTimeout: cfg.Gateway.ShutdownTimeout(),
		Logger:          d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = gw

	if cfg.Memory.Snapshot.Schedule != "" {
		snap, err := memory.NewSnapshotter(memory.SnapshotConfig{
			Source:   d.core.Store,
			Dir:      cfg.Memory.Snapshot.Dir,
			Schedule: cfg.Memory.Snapshot.Schedule,
			Keep:     cfg.Memory.Snapshot.Keep,
			Logger:   d.logger.Component("snapshot"),
		})
		if err != nil {
			return fmt.Errorf("failed to create snapshotter: %w", err)
		}
		d.snapshotter = snap
	}

	return nil
}

// Start starts the watcher, snapshot schedule and gateway.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting advisor daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.config.Memory.Watch {
		if err := d.startWatcher(); err != nil {
			logger.Warn().Err(err).Msg("Failed to watch memory document, external edits will not be reloaded")
		}
	}

	if d.snapshotter != nil {
		d.snapshotter.Start()
	}

	if err := d.gatewayServer.Start(); err != nil {
		d.stopBackground()
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}

	observability.SetMemoryUsers(len(d.core.Store.Users()))

	logger.Info().
		Str("addr", d.gatewayServer.Addr()).
		Str("provider", d.core.Client.ProviderName()).
		Msg("Daemon started successfully")

	return nil
}

func (d *Daemon) startWatcher() error {
	backend := d.core.Backend()
	if _, ok := backend.(*memory.FileBackend); !ok {
		return fmt.Errorf("memory backend %s cannot be watched", backend.Name())
	}

	path := d.config.Memory.Path
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}

	watcher, err := memory.NewFileWatcher(path, d.core.Store, d.logger.Component("watcher"))
	if err != nil {
		return err
	}
	d.watcher = watcher
	return nil
}

// Stop drains the gateway, then stops background jobs and closes the store.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping advisor daemon")

	var errs []string

	if err := d.gatewayServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
		errs = append(errs, err.Error())
	}

	d.stopBackground()

	if err := d.core.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close memory store")
		errs = append(errs, err.Error())
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
		errs = append(errs, err.Error())
	}

	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to flush traces")
		}
		cancel()
	}

	logger.Info().Msg("Daemon stopped")

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (d *Daemon) stopBackground() {
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to stop memory watcher")
		}
		d.watcher = nil
	}
	if d.snapshotter != nil {
		d.snapshotter.Stop()
	}
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Provider: d.core.Client.ProviderName(),
		Offline:  d.core.Client.Offline(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.gatewayServer.Addr()
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetStore returns the memory store
func (d *Daemon) GetStore() *memory.Store {
	return d.core.Store
}

// GetOrchestrator returns the orchestrator
func (d *Daemon) GetOrchestrator() *orchestrator.Orchestrator {
	return d.core.Orchestrator
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetSnapshotter returns the snapshotter, or nil when no schedule is configured.
func (d *Daemon) GetSnapshotter() *memory.Snapshotter {
	return d.snapshotter
}
