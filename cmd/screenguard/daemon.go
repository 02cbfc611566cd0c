package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"screenguard/internal/config"
	"screenguard/internal/health"
	"screenguard/internal/ipc"
	"screenguard/internal/journal"
	"screenguard/internal/logging"
	"screenguard/internal/metrics"
	"screenguard/internal/notify"
	"screenguard/internal/overlay"
	"screenguard/internal/router"
)

// Daemon owns the overlay service and everything that reports on it.
type Daemon struct {
	loader *config.Loader
	logger *logging.Logger
	crash  *logging.CrashHandler

	pid      *ipc.PidLock
	journal  *journal.Journal
	writer   *journal.Writer
	metrics  *metrics.ScreenguardMetrics
	web      *metrics.Server
	health   *health.Checker
	notifier notify.Notifier
	overlay  *overlay.Service
	server   *ipc.Server

	startedAt time.Time
}

// NewDaemon builds the daemon from a loaded configuration. Nothing listens
// until Start.
func NewDaemon(loader *config.Loader, logger *logging.Logger) (*Daemon, error) {
	cfg := loader.Config()
	d := &Daemon{
		loader:    loader,
		logger:    logger,
		crash:     logging.NewCrashHandler(filepath.Join(config.DataDir(), "crash"), "screenguard", logger.Logger),
		metrics:   metrics.NewScreenguardMetrics(nil),
		health:    health.NewChecker(),
		startedAt: time.Now(),
	}

	if cfg.IPC.Enabled && cfg.IPC.PidFile != "" {
		lock, err := ipc.AcquirePidLock(cfg.IPC.PidFile)
		if err != nil {
			if errors.Is(err, ipc.ErrLocked) {
				pid, _ := ipc.ReadPid(cfg.IPC.PidFile)
				return nil, fmt.Errorf("screenguard already running (pid %d)", pid)
			}
			return nil, err
		}
		d.pid = lock
	}

	observers := router.Observers{d.metrics}
	if cfg.Journal.Enabled {
		if err := d.openJournal(cfg); err != nil {
			d.release()
			return nil, err
		}
		if d.writer != nil {
			observers = append(observers, d.writer)
		}
	}

	d.overlay = overlay.New(cfg.RouterConfig(),
		overlay.WithLogger(logger.WithComponent("overlay").Logger),
		overlay.WithObserver(observers),
	)
	d.notifier = notify.New(cfg.Notify.Enabled, d.overlay.IsActive, logger.WithComponent("notify").Logger)

	if cfg.IPC.Enabled {
		scfg := ipc.DefaultServerConfig(config.RuntimeDir())
		scfg.SocketPath = cfg.IPC.SocketPath
		scfg.Mode = cfg.SocketMode()
		scfg.Version = Version
		scfg.MaxConnections = cfg.IPC.MaxConnections
		if cfg.IPC.TimeoutSec > 0 {
			scfg.ReadTimeout = time.Duration(cfg.IPC.TimeoutSec) * time.Second
		}
		scfg.Logger = logger.WithComponent("ipc").Logger
		scfg.Crash = d.crash

		handler := ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
			Version:   Version,
			StartedAt: d.startedAt,
			Overlay:   d.overlay,
			Journal:   d.journal,
			Metrics:   d.metrics,
			Config:    func() (*config.Config, string) { return d.loader.Config(), d.loader.Path() },
			Reload:    d.loader.Reload,
			Clients:   func() int { return d.server.ClientCount() },
			Logger:    logger.WithComponent("ipc").Logger,
		})
		d.server = ipc.NewServer(scfg, handler)
	}

	d.wire()
	d.registerChecks(cfg)
	return d, nil
}

func (d *Daemon) openJournal(cfg *config.Config) error {
	j, err := journal.Open(cfg.Journal.Path, cfg.Journal.SecretPath)
	switch {
	case errors.Is(err, journal.ErrJournalTampered):
		// Keep the read-only journal so history and verify still answer.
		d.logger.Error("journal failed verification, writes disabled", "path", cfg.Journal.Path, "error", err)
	case err != nil:
		return fmt.Errorf("open journal: %w", err)
	}
	d.journal = j
	if !j.IntegrityOK() {
		return nil
	}

	if cfg.Journal.RetainDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.Journal.RetainDays)
		if n, err := j.Prune(context.Background(), cutoff); err != nil {
			d.logger.Warn("journal prune failed", "error", err)
		} else if n > 0 {
			d.logger.Info("journal pruned", "removed", n, "retain_days", cfg.Journal.RetainDays)
		}
	}

	d.writer = journal.NewWriter(j, 0, d.logger.WithComponent("journal").Logger,
		journal.WithErrorHandler(func(error) { d.metrics.RecordJournalError() }))
	return nil
}

// wire connects overlay lifecycle events to metrics, the desktop bus and
// socket subscribers.
func (d *Daemon) wire() {
	log := d.logger.Logger

	d.overlay.OnActivate(func() {
		d.metrics.RecordActivation()
		if err := d.notifier.Activated(); err != nil {
			log.Warn("activation notification failed", "error", err)
		}
		d.broadcast(ipc.EventActivated, "")
	})
	d.overlay.OnStop(func() {
		d.metrics.RecordDeactivation()
		d.broadcast(ipc.EventStopped, "")
	})
	d.overlay.OnUnlock(func(sig router.Signal) {
		d.metrics.RecordUnlock(sig)
		if err := d.notifier.Unlocked(sig); err != nil {
			log.Warn("unlock notification failed", "error", err)
		}
		d.broadcast(ipc.EventUnlocked, sig.Source.String())
	})

	d.loader.OnChange(func(old, cfg *config.Config) {
		d.overlay.SetConfig(cfg.RouterConfig())
		if level := cfg.LoggerConfig().Level; level != d.logger.Level() {
			d.logger.SetLevel(level)
		}
		log.Info("configuration reloaded", "path", d.loader.Path())
		d.broadcast(ipc.EventConfigReloaded, "")
	})
}

func (d *Daemon) registerChecks(cfg *config.Config) {
	d.health.RegisterFunc("data_dir", true, health.DirWritableCheck(config.DataDir()))
	if d.journal != nil {
		d.health.RegisterFunc("journal", false, health.JournalCheck(d.journal.Verify, journal.ErrJournalTampered))
	}
	if d.server != nil {
		d.health.RegisterFunc("socket", true, health.SocketCheck(cfg.IPC.SocketPath))
	}
}

func (d *Daemon) broadcast(t ipc.EventType, source string) {
	if d.server == nil {
		return
	}
	d.server.Broadcast(&ipc.Event{Type: t, Timestamp: time.Now(), Source: source})
}

// Start opens the control socket and the metrics endpoint.
func (d *Daemon) Start() error {
	cfg := d.loader.Config()

	if d.server != nil {
		if err := d.server.Start(); err != nil {
			return fmt.Errorf("start control socket: %w", err)
		}
	}

	if cfg.Metrics.Enabled {
		web, err := metrics.Listen(cfg.Metrics.ListenAddr, d.metrics.Registry(), d.logger.WithComponent("metrics").Logger)
		if err != nil {
			d.Stop()
			return fmt.Errorf("start metrics endpoint: %w", err)
		}
		web.Handle("/healthz", d.health.LivenessHandler())
		web.Handle("/readyz", d.health.ReadinessHandler())
		d.web = web
		go func() {
			d.crash.Guard("metrics", func() {
				if err := web.Serve(); err != nil {
					d.logger.Error("metrics endpoint stopped", "error", err)
				}
			})
		}()
	}

	d.health.SetReady(true)
	d.logger.Info("screenguard started",
		"version", Version,
		"socket", d.SocketPath(),
		"journal", d.journal != nil,
		"metrics", cfg.Metrics.Enabled,
	)
	return nil
}

// Activate shows the overlay at startup.
func (d *Daemon) Activate() error {
	return d.overlay.Start()
}

// Tick refreshes periodic state.
func (d *Daemon) Tick() {
	d.metrics.UpdateUptime()
}

// Stop shuts everything down in reverse order.
func (d *Daemon) Stop() {
	d.health.SetReady(false)
	d.broadcast(ipc.EventDaemonShutdown, "")

	if d.web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.web.Shutdown(ctx); err != nil {
			d.logger.Warn("metrics shutdown", "error", err)
		}
		cancel()
		d.web = nil
	}
	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			d.logger.Warn("control socket shutdown", "error", err)
		}
	}
	if err := d.notifier.Close(); err != nil {
		d.logger.Warn("notifier shutdown", "error", err)
	}
	d.release()
	d.logger.Info("screenguard stopped", "uptime", time.Since(d.startedAt).Truncate(time.Second).String())
}

func (d *Daemon) release() {
	if d.writer != nil {
		d.writer.Close()
		d.writer = nil
	}
	if d.journal != nil {
		d.journal.Close()
		d.journal = nil
	}
	if d.pid != nil {
		d.pid.Release()
		d.pid = nil
	}
}

// SocketPath returns the control socket path, empty when IPC is disabled.
func (d *Daemon) SocketPath() string {
	if d.server == nil {
		return ""
	}
	return d.server.SocketPath()
}

