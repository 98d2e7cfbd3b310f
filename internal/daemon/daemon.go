package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"telbill/internal/api"
	"telbill/internal/config"
	"telbill/internal/lifecycle"
	"telbill/internal/logging"
	"telbill/internal/notifications"
	"telbill/internal/process"
	"telbill/internal/scheduler"
	"telbill/internal/tasks"
)

// QueueInspector reports waiting task counts per queue. Satisfied by
// tasks.Client; nil when the broker is not wired.
type QueueInspector interface {
	QueueDepths(ctx context.Context) (map[tasks.Queue]int64, error)
}

// Daemon runs the orchestrator: scheduler, task runner, and the worker
// callback API, behind a single-instance lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *process.Store
	service  *api.ProcessService
	sched    *scheduler.Scheduler
	runner   *tasks.Runner
	inspect  QueueInspector
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc

	apiSrv *apiServer
}

// New constructs a daemon with initialized dependencies. The scheduler,
// runner, and queue inspector may be nil; the daemon then serves the API
// and store only.
func New(cfg *config.Config, store *process.Store, notifier notifications.Service, sched *scheduler.Scheduler, runner *tasks.Runner, inspect QueueInspector, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	manager := lifecycle.NewManager(store, notifier, logger)
	lockPath := filepath.Join(cfg.Paths.DataDir, "telbilld.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		service:  api.NewProcessService(manager),
		sched:    sched,
		runner:   runner,
		inspect:  inspect,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.apiSrv = srv
	return d, nil
}

// Service exposes the process service for CLI embedding.
func (d *Daemon) Service() *api.ProcessService {
	return d.service
}

// Start acquires the daemon lock and launches the scheduler, task runner,
// and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another telbill daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.runner != nil {
		if err := d.runner.Start(runCtx); err != nil {
			d.releaseOnStartFailure()
			return fmt.Errorf("start task runner: %w", err)
		}
	}
	if d.sched != nil {
		if err := d.sched.Start(runCtx); err != nil {
			if d.runner != nil {
				d.runner.Stop()
			}
			d.releaseOnStartFailure()
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	if d.apiSrv != nil {
		if err := d.apiSrv.start(runCtx); err != nil {
			if d.sched != nil {
				d.sched.Stop()
			}
			if d.runner != nil {
				d.runner.Stop()
			}
			d.releaseOnStartFailure()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) releaseOnStartFailure() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	_ = d.lock.Unlock()
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.sched != nil {
		d.sched.Stop()
	}
	if d.runner != nil {
		d.runner.Stop()
	}
	if d.apiSrv != nil {
		d.apiSrv.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr reports the bound API address, empty when the server is off.
func (d *Daemon) APIAddr() string {
	if d.apiSrv == nil {
		return ""
	}
	return d.apiSrv.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (api.DaemonStatus, error) {
	counts, err := d.service.Stats(ctx)
	if err != nil {
		return api.DaemonStatus{}, err
	}
	health, err := d.service.Health(ctx)
	if err != nil {
		return api.DaemonStatus{}, err
	}

	status := api.DaemonStatus{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		DatabasePath:   d.cfg.DatabasePath(),
		LockFilePath:   d.lockPath,
		ProcessCounts:  counts,
		TotalProcesses: health.Total,
		RunningCount:   health.Running,
		FailedCount:    health.Failed,
	}
	if d.inspect != nil {
		depths, err := d.inspect.QueueDepths(ctx)
		if err != nil {
			d.logger.Warn("queue depth probe failed", logging.Error(err))
		} else {
			status.QueueDepths = make(map[string]int64, len(depths))
			for queue, depth := range depths {
				status.QueueDepths[string(queue)] = depth
			}
		}
	}
	return status, nil
}
