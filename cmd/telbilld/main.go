package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"telbill/internal/config"
	"telbill/internal/daemon"
	"telbill/internal/logging"
	"telbill/internal/notifications"
	"telbill/internal/process"
	"telbill/internal/tasks"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := process.Open(cfg)
	if err != nil {
		logger.Error("open process store", logging.Error(err))
		return
	}
	defer store.Close()

	broker := tasks.NewClient(cfg)
	defer broker.Close()
	if err := broker.Ping(ctx); err != nil {
		logger.Warn("task broker unreachable, queue processing degraded", logging.Error(err))
	}

	notifier := notifications.NewService(cfg)
	runner, sched := buildWorkers(cfg, store, broker, notifier, logger)

	d, err := daemon.New(cfg, store, notifier, sched, runner, broker, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("telbilld shutting down")
	d.Stop()
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "telbilld.log")},
	})
}
