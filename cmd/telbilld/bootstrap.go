package main

import (
	"log/slog"

	"telbill/internal/approval"
	"telbill/internal/batch"
	"telbill/internal/config"
	"telbill/internal/lifecycle"
	"telbill/internal/notifications"
	"telbill/internal/operators"
	"telbill/internal/process"
	"telbill/internal/scheduler"
	"telbill/internal/stage"
	"telbill/internal/tasks"
)

type handlerRegistrar interface {
	Register(queue tasks.Queue, handler tasks.Handler)
}

// buildWorkers wires the queue consumer and the ticker loops around the
// shared store and broker.
func buildWorkers(cfg *config.Config, store *process.Store, broker *tasks.Client, notifier notifications.Service, logger *slog.Logger) (*tasks.Runner, *scheduler.Scheduler) {
	manager := lifecycle.NewManager(store, notifier, logger)
	registry := operators.NewRegistryFromConfig(cfg)
	workflow := approval.NewWorkflow(store, notifier, broker, cfg.Approval.Approvers, logger)

	coordinator := batch.New(cfg.Workflow.PoolWidth, storeOpener(cfg), notifier, logger)
	sched := scheduler.New(cfg, store, coordinator, broker, logger)

	runner := tasks.NewRunner(broker, broker.Policy(), logger)
	registerHandlers(runner, manager, registry, workflow, notifier, sched, logger)

	return runner, sched
}

func registerHandlers(runner handlerRegistrar, manager *lifecycle.Manager, registry *operators.Registry, workflow *approval.Workflow, notifier notifications.Service, sched *scheduler.Scheduler, logger *slog.Logger) {
	if runner == nil || manager == nil {
		return
	}
	handlers := stage.NewHandlers(manager, registry, workflow, notifier, logger)
	runner.Register(tasks.QueueDownload, handlers.HandleDownload)
	runner.Register(tasks.QueueUpload, handlers.HandleUpload)
	runner.Register(tasks.QueueApproval, handlers.HandleApproval)
	runner.Register(tasks.QueueNotification, handlers.HandleNotification)
	if sched != nil {
		runner.Register(tasks.QueueSchedule, sched.HandleScheduleTask)
	}
}

// storeOpener hands the parallel coordinator a fresh store per worker so the
// pool never serializes on one connection.
func storeOpener(cfg *config.Config) batch.StoreOpener {
	return func() (*process.Store, error) {
		return process.Open(cfg)
	}
}
