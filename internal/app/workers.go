package app

import (
	"strings"

	"github.com/hibiken/asynq"

	"github.com/podforge/api/internal/service"
	"github.com/podforge/api/internal/worker"
)

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	}
	return asynq.InfoLevel
}

// NewWorkerServer creates the asynq server consuming both stage queues.
func (a *App) NewWorkerServer() *asynq.Server {
	cfg := a.Config
	return asynq.NewServer(a.redisOpt(), asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			service.QueueResearch:   cfg.Worker.ResearchWeight,
			service.QueueProduction: cfg.Worker.ProductionWeight,
		},
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})
}

// WorkerMux routes each task type to its stage executor. Events go to
// notifier: the hub when embedded, Redis pub/sub in a standalone worker.
func (a *App) WorkerMux(notifier worker.Notifier) *asynq.ServeMux {
	pipeline := a.Config.Pipeline
	research := worker.NewResearchWorker(a.Researches, a.Generator, a.Storage, notifier, pipeline)
	segments := worker.NewSegmentWorker(a.Productions, a.Registry, a.Storage, notifier, pipeline)
	export := worker.NewExportWorker(a.Productions, a.Audio, a.Storage, notifier)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeResearch, research.ProcessTask)
	mux.HandleFunc(service.TaskTypeProductionSegments, segments.ProcessTask)
	mux.HandleFunc(service.TaskTypeProductionExport, export.ProcessTask)
	return mux
}
