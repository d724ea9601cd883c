package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/podforge/api/internal/app"
	ws "github.com/podforge/api/internal/websocket"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the task workers without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := a.NewWorkerServer()
			log.Printf("Task workers starting (concurrency %d)", cfg.Worker.Concurrency)
			// Run blocks until SIGINT or SIGTERM
			return srv.Run(a.WorkerMux(ws.NewRedisPublisher(a.Redis)))
		},
	}
}
