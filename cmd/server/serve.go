package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/podforge/api/internal/app"
	ws "github.com/podforge/api/internal/websocket"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the task workers unless WORKER_EMBEDDED=false)",
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

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := ws.NewHub()
			go hub.Run()
			// events from standalone workers
			go hub.Relay(runCtx, a.Redis)

			if cfg.Worker.Embedded {
				srv := a.NewWorkerServer()
				if err := srv.Start(a.WorkerMux(hub)); err != nil {
					return err
				}
				defer srv.Shutdown()
				log.Printf("Task workers running in-process (concurrency %d)", cfg.Worker.Concurrency)
			}

			filesDir := ""
			if strings.EqualFold(cfg.Storage.Backend, "local") && cfg.Server.ApiDomain != "" {
				filesDir = cfg.Storage.LocalDir
			}

			router := app.NewRouter(app.Deps{
				Config:     cfg,
				Research:   a.ResearchService(),
				Production: a.ProductionService(),
				Registry:   a.Registry,
				Resolver:   a.Resolver,
				Hub:        hub,
				Redis:      a.Redis,
				Checks:     a.Checks(),
				FilesDir:   filesDir,
			})

			go func() {
				<-runCtx.Done()
				log.Println("Shutting down server...")
				if err := router.ShutdownWithTimeout(10 * time.Second); err != nil {
					log.Printf("Server shutdown error: %v", err)
				}
			}()

			addr := ":" + cfg.Server.Port
			log.Printf("Server starting on %s", addr)
			return router.Listen(addr)
		},
	}
}
