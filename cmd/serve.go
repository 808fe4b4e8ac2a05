package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/huntplane/huntplane/internal/api"
	"github.com/huntplane/huntplane/internal/control"
)

var serveWorkers int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the huntplane API server",
	Long: `Start the HTTP API server and, unless --workers 0, an in-process
worker pool that executes queued test and intelligence jobs.

Example:
  huntplane serve
  huntplane serve --workers 0        # API only, workers run elsewhere
  huntplane serve --config prod.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&serveWorkers, "workers", -1, "worker count (-1 uses worker.count from config, 0 disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	controller := control.NewController(rt.store, rt.queue, rt.gate, log)
	server := api.NewServer(cfg, controller, rt.store, log)

	workerCount := serveWorkers
	if workerCount < 0 {
		workerCount = cfg.Worker.Count
	}
	if workerCount > 0 {
		if err := rt.pool.Start(ctx, workerCount); err != nil {
			return fmt.Errorf("starting worker pool: %w", err)
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Run()
	}()

	log.Infow("Huntplane running",
		"addr", cfg.API.Addr,
		"workers", workerCount,
		"auth_enabled", cfg.Security.EnableAuth,
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Infow("Received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if workerCount > 0 {
		if err := rt.pool.Stop(); err != nil {
			log.Warnw("Worker pool shutdown failed", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Infow("Shutdown complete")
	return nil
}
