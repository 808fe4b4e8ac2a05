package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workersCount int

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Run job workers without the API server",
	Long: `Run a standalone worker pool that pops test and intelligence jobs
from the shared queue. Use this to scale job execution independently of
the API server.

Example:
  huntplane workers --count 5`,
	RunE: runWorkers,
}

func init() {
	rootCmd.AddCommand(workersCmd)
	workersCmd.Flags().IntVar(&workersCount, "count", 0, "worker count (0 uses worker.count from config)")
}

func runWorkers(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	count := workersCount
	if count <= 0 {
		count = cfg.Worker.Count
	}
	if err := rt.pool.Start(ctx, count); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	log.Infow("Workers running", "count", count)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	log.Infow("Received shutdown signal", "signal", sig.String())

	if err := rt.pool.Stop(); err != nil {
		return fmt.Errorf("worker pool shutdown failed: %w", err)
	}
	log.Infow("Shutdown complete")
	return nil
}
