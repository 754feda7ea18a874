package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the queue consumer",
	Long:  "Consume queued webhook jobs, transform and deliver them, and promote due retries.",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("Starting webhook worker",
		"concurrency", cfg.Worker.Concurrency,
		"queue", cfg.Redis.QueueKey,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	w, promoter := a.worker()
	r := &runner{worker: w, promoter: promoter, logger: logger}
	return r.run(ctx)
}
