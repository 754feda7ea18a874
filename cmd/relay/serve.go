package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveNoWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP intake server",
	Long: `Run the HTTP server that accepts signed webhooks and serves the admin API.

Unless --no-worker is given, the queue consumer and the delayed-retry promoter run
in the same process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "serve HTTP only; run workers with 'relay worker'")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("Starting webhook relay",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"log_format", cfg.Logging.Format,
		"worker", !serveNoWorker,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ln, err := net.Listen("tcp", a.addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.addr(), err)
	}

	r := &runner{
		server: &http.Server{
			Handler:      a.router(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		listener:        ln,
		shutdownTimeout: cfg.Server.WriteTimeout,
		logger:          logger,
	}
	if !serveNoWorker {
		r.worker, r.promoter = a.worker()
	}
	return r.run(ctx)
}
