package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/telhawk-systems/webhook-relay/internal/logging"
	"github.com/telhawk-systems/webhook-relay/internal/queue"
	"github.com/telhawk-systems/webhook-relay/internal/worker"
)

// runner owns the long-running parts of the process. A nil server runs processing
// only; a nil worker serves HTTP only.
type runner struct {
	server          *http.Server
	listener        net.Listener
	worker          *worker.Worker
	promoter        *queue.Promoter
	shutdownTimeout time.Duration
	logger          *logging.Logger
}

// run starts everything and blocks until ctx is done or the server fails. On return
// the server has shut down and every in-flight job has finished.
func (r *runner) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if r.worker != nil {
		if r.promoter != nil {
			r.promoter.Start(ctx)
			defer r.promoter.Stop()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker.Run(ctx)
		}()
	}

	serverErr := make(chan error, 1)
	if r.server != nil {
		go func() {
			r.logger.Info("HTTP server listening", "addr", r.listener.Addr().String())
			if err := r.server.Serve(r.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("Shutting down")
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	if r.server != nil {
		timeout := r.shutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		if err := r.server.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("Server forced to shutdown", "error", err)
		}
	}

	cancel()
	wg.Wait()
	r.logger.Info("Shutdown complete")
	return runErr
}
