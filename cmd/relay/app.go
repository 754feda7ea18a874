package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/webhook-relay/internal/config"
	"github.com/telhawk-systems/webhook-relay/internal/delivery"
	"github.com/telhawk-systems/webhook-relay/internal/dlq"
	"github.com/telhawk-systems/webhook-relay/internal/handlers"
	"github.com/telhawk-systems/webhook-relay/internal/logging"
	"github.com/telhawk-systems/webhook-relay/internal/models"
	"github.com/telhawk-systems/webhook-relay/internal/queue"
	"github.com/telhawk-systems/webhook-relay/internal/repository"
	"github.com/telhawk-systems/webhook-relay/internal/retry"
	"github.com/telhawk-systems/webhook-relay/internal/server"
	"github.com/telhawk-systems/webhook-relay/internal/service"
	"github.com/telhawk-systems/webhook-relay/internal/transform"
	"github.com/telhawk-systems/webhook-relay/internal/worker"
)

// app holds the process-wide connections shared by the HTTP server and the worker.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	clients    *config.ClientRegistry
	repo       *repository.PostgresRepository
	redis      *redis.Client
	queue      *queue.RedisQueue
	deadLetter *dlq.JetStreamSink
}

// bootstrap connects to every backing service. Any failure here is fatal to the
// process.
func bootstrap(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	clients, err := config.LoadClients(cfg.Clients.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("Clients file not found, no client has destinations", "path", cfg.Clients.Path)
		clients = config.NewClientRegistry()
	case err != nil:
		return nil, err
	default:
		logger.Info("Loaded client configuration", "path", cfg.Clients.Path, "clients", clients.Len())
	}
	a.clients = clients

	connString := cfg.Database.ConnString()
	version, dirty, err := repository.Migrate(connString)
	if err != nil {
		return nil, err
	}
	logger.Info("Database migration complete", "version", version, "dirty", dirty)

	policy, err := repository.ParseRecordPolicy(cfg.Delivery.RecordPolicy)
	if err != nil {
		return nil, err
	}
	repo, err := repository.NewPostgresRepository(ctx, connString, repository.Options{
		MaxConns:     cfg.Database.MaxConns,
		RecordPolicy: policy,
	})
	if err != nil {
		return nil, err
	}
	a.repo = repo
	logger.Info("Connected to PostgreSQL")

	rdb, err := queue.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		a.close()
		return nil, err
	}
	a.redis = rdb
	a.queue = queue.NewRedisQueue(rdb, cfg.Redis.QueueKey, cfg.Worker.PopTimeout)
	logger.Info("Connected to Redis", "queue", cfg.Redis.QueueKey)

	if cfg.DLQ.Enabled {
		sink, err := dlq.Connect(ctx, dlq.Config{
			URL:           cfg.DLQ.NatsURL,
			Stream:        cfg.DLQ.Stream,
			SubjectPrefix: cfg.DLQ.SubjectPrefix,
		}, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.deadLetter = sink
	}

	return a, nil
}

func (a *app) close() {
	if a.deadLetter != nil {
		a.deadLetter.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.repo != nil {
		_ = a.repo.Close()
	}
}

// router builds the HTTP handler tree.
func (a *app) router() http.Handler {
	intake := service.NewIntakeService(a.repo, a.queue, a.clients, a.cfg.Webhook.Secret, a.logger)
	events := service.NewEventService(a.repo)

	return server.NewRouter(server.Handlers{
		Webhook: handlers.NewWebhookHandler(intake, a.cfg.Webhook.MaxBodyBytes, a.logger),
		Admin:   handlers.NewAdminHandler(events, a.logger),
		Health: handlers.NewHealthHandler(map[string]handlers.Check{
			"postgres": a.repo.Ping,
			"redis":    a.queue.Ping,
		}),
	}, server.Options{
		AdminJWTSecret: a.cfg.Admin.JWTSecret,
		MockReceiver:   a.cfg.Server.MockReceiver,
	}, a.logger)
}

// worker builds the queue consumer and the delayed-job promoter.
func (a *app) worker() (*worker.Worker, *queue.Promoter) {
	deps := pipelineDeps{
		queue:   a.queue,
		clients: a.clients,
		ledger:  a.repo,
		store:   a.repo,
		tableDB: stdlib.OpenDBFromPool(a.repo.Pool()),
	}
	if a.deadLetter != nil {
		deps.deadLetter = a.deadLetter
	}
	return newPipeline(a.cfg, deps, a.logger)
}

// pipelineDeps are the collaborators of the processing pipeline.
type pipelineDeps struct {
	queue      *queue.RedisQueue
	clients    *config.ClientRegistry
	ledger     repository.DeliveryRepository
	store      retry.StatusStore
	tableDB    *sql.DB
	deadLetter retry.DeadLetterSink
}

// newPipeline wires transformation, delivery and retry around the queue.
func newPipeline(cfg *config.Config, deps pipelineDeps, logger *logging.Logger) (*worker.Worker, *queue.Promoter) {
	dispatcher := delivery.NewDispatcher(deps.clients, deps.ledger, logger).
		Register(models.DestinationHTTP, delivery.NewHTTPSink(cfg.Delivery.HTTPTimeout)).
		Register(models.DestinationPostgres, delivery.NewTableSink(deps.tableDB)).
		SkipSucceeded(cfg.Delivery.SkipSucceeded)

	controller := retry.NewController(deps.store, deps.queue, retry.Policy{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseDelay:   cfg.Worker.BaseDelay,
	}, logger)
	if deps.deadLetter != nil {
		controller.WithDeadLetter(deps.deadLetter)
	}

	w := worker.New(deps.queue, transform.NewResolver(deps.clients), dispatcher, controller, worker.Options{
		Concurrency:  cfg.Worker.Concurrency,
		ErrorBackoff: cfg.Worker.ErrorBackoff,
	}, logger)
	promoter := queue.NewPromoter(deps.queue, cfg.Worker.PromoteInterval, cfg.Worker.PromoteBatch, logger)
	return w, promoter
}

func (a *app) addr() string {
	return fmt.Sprintf(":%d", a.cfg.Server.Port)
}
