// Package server wires the HTTP routes and middleware.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/webhook-relay/internal/handlers"
	"github.com/telhawk-systems/webhook-relay/internal/logging"
	"github.com/telhawk-systems/webhook-relay/internal/middleware"
)

// Handlers groups everything the router serves.
type Handlers struct {
	Webhook *handlers.WebhookHandler
	Admin   *handlers.AdminHandler
	Health  *handlers.HealthHandler
}

// Options configures cross-cutting router behaviour.
type Options struct {
	AdminJWTSecret string
	MockReceiver   bool
}

// NewRouter constructs a chi router with intake, admin, health and metrics routes.
func NewRouter(h Handlers, opts Options, logger *logging.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger.Logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/", h.Health.Root)
	r.Get("/healthz", h.Health.Health)
	r.Get("/readyz", h.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		if opts.MockReceiver {
			r.Post("/mock-receiver", h.Webhook.MockReceiver)
		}
		r.Post("/{clientId}/{sourceSystem}", h.Webhook.Receive)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminAuth(opts.AdminJWTSecret))
		r.Get("/clients/{clientId}/events", h.Admin.ListEvents)
	})

	return r
}
