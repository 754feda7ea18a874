package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/telhawk-systems/webhook-relay/internal/httputil"
	"github.com/telhawk-systems/webhook-relay/internal/logging"
	"github.com/telhawk-systems/webhook-relay/internal/models"
	"github.com/telhawk-systems/webhook-relay/internal/service"
)

// EventLister reads a client's recent events.
type EventLister interface {
	ListClientEvents(ctx context.Context, clientID string, limit int) (*models.EventsResponse, error)
}

// AdminHandler serves the audit read endpoints.
type AdminHandler struct {
	events EventLister
	logger *logging.Logger
}

func NewAdminHandler(events EventLister, logger *logging.Logger) *AdminHandler {
	return &AdminHandler{events: events, logger: logger}
}

// ListEvents handles GET /admin/clients/{clientId}/events.
func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	limit := httputil.ParseLimit(r.URL.Query().Get("limit"), service.DefaultEventLimit, service.MaxEventLimit)

	resp, err := h.events.ListClientEvents(r.Context(), clientID, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to fetch events", logging.ClientID(clientID), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
