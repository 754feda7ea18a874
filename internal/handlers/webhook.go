// Package handlers implements the relay's HTTP endpoints.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/telhawk-systems/webhook-relay/internal/httputil"
	"github.com/telhawk-systems/webhook-relay/internal/logging"
	"github.com/telhawk-systems/webhook-relay/internal/metrics"
	"github.com/telhawk-systems/webhook-relay/internal/service"
)

const SignatureHeader = "X-Webhook-Signature"

// Intake is the webhook intake operation.
type Intake interface {
	Ingest(ctx context.Context, req service.IntakeRequest) (*service.IntakeResult, error)
}

// WebhookHandler serves POST /webhooks/{clientId}/{sourceSystem}.
type WebhookHandler struct {
	intake       Intake
	maxBodyBytes int64
	logger       *logging.Logger
}

// NewWebhookHandler creates a webhook handler accepting bodies up to maxBodyBytes.
func NewWebhookHandler(intake Intake, maxBodyBytes int64, logger *logging.Logger) *WebhookHandler {
	return &WebhookHandler{intake: intake, maxBodyBytes: maxBodyBytes, logger: logger}
}

type createdResponse struct {
	EventID int64 `json:"eventId"`
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	sourceSystem := chi.URLParam(r, "sourceSystem")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.WebhooksReceived.WithLabelValues("too_large").Inc()
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		metrics.WebhooksReceived.WithLabelValues("invalid").Inc()
		httputil.WriteError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	result, err := h.intake.Ingest(r.Context(), service.IntakeRequest{
		ClientID:     clientID,
		SourceSystem: sourceSystem,
		Body:         body,
		Signature:    r.Header.Get(SignatureHeader),
	})
	switch {
	case errors.Is(err, service.ErrSignatureInvalid):
		metrics.WebhooksReceived.WithLabelValues("unauthorized").Inc()
		httputil.WriteError(w, http.StatusUnauthorized, "Invalid signature")
		return
	case errors.Is(err, service.ErrInvalidPayload):
		metrics.WebhooksReceived.WithLabelValues("invalid").Inc()
		httputil.WriteError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	case err != nil:
		metrics.WebhooksReceived.WithLabelValues("error").Inc()
		h.logger.ErrorContext(r.Context(), "failed to store event",
			logging.ClientID(clientID), logging.SourceSystem(sourceSystem), logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if result.Duplicate {
		metrics.WebhooksReceived.WithLabelValues("duplicate").Inc()
		httputil.WriteMessage(w, http.StatusOK, "Duplicate event ignored")
		return
	}

	metrics.WebhooksReceived.WithLabelValues("accepted").Inc()
	metrics.WebhookBytesTotal.Add(float64(len(body)))
	httputil.WriteJSON(w, http.StatusCreated, createdResponse{EventID: result.EventID})
}

// MockReceiver acknowledges any JSON POST. It stands in for a client endpoint when
// running the relay locally.
func (h *WebhookHandler) MockReceiver(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	h.logger.InfoContext(r.Context(), "mock receiver got payload", "payload", string(body))
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
