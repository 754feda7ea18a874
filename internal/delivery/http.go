package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/telhawk-systems/webhook-relay/internal/models"
)

const (
	HeaderEventID = "X-Webhook-Event-Id"
	HeaderJobID   = "X-Webhook-Job-Id"
)

// HTTPSink POSTs payloads as JSON.
type HTTPSink struct {
	client *http.Client
}

// NewHTTPSink creates an HTTP sink. A zero timeout waits indefinitely.
func NewHTTPSink(timeout time.Duration) *HTTPSink {
	return &HTTPSink{client: &http.Client{Timeout: timeout}}
}

// NewHTTPSinkWithClient uses client for all requests.
func NewHTTPSinkWithClient(client *http.Client) *HTTPSink {
	return &HTTPSink{client: client}
}

// Deliver POSTs payload to dest.URL. Any non-2xx response is a failure.
func (s *HTTPSink) Deliver(ctx context.Context, dest models.Destination, job *models.Job, payload json.RawMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderJobID, job.ID)
	if job.EventID != nil {
		req.Header.Set(HeaderEventID, strconv.FormatInt(*job.EventID, 10))
	}
	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP delivery failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP delivery failed with %d", resp.StatusCode)
	}
	return nil
}
