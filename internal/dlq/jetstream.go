// Package dlq publishes permanently failed jobs to a NATS JetStream dead-letter stream.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/webhook-relay/internal/logging"
	"github.com/telhawk-systems/webhook-relay/internal/metrics"
	"github.com/telhawk-systems/webhook-relay/internal/models"
)

// DeadLetter is the message body published for a job that exhausted its retries.
type DeadLetter struct {
	Timestamp time.Time   `json:"timestamp"`
	Job       *models.Job `json:"job"`
	Error     string      `json:"error"`
	Attempts  int         `json:"attempts"`
}

// Publisher is the subset of jetstream.JetStream used to publish.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Config holds the connection and stream settings.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
}

// JetStreamSink writes dead letters to subjects <prefix>.<clientId>.
type JetStreamSink struct {
	js        Publisher
	prefix    string
	conn      *nats.Conn
	logger    *logging.Logger
	published uint64
}

// Connect dials NATS, creates or updates the dead-letter stream and returns a sink
// publishing into it.
func Connect(ctx context.Context, cfg Config, logger *logging.Logger) (*JetStreamSink, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("webhook-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		MaxAge:    maxAge,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create dlq stream %s: %w", cfg.Stream, err)
	}

	logger.Info("dead-letter stream ready", "stream", cfg.Stream)

	sink := NewJetStreamSink(js, cfg.SubjectPrefix, logger)
	sink.conn = conn
	return sink, nil
}

// NewJetStreamSink creates a sink on an existing JetStream context.
func NewJetStreamSink(js Publisher, prefix string, logger *logging.Logger) *JetStreamSink {
	return &JetStreamSink{js: js, prefix: prefix, logger: logger}
}

// Subject returns the subject a client's dead letters are published on.
func (s *JetStreamSink) Subject(clientID string) string {
	return s.prefix + "." + subjectToken(clientID)
}

// Publish records job as dead with the error that ended it.
func (s *JetStreamSink) Publish(ctx context.Context, job *models.Job, cause error) error {
	if s == nil {
		return nil
	}

	letter := DeadLetter{
		Timestamp: time.Now().UTC(),
		Job:       job,
		Attempts:  job.Attempt + 1,
	}
	if cause != nil {
		letter.Error = cause.Error()
	}

	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}

	if _, err := s.js.Publish(ctx, s.Subject(job.ClientID), data, jetstream.WithMsgID(job.ID)); err != nil {
		metrics.DLQPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}

	atomic.AddUint64(&s.published, 1)
	metrics.DLQPublished.WithLabelValues("ok").Inc()
	return nil
}

// Published returns how many dead letters this sink has written.
func (s *JetStreamSink) Published() uint64 {
	return atomic.LoadUint64(&s.published)
}

// Close drains the NATS connection when the sink owns one.
func (s *JetStreamSink) Close() {
	if s != nil && s.conn != nil {
		_ = s.conn.Drain()
	}
}

// subjectToken makes clientID safe as a single NATS subject token.
func subjectToken(clientID string) string {
	if clientID == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, clientID)
}
