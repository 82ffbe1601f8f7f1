// Package assist implements the forwarded, non-replicated AssistService.Ask
// call: a natural-language booking-help query that never touches consensus.
// Each node publishes the query (tagged with its detected language) onto
// NATS and waits for the external assist worker's reply.
package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubject is the NATS subject AssistService.Ask requests are published on.
const DefaultSubject = "raftbooking.assist.ask"

// defaultTimeout bounds how long Ask waits for a worker reply before giving
// up; Assist calls are explicitly out of scope for consensus-level retries.
const defaultTimeout = 3 * time.Second

// request is the payload published to the assist worker.
type request struct {
	Username      string `json:"username"`
	Query         string `json:"query"`
	Language      string `json:"language"`
	BookingsCount int    `json:"bookings_count"`
}

// response is the payload the assist worker replies with.
type response struct {
	Answer string `json:"answer"`
	Error  string `json:"error,omitempty"`
}

// Service forwards Ask queries to the external assist worker over NATS.
type Service struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithSubject overrides the NATS subject Ask requests are published on.
func WithSubject(subject string) Option {
	return func(s *Service) { s.subject = subject }
}

// WithTimeout overrides how long Ask waits for a worker reply.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// NewService connects to the NATS server at url and returns a Service.
func NewService(url string, logger *zap.Logger, opts ...Option) (*Service, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	s := &Service{
		conn:    conn,
		subject: DefaultSubject,
		timeout: defaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying NATS connection.
func (s *Service) Close() {
	s.conn.Close()
}

// Ask forwards query on behalf of username to the assist worker and returns
// its answer along with the language detected in the query. bookingsCount
// gives the worker a little context without exposing booking contents.
func (s *Service) Ask(ctx context.Context, username, query string, bookingsCount int) (answer string, language string, err error) {
	info := whatlanggo.Detect(query)
	language = "unknown"
	if info.IsReliable() {
		language = info.Lang.String()
	}

	payload, err := json.Marshal(request{
		Username:      username,
		Query:         query,
		Language:      language,
		BookingsCount: bookingsCount,
	})
	if err != nil {
		return "", language, fmt.Errorf("marshal assist request: %w", err)
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	msg, err := s.conn.Request(s.subject, payload, timeout)
	if err != nil {
		s.logger.Warn("assist worker did not reply", zap.String("subject", s.subject), zap.Error(err))
		return "", language, fmt.Errorf("assist worker unavailable: %w", err)
	}

	var resp response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return "", language, fmt.Errorf("decode assist response: %w", err)
	}
	if resp.Error != "" {
		return "", language, fmt.Errorf("assist worker error: %s", resp.Error)
	}

	return resp.Answer, language, nil
}
