package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"guardian/internal/guardian"
	"guardian/internal/httpclient"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	maxErrorBodyBytes     = 512
)

// webhookPayload is the JSON body posted for each event.
type webhookPayload struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	TaskID    string         `json:"task_id"`
	Timestamp time.Time      `json:"timestamp"`
	Summary   string         `json:"summary"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// WebhookSink posts each event as JSON to a URL.
type WebhookSink struct {
	url     string
	client  *http.Client
	headers map[string]string
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithHeaders adds headers to every request.
func WithHeaders(headers map[string]string) WebhookOption {
	return func(s *WebhookSink) {
		for k, v := range headers {
			s.headers[k] = v
		}
	}
}

// WithHTTPClient replaces the HTTP client, typically one built by
// httpclient.NewWithCircuitBreakerConfig.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(s *WebhookSink) {
		if client != nil {
			s.client = client
		}
	}
}

// NewWebhookSink creates a WebhookSink posting to url.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		url:     url,
		client:  httpclient.New(defaultWebhookTimeout, nil),
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notify posts the event. Any non-2xx status is an error that quotes the start
// of the response body. An open circuit breaker fails fast with
// httpclient.ErrCircuitOpen.
func (s *WebhookSink) Notify(ctx context.Context, event guardian.Event) error {
	body, err := json.Marshal(webhookPayload{
		ID:        event.ID,
		Kind:      string(event.Kind),
		TaskID:    event.TaskID,
		Timestamp: event.Timestamp,
		Summary:   Summary(event),
		Payload:   event.Payload,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal event %s: %w", event.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post event %s: %w", event.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := httpclient.ReadAllWithLimit(resp.Body, maxErrorBodyBytes)
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			return fmt.Errorf("webhook: event %s rejected with status %d: %s", event.ID, resp.StatusCode, msg)
		}
		return fmt.Errorf("webhook: event %s rejected with status %d", event.ID, resp.StatusCode)
	}
	return nil
}
