// Package webhook forwards bridge events to an HTTP collector.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/audit"
)

// DefaultAttempts is the number of delivery attempts per batch.
const DefaultAttempts = 3

// batch is the request body.
type batch struct {
	Events []audit.EventRecord `json:"events"`
}

// Forwarder implements audit.EventStore by POSTing each batch as JSON.
// Failed deliveries are retried with exponential backoff.
type Forwarder struct {
	url      string
	client   *http.Client
	attempts uint
}

// Option configures Forwarder.
type Option func(*Forwarder)

// WithHTTPClient sets the client used for delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.client = c }
}

// WithAttempts sets the number of delivery attempts.
func WithAttempts(n uint) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.attempts = n
		}
	}
}

// NewForwarder creates a Forwarder posting to url.
func NewForwarder(url string, opts ...Option) *Forwarder {
	f := &Forwarder{
		url:      url,
		client:   &http.Client{Timeout: 5 * time.Second},
		attempts: DefaultAttempts,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Append implements audit.EventStore.
func (f *Forwarder) Append(ctx context.Context, records ...audit.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	body, err := json.Marshal(batch{Events: records})
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(f.attempts),
		retry.DelayType(retry.BackOffDelay),
	)
	if err := r.Do(func() error { return f.post(ctx, body) }); err != nil {
		return fmt.Errorf("forward %d events: %w", len(records), err)
	}
	return nil
}

func (f *Forwarder) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector returned %s", resp.Status)
	}
	return nil
}

// Flush implements audit.EventStore. Every Append is delivered synchronously.
func (f *Forwarder) Flush(context.Context) error { return nil }

// Close implements audit.EventStore.
func (f *Forwarder) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

var _ audit.EventStore = (*Forwarder)(nil)
