package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier delivers notifications to webhooks
type Notifier struct {
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	logger     *slog.Logger
}

// NotifierOption adjusts a Notifier.
type NotifierOption func(*Notifier)

// WithRetry sets the number of delivery attempts and the base backoff. The
// wait before attempt n is n*n*backoff.
func WithRetry(attempts int, backoff time.Duration) NotifierOption {
	return func(n *Notifier) {
		if attempts > 0 {
			n.attempts = attempts
		}
		n.backoff = backoff
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) NotifierOption {
	return func(n *Notifier) { n.httpClient = c }
}

// NewNotifier creates a new notifier
func NewNotifier(logger *slog.Logger, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		attempts: 3,
		backoff:  time.Second,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SendWebhook sends a notification via HTTP POST, retrying with quadratic
// backoff until it succeeds, attempts run out or ctx is done.
func (n *Notifier) SendWebhook(ctx context.Context, url string, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < n.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt*attempt) * n.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("building webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Graphedit-Event", notification.Event.Type)
		req.Header.Set("X-Graphedit-Subscription", notification.SubscriptionID)

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
			n.logger.Warn("webhook delivery attempt failed", "attempt", attempt+1, "url", url, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.logger.Debug("webhook delivered", "url", url, "subscription", notification.SubscriptionID)
			return nil
		}

		lastErr = &WebhookError{URL: url, StatusCode: resp.StatusCode}
		n.logger.Warn("webhook delivery attempt rejected", "attempt", attempt+1, "url", url, "status", resp.StatusCode)
	}

	n.logger.Error("webhook delivery failed", "attempts", n.attempts, "url", url, "error", lastErr)
	return lastErr
}

// WebhookError represents a webhook delivery failure
type WebhookError struct {
	URL        string
	StatusCode int
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook %s answered %d", e.URL, e.StatusCode)
}
