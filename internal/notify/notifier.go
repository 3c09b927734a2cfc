// Package notify delivers completion webhooks to partners. Notifications
// are sent from completion callbacks, which the queue fires only after the
// job's terminal state is persisted, so a partner that polls immediately
// after receiving one always sees the terminal status.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notification is the webhook body.
type Notification struct {
	JobID        string          `json:"job_id"`
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Report       json.RawMessage `json:"report,omitempty"`
	SentAt       time.Time       `json:"sent_at"`
}

// Notifier posts terminal-state notifications to a partner endpoint.
type Notifier interface {
	Notify(ctx context.Context, endpoint string, n Notification) error
}

// HTTPNotifier implements Notifier over plain HTTP POST.
type HTTPNotifier struct {
	client *http.Client
}

func NewHTTPNotifier(timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{client: &http.Client{Timeout: timeout}}
}

func (h *HTTPNotifier) Notify(ctx context.Context, endpoint string, n Notification) error {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
