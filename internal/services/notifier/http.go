// Package notifier delivers fill notifications to the configured HTTP endpoint.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Al7ech/binance-trade-notipi/internal/domain"
)

// DeliveryError is returned when a notification could not be delivered.
// Deliveries are best-effort: the notification is dropped, never retried.
type DeliveryError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver to %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("deliver to %s: unexpected status %d", e.Endpoint, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// HTTPNotifier posts notification payloads as JSON.
type HTTPNotifier struct {
	client   *resty.Client
	endpoint string
}

// NewHTTPNotifier creates a notifier posting to endpoint. Basic auth is used only
// when both username and password are set.
func NewHTTPNotifier(endpoint, username, password string, timeout time.Duration) *HTTPNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "binance-trade-notipi")
	if username != "" && password != "" {
		client.SetBasicAuth(username, password)
	}

	return &HTTPNotifier{client: client, endpoint: endpoint}
}

// Deliver posts the payload once.
func (n *HTTPNotifier) Deliver(ctx context.Context, payload domain.NotificationPayload) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(n.endpoint)
	if err != nil {
		return &DeliveryError{Endpoint: n.endpoint, Err: err}
	}
	if resp.IsError() {
		return &DeliveryError{Endpoint: n.endpoint, StatusCode: resp.StatusCode()}
	}

	return nil
}
