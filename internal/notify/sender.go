package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Confirmation is the payload handed to the mail service.
type Confirmation struct {
	OrderID    string `json:"orderId"`
	Email      string `json:"email"`
	TotalCents int64  `json:"totalCents"`
	Currency   string `json:"currency"`
}

// Sender delivers order confirmations. Failures are the caller's to retry;
// senders do not retry internally.
type Sender interface {
	SendOrderConfirmation(ctx context.Context, c Confirmation) error
}

// HTTPSender posts confirmations to an external mail API.
type HTTPSender struct {
	URL  string
	HTTP *http.Client
}

func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{
		URL:  url,
		HTTP: &http.Client{Timeout: 8 * time.Second},
	}
}

func (s *HTTPSender) SendOrderConfirmation(ctx context.Context, c Confirmation) error {
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("mail api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mail api: status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// LogSender is the dev fallback when no mail API is configured.
type LogSender struct{}

func (LogSender) SendOrderConfirmation(ctx context.Context, c Confirmation) error {
	slog.Info("order confirmation (no mail api configured)",
		"order_id", c.OrderID, "email", c.Email, "total_cents", c.TotalCents)
	return nil
}
