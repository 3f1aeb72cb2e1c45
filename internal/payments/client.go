package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultAPIBase = "https://api.stripe.com"

// Client is a minimal REST client for the payment processor: form-encoded
// requests, Bearer auth, JSON responses. BaseURL is overridable so tests can
// point it at a local httptest server.
type Client struct {
	BaseURL string
	Secret  string
	HTTP    *http.Client
}

func NewClient(secret, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIBase
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Secret:  secret,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// PaymentIntent carries the processor-object fields this service reads.
type PaymentIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
}

type Refund struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	PaymentIntent string `json:"payment_intent"`
}

// PaymentError is a processor rejection. Card and invalid-request errors are
// the caller's to fix (400 class); everything else is infrastructure (502).
type PaymentError struct {
	Type       string `json:"type"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment processor: %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("payment processor: %s: %s", e.Type, e.Message)
}

// UserCorrectable reports whether the failure is something the customer can
// act on (declined card, bad parameters) as opposed to an outage on our side
// of the integration.
func (e *PaymentError) UserCorrectable() bool {
	return e.Type == "card_error" || e.Type == "invalid_request_error"
}

type CreateIntentParams struct {
	Amount       int64
	Currency     string
	ReceiptEmail string
	Metadata     map[string]string
	// IdempotencyKey guards against double-charging on network retries.
	IdempotencyKey string
}

func (c *Client) CreatePaymentIntent(ctx context.Context, p CreateIntentParams) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(p.Amount, 10))
	form.Set("currency", p.Currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	if p.ReceiptEmail != "" {
		form.Set("receipt_email", p.ReceiptEmail)
	}
	for k, v := range p.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	var pi PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", form, p.IdempotencyKey, &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var pi PaymentIntent
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), nil, "", &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

type RefundParams struct {
	PaymentIntent string
	Amount        int64 // 0 refunds the full charge
	Reason        string
}

func (c *Client) CreateRefund(ctx context.Context, p RefundParams) (*Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", p.PaymentIntent)
	if p.Amount > 0 {
		form.Set("amount", strconv.FormatInt(p.Amount, 10))
	}
	if p.Reason != "" {
		form.Set("reason", p.Reason)
	}
	var r Refund
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", form, "", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, idemKey string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Secret)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &PaymentError{Type: "api_connection_error", Message: err.Error(), HTTPStatus: http.StatusBadGateway}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read processor response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var eb struct {
			Error PaymentError `json:"error"`
		}
		if err := json.Unmarshal(raw, &eb); err != nil || eb.Error.Message == "" {
			return &PaymentError{
				Type:       "api_error",
				Message:    strings.TrimSpace(string(raw)),
				HTTPStatus: resp.StatusCode,
			}
		}
		pe := eb.Error
		pe.HTTPStatus = resp.StatusCode
		return &pe
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode processor response: %w", err)
		}
	}
	return nil
}
