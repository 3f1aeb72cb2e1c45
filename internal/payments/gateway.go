package payments

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mostproteins/order-service/internal/orders"
)

var allowedCurrencies = map[string]bool{"usd": true, "eur": true, "gbp": true}

// Processor minimums reject amounts below 50 minor units.
const minAmountCents = 50

// Gateway sits between the order store and the processor. It validates
// intent requests against the stored order (the stored total is
// authoritative, never the client's number) and keeps the order's
// paymentIntentId copy in sync.
type Gateway struct {
	Store  orders.Store
	Client *Client
}

// IntentSnapshot is the caller-facing view of a processor intent.
type IntentSnapshot struct {
	PaymentIntentID string `json:"paymentIntentId"`
	ClientSecret    string `json:"clientSecret"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
}

func snapshot(pi *PaymentIntent) *IntentSnapshot {
	return &IntentSnapshot{
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
		Status:          pi.Status,
	}
}

// CreateIntent creates (or re-retrieves) the payment intent for an order.
// An order carries at most one intent: a repeat call returns the existing
// intent's current snapshot instead of minting a second one.
func (g *Gateway) CreateIntent(ctx context.Context, orderID string, amountCents int64, currency, customerEmail string) (*IntentSnapshot, error) {
	currency = strings.ToLower(strings.TrimSpace(currency))

	ve := &orders.ValidationError{}
	if orderID == "" {
		ve.Fields = append(ve.Fields, orders.FieldError{Field: "orderId", Message: "order id is required"})
	}
	if !allowedCurrencies[currency] {
		ve.Fields = append(ve.Fields, orders.FieldError{Field: "currency", Message: "currency must be one of usd, eur, gbp"})
	}
	if amountCents < minAmountCents {
		ve.Fields = append(ve.Fields, orders.FieldError{Field: "amount", Message: "amount must be at least 50"})
	}
	if len(ve.Fields) > 0 {
		return nil, ve
	}

	o, err := g.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if amountCents != o.Pricing.Total {
		return nil, &orders.ValidationError{Fields: []orders.FieldError{{
			Field:   "amount",
			Message: "amount must equal the order total of " + strconv.FormatInt(o.Pricing.Total, 10),
		}}}
	}

	if o.PaymentIntentID != "" {
		pi, err := g.Client.GetPaymentIntent(ctx, o.PaymentIntentID)
		if err != nil {
			return nil, err
		}
		return snapshot(pi), nil
	}

	pi, err := g.Client.CreatePaymentIntent(ctx, CreateIntentParams{
		Amount:       amountCents,
		Currency:     currency,
		ReceiptEmail: customerEmail,
		Metadata: map[string]string{
			"order_id":          o.ID,
			"age_verified":      strconv.FormatBool(o.Compliance.AgeVerified),
			"terms_accepted":    strconv.FormatBool(o.Compliance.TermsAccepted),
			"research_use_only": strconv.FormatBool(o.Compliance.ResearchUseOnly),
		},
		IdempotencyKey: "create-intent-" + o.ID,
	})
	if err != nil {
		return nil, err
	}
	if err := g.Store.AttachPaymentIntent(ctx, o.ID, pi.ID); err != nil {
		return nil, fmt.Errorf("attach intent %s to order %s: %w", pi.ID, o.ID, err)
	}
	return snapshot(pi), nil
}

// RetrieveIntent passes a status read through to the processor.
func (g *Gateway) RetrieveIntent(ctx context.Context, intentID string) (*IntentSnapshot, error) {
	pi, err := g.Client.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	return snapshot(pi), nil
}

// Refund passes a refund through to the processor. amountCents of 0 refunds
// in full. The status flip to refunded happens when the charge.refunded
// webhook lands, not here.
func (g *Gateway) Refund(ctx context.Context, intentID string, amountCents int64, reason string) (*Refund, error) {
	return g.Client.CreateRefund(ctx, RefundParams{
		PaymentIntent: intentID,
		Amount:        amountCents,
		Reason:        reason,
	})
}
