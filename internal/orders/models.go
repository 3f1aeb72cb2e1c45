package orders

import (
	"encoding/json"
	"time"
)

// Product is a catalog entry. Item prices are always resolved from here at
// order time, never taken from the client.
type Product struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	PriceCents     int64  `json:"priceCents"`
	ComplianceNote string `json:"complianceNote,omitempty"`
	Active         bool   `json:"active"`
}

// Address is the shipping destination captured at checkout.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Pricing holds the server-computed totals in minor currency units.
// Total = Subtotal + Shipping + Tax at creation time; never recomputed later.
type Pricing struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

// Compliance records the affirmations the buyer made at checkout, each with
// its capture time, plus the request origin for the audit trail. All three
// flags must be true before an order may be created.
type Compliance struct {
	AgeVerified       bool      `json:"ageVerified"`
	AgeVerifiedAt     time.Time `json:"ageVerifiedAt"`
	TermsAccepted     bool      `json:"termsAccepted"`
	TermsAcceptedAt   time.Time `json:"termsAcceptedAt"`
	ResearchUseOnly   bool      `json:"researchUseOnly"`
	ResearchUseOnlyAt time.Time `json:"researchUseOnlyAt"`
	IPAddress         string    `json:"ipAddress,omitempty"`
	UserAgent         string    `json:"userAgent,omitempty"`
}

// Order is one purchase transaction. Orders are never physically deleted;
// every state change appends to History.
type Order struct {
	ID              string     `json:"id"`
	Status          Status     `json:"status"`
	CustomerEmail   string     `json:"customerEmail"`
	CustomerPhone   string     `json:"customerPhone,omitempty"`
	ShippingAddress Address    `json:"shippingAddress"`
	Notes           string     `json:"notes,omitempty"`
	Pricing         Pricing    `json:"pricing"`
	Currency        string     `json:"currency"`
	PaymentIntentID string     `json:"paymentIntentId,omitempty"`
	Compliance      Compliance `json:"compliance"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`

	Items   []OrderItem    `json:"items,omitempty"`
	History []StatusChange `json:"history,omitempty"`
}

// OrderItem is a line item snapshotted at order time so later catalog edits
// do not alter historical orders. Owned by exactly one order.
type OrderItem struct {
	OrderID        string `json:"orderId"`
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	PriceCents     int64  `json:"priceCents"`
	ComplianceNote string `json:"complianceNote,omitempty"`
}

// StatusChange is one append-only status-history row. The history is the
// source of truth for how an order reached its current status.
type StatusChange struct {
	OrderID   string    `json:"orderId"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

// PaymentAuditEntry records one raw processor event as observed, duplicates
// and out-of-order deliveries included. Distinct from StatusChange: this is
// what the processor told us, not what the order did.
type PaymentAuditEntry struct {
	OrderID         string          `json:"orderId"`
	PaymentIntentID string          `json:"paymentIntentId"`
	EventType       string          `json:"eventType"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}
