package orders

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

// ItemInput is a requested line item. Only the product id and quantity are
// trusted from the client; name and price are resolved from the catalog.
type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderInput is everything a checkout submission provides.
type CreateOrderInput struct {
	Items           []ItemInput `json:"items"`
	ShippingAddress Address     `json:"shippingAddress"`
	CustomerEmail   string      `json:"customerEmail"`
	CustomerPhone   string      `json:"customerPhone"`
	Notes           string      `json:"notes"`
	AgeVerified     bool        `json:"ageVerified"`
	TermsAccepted   bool        `json:"termsAccepted"`
	ResearchUseOnly bool        `json:"researchUseOnly"`
}

var usZipRe = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// ValidateCreateOrder checks a checkout submission and reports every invalid
// field at once. It must pass before anything is persisted: a rejected
// request leaves no order, item, or history row behind.
func ValidateCreateOrder(in CreateOrderInput) error {
	ve := &ValidationError{}

	if len(in.Items) == 0 {
		ve.add("items", "at least one item is required")
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			ve.add(fmt.Sprintf("items[%d].productId", i), "product id is required")
		}
		if it.Quantity < 1 {
			ve.add(fmt.Sprintf("items[%d].quantity", i), "quantity must be at least 1")
		}
	}

	if in.CustomerEmail == "" {
		ve.add("customerEmail", "email is required")
	} else if _, err := mail.ParseAddress(in.CustomerEmail); err != nil {
		ve.add("customerEmail", "valid email address required")
	}

	addr := in.ShippingAddress
	if strings.TrimSpace(addr.Name) == "" {
		ve.add("shippingAddress.name", "recipient name is required")
	}
	if strings.TrimSpace(addr.Line1) == "" {
		ve.add("shippingAddress.line1", "address line 1 is required")
	}
	if strings.TrimSpace(addr.City) == "" {
		ve.add("shippingAddress.city", "city is required")
	}
	if strings.TrimSpace(addr.State) == "" {
		ve.add("shippingAddress.state", "state is required")
	}
	if strings.TrimSpace(addr.Country) == "" {
		ve.add("shippingAddress.country", "country is required")
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		ve.add("shippingAddress.postalCode", "postal code is required")
	} else if strings.EqualFold(addr.Country, "US") && !usZipRe.MatchString(addr.PostalCode) {
		ve.add("shippingAddress.postalCode", "valid US postal code required")
	}

	// Compliance gate: false and absent are the same thing to the decoder,
	// and both reject.
	if !in.AgeVerified {
		ve.add("ageVerified", "age verification is required")
	}
	if !in.TermsAccepted {
		ve.add("termsAccepted", "terms must be accepted")
	}
	if !in.ResearchUseOnly {
		ve.add("researchUseOnly", "research-use-only affirmation is required")
	}

	return ve.orNil()
}

// BuildOrder turns a validated submission into a persistable order. Prices
// and names come from the catalog snapshot passed in; unknown or inactive
// products reject the whole request.
func BuildOrder(in CreateOrderInput, products map[string]Product, cfg PricingConfig, currency, ip, userAgent string, now time.Time) (*Order, []OrderItem, error) {
	ve := &ValidationError{}
	items := make([]OrderItem, 0, len(in.Items))
	id := NewOrderID()

	for i, it := range in.Items {
		p, ok := products[it.ProductID]
		if !ok || !p.Active {
			ve.add(fmt.Sprintf("items[%d].productId", i), "unknown product: "+it.ProductID)
			continue
		}
		items = append(items, OrderItem{
			OrderID:        id,
			ProductID:      p.ID,
			Name:           p.Name,
			Quantity:       it.Quantity,
			PriceCents:     p.PriceCents,
			ComplianceNote: p.ComplianceNote,
		})
	}
	if err := ve.orNil(); err != nil {
		return nil, nil, err
	}

	o := &Order{
		ID:              id,
		Status:          StatusPendingPayment,
		CustomerEmail:   strings.TrimSpace(in.CustomerEmail),
		CustomerPhone:   strings.TrimSpace(in.CustomerPhone),
		ShippingAddress: in.ShippingAddress,
		Notes:           in.Notes,
		Pricing:         ComputePricing(items, cfg),
		Currency:        currency,
		Compliance: Compliance{
			AgeVerified:       true,
			AgeVerifiedAt:     now,
			TermsAccepted:     true,
			TermsAcceptedAt:   now,
			ResearchUseOnly:   true,
			ResearchUseOnlyAt: now,
			IPAddress:         ip,
			UserAgent:         userAgent,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return o, items, nil
}
