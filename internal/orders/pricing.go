package orders

// PricingConfig holds the shop-wide pricing knobs. Values are minor currency
// units except TaxRateBps (basis points, 100 = 1%).
type PricingConfig struct {
	ShippingFlatCents    int64
	FreeShippingMinCents int64
	TaxRateBps           int64
}

// ComputePricing derives the order totals from the snapshotted items.
// Tax truncates toward zero. The Total invariant holds by construction.
func ComputePricing(items []OrderItem, cfg PricingConfig) Pricing {
	var subtotal int64
	for _, it := range items {
		subtotal += it.PriceCents * int64(it.Quantity)
	}
	shipping := cfg.ShippingFlatCents
	if cfg.FreeShippingMinCents > 0 && subtotal >= cfg.FreeShippingMinCents {
		shipping = 0
	}
	tax := subtotal * cfg.TaxRateBps / 10000
	return Pricing{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal + shipping + tax,
	}
}
