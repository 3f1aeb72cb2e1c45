package orders

import "testing"

func TestComputePricing(t *testing.T) {
	cfg := PricingConfig{
		ShippingFlatCents:    995,
		FreeShippingMinCents: 15000,
		TaxRateBps:           825, // 8.25%
	}

	cases := []struct {
		name  string
		items []OrderItem
		want  Pricing
	}{
		{
			name: "flat shipping below threshold",
			items: []OrderItem{
				{PriceCents: 1000, Quantity: 2},
				{PriceCents: 499, Quantity: 1},
			},
			// tax 2499 * 825 / 10000 = 206 (truncated from 206.17)
			want: Pricing{Subtotal: 2499, Shipping: 995, Tax: 206, Total: 3700},
		},
		{
			name:  "free shipping at exactly the threshold",
			items: []OrderItem{{PriceCents: 15000, Quantity: 1}},
			want:  Pricing{Subtotal: 15000, Shipping: 0, Tax: 1237, Total: 16237},
		},
		{
			name:  "free shipping above the threshold",
			items: []OrderItem{{PriceCents: 9000, Quantity: 2}},
			want:  Pricing{Subtotal: 18000, Shipping: 0, Tax: 1485, Total: 19485},
		},
		{
			name:  "one cent under the threshold still ships flat",
			items: []OrderItem{{PriceCents: 14999, Quantity: 1}},
			want:  Pricing{Subtotal: 14999, Shipping: 995, Tax: 1237, Total: 17231},
		},
		{
			name:  "no items",
			items: nil,
			want:  Pricing{Subtotal: 0, Shipping: 995, Tax: 0, Total: 995},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ComputePricing(c.items, cfg)
			if got != c.want {
				t.Errorf("ComputePricing() = %+v, want %+v", got, c.want)
			}
			if got.Total != got.Subtotal+got.Shipping+got.Tax {
				t.Errorf("total %d does not equal subtotal+shipping+tax", got.Total)
			}
		})
	}
}

func TestComputePricingTaxTruncatesTowardZero(t *testing.T) {
	// 101 * 50 / 10000 = 0.505, which must floor to 0, not round to 1.
	got := ComputePricing([]OrderItem{{PriceCents: 101, Quantity: 1}}, PricingConfig{TaxRateBps: 50})
	if got.Tax != 0 {
		t.Errorf("Tax = %d, want 0", got.Tax)
	}
	if got.Total != 101 {
		t.Errorf("Total = %d, want 101", got.Total)
	}
}

func TestComputePricingZeroConfig(t *testing.T) {
	got := ComputePricing([]OrderItem{{PriceCents: 1000, Quantity: 2}}, PricingConfig{})
	want := Pricing{Subtotal: 2000, Shipping: 0, Tax: 0, Total: 2000}
	if got != want {
		t.Errorf("ComputePricing() = %+v, want %+v", got, want)
	}
}
