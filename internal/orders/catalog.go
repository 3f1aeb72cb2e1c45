package orders

const researchUseNote = "For laboratory research use only. Not for human or veterinary use."

// DefaultCatalog seeds the product table on first start. Prices are minor
// currency units. Orders snapshot these at creation, so edits here never
// rewrite history.
func DefaultCatalog() []Product {
	return []Product{
		{ID: "bpc-157-5mg", Name: "BPC-157 5mg", PriceCents: 4999, ComplianceNote: researchUseNote, Active: true},
		{ID: "bpc-157-10mg", Name: "BPC-157 10mg", PriceCents: 8499, ComplianceNote: researchUseNote, Active: true},
		{ID: "tb-500-5mg", Name: "TB-500 5mg", PriceCents: 5999, ComplianceNote: researchUseNote, Active: true},
		{ID: "semaglutide-5mg", Name: "Semaglutide 5mg", PriceCents: 10999, ComplianceNote: researchUseNote, Active: true},
		{ID: "tirzepatide-10mg", Name: "Tirzepatide 10mg", PriceCents: 14999, ComplianceNote: researchUseNote, Active: true},
		{ID: "ipamorelin-5mg", Name: "Ipamorelin 5mg", PriceCents: 4499, ComplianceNote: researchUseNote, Active: true},
		{ID: "cjc-1295-2mg", Name: "CJC-1295 (no DAC) 2mg", PriceCents: 4299, ComplianceNote: researchUseNote, Active: true},
		{ID: "ghk-cu-50mg", Name: "GHK-Cu 50mg", PriceCents: 6499, ComplianceNote: researchUseNote, Active: true},
		{ID: "nad-plus-500mg", Name: "NAD+ 500mg", PriceCents: 11999, ComplianceNote: researchUseNote, Active: true},
		{ID: "bac-water-10ml", Name: "Bacteriostatic Water 10ml", PriceCents: 999, ComplianceNote: researchUseNote, Active: true},
	}
}
