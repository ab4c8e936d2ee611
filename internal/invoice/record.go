package invoice

import (
	"slices"
	"strings"
)

// JurisdictionRequired marks a jurisdiction that could not be determined.
const JurisdictionRequired = "JURISDICTION REQUIRED"

// Record is the structured invoice consumed by validation and rendering.
// SenderInfo and RecipientInfo hold the party name first, followed by the
// address lines from smallest to largest granularity.
type Record struct {
	SenderInfo       []string `json:"sender_info"`
	SenderCountry    string   `json:"sender_country"`
	SenderTaxID      string   `json:"sender_tax_id"`
	SenderContact    string   `json:"sender_contact"`
	RecipientInfo    []string `json:"recipient_info"`
	RecipientCountry string   `json:"recipient_country"`
	RecipientTaxID   string   `json:"recipient_tax_id"`
	RecipientContact string   `json:"recipient_contact"`
	DueDate          string   `json:"due_date"`

	Descriptions []string  `json:"transactions"`
	Quantities   []float64 `json:"quantities"`
	UnitPrices   []string  `json:"unit_prices"`
	LineTotals   []string  `json:"line_totals"`
	Total        string    `json:"total"`
	Currency     string    `json:"currency"`

	Logo                string `json:"logo"`
	PaymentInstructions string `json:"payment_instructions"`
	InvoiceNotes        string `json:"invoice_notes"`
	ExtraCharges        string `json:"extra_charges"`
	ExtraChargesAmount  string `json:"extra_charges_amount"`
	Taxes               string `json:"taxes"`
	TaxAmount           string `json:"tax_amount"`
	TransactionNotes    string `json:"transaction_notes"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.SenderInfo = slices.Clone(r.SenderInfo)
	out.RecipientInfo = slices.Clone(r.RecipientInfo)
	out.Descriptions = slices.Clone(r.Descriptions)
	out.Quantities = slices.Clone(r.Quantities)
	out.UnitPrices = slices.Clone(r.UnitPrices)
	out.LineTotals = slices.Clone(r.LineTotals)
	return out
}

// Lines returns the number of line items, or -1 when the parallel lists
// disagree.
func (r *Record) Lines() int {
	n := len(r.Descriptions)
	if len(r.Quantities) != n || len(r.UnitPrices) != n || len(r.LineTotals) != n {
		return -1
	}
	return n
}

// SenderName returns the first entry of SenderInfo.
func (r *Record) SenderName() string {
	if len(r.SenderInfo) == 0 {
		return ""
	}
	return r.SenderInfo[0]
}

// RecipientName returns the first entry of RecipientInfo.
func (r *Record) RecipientName() string {
	if len(r.RecipientInfo) == 0 {
		return ""
	}
	return r.RecipientInfo[0]
}

// Jurisdiction returns v trimmed, or the sentinel when v carries no value.
func Jurisdiction(v string) string {
	if IsPlaceholder(v) || IsSentinel(v) {
		return JurisdictionRequired
	}
	return strings.TrimSpace(v)
}

// IsSentinel reports whether v is the unknown-jurisdiction marker.
func IsSentinel(v string) bool {
	v = strings.TrimSpace(v)
	return strings.EqualFold(v, JurisdictionRequired) || strings.EqualFold(v, "COUNTRY REQUIRED")
}

// Present reports whether an optional field should be emitted: it is
// neither a placeholder nor the sentinel.
func Present(v string) bool {
	return !IsPlaceholder(v) && !IsSentinel(v)
}
