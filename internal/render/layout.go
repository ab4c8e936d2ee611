// Package render produces invoice documents from validated invoice records.
package render

import (
	"time"

	"github.com/cuongbtq/invoicegen/internal/invoice"
)

// Document is the handle of a rendered invoice.
type Document struct {
	Path          string    `json:"path"`
	InvoiceNumber string    `json:"invoice_number"`
	IssuedAt      time.Time `json:"issued_at"`
}

// Field is a labelled value in the metadata, totals or notes regions.
type Field struct {
	Label string
	Value string
}

// Layout is the format-independent content of an invoice page, in reading
// order. Optional fields that are absent have already been left out.
type Layout struct {
	Title     string
	Logo      string
	Meta      []Field
	Sender    []string
	Recipient []string
	Columns   [4]string
	Rows      [][4]string
	Totals    []Field
	Notes     []Field
}

// BuildLayout arranges rec for rendering. It never modifies rec.
func BuildLayout(rec *invoice.Record, number string, issued time.Time) Layout {
	l := Layout{
		Title:   "INVOICE",
		Columns: [4]string{"Description", "Quantity", "Unit Price", "Line Total"},
		Meta: []Field{
			{Label: "Invoice No.", Value: number},
			{Label: "Issue Date", Value: issued.Format(invoice.DateLayout)},
		},
	}
	if invoice.Present(rec.DueDate) {
		l.Meta = append(l.Meta, Field{Label: "Due Date", Value: rec.DueDate})
	}
	if invoice.Present(rec.Logo) {
		l.Logo = rec.Logo
	}

	l.Sender = partyBlock(rec.SenderInfo, rec.SenderCountry, rec.SenderTaxID, rec.SenderContact)
	l.Recipient = partyBlock(rec.RecipientInfo, rec.RecipientCountry, rec.RecipientTaxID, rec.RecipientContact)

	var subtotal int64
	var symbol string
	var suffix bool
	for i := range rec.Descriptions {
		l.Rows = append(l.Rows, [4]string{
			rec.Descriptions[i],
			invoice.FormatQuantity(rec.Quantities[i]),
			rec.UnitPrices[i],
			rec.LineTotals[i],
		})
		if m, err := invoice.ParseMoney(rec.LineTotals[i]); err == nil {
			subtotal += m.Minor
			symbol, suffix = m.Symbol, m.Suffix
		}
	}

	if symbol != "" {
		l.Totals = append(l.Totals, Field{Label: "Subtotal", Value: invoice.FormatMinor(subtotal, symbol, suffix)})
	}
	if invoice.Present(rec.ExtraChargesAmount) {
		l.Totals = append(l.Totals, Field{Label: labelWith("Extra charges", rec.ExtraCharges), Value: rec.ExtraChargesAmount})
	}
	if invoice.Present(rec.TaxAmount) {
		l.Totals = append(l.Totals, Field{Label: labelWith("Tax", rec.Taxes), Value: rec.TaxAmount})
	}
	l.Totals = append(l.Totals, Field{Label: "Total", Value: rec.Total})

	for _, n := range []Field{
		{Label: "Payment Instructions", Value: rec.PaymentInstructions},
		{Label: "Notes", Value: rec.InvoiceNotes},
		{Label: "Transaction Notes", Value: rec.TransactionNotes},
	} {
		if invoice.Present(n.Value) {
			l.Notes = append(l.Notes, n)
		}
	}
	if !invoice.Present(rec.ExtraChargesAmount) && invoice.Present(rec.ExtraCharges) {
		l.Notes = append(l.Notes, Field{Label: "Extra Charges", Value: rec.ExtraCharges})
	}
	if !invoice.Present(rec.TaxAmount) && invoice.Present(rec.Taxes) {
		l.Notes = append(l.Notes, Field{Label: "Taxes", Value: rec.Taxes})
	}

	return l
}

func partyBlock(info []string, country, taxID, contact string) []string {
	var out []string
	for _, line := range info {
		if invoice.Present(line) {
			out = append(out, line)
		}
	}
	if invoice.Present(country) {
		out = append(out, country)
	}
	if invoice.Present(taxID) {
		out = append(out, "Tax ID: "+taxID)
	}
	if invoice.Present(contact) {
		out = append(out, contact)
	}
	return out
}

func labelWith(label, desc string) string {
	if invoice.Present(desc) {
		return label + " (" + desc + ")"
	}
	return label
}
