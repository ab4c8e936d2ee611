// Package invoice holds the caller-supplied invoice facts, the structured
// invoice record produced from them, and the rules both must satisfy.
package invoice

import (
	"fmt"
	"strings"
)

// Facts are the free-form invoice facts supplied by the caller on
// start_job and patched by provide_input.
type Facts struct {
	SenderName          string `json:"sender_name"`
	SenderAddress       string `json:"sender_address"`
	SenderCountry       string `json:"sender_country"`
	SenderContact       string `json:"sender_contact"`
	SenderTaxID         string `json:"sender_tax_id"`
	RecipientName       string `json:"recipient_name"`
	RecipientAddress    string `json:"recipient_address"`
	RecipientCountry    string `json:"recipient_country"`
	RecipientContact    string `json:"recipient_contact"`
	RecipientTaxID      string `json:"recipient_tax_id"`
	DueDate             string `json:"due_date"`
	Transactions        string `json:"transactions"`
	Logo                string `json:"logo"`
	PaymentInstructions string `json:"payment_instructions"`
	Notes               string `json:"notes"`
	ExtraCharges        string `json:"extra_charges"`
	Taxes               string `json:"taxes"`
	TransactionNotes    string `json:"transaction_notes"`
	Currency            string `json:"currency"`
	PurchaserIdentifier string `json:"identifier_from_purchaser"`
}

// FieldSpec describes one facts field for the input schema endpoint and
// for prompt rendering.
type FieldSpec struct {
	ID          string
	Label       string
	Description string
	Required    bool
}

// FactFields lists the facts fields in prompt order.
var FactFields = []FieldSpec{
	{ID: "sender_name", Label: "Sender", Description: "Person or company issuing the invoice", Required: true},
	{ID: "sender_address", Label: "Sender address", Description: "Sender street address, town or city"},
	{ID: "sender_country", Label: "Sender country", Description: "Country or region of the sender"},
	{ID: "sender_contact", Label: "Sender contact", Description: "Sender email or phone"},
	{ID: "sender_tax_id", Label: "Sender tax ID", Description: "Sender VAT or tax identifier"},
	{ID: "recipient_name", Label: "Recipient", Description: "Person or company being billed", Required: true},
	{ID: "recipient_address", Label: "Recipient address", Description: "Recipient street address, town or city"},
	{ID: "recipient_country", Label: "Recipient country", Description: "Country or region of the recipient"},
	{ID: "recipient_contact", Label: "Recipient contact", Description: "Recipient email or phone"},
	{ID: "recipient_tax_id", Label: "Recipient tax ID", Description: "Recipient VAT or tax identifier"},
	{ID: "due_date", Label: "Due date", Description: "Payment due date"},
	{ID: "transactions", Label: "Transactions", Description: "Goods or services with quantities and prices", Required: true},
	{ID: "logo", Label: "Logo", Description: "File path of the company logo image"},
	{ID: "payment_instructions", Label: "Payment instructions", Description: "Bank details or other payment instructions"},
	{ID: "notes", Label: "Invoice notes", Description: "Free-text notes printed on the invoice"},
	{ID: "extra_charges", Label: "Extra charges", Description: "Shipping, handling or other surcharges"},
	{ID: "taxes", Label: "Taxes", Description: "Applicable taxes or levies"},
	{ID: "transaction_notes", Label: "Transaction notes", Description: "Notes about individual transactions"},
	{ID: "currency", Label: "Currency", Description: "Invoice currency"},
	{ID: "identifier_from_purchaser", Label: "Purchaser identifier", Description: "Identifier chosen by the purchaser", Required: true},
}

// refs pairs every field id with its storage, in FactFields order.
func (f *Facts) refs() []*string {
	return []*string{
		&f.SenderName, &f.SenderAddress, &f.SenderCountry, &f.SenderContact, &f.SenderTaxID,
		&f.RecipientName, &f.RecipientAddress, &f.RecipientCountry, &f.RecipientContact, &f.RecipientTaxID,
		&f.DueDate, &f.Transactions, &f.Logo, &f.PaymentInstructions, &f.Notes,
		&f.ExtraCharges, &f.Taxes, &f.TransactionNotes, &f.Currency, &f.PurchaserIdentifier,
	}
}

// Clone returns a copy of f.
func (f Facts) Clone() Facts {
	return f
}

// Get returns the value of the field with the given id.
func (f *Facts) Get(id string) (string, bool) {
	for i, ref := range f.refs() {
		if FactFields[i].ID == id {
			return *ref, true
		}
	}
	return "", false
}

// Merge applies patch as a sparse, field-level update: only concrete values
// overwrite, placeholders and blanks are ignored. It returns the ids of the
// fields whose stored value changed.
func (f *Facts) Merge(patch Facts) []string {
	var changed []string
	dst := f.refs()
	for i, src := range patch.refs() {
		if IsPlaceholder(*src) {
			continue
		}
		v := strings.TrimSpace(*src)
		if *dst[i] != v {
			*dst[i] = v
			changed = append(changed, FactFields[i].ID)
		}
	}
	return changed
}

// Validate checks that every required field holds a concrete value.
func (f *Facts) Validate() error {
	var missing []string
	for i, ref := range f.refs() {
		if FactFields[i].Required && IsPlaceholder(*ref) {
			missing = append(missing, FactFields[i].ID)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Text renders the concrete facts as labeled lines for the structuring
// service.
func (f *Facts) Text() string {
	var b strings.Builder
	for i, ref := range f.refs() {
		if IsPlaceholder(*ref) || FactFields[i].ID == "identifier_from_purchaser" {
			continue
		}
		b.WriteString(FactFields[i].Label)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(*ref))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Jurisdictions returns the sender and recipient countries, each replaced by
// the sentinel when unknown.
func (f *Facts) Jurisdictions() (string, string) {
	return Jurisdiction(f.SenderCountry), Jurisdiction(f.RecipientCountry)
}

var placeholders = map[string]struct{}{
	"string":    {},
	"none":      {},
	"null":      {},
	"nil":       {},
	"n/a":       {},
	"na":        {},
	"-":         {},
	"undefined": {},
}

// IsPlaceholder reports whether v carries no information: blank, or one of
// the filler values API clients send for untouched fields.
func IsPlaceholder(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return true
	}
	_, ok := placeholders[v]
	return ok
}
