package structuring

import (
	"strings"

	"github.com/cuongbtq/invoicegen/internal/invoice"
)

var extractionRules = []string{
	"You are an expert invoice parser. Return ONLY a JSON object that matches the provided JSON Schema.",
	"sender_info and recipient_info are arrays: the first element is the person or company name, the following elements are the address from smallest to largest unit (building, street, town or city). Do NOT include the country; it has its own field.",
	"If a country cannot be determined, put \"" + invoice.JurisdictionRequired + "\" in sender_country or recipient_country. Never leave a country blank.",
	"transactions, quantities, unit_prices and line_totals are parallel arrays with one entry per transaction and MUST have the same length.",
	"Transaction descriptions are singular nouns (products -> product).",
	"Quantities are numbers. unit_prices, line_totals, total, extra_charges_amount and tax_amount are strings with a currency symbol (for example €30.00); never write currency names or codes such as EUR or euros.",
	"line_totals[i] equals quantities[i] multiplied by unit_prices[i]. total equals the sum of line_totals plus extra_charges_amount plus tax_amount.",
	"Format the due date as \"" + invoice.DateLayout + "\" (for example 01 March, 2025).",
	"Capitalize proper nouns such as names, streets, towns and countries.",
	"logo is a file path if one is given, otherwise \"None\". Use \"None\" for any other optional field that is not provided.",
	"Do not invent an invoice number or issue date; they are added later.",
}

var analysisRules = []string{
	"You are an expert in invoicing law. Return ONLY a JSON object of the form {\"analysis\": \"...\"}.",
	"Analyse the invoice against the regulatory context for BOTH the sender and the recipient jurisdiction at the same time, naming each jurisdiction explicitly.",
	"Describe the nature of the transactions and how it affects the requirements (for example services versus goods, cross-border supply, reverse charge).",
	"List every field the invoice must carry and whether it is present.",
	"When a field is NOT required, say so explicitly and name the field together with the reason (for example: tax identifier not mandatory because every listed transaction is exempt). Never silently omit a field.",
	"If a jurisdiction is \"" + invoice.JurisdictionRequired + "\", state that the country must be supplied before the invoice can be assessed for it.",
	"Ignore the missing invoice number and issue date; they are generated when the invoice is rendered.",
}

func extractionSystemPrompt() string {
	return strings.Join(extractionRules, "\n")
}

func analysisSystemPrompt() string {
	return strings.Join(analysisRules, "\n")
}

func extractionUserPrompt(facts, regulatory string) string {
	var b strings.Builder
	b.WriteString("Invoice facts:\n")
	b.WriteString(facts)
	b.WriteString("\n\nRegulatory context:\n")
	if strings.TrimSpace(regulatory) == "" {
		b.WriteString("(no jurisdiction-specific guidance available)")
	} else {
		b.WriteString(regulatory)
	}
	return b.String()
}

func analysisUserPrompt(recordJSON, regulatory string) string {
	var b strings.Builder
	b.WriteString("Structured invoice:\n")
	b.WriteString(recordJSON)
	b.WriteString("\n\nRegulatory context:\n")
	if strings.TrimSpace(regulatory) == "" {
		b.WriteString("(no jurisdiction-specific guidance available; rely on general knowledge and say so)")
	} else {
		b.WriteString(regulatory)
	}
	return b.String()
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
