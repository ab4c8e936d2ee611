package structuring

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func stringList(desc string, minItems int) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"minItems":    minItems,
		"description": desc,
	}
}

// RecordSchema is the JSON schema the extraction response must satisfy.
// List lengths are checked separately by invoice.Validate.
func RecordSchema() map[string]any {
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"sender_info":       stringList("Sender name followed by address lines, smallest to largest", 1),
			"sender_country":    stringProp("Sender country or JURISDICTION REQUIRED"),
			"sender_tax_id":     stringProp("Sender VAT or tax identifier, or None"),
			"sender_contact":    stringProp("Sender email or phone, or None"),
			"recipient_info":    stringList("Recipient name followed by address lines, smallest to largest", 1),
			"recipient_country": stringProp("Recipient country or JURISDICTION REQUIRED"),
			"recipient_tax_id":  stringProp("Recipient VAT or tax identifier, or None"),
			"recipient_contact": stringProp("Recipient email or phone, or None"),
			"due_date":          stringProp("Due date as 02 January, 2006"),
			"transactions":      stringList("Singular transaction descriptions", 1),
			"quantities": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "number", "exclusiveMinimum": 0},
				"minItems": 1,
			},
			"unit_prices":          stringList("Unit prices with currency symbol", 1),
			"line_totals":          stringList("Line totals with currency symbol", 1),
			"total":                stringProp("Grand total with currency symbol"),
			"currency":             stringProp("Currency symbol"),
			"logo":                 stringProp("Logo file path or None"),
			"payment_instructions": stringProp("Payment instructions or None"),
			"invoice_notes":        stringProp("Invoice notes or None"),
			"extra_charges":        stringProp("Description of extra charges or None"),
			"extra_charges_amount": stringProp("Extra charges amount with currency symbol or None"),
			"taxes":                stringProp("Description of taxes or None"),
			"tax_amount":           stringProp("Tax amount with currency symbol or None"),
			"transaction_notes":    stringProp("Notes about individual transactions or None"),
		},
		"required": []string{
			"sender_info", "sender_country", "recipient_info", "recipient_country",
			"transactions", "quantities", "unit_prices", "line_totals", "total",
		},
	}
}

// AnalysisSchema is the JSON schema of the compliance analysis response.
func AnalysisSchema() map[string]any {
	return map[string]any{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"type":     "object",
		"required": []string{"analysis"},
		"properties": map[string]any{
			"analysis": map[string]any{"type": "string", "minLength": 1},
		},
	}
}

// validateAgainst validates data against schemaMap.
func validateAgainst(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
