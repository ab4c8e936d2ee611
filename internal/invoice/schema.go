package invoice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const factsSchemaURL = "https://invoicegen.local/schemas/facts.json"

// FactsSchema returns the JSON schema describing the start_job field set.
func FactsSchema() map[string]any {
	props := make(map[string]any, len(FactFields))
	var required []string
	for _, f := range FactFields {
		props[f.ID] = map[string]any{
			"type":        "string",
			"title":       f.Label,
			"description": f.Description,
		}
		if f.Required {
			required = append(required, f.ID)
			props[f.ID].(map[string]any)["minLength"] = 1
		}
	}
	return map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"$id":        factsSchemaURL,
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

var (
	factsSchemaOnce sync.Once
	factsSchema     *jsonschema.Schema
	factsSchemaErr  error
)

func compiledFactsSchema() (*jsonschema.Schema, error) {
	factsSchemaOnce.Do(func() {
		raw, err := json.Marshal(FactsSchema())
		if err != nil {
			factsSchemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(factsSchemaURL, bytes.NewReader(raw)); err != nil {
			factsSchemaErr = err
			return
		}
		factsSchema, factsSchemaErr = c.Compile(factsSchemaURL)
	})
	return factsSchema, factsSchemaErr
}

// ValidateFactsDocument checks a raw start_job body against FactsSchema.
// Unknown properties are allowed so callers can send extra metadata.
func ValidateFactsDocument(raw []byte) error {
	schema, err := compiledFactsSchema()
	if err != nil {
		return fmt.Errorf("compile facts schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode facts: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("facts do not match schema: %w", err)
	}
	return nil
}
