package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ReceiptSchema returns the JSON Schema (draft 2020-12 subset) for a parsed
// receipt, as a generic map. It is handed to providers as the structured
// output constraint and used locally to validate what comes back.
func ReceiptSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"items":          map[string]any{"type": "array", "items": itemSchema()},
			"taxes_and_fees": map[string]any{"type": "array", "items": taxSchema()},
			"subtotal":       decimalProp(),
			"total":          decimalProp(),
			"metadata":       metadataSchema(),
		},
		"required": []string{"items", "subtotal", "total"},
	}
}

// SplitResponseSchema returns the JSON Schema for one splitting-assistant
// turn: a possibly partial split plus the clarification flag and question.
func SplitResponseSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"split_result": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"common_items": map[string]any{"type": "array", "items": itemSchema()},
					"separate_items": map[string]any{
						"type":                 "object",
						"additionalProperties": map[string]any{"type": "array", "items": itemSchema()},
					},
					"participants": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string", "minLength": 1},
					},
				},
				"required": []string{"participants"},
			},
			"needs_clarification":    map[string]any{"type": "boolean"},
			"clarification_question": map[string]any{"type": []string{"string", "null"}},
		},
		"required": []string{"split_result", "needs_clarification"},
	}
}

func itemSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "minLength": 1},
			// quantity is not money: weighed goods need more precision
			"quantity":   map[string]any{"type": []string{"string", "number", "null"}},
			"unit_price": nullableDecimalProp(),
			"subtotal":   decimalProp(),
			"metadata":   metadataSchema(),
		},
		"required": []string{"name", "subtotal"},
	}
}

func taxSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "minLength": 1},
			// deliberately unconstrained: out-of-range rates are warned
			// about downstream, not rejected here
			"rate":     map[string]any{"type": []string{"integer", "null"}},
			"total":    decimalProp(),
			"metadata": metadataSchema(),
		},
		"required": []string{"name", "total"},
	}
}

// decimalProp accepts a monetary amount as a two-place decimal string or a
// plain number. The pattern allows negatives for discount lines.
func decimalProp() map[string]any {
	return map[string]any{
		"type":    []string{"string", "number"},
		"pattern": `^-?\d+(\.\d{1,2})?$`,
	}
}

func nullableDecimalProp() map[string]any {
	return map[string]any{
		"type":    []string{"string", "number", "null"},
		"pattern": `^-?\d+(\.\d{1,2})?$`,
	}
}

func metadataSchema() map[string]any {
	return map[string]any{
		"type":                 []string{"object", "null"},
		"additionalProperties": map[string]any{"type": "string"},
	}
}

// ValidateAgainstSchema validates data against schemaMap.
func ValidateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshaling schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("adding schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshaling data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
