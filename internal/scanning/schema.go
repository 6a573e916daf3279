package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const expenseSchemaURL = "expense.json"

// ExpenseJSONSchema returns the JSON Schema the model's reply must satisfy.
// Category membership is checked by Category.UnmarshalText so that casing
// differences are tolerated while unknown values still fail.
func ExpenseJSONSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"amount", "date", "category", "description"},
		"properties": map[string]any{
			"amount":      map[string]any{"type": "number"},
			"date":        map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
			"category":    map[string]any{"type": "string", "minLength": 1},
			"description": map[string]any{"type": "string"},
		},
	}
}

var expenseSchema = mustCompileSchema(ExpenseJSONSchema())

func mustCompileSchema(doc map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("marshal expense schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(expenseSchemaURL, bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("add expense schema: %v", err))
	}
	schema, err := compiler.Compile(expenseSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("compile expense schema: %v", err))
	}
	return schema
}

// validateExpenseJSON checks data against the expense schema
func validateExpenseJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}
	if err := expenseSchema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
