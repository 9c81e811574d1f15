package topic_test

import (
	"testing"

	"github.com/xraph/hookrelay/topic"
)

const validatorOrderSchema = `{
	"type": "object",
	"properties": {
		"amount":   {"type": "number"},
		"currency": {"type": "string"}
	},
	"required": ["amount", "currency"]
}`

func TestValidatorEmptySchema(t *testing.T) {
	v := topic.NewValidator()

	if err := v.Validate(nil, []byte(`{"key":"value"}`)); err != nil {
		t.Fatal("empty schema should skip validation, got:", err)
	}
}

func TestValidatorValidPayload(t *testing.T) {
	v := topic.NewValidator()

	if err := v.Validate([]byte(validatorOrderSchema), []byte(`{"amount":100.5,"currency":"USD"}`)); err != nil {
		t.Fatal("valid payload should pass, got:", err)
	}
}

func TestValidatorMissingRequired(t *testing.T) {
	v := topic.NewValidator()

	if err := v.Validate([]byte(validatorOrderSchema), []byte(`{"amount":1}`)); err == nil {
		t.Fatal("expected validation error for missing required field")
	}
}

func TestValidatorWrongType(t *testing.T) {
	v := topic.NewValidator()

	if err := v.Validate([]byte(validatorOrderSchema), []byte(`{"amount":"ten","currency":"USD"}`)); err == nil {
		t.Fatal("expected validation error for wrong type")
	}
}

func TestValidatorInvalidSchema(t *testing.T) {
	v := topic.NewValidator()

	if err := v.Compile([]byte(`{"type": 12}`)); err == nil {
		t.Fatal("expected compile error for invalid schema")
	}
	if err := v.Compile([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error for malformed schema")
	}
}

func TestValidatorCachesCompiledSchema(t *testing.T) {
	v := topic.NewValidator()

	for range 3 {
		if err := v.Validate([]byte(validatorOrderSchema), []byte(`{"amount":2,"currency":"EUR"}`)); err != nil {
			t.Fatal(err)
		}
	}
}
