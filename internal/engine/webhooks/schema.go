package webhooks

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Per-provider payload schemas. A payload failing its schema rejects the
// whole request; nothing is partially normalized.

const pipedriveSchema = `{
	"type": "object",
	"required": ["meta"],
	"properties": {
		"meta": {
			"type": "object",
			"required": ["action", "object", "id"],
			"properties": {
				"action": {"type": "string"},
				"object": {"type": "string"},
				"id": {"type": ["integer", "string"]},
				"user_id": {"type": ["integer", "string"]},
				"timestamp": {"type": ["integer", "number", "string"]},
				"timestamp_micro": {"type": ["integer", "number", "string"]}
			}
		},
		"current": {"type": ["object", "null"]},
		"previous": {"type": ["object", "null"]}
	}
}`

// Email delivery providers post three different shapes: SES a notification
// object, SendGrid an array of events, Mailgun an event-data envelope.
const emailSchema = `{
	"oneOf": [
		{
			"type": "object",
			"required": ["notificationType"],
			"properties": {"notificationType": {"type": "string"}}
		},
		{
			"type": "array",
			"items": {
				"type": "object",
				"required": ["event"],
				"properties": {"event": {"type": "string"}}
			},
			"minItems": 1
		},
		{
			"type": "object",
			"required": ["event-data"],
			"properties": {"event-data": {"type": "object"}}
		}
	]
}`

var providerSchemas = map[string]string{
	"pipedrive": pipedriveSchema,
	"email":     emailSchema,
}

// Validator holds the compiled per-provider schemas, built once at startup.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	for provider, src := range providerSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("parse %s schema: %w", provider, err)
		}
		if err := compiler.AddResource(provider+".json", doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", provider, err)
		}
	}

	schemas := make(map[string]*jsonschema.Schema, len(providerSchemas))
	for provider := range providerSchemas {
		sch, err := compiler.Compile(provider + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", provider, err)
		}
		schemas[provider] = sch
	}

	return &Validator{schemas: schemas}, nil
}

// KnownProvider reports whether an endpoint exists for the provider family.
func (v *Validator) KnownProvider(provider string) bool {
	_, ok := v.schemas[provider]
	return ok
}

// Validate checks the raw body against the provider's schema and returns the
// decoded payload on success.
func (v *Validator) Validate(provider string, body []byte) (interface{}, error) {
	sch, ok := v.schemas[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}

	if err := sch.Validate(inst); err != nil {
		return nil, err
	}
	return inst, nil
}
