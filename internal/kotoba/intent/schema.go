package intent

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const parsedIntentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["intent_type", "confidence"],
  "properties": {
    "intent_type": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "entities": {
      "type": "object",
      "additionalProperties": {
        "oneOf": [
          {"type": "string"},
          {"type": "array", "items": {"type": "string"}}
        ]
      }
    }
  }
}`

var schema = jsonschema.MustCompileString("kotoba://parsed-intent.json", parsedIntentSchema)

// Decode validates data against the ParsedIntent schema and decodes it.
// Every failure wraps ErrMalformedIntent.
func Decode(data []byte) (*ParsedIntent, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	var p ParsedIntent
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	return &p, nil
}

// Validate checks an already-built intent against the same schema.
func Validate(p *ParsedIntent) error {
	if p == nil {
		return fmt.Errorf("%w: nil intent", ErrMalformedIntent)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	_, err = Decode(data)
	return err
}
