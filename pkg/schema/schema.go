// Package schema represents the caller-supplied structural contract as a
// data value and validates final generated objects against it. Validation is
// deferred to stream completion; partial objects are never validated.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema is a compiled JSON Schema, held both as raw JSON (for provider
// request shaping and telemetry capture) and in resolved form (for local
// validation).
type Schema struct {
	raw      json.RawMessage
	resolved *jsonschema.Resolved
}

// Compile parses and resolves a raw JSON Schema document.
func Compile(raw []byte) (*Schema, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}

	var s jsonschema.Schema
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	resolved, err := s.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}

	// Keep a compact copy of the raw document.
	compact := &bytes.Buffer{}
	if err := json.Compact(compact, raw); err != nil {
		return nil, fmt.Errorf("compact schema: %w", err)
	}

	return &Schema{raw: json.RawMessage(compact.Bytes()), resolved: resolved}, nil
}

// FromMap compiles a schema given as a decoded map, the form provider
// request builders and HTTP payloads naturally carry.
func FromMap(m map[string]any) (*Schema, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal schema map: %w", err)
	}
	return Compile(raw)
}

// Validate checks a decoded value against the schema. The returned error is
// the underlying validation failure; callers classify it.
func (s *Schema) Validate(v any) error {
	return s.resolved.Validate(v)
}

// JSON returns the compacted raw schema document.
func (s *Schema) JSON() json.RawMessage {
	return s.raw
}
