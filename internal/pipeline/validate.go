package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type notProvided struct{}

func (notProvided) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

func (notProvided) String() string { return "<not provided>" }

// NotProvided stands in for an optional field the model did not supply.
// It encodes as JSON null.
var NotProvided any = notProvided{}

// StructuredResult is a model response that passed validation. Every
// required field is present and type-correct; every optional field is
// either valid or NotProvided.
type StructuredResult struct {
	Task    TaskKind
	Version int
	Fields  map[string]any
	// Missing lists the optional fields that were absent or unusable.
	Missing []string
}

// Provided reports whether field holds a model-supplied value.
func (r *StructuredResult) Provided(field string) bool {
	v, ok := r.Fields[field]
	return ok && v != NotProvided
}

// JSON encodes the validated fields.
func (r *StructuredResult) JSON() ([]byte, error) {
	return json.Marshal(r.Fields)
}

// Decode copies the validated fields into a typed record.
func (r *StructuredResult) Decode(v any) error {
	data, err := r.JSON()
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// ParseAndValidate sanitizes raw model text, decodes it and checks it
// against schema. Decode failures yield a *MalformedOutputError; required
// field problems yield a *SchemaViolationError listing all of them. Values
// are never coerced.
func ParseAndValidate(raw string, schema TaskSchema) (*StructuredResult, error) {
	obj, err := decodeObject(Sanitize(raw))
	if err != nil {
		return nil, &MalformedOutputError{Raw: raw, Err: err}
	}

	var violations []SchemaViolation
	fields := make(map[string]any, len(schema.Required)+len(schema.Optional))
	for _, f := range schema.Required {
		v, present := obj[f.Name]
		if !present {
			violations = append(violations, SchemaViolation{Field: f.Name, ExpectedType: f.Kind, Got: "missing"})
			continue
		}
		if ok, got := f.check(v); !ok {
			violations = append(violations, SchemaViolation{Field: f.Name, ExpectedType: f.Kind, Got: got})
			continue
		}
		fields[f.Name] = v
	}
	if len(violations) > 0 {
		return nil, &SchemaViolationError{Violations: violations}
	}

	var missing []string
	for _, f := range schema.Optional {
		v, present := obj[f.Name]
		if present {
			if ok, _ := f.check(v); ok {
				fields[f.Name] = v
				continue
			}
		}
		fields[f.Name] = NotProvided
		missing = append(missing, f.Name)
	}

	return &StructuredResult{
		Task:    schema.Kind,
		Version: schema.Version,
		Fields:  fields,
		Missing: missing,
	}, nil
}

func decodeObject(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("empty response")
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value is %s, want object", jsonKind(v))
	}
	return obj, nil
}
