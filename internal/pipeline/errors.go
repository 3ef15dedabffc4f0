package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"vitafit/internal/models"
)

// Failure classes of a generation. Upstream failures live in package llm.
var (
	ErrInvalidProfile   = errors.New("invalid profile")
	ErrUnsupportedPhase = errors.New("unsupported phase")
	ErrMalformedOutput  = errors.New("malformed model output")
	ErrSchemaViolation  = errors.New("schema violation")
	ErrInvalidInput     = errors.New("invalid task input")
	ErrUnknownTask      = errors.New("unknown task")
	ErrPremiumRequired  = errors.New("premium required")
)

// UnsupportedPhaseError carries the phase value no guidance block exists for.
type UnsupportedPhaseError struct {
	Phase models.Phase
}

func (e *UnsupportedPhaseError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnsupportedPhase, e.Phase)
}

func (e *UnsupportedPhaseError) Is(target error) bool { return target == ErrUnsupportedPhase }

// MalformedOutputError keeps the raw model text for diagnostics only.
// Raw must never be stored or returned to clients.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedOutput, e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

func (e *MalformedOutputError) Is(target error) bool { return target == ErrMalformedOutput }

// SchemaViolation describes one required field that is absent or mistyped.
type SchemaViolation struct {
	Field        string    `json:"field"`
	ExpectedType FieldKind `json:"expected_type"`
	Got          string    `json:"got"`
}

// SchemaViolationError lists every required-field violation of one response.
type SchemaViolationError struct {
	Violations []SchemaViolation
}

func (e *SchemaViolationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s (want %s, got %s)", v.Field, v.ExpectedType, v.Got))
	}
	return fmt.Sprintf("%s: %s", ErrSchemaViolation, strings.Join(parts, "; "))
}

func (e *SchemaViolationError) Is(target error) bool { return target == ErrSchemaViolation }

// Fields returns the names of the violating fields in order.
func (e *SchemaViolationError) Fields() []string {
	names := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		names = append(names, v.Field)
	}
	return names
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
