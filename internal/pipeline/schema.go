package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskKind is the stable name callers select a generation task by.
type TaskKind string

const (
	TaskChat             TaskKind = "chat"
	TaskMealAnalysis     TaskKind = "meal-analysis"
	TaskMealPlan         TaskKind = "meal-plan"
	TaskWorkoutPlan      TaskKind = "workout-plan"
	TaskNameSuggestion   TaskKind = "name-suggestion"
	TaskRecipe           TaskKind = "recipe"
	TaskReportExtraction TaskKind = "report-extraction"
	TaskImageDescription TaskKind = "image-description"
)

// FieldKind is the JSON type a field must carry.
type FieldKind string

const (
	KindString  FieldKind = "string"
	KindNumber  FieldKind = "number"
	KindInteger FieldKind = "integer"
	KindBoolean FieldKind = "boolean"
	KindArray   FieldKind = "array"
	KindObject  FieldKind = "object"
	// KindDate is a "YYYY-MM-DD" string.
	KindDate FieldKind = "date"
)

// NotInformed is the marker the model is told to use for unknown text values.
const NotInformed = "Não informado"

// FieldSpec declares one top-level field of a task's output.
type FieldSpec struct {
	Name string
	Kind FieldKind
	// Elem, when set on an array field, is the kind every element must have.
	Elem FieldKind
}

// TaskSchema describes one generation task's output contract.
type TaskSchema struct {
	Kind             TaskKind
	Version          int
	PromptTemplateID string
	Required         []FieldSpec
	Optional         []FieldSpec
	// ExpectsAttachment tasks must carry exactly one binary part.
	ExpectsAttachment bool
	// PhaseGuided tasks get the user's phase guidance in the system instruction.
	PhaseGuided bool
}

// FieldNames returns the required and optional field names in declaration order.
func (s TaskSchema) FieldNames() (required, optional []string) {
	for _, f := range s.Required {
		required = append(required, f.Name)
	}
	for _, f := range s.Optional {
		optional = append(optional, f.Name)
	}
	return required, optional
}

// check reports whether v (as produced by a json.Decoder with UseNumber)
// has the declared kind. The second value names what was found.
func (f FieldSpec) check(v any) (bool, string) {
	got := jsonKind(v)
	switch f.Kind {
	case KindString:
		return got == "string", got
	case KindNumber:
		return got == "number", got
	case KindInteger:
		n, ok := v.(json.Number)
		if !ok {
			return false, got
		}
		if _, err := n.Int64(); err != nil {
			return false, "number"
		}
		return true, got
	case KindBoolean:
		return got == "boolean", got
	case KindObject:
		return got == "object", got
	case KindDate:
		s, ok := v.(string)
		if !ok {
			return false, got
		}
		if s == NotInformed {
			return true, got
		}
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return false, fmt.Sprintf("string %q", s)
		}
		return true, got
	case KindArray:
		items, ok := v.([]any)
		if !ok {
			return false, got
		}
		if f.Elem == "" {
			return true, got
		}
		elem := FieldSpec{Name: f.Name, Kind: f.Elem}
		for i, item := range items {
			if ok, gotElem := elem.check(item); !ok {
				return false, fmt.Sprintf("array with %s at index %d", gotElem, i)
			}
		}
		return true, got
	}
	return false, got
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
