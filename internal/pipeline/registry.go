package pipeline

import (
	"fmt"
	"sort"
)

// Task pairs a schema with the template that renders its instruction.
// Tasks are immutable once registered.
type Task struct {
	Schema TaskSchema

	// persona replaces the phase-guided system persona for investigative tasks.
	persona string
	// shape is the JSON example embedded in the output contract.
	shape   string
	options map[string]optionSpec
	render  func(gc GenerationContext, in TaskInput, opts map[string]string) (string, error)
}

// Registry maps stable task names to their schema and template.
type Registry struct {
	tasks map[TaskKind]Task
}

// NewRegistry builds a registry, rejecting duplicate kinds and tasks whose
// template cannot render.
func NewRegistry(tasks ...Task) (*Registry, error) {
	r := &Registry{tasks: make(map[TaskKind]Task, len(tasks))}
	for _, t := range tasks {
		if t.Schema.Kind == "" {
			return nil, fmt.Errorf("task without kind")
		}
		if _, ok := r.tasks[t.Schema.Kind]; ok {
			return nil, fmt.Errorf("duplicate task %q", t.Schema.Kind)
		}
		if t.render == nil {
			return nil, fmt.Errorf("task %q has no template", t.Schema.Kind)
		}
		if len(t.Schema.Required) == 0 {
			return nil, fmt.Errorf("task %q declares no required fields", t.Schema.Kind)
		}
		r.tasks[t.Schema.Kind] = t
	}
	return r, nil
}

// DefaultRegistry returns the registry of every built-in task.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(builtinTasks()...)
	if err != nil {
		panic(fmt.Sprintf("pipeline: invalid built-in tasks: %v", err))
	}
	return r
}

// Lookup returns the task registered under kind.
func (r *Registry) Lookup(kind TaskKind) (Task, error) {
	t, ok := r.tasks[kind]
	if !ok {
		return Task{}, fmt.Errorf("%w: %q", ErrUnknownTask, kind)
	}
	return t, nil
}

// Kinds lists the registered task names in lexical order.
func (r *Registry) Kinds() []TaskKind {
	kinds := make([]TaskKind, 0, len(r.tasks))
	for k := range r.tasks {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
