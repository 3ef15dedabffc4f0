package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()

	assert.Equal(t, []TaskKind{
		TaskChat,
		TaskImageDescription,
		TaskMealAnalysis,
		TaskMealPlan,
		TaskNameSuggestion,
		TaskRecipe,
		TaskReportExtraction,
		TaskWorkoutPlan,
	}, reg.Kinds())

	for _, kind := range reg.Kinds() {
		task, err := reg.Lookup(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, task.Schema.Kind)
		assert.NotEmpty(t, task.Schema.PromptTemplateID)
		assert.Positive(t, task.Schema.Version)
		if !task.Schema.PhaseGuided {
			assert.NotEmpty(t, task.persona, "investigative task %s needs its own persona", kind)
		}
	}

	attachments := map[TaskKind]bool{}
	for _, kind := range reg.Kinds() {
		task, _ := reg.Lookup(kind)
		attachments[kind] = task.Schema.ExpectsAttachment
	}
	assert.True(t, attachments[TaskMealAnalysis])
	assert.True(t, attachments[TaskImageDescription])
	assert.False(t, attachments[TaskChat])
}

func TestRegistry_Lookup(t *testing.T) {
	_, err := DefaultRegistry().Lookup("horoscope")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestNewRegistry_Rejects(t *testing.T) {
	chat := chatTask()

	_, err := NewRegistry(chat, chat)
	assert.Error(t, err)

	noFields := chatTask()
	noFields.Schema.Required = nil
	_, err = NewRegistry(noFields)
	assert.Error(t, err)

	_, err = NewRegistry(Task{Schema: TaskSchema{Kind: "x", Required: []FieldSpec{{Name: "a", Kind: KindString}}}})
	assert.Error(t, err)
}
