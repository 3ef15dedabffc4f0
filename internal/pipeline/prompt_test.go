package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitafit/internal/llm"
	"vitafit/internal/models"
)

var jpeg = &llm.Attachment{MediaType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff, 0xe0}}

// validInput returns an input every built-in task accepts.
func validInput(kind TaskKind) TaskInput {
	switch kind {
	case TaskChat:
		return TaskInput{Message: "Posso tomar café?"}
	case TaskMealAnalysis, TaskImageDescription:
		return TaskInput{Attachment: jpeg}
	case TaskReportExtraction:
		return TaskInput{Text: "RAI 123/2024. Em 15/03/2024 foi registrado furto na Rua A."}
	default:
		return TaskInput{}
	}
}

func contextFor(t *testing.T, p models.UserProfile, memories ...models.Memory) GenerationContext {
	t.Helper()
	gc, err := BuildContext(&p, ComputePhase(p, testNow), memories, 5)
	require.NoError(t, err)
	return gc
}

func mustTask(t *testing.T, kind TaskKind) Task {
	t.Helper()
	task, err := DefaultRegistry().Lookup(kind)
	require.NoError(t, err)
	return task
}

func fullText(p llm.Payload) string {
	return p.System + "\n" + p.Text
}

func TestBuildPrompt_PregnantSecondTrimester(t *testing.T) {
	gc := contextFor(t, models.UserProfile{
		Name:              "Ana",
		Phase:             models.PhasePregnant,
		LastMenstrualDate: daysAgo(140),
	})

	payload, err := BuildPrompt(gc, mustTask(t, TaskMealPlan), TaskInput{})
	require.NoError(t, err)

	assert.Contains(t, payload.System, "DIRETRIZES PARA GESTANTES")
	assert.Contains(t, payload.System, "Semana de gestação: 20ª semana")
	assert.Contains(t, payload.System, "2º TRIMESTRE")
	assert.NotContains(t, payload.System, "1º TRIMESTRE")
	assert.NotContains(t, payload.System, "3º TRIMESTRE")
	assert.NotContains(t, payload.System, "DIRETRIZES PARA PÓS-PARTO")
	assert.NotContains(t, payload.System, "DIRETRIZES PARA MULHERES ATIVAS")
	assert.NotContains(t, payload.System, "DIRETRIZES PARA TENTANTES")
	assert.True(t, payload.JSON)
	assert.Nil(t, payload.Attachment)
}

func TestBuildPrompt_ExactlyOnePhaseBlock(t *testing.T) {
	headings := map[models.Phase]string{
		models.PhasePregnant:   "DIRETRIZES PARA GESTANTES",
		models.PhasePostpartum: "DIRETRIZES PARA PÓS-PARTO",
		models.PhaseActive:     "DIRETRIZES PARA MULHERES ATIVAS",
		models.PhaseTrying:     "DIRETRIZES PARA TENTANTES",
	}

	for phase := range headings {
		t.Run(string(phase), func(t *testing.T) {
			gc := contextFor(t, models.UserProfile{Phase: phase})
			payload, err := BuildPrompt(gc, mustTask(t, TaskChat), validInput(TaskChat))
			require.NoError(t, err)

			for other, h := range headings {
				if other == phase {
					assert.Contains(t, payload.System, h)
				} else {
					assert.NotContains(t, payload.System, h)
				}
			}
		})
	}
}

func TestBuildPrompt_NoWeekTextWithoutKnownWeek(t *testing.T) {
	profiles := []models.UserProfile{
		{Phase: models.PhaseTrying, LastMenstrualDate: daysAgo(30)},
		{Phase: models.PhasePostpartum, Breastfeeding: true, LastMenstrualDate: daysAgo(300)},
		{Phase: models.PhaseActive, Goals: []string{"força"}},
		{Phase: models.PhasePregnant},
	}

	for _, p := range profiles {
		for _, kind := range DefaultRegistry().Kinds() {
			t.Run(string(p.Phase)+"/"+string(kind), func(t *testing.T) {
				payload, err := BuildPrompt(contextFor(t, p), mustTask(t, kind), validInput(kind))
				require.NoError(t, err)

				text := strings.ToLower(fullText(payload))
				assert.NotContains(t, text, "semana de gestação")
				assert.NotContains(t, text, "trimestre")
			})
		}
	}
}

func TestBuildPrompt_UnknownPhaseFailsClosed(t *testing.T) {
	gc := contextFor(t, models.UserProfile{Phase: models.Phase("MENOPAUSE")})

	_, err := BuildPrompt(gc, mustTask(t, TaskChat), validInput(TaskChat))
	require.ErrorIs(t, err, ErrUnsupportedPhase)
	var phaseErr *UnsupportedPhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, models.Phase("MENOPAUSE"), phaseErr.Phase)

	// investigative tasks carry no phase guidance
	payload, err := BuildPrompt(gc, mustTask(t, TaskReportExtraction), validInput(TaskReportExtraction))
	require.NoError(t, err)
	assert.NotContains(t, payload.System, "DIRETRIZES")
	assert.Contains(t, payload.System, "RAI")
}

func TestBuildPrompt_OptionalSections(t *testing.T) {
	bare := contextFor(t, models.UserProfile{Phase: models.PhaseActive})
	payload, err := BuildPrompt(bare, mustTask(t, TaskChat), validInput(TaskChat))
	require.NoError(t, err)
	assert.NotContains(t, payload.System, "Restrições alimentares")
	assert.NotContains(t, payload.System, "MEMÓRIAS RELEVANTES")

	rich := contextFor(t,
		models.UserProfile{Phase: models.PhaseActive, Restrictions: []string{"lactose", "glúten"}},
		models.Memory{Content: "alergia a camarão", Importance: 5},
	)
	payload, err = BuildPrompt(rich, mustTask(t, TaskChat), validInput(TaskChat))
	require.NoError(t, err)
	assert.Contains(t, payload.System, "Restrições alimentares: lactose, glúten")
	assert.Contains(t, payload.System, "MEMÓRIAS RELEVANTES")
	assert.Contains(t, payload.System, "- alergia a camarão")
}

func TestBuildPrompt_OutputContract(t *testing.T) {
	gc := contextFor(t, models.UserProfile{Phase: models.PhaseActive})

	for _, kind := range DefaultRegistry().Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			task := mustTask(t, kind)
			payload, err := BuildPrompt(gc, task, validInput(kind))
			require.NoError(t, err)

			assert.Contains(t, payload.System, "Retorne APENAS um objeto JSON")
			assert.Contains(t, payload.System, NotInformed)
			assert.Contains(t, payload.System, "NUNCA invente")
			assert.Contains(t, payload.System, "DATA ATUAL: 19 de outubro de 2026")
			for _, f := range task.Schema.Required {
				assert.Contains(t, payload.System, `"`+f.Name+`"`)
			}
			assert.NotEmpty(t, payload.Text)
			assert.True(t, payload.JSON)
		})
	}
}

func TestBuildPrompt_Attachments(t *testing.T) {
	gc := contextFor(t, models.UserProfile{Phase: models.PhaseActive})

	tests := []struct {
		name    string
		kind    TaskKind
		in      TaskInput
		wantErr bool
	}{
		{name: "meal photo", kind: TaskMealAnalysis, in: TaskInput{Attachment: jpeg}},
		{name: "meal without photo", kind: TaskMealAnalysis, in: TaskInput{}, wantErr: true},
		{name: "meal with empty photo", kind: TaskMealAnalysis, in: TaskInput{Attachment: &llm.Attachment{MediaType: "image/png"}}, wantErr: true},
		{name: "forensic pdf", kind: TaskImageDescription, in: TaskInput{Attachment: &llm.Attachment{MediaType: "application/pdf", Data: []byte("%PDF")}}, wantErr: true},
		{name: "chat with photo", kind: TaskChat, in: TaskInput{Message: "oi", Attachment: jpeg}, wantErr: true},
		{name: "empty chat message", kind: TaskChat, in: TaskInput{Message: "   "}, wantErr: true},
		{name: "empty report text", kind: TaskReportExtraction, in: TaskInput{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := BuildPrompt(gc, mustTask(t, tt.kind), tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, payload.Attachment)
			assert.Same(t, tt.in.Attachment, payload.Attachment)
			assert.NotEmpty(t, payload.Text)
		})
	}
}

func TestBuildPrompt_Options(t *testing.T) {
	gc := contextFor(t, models.UserProfile{Phase: models.PhasePregnant, LastMenstrualDate: daysAgo(100)})

	tests := []struct {
		name     string
		kind     TaskKind
		opts     map[string]string
		contains []string
		wantErr  bool
	}{
		{
			name:     "name defaults",
			kind:     TaskNameSuggestion,
			contains: []string{"Gere 10 sugestões", "gênero neutro", "clássico e moderno"},
		},
		{
			name:     "name options",
			kind:     TaskNameSuggestion,
			opts:     map[string]string{"gender": "female", "count": "5", "style": "nordestino"},
			contains: []string{"Gere 5 sugestões de nomes de bebê com gênero feminino", "Estilo preferido: nordestino"},
		},
		{name: "count out of range", kind: TaskNameSuggestion, opts: map[string]string{"count": "50"}, wantErr: true},
		{name: "count not a number", kind: TaskNameSuggestion, opts: map[string]string{"count": "dez"}, wantErr: true},
		{name: "unknown gender", kind: TaskNameSuggestion, opts: map[string]string{"gender": "other"}, wantErr: true},
		{name: "unknown key", kind: TaskMealPlan, opts: map[string]string{"days": "3"}, wantErr: true},
		{
			name:     "workout defaults",
			kind:     TaskWorkoutPlan,
			contains: []string{"Nível: moderate", "30 minutos"},
		},
		{
			name:     "workout options",
			kind:     TaskWorkoutPlan,
			opts:     map[string]string{"exercise_level": "beginner", "duration": "45"},
			contains: []string{"Nível: beginner", "45 minutos"},
		},
		{
			name:     "meal type",
			kind:     TaskMealAnalysis,
			opts:     map[string]string{"meal_type": "lunch"},
			contains: []string{"Tipo de refeição: almoço"},
		},
		{
			name:     "recipe defaults",
			kind:     TaskRecipe,
			contains: []string{"Crie uma receita saudável para almoço."},
		},
		{
			name:     "recipe options",
			kind:     TaskRecipe,
			opts:     map[string]string{"meal_type": "breakfast", "available_ingredients": "aveia, banana"},
			contains: []string{"receita saudável para café da manhã", "Ingredientes disponíveis: aveia, banana"},
		},
		{name: "unknown recipe meal type", kind: TaskRecipe, opts: map[string]string{"meal_type": "brunch"}, wantErr: true},
		{
			name:     "forensic notes",
			kind:     TaskImageDescription,
			opts:     map[string]string{"observacoes": "câmera da portaria"},
			contains: []string{"Observações do investigador: câmera da portaria"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput(tt.kind)
			in.Options = tt.opts

			payload, err := BuildPrompt(gc, mustTask(t, tt.kind), in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, payload.Text, s)
			}
		})
	}
}

func TestBuildPrompt_ChatMessageIsTheText(t *testing.T) {
	gc := contextFor(t, models.UserProfile{Name: "Bia", Phase: models.PhaseActive})

	payload, err := BuildPrompt(gc, mustTask(t, TaskChat), TaskInput{Message: "  Posso tomar café?  "})
	require.NoError(t, err)

	assert.Equal(t, "Posso tomar café?", payload.Text)
	assert.Contains(t, payload.System, "Nome: Bia")
	assert.Contains(t, payload.System, "REGRAS DE CONVERSA")
}

func TestBuildPrompt_DoesNotMutateContext(t *testing.T) {
	gc := contextFor(t, models.UserProfile{Phase: models.PhaseActive, Goals: []string{"força"}})
	before := gc.Goals[0]

	_, err := BuildPrompt(gc, mustTask(t, TaskWorkoutPlan), TaskInput{})
	require.NoError(t, err)
	assert.Equal(t, before, gc.Goals[0])
}
