package pipeline

import (
	"fmt"
	"strings"
)

type optionSpec struct {
	values   []string
	integer  bool
	min, max int
	def      string
}

func builtinTasks() []Task {
	return []Task{
		chatTask(),
		mealAnalysisTask(),
		mealPlanTask(),
		workoutPlanTask(),
		nameSuggestionTask(),
		recipeTask(),
		reportExtractionTask(),
		imageDescriptionTask(),
	}
}

func chatTask() Task {
	return Task{
		Schema: TaskSchema{
			Kind:             TaskChat,
			Version:          1,
			PromptTemplateID: "chat.v1",
			Required:         []FieldSpec{{Name: "reply", Kind: KindString}},
			Optional: []FieldSpec{
				{Name: "follow_up_questions", Kind: KindArray, Elem: KindString},
				{Name: "topics", Kind: KindArray, Elem: KindString},
			},
			PhaseGuided: true,
		},
		shape: `{
  "reply": "sua resposta para a usuária",
  "follow_up_questions": ["pergunta de acompanhamento"],
  "topics": ["nutrição"]
}`,
		render: func(_ GenerationContext, in TaskInput, _ map[string]string) (string, error) {
			msg := strings.TrimSpace(in.Message)
			if msg == "" {
				return "", invalidInput("chat message is required")
			}
			return msg, nil
		},
	}
}

func mealAnalysisTask() Task {
	return Task{
		Schema: TaskSchema{
			Kind:             TaskMealAnalysis,
			Version:          1,
			PromptTemplateID: "meal-analysis.v1",
			Required: []FieldSpec{
				{Name: "foods", Kind: KindArray, Elem: KindObject},
				{Name: "totalCalories", Kind: KindNumber},
				{Name: "totalProtein", Kind: KindNumber},
				{Name: "totalCarbs", Kind: KindNumber},
				{Name: "totalFat", Kind: KindNumber},
			},
			Optional: []FieldSpec{
				{Name: "isSafeForPregnancy", Kind: KindBoolean},
				{Name: "warnings", Kind: KindArray, Elem: KindString},
				{Name: "suggestions", Kind: KindArray, Elem: KindString},
			},
			ExpectsAttachment: true,
			PhaseGuided:       true,
		},
		shape: `{
  "foods": [{"name": "nome", "portion": "porção", "calories": 0, "protein": 0, "carbs": 0, "fat": 0}],
  "totalCalories": 0,
  "totalProtein": 0,
  "totalCarbs": 0,
  "totalFat": 0,
  "isSafeForPregnancy": true,
  "warnings": [],
  "suggestions": []
}`,
		options: map[string]optionSpec{
			"meal_type": {values: []string{"breakfast", "lunch", "dinner", "snack"}},
		},
		render: func(gc GenerationContext, _ TaskInput, opts map[string]string) (string, error) {
			var b strings.Builder
			b.WriteString("Analise esta imagem de refeição e forneça informações nutricionais.\n")
			if mt := opts["meal_type"]; mt != "" {
				fmt.Fprintf(&b, "Tipo de refeição: %s.\n", mealTypeLabel(mt))
			}
			b.WriteString("Estime as porções pelo que está visível na imagem. ")
			b.WriteString("Liste em warnings qualquer alimento incompatível com a fase ou as restrições da usuária.\n")
			return b.String(), nil
		},
	}
}

func mealPlanTask() Task {
	return Task{
		Schema: TaskSchema{
			Kind:             TaskMealPlan,
			Version:          1,
			PromptTemplateID: "meal-plan.v1",
			Required: []FieldSpec{
				{Name: "dailyCalories", Kind: KindNumber},
				{Name: "dailyProtein", Kind: KindNumber},
				{Name: "dailyCarbs", Kind: KindNumber},
				{Name: "dailyFat", Kind: KindNumber},
				{Name: "meals", Kind: KindArray, Elem: KindObject},
			},
			Optional: []FieldSpec{
				{Name: "tips", Kind: KindArray, Elem: KindString},
				{Name: "weeklyShoppingList", Kind: KindArray, Elem: KindString},
			},
			PhaseGuided: true,
		},
		shape: `{
  "dailyCalories": 2000,
  "dailyProtein": 80,
  "dailyCarbs": 250,
  "dailyFat": 65,
  "meals": [
    {
      "day": "Segunda",
      "breakfast": {"name": "descrição detalhada", "calories": 400},
      "morningSnack": {"name": "descrição", "calories": 150},
      "lunch": {"name": "descrição detalhada", "calories": 600},
      "afternoonSnack": {"name": "descrição", "calories": 150},
      "dinner": {"name": "descrição detalhada", "calories": 500}
    }
  ],
  "tips": ["dica 1"],
  "weeklyShoppingList": ["item 1"]
}`,
		render: func(gc GenerationContext, _ TaskInput, _ map[string]string) (string, error) {
			var b strings.Builder
			b.WriteString("Crie um plano alimentar semanal personalizado completo, de segunda a domingo.\n")
			fmt.Fprintf(&b, "Objetivos: %s\n", joinOr(gc.Goals, "Não especificados"))
			b.WriteString("Respeite as diretrizes da fase e as restrições alimentares informadas.\n")
			return b.String(), nil
		},
	}
}

func workoutPlanTask() Task {
	return Task{
		Schema: TaskSchema{
			Kind:             TaskWorkoutPlan,
			Version:          1,
			PromptTemplateID: "workout-plan.v1",
			Required: []FieldSpec{
				{Name: "name", Kind: KindString},
				{Name: "sessions", Kind: KindArray, Elem: KindObject},
			},
			Optional: []FieldSpec{
				{Name: "description", Kind: KindString},
			},
			PhaseGuided: true,
		},
		shape: `{
  "name": "Nome do plano",
  "description": "Descrição",
  "sessions": [
    {
      "day": "Segunda",
      "focus": "Foco",
      "duration": 30,
      "exercises": [
        {"name": "Exercício", "sets": 3, "reps": 12, "rest": 60, "notes": ""}
      ]
    }
  ]
}`,
		options: map[string]optionSpec{
			"exercise_level": {values: []string{"beginner", "moderate", "advanced"}},
			"duration":       {integer: true, min: 10, max: 120, def: "30"},
		},
		render: func(gc GenerationContext, _ TaskInput, opts map[string]string) (string, error) {
			level := opts["exercise_level"]
			if level == "" {
				level = gc.ExerciseLevel
			}
			if level == "" {
				level = "moderate"
			}

			var b strings.Builder
			b.WriteString("Crie um plano de treino semanal personalizado.\n")
			fmt.Fprintf(&b, "Nível: %s\n", level)
			fmt.Fprintf(&b, "Duração de cada sessão: %s minutos\n", opts["duration"])
			fmt.Fprintf(&b, "Objetivos: %s\n", joinOr(gc.Goals, "Não especificados"))
			b.WriteString("Inclua aquecimento e desaquecimento em cada sessão.\n")
			return b.String(), nil
		},
	}
}

func nameSuggestionTask() Task {
	return Task{
		Schema: TaskSchema{
			Kind:             TaskNameSuggestion,
			Version:          1,
			PromptTemplateID: "name-suggestion.v1",
			Required: []FieldSpec{
				{Name: "names", Kind: KindArray, Elem: KindObject},
			},
			Optional: []FieldSpec{
				{Name: "notes", Kind: KindString},
			},
			PhaseGuided: true,
		},
		shape: `{
  "names": [
    {"name": "Nome", "meaning": "Significado do nome", "origin": "Origem (ex: hebraico, latim)"}
  ],
  "notes": "observações"
}`,
		options: map[string]optionSpec{
			"gender": {values: []string{"male", "female", "neutral"}, def: "neutral"},
			"style":  {},
			"count":  {integer: true, min: 1, max: 30, def: "10"},
		},
		render: func(_ GenerationContext, _ TaskInput, opts map[string]string) (string, error) {
			style := opts["style"]
			if style == "" {
				style = "clássico e moderno"
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Gere %s sugestões de nomes de bebê com gênero %s.\n", opts["count"], genderLabel(opts["gender"]))
			fmt.Fprintf(&b, "Estilo preferido: %s\n", style)
			b.WriteString("Use significados e origens reconhecidos; se não souber a origem, use \"Não informado\".\n")
			return b.String(), nil
		},
	}
}

func recipeTask() Task {
	return Task{
		Schema: TaskSchema{
			Kind:             TaskRecipe,
			Version:          1,
			PromptTemplateID: "recipe.v1",
			Required: []FieldSpec{
				{Name: "name", Kind: KindString},
				{Name: "ingredients", Kind: KindArray, Elem: KindObject},
				{Name: "instructions", Kind: KindArray, Elem: KindString},
				{Name: "calories_per_serving", Kind: KindNumber},
			},
			Optional: []FieldSpec{
				{Name: "description", Kind: KindString},
				{Name: "difficulty", Kind: KindString},
				{Name: "prep_time", Kind: KindNumber},
				{Name: "cook_time", Kind: KindNumber},
				{Name: "servings", Kind: KindNumber},
				{Name: "protein_per_serving", Kind: KindNumber},
				{Name: "tips", Kind: KindArray, Elem: KindString},
			},
			PhaseGuided: true,
		},
		shape: `{
  "name": "Nome da receita",
  "description": "Descrição breve",
  "difficulty": "easy|medium|hard",
  "prep_time": 15,
  "cook_time": 30,
  "servings": 2,
  "calories_per_serving": 350,
  "protein_per_serving": 20,
  "ingredients": [{"item": "ingrediente", "quantity": "quantidade"}],
  "instructions": ["Passo 1", "Passo 2"],
  "tips": ["dica opcional"]
}`,
		options: map[string]optionSpec{
			"meal_type":             {values: []string{"breakfast", "lunch", "dinner", "snack"}, def: "lunch"},
			"available_ingredients": {},
		},
		render: func(_ GenerationContext, _ TaskInput, opts map[string]string) (string, error) {
			var b strings.Builder
			fmt.Fprintf(&b, "Crie uma receita saudável para %s.\n", mealTypeLabel(opts["meal_type"]))
			if ing := opts["available_ingredients"]; ing != "" {
				fmt.Fprintf(&b, "Ingredientes disponíveis: %s\n", ing)
			}
			b.WriteString("A receita deve ser segura para a fase da usuária e respeitar as restrições alimentares informadas.\n")
			return b.String(), nil
		},
	}
}

func reportExtractionTask() Task {
	return Task{
		Schema: TaskSchema{
			Kind:             TaskReportExtraction,
			Version:          1,
			PromptTemplateID: "report-extraction.v1",
			Required: []FieldSpec{
				{Name: "numero_rai", Kind: KindString},
				{Name: "data_ocorrencia", Kind: KindDate},
				{Name: "local_fatos", Kind: KindString},
				{Name: "narrativa_fatos", Kind: KindString},
				{Name: "tipo_crime", Kind: KindString},
			},
			Optional: []FieldSpec{
				{Name: "vitima", Kind: KindObject},
				{Name: "autor", Kind: KindObject},
				{Name: "objetos", Kind: KindArray, Elem: KindString},
				{Name: "testemunhas", Kind: KindArray, Elem: KindObject},
			},
		},
		persona: "Você é um assistente especializado em análise de RAI (Registro de Atendimento Integrado) da Polícia Civil.",
		shape: `{
  "numero_rai": "string",
  "data_ocorrencia": "YYYY-MM-DD",
  "local_fatos": "string",
  "vitima": {"nome": "string", "cpf": "string", "telefone": "string", "endereco": "string"},
  "autor": {"nome": "string", "cpf": "string", "caracteristicas": "string"},
  "narrativa_fatos": "string",
  "tipo_crime": "string",
  "objetos": ["string"],
  "testemunhas": [{"nome": "string", "contato": "string"}]
}`,
		render: func(_ GenerationContext, in TaskInput, _ map[string]string) (string, error) {
			text := strings.TrimSpace(in.Text)
			if text == "" {
				return "", invalidInput("report text is required")
			}
			var b strings.Builder
			b.WriteString("Analise o texto do RAI abaixo e extraia as informações de forma OBJETIVA e FACTUAL.\n\n")
			b.WriteString("REGRAS CRÍTICAS:\n")
			b.WriteString("- NÃO invente dados ausentes\n")
			b.WriteString("- NÃO faça suposições sobre relacionamentos\n")
			b.WriteString("- NÃO deduza informações implícitas\n")
			b.WriteString("- Extraia APENAS dados explícitos\n\n")
			b.WriteString("Texto do RAI:\n")
			b.WriteString(text)
			b.WriteString("\n")
			return b.String(), nil
		},
	}
}

func imageDescriptionTask() Task {
	return Task{
		Schema: TaskSchema{
			Kind:             TaskImageDescription,
			Version:          1,
			PromptTemplateID: "image-description.v1",
			Required: []FieldSpec{
				{Name: "descricao_geral", Kind: KindString},
				{Name: "elementos_relevantes", Kind: KindArray, Elem: KindString},
				{Name: "evidencias", Kind: KindArray, Elem: KindString},
			},
			Optional: []FieldSpec{
				{Name: "caracteristicas_identificaveis", Kind: KindArray, Elem: KindString},
				{Name: "qualidade_imagem", Kind: KindString},
			},
			ExpectsAttachment: true,
		},
		persona: "Você é um perito em análise de imagens forenses.",
		shape: `{
  "descricao_geral": "string",
  "elementos_relevantes": ["string"],
  "caracteristicas_identificaveis": ["string"],
  "evidencias": ["string"],
  "qualidade_imagem": "string"
}`,
		options: map[string]optionSpec{
			"observacoes": {},
		},
		render: func(_ GenerationContext, _ TaskInput, opts map[string]string) (string, error) {
			var b strings.Builder
			b.WriteString("Analise esta imagem forense e forneça:\n\n")
			b.WriteString("1. Descrição geral da imagem\n")
			b.WriteString("2. Elementos relevantes para investigação (pessoas, objetos, locais, veículos)\n")
			b.WriteString("3. Características identificáveis (placas, rostos, marcas)\n")
			b.WriteString("4. Possíveis evidências visuais\n")
			b.WriteString("5. Qualidade da imagem e visibilidade\n\n")
			b.WriteString("Seja objetivo e factual. NÃO faça suposições sem fundamento.\n")
			if notes := opts["observacoes"]; notes != "" {
				fmt.Fprintf(&b, "\nObservações do investigador: %s\n", notes)
			}
			return b.String(), nil
		},
	}
}

func mealTypeLabel(mt string) string {
	switch mt {
	case "breakfast":
		return "café da manhã"
	case "lunch":
		return "almoço"
	case "dinner":
		return "jantar"
	case "snack":
		return "lanche"
	}
	return mt
}

func genderLabel(g string) string {
	switch g {
	case "male":
		return "masculino"
	case "female":
		return "feminino"
	}
	return "neutro"
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, ", ")
}
