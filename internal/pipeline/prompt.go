package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"vitafit/internal/llm"
	"vitafit/internal/models"
)

const persona = `Você é a Vita, assistente virtual de nutrição e bem-estar do VitaFit.
Seja carinhosa, acolhedora e profissional. Fale sempre em português brasileiro.
Para questões médicas sérias, recomende consultar um profissional de saúde.`

const chatStyle = `REGRAS DE CONVERSA:
- Responda de forma concisa (máximo 3 parágrafos) no campo reply
- NÃO use asteriscos nem markdown; para listas use • ou números
- Use emojis com moderação (1 a 2 por mensagem)
- Use o nome dela naturalmente`

// TaskInput is the caller-provided part of a generation request.
type TaskInput struct {
	// Message is the user's chat message.
	Message string
	// Text is the document to extract from.
	Text       string
	Attachment *llm.Attachment
	Options    map[string]string
}

// BuildPrompt renders the payload for one task. It fails with
// ErrUnsupportedPhase when a phase-guided task meets a phase without a
// guidance block, and with ErrInvalidInput when the input does not fit the task.
func BuildPrompt(gc GenerationContext, task Task, in TaskInput) (llm.Payload, error) {
	schema := task.Schema

	switch {
	case schema.ExpectsAttachment && (in.Attachment == nil || len(in.Attachment.Data) == 0):
		return llm.Payload{}, invalidInput("task %s requires an image attachment", schema.Kind)
	case !schema.ExpectsAttachment && in.Attachment != nil:
		return llm.Payload{}, invalidInput("task %s does not accept attachments", schema.Kind)
	case in.Attachment != nil && !strings.HasPrefix(in.Attachment.MediaType, "image/"):
		return llm.Payload{}, invalidInput("unsupported attachment type %q", in.Attachment.MediaType)
	}

	opts, err := resolveOptions(task, in.Options)
	if err != nil {
		return llm.Payload{}, err
	}

	var sys strings.Builder
	if schema.PhaseGuided {
		block, err := phaseBlock(gc)
		if err != nil {
			return llm.Payload{}, err
		}
		sys.WriteString(persona)
		sys.WriteString("\n\n")
		if schema.Kind == TaskChat {
			sys.WriteString(chatStyle)
			sys.WriteString("\n\n")
		}
		sys.WriteString("SOBRE A USUÁRIA:\n")
		fmt.Fprintf(&sys, "Nome: %s\n", nameOr(gc.Name))
		sys.WriteString(block)
		if len(gc.Restrictions) > 0 {
			fmt.Fprintf(&sys, "\nRestrições alimentares: %s\n", strings.Join(gc.Restrictions, ", "))
			sys.WriteString("SEMPRE considere essas restrições nas sugestões.\n")
		}
		if len(gc.Memories) > 0 {
			sys.WriteString("\nMEMÓRIAS RELEVANTES (use naturalmente):\n")
			for _, m := range gc.Memories {
				fmt.Fprintf(&sys, "- %s\n", m.Content)
			}
		}
	} else {
		sys.WriteString(task.persona)
		sys.WriteString("\n")
	}
	fmt.Fprintf(&sys, "\nDATA ATUAL: %s\n\n", formatDate(gc.AsOf))
	sys.WriteString(outputContract(task))

	text, err := task.render(gc, in, opts)
	if err != nil {
		return llm.Payload{}, err
	}

	return llm.Payload{
		System:     sys.String(),
		Text:       text,
		Attachment: in.Attachment,
		JSON:       true,
	}, nil
}

// phaseBlock is the one guidance paragraph for gc.Phase. Unknown phases fail closed.
func phaseBlock(gc GenerationContext) (string, error) {
	var b strings.Builder
	switch gc.Phase {
	case models.PhasePregnant:
		b.WriteString("Fase: Gestante\n")
		if gc.GestationWeek != nil {
			fmt.Fprintf(&b, "Semana de gestação: %dª semana\n", *gc.GestationWeek)
		}
		b.WriteString("\nDIRETRIZES PARA GESTANTES:\n")
		b.WriteString("- Verifique se os alimentos são seguros para a gravidez\n")
		b.WriteString("- Nutrientes prioritários: ácido fólico, ferro, cálcio, ômega-3\n")
		b.WriteString("- Alimentos proibidos: peixes crus, carnes mal passadas, queijos não pasteurizados, embutidos, álcool\n")
		b.WriteString("- Exercícios sem alto impacto, com frequência cardíaca moderada e fortalecimento do assoalho pélvico\n")
		b.WriteString("- Valide sintomas comuns e sugira o obstetra para qualquer preocupação\n")
		if gc.Trimester != nil {
			b.WriteString(trimesterBlock(*gc.Trimester))
		}
	case models.PhasePostpartum:
		b.WriteString("Fase: Pós-parto\n")
		if gc.Breastfeeding {
			b.WriteString("Está amamentando\n")
		}
		b.WriteString("\nDIRETRIZES PARA PÓS-PARTO:\n")
		if gc.Breastfeeding {
			b.WriteString("- Amamentação: considere cerca de 500 kcal extras, hidratação, proteínas, cálcio e ferro\n")
		}
		b.WriteString("- Exercícios de recuperação: assoalho pélvico e diástase\n")
		b.WriteString("- Seja sensível sobre a pressão de \"voltar ao corpo de antes\"\n")
		b.WriteString("- Valide o cansaço e as dificuldades como normais\n")
		b.WriteString("- Fique atenta a sinais de depressão pós-parto\n")
	case models.PhaseActive:
		b.WriteString("Fase: Mulher ativa\n")
		fmt.Fprintf(&b, "Objetivos: %s\n", joinOr(gc.Goals, "Não especificados"))
		b.WriteString("\nDIRETRIZES PARA MULHERES ATIVAS:\n")
		b.WriteString("- Adapte sugestões ao ciclo menstrual se ela acompanha\n")
		b.WriteString("- Varie os treinos para manter a motivação\n")
		b.WriteString("- Foque nos objetivos específicos e incentive progressão gradual\n")
	case models.PhaseTrying:
		b.WriteString("Fase: Tentando engravidar\n")
		b.WriteString("\nDIRETRIZES PARA TENTANTES:\n")
		b.WriteString("- Foque em fertilidade e preparação para a gestação\n")
		b.WriteString("- Recomende ácido fólico desde antes da concepção, com orientação médica\n")
		b.WriteString("- Incentive peso saudável, sono regular e redução de álcool e cafeína\n")
		b.WriteString("- Seja acolhedora com a ansiedade da espera\n")
	default:
		return "", &UnsupportedPhaseError{Phase: gc.Phase}
	}
	return b.String(), nil
}

func trimesterBlock(trimester int) string {
	switch trimester {
	case 1:
		return "\n1º TRIMESTRE:\n- Enjoos são comuns: refeições pequenas e frequentes\n- Ácido fólico é essencial para a formação do tubo neural\n"
	case 2:
		return "\n2º TRIMESTRE:\n- Aumente de 300 a 500 kcal por dia\n- Reforce ferro e cálcio\n- Evite exercícios deitada de costas\n"
	default:
		return "\n3º TRIMESTRE:\n- Aumente cerca de 500 kcal por dia em refeições menores\n- Atenção a inchaço e pressão arterial\n- Prepare o corpo para o parto com exercícios leves\n"
	}
}

func outputContract(task Task) string {
	required, _ := task.Schema.FieldNames()
	var b strings.Builder
	b.WriteString("FORMATO DE SAÍDA:\n")
	b.WriteString("Retorne APENAS um objeto JSON válido, sem markdown e sem texto antes ou depois, com esta estrutura:\n")
	b.WriteString(task.shape)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Campos obrigatórios: %s.\n", strings.Join(required, ", "))
	fmt.Fprintf(&b, "Use \"%s\" quando um dado de texto não estiver disponível. ", NotInformed)
	b.WriteString("NUNCA invente, suponha ou deduza informações.\n")
	return b.String()
}

func resolveOptions(task Task, given map[string]string) (map[string]string, error) {
	keys := make([]string, 0, len(given))
	for k := range given {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := task.options[k]; !ok {
			return nil, invalidInput("unknown option %q for task %s", k, task.Schema.Kind)
		}
	}

	out := make(map[string]string, len(task.options))
	for name, spec := range task.options {
		v := strings.TrimSpace(given[name])
		if v == "" {
			out[name] = spec.def
			continue
		}
		if spec.integer {
			n, err := strconv.Atoi(v)
			if err != nil || n < spec.min || n > spec.max {
				return nil, invalidInput("option %s must be an integer in [%d, %d]", name, spec.min, spec.max)
			}
			v = strconv.Itoa(n)
		}
		if len(spec.values) > 0 && !contains(spec.values, v) {
			return nil, invalidInput("option %s must be one of %s", name, strings.Join(spec.values, ", "))
		}
		out[name] = v
	}
	return out, nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func nameOr(name string) string {
	if name == "" {
		return "Querida"
	}
	return name
}

var ptMonths = [...]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

func formatDate(t time.Time) string {
	return fmt.Sprintf("%d de %s de %d", t.Day(), ptMonths[t.Month()-1], t.Year())
}
