package pipeline

import (
	"sort"
	"strings"
	"time"

	"vitafit/internal/models"
)

// MemorySnippet is a remembered fact handed to the prompt.
type MemorySnippet struct {
	Content    string
	Importance int
}

// GenerationContext is the request-scoped view of the user handed to the
// prompt builder. It is built fresh per invocation, never stored, and holds
// no model output. Treat it as read-only.
type GenerationContext struct {
	UserID        string
	Name          string
	Phase         models.Phase
	AsOf          time.Time
	GestationWeek *int
	Trimester     *int
	Breastfeeding bool
	ExerciseLevel string
	Goals         []string
	Restrictions  []string
	Memories      []MemorySnippet
}

// BuildContext merges a profile snapshot, its phase metrics and memory
// snippets. memories are expected most-recent first; the highest-importance
// maxMemories of them are kept.
func BuildContext(p *models.UserProfile, m PhaseMetrics, memories []models.Memory, maxMemories int) (GenerationContext, error) {
	if p == nil {
		return GenerationContext{}, ErrInvalidProfile
	}

	gc := GenerationContext{
		UserID:        p.UserID,
		Name:          strings.TrimSpace(p.Name),
		Phase:         m.Phase,
		AsOf:          m.AsOf,
		GestationWeek: copyInt(m.GestationWeek),
		Trimester:     copyInt(m.Trimester),
		Breastfeeding: m.Breastfeeding,
		ExerciseLevel: strings.TrimSpace(p.ExerciseLevel),
		Goals:         uniqueStrings(m.Goals),
		Restrictions:  uniqueStrings(p.Restrictions),
		Memories:      selectMemories(memories, maxMemories),
	}
	return gc, nil
}

func selectMemories(memories []models.Memory, limit int) []MemorySnippet {
	if limit <= 0 {
		return nil
	}
	snippets := make([]MemorySnippet, 0, len(memories))
	for _, mem := range memories {
		content := strings.TrimSpace(mem.Content)
		if content == "" {
			continue
		}
		snippets = append(snippets, MemorySnippet{Content: content, Importance: mem.Importance})
	}
	// stable: equal importance keeps the more recent first
	sort.SliceStable(snippets, func(i, j int) bool {
		return snippets[i].Importance > snippets[j].Importance
	})
	if len(snippets) > limit {
		snippets = snippets[:limit]
	}
	if len(snippets) == 0 {
		return nil
	}
	return snippets
}

func uniqueStrings(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
