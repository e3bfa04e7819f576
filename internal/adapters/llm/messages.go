package llm

import (
	"strings"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

// splitSystem separates system instructions from the dialogue. Several
// system messages are joined with blank lines.
func splitSystem(messages []domain.LLMMessage) (string, []domain.LLMMessage) {
	var (
		system []string
		turns  []domain.LLMMessage
	)
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}

// alternate merges consecutive messages of the same role and drops a
// leading assistant message, as chat APIs that require strict
// user/assistant alternation expect.
func alternate(turns []domain.LLMMessage) []domain.LLMMessage {
	out := make([]domain.LLMMessage, 0, len(turns))
	for _, m := range turns {
		if len(out) == 0 && m.Role != domain.RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
