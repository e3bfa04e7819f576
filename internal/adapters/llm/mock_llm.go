package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

const (
	MockName  = "mock"
	MockModel = "mock-coach"
)

// mockAnalysis is returned when the instructions ask for JSON output.
const mockAnalysis = `{"alignment_score": 72, "summary": "Goals mostly follow the stated values.", "recommendations": [{"title": "Block weekly family time", "description": "Reserve one evening a week that work cannot claim.", "priority": "high", "rationale": "Family is a core value but gets the least time.", "expected_impact": "Better balance within a month."}, {"title": "Review goals monthly", "description": "Check each goal against your values once a month.", "priority": "medium", "rationale": "Drift shows up slowly.", "expected_impact": "Earlier course corrections."}]}`

// MockLLM answers locally without any network. By default it reflects the
// last user message back; queued replies and a forced error let tests
// script it.
type MockLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]domain.LLMMessage
}

func NewMockLLM(replies ...string) *MockLLM {
	return &MockLLM{replies: replies}
}

func (m *MockLLM) Name() string { return MockName }

// Queue appends scripted replies, served in order before the default echo.
func (m *MockLLM) Queue(replies ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
}

// FailWith makes every following call fail with err. nil restores normal
// behavior.
func (m *MockLLM) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the message lists received so far.
func (m *MockLLM) Calls() [][]domain.LLMMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]domain.LLMMessage, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockLLM) Generate(ctx context.Context, messages []domain.LLMMessage, params domain.GenerationParams) (*domain.LLMResponse, error) {
	model := params.Model
	if model == "" {
		model = MockModel
	}
	if err := ctx.Err(); err != nil {
		return nil, providerError(MockName, model, domain.ProviderUnknown, err)
	}

	m.mu.Lock()
	m.calls = append(m.calls, append([]domain.LLMMessage(nil), messages...))
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		var perr *domain.ProviderError
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, providerError(MockName, model, domain.ProviderUnknown, err)
	}
	var reply string
	if len(m.replies) > 0 {
		reply = m.replies[0]
		m.replies = m.replies[1:]
	}
	m.mu.Unlock()

	system, turns := splitSystem(messages)
	if reply == "" {
		reply = defaultReply(system, turns)
	}

	prompt := wordCount(system)
	for _, t := range turns {
		prompt += wordCount(t.Content)
	}
	completion := wordCount(reply)

	return &domain.LLMResponse{
		Content: reply,
		Model:   model,
		Usage: domain.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

func defaultReply(system string, turns []domain.LLMMessage) string {
	if strings.Contains(system, "JSON") {
		return mockAnalysis
	}
	var last string
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleUser {
			last = turns[i].Content
			break
		}
	}
	return fmt.Sprintf("I hear you. You said %q. Tell me a bit more about what that means to you.", last)
}
