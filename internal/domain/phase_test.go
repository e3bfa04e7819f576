package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

func TestPhaseProgressTable(t *testing.T) {
	want := map[domain.Phase]float64{
		domain.PhaseIntroduction: 0.1,
		domain.PhaseExploration:  0.3,
		domain.PhaseDeepening:    0.5,
		domain.PhaseSynthesis:    0.7,
		domain.PhaseValidation:   0.9,
		domain.PhaseCompletion:   1.0,
	}
	for phase, progress := range want {
		assert.Equal(t, progress, phase.Progress(), phase)
	}
	assert.Zero(t, domain.Phase("bogus").Progress())
}

func TestPhaseOrdering(t *testing.T) {
	for i, p := range domain.Phases {
		assert.Equal(t, i, p.Index())
		next, ok := p.Next()
		if p == domain.PhaseCompletion {
			assert.False(t, ok)
			assert.True(t, p.Terminal())
			continue
		}
		require.True(t, ok)
		assert.True(t, p.Before(next))
		assert.False(t, next.Before(p))
	}
	_, ok := domain.Phase("bogus").Next()
	assert.False(t, ok)
}

func TestConversationAdvanceIsForwardOnly(t *testing.T) {
	conv := &domain.Conversation{Phase: domain.PhaseDeepening}

	assert.False(t, conv.AdvanceTo(domain.PhaseExploration))
	assert.False(t, conv.AdvanceTo(domain.PhaseDeepening))
	assert.Equal(t, domain.PhaseDeepening, conv.Phase)

	assert.True(t, conv.AdvanceTo(domain.PhaseSynthesis))
	assert.Equal(t, domain.PhaseSynthesis, conv.Phase)
	assert.Equal(t, 0.7, conv.Progress())
}

func TestConversationCloneIsDeep(t *testing.T) {
	conv := &domain.Conversation{
		ID:       "c1",
		Messages: []*domain.Message{{ID: "m1", Role: domain.RoleUser, Content: "hi"}},
		Values:   []string{"honesty"},
	}

	clone := conv.Clone()
	clone.Messages[0].Content = "changed"
	clone.AppendMessage(&domain.Message{ID: "m2"})
	clone.Values[0] = "courage"

	assert.Equal(t, "hi", conv.Messages[0].Content)
	assert.Len(t, conv.Messages, 1)
	assert.Equal(t, []string{"honesty"}, conv.Values)
}

func TestParseTopic(t *testing.T) {
	cases := map[string]domain.Topic{
		"core_values": domain.TopicCoreValues,
		"Core Values": domain.TopicCoreValues,
		"purpose":     domain.TopicPurpose,
		"vision":      domain.TopicVision,
		"goal":        domain.TopicGoals,
	}
	for in, want := range cases {
		got, err := domain.ParseTopic(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := domain.ParseTopic("analysis")
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.False(t, domain.TopicAnalysis.Conversational())
}

func TestPricingCost(t *testing.T) {
	p := domain.Pricing{"m": {Prompt: 1, Completion: 2}}
	assert.InDelta(t, 0.5+2.0, p.Cost("m", domain.Usage{PromptTokens: 500, CompletionTokens: 1000}), 1e-9)
	assert.Zero(t, p.Cost("unknown", domain.Usage{PromptTokens: 1000}))
}
