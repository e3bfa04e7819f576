package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

func userMsg(phase domain.Phase, text string) *domain.Message {
	return &domain.Message{Role: domain.RoleUser, Content: text, Phase: phase}
}

func TestExtractCountsResponsesCategoriesAndValues(t *testing.T) {
	history := []*domain.Message{
		userMsg(domain.PhaseIntroduction, "Hi, I want to work on my values."),
		{Role: domain.RoleAssistant, Content: "Tell me about your family and work."},
		userMsg(domain.PhaseExploration, "My family matters a lot; honesty is key at home."),
		userMsg(domain.PhaseExploration, "At work I care about Integrity and honesty."),
		userMsg(domain.PhaseExploration, "I realize courage is what I lack."),
	}

	snap := NewExtractor(nil).Extract(domain.TopicCoreValues, history, false)

	assert.Equal(t, 4, snap.Signals.Responses)
	assert.Equal(t, []string{"family", "work"}, snap.Categories)
	assert.Equal(t, 2, snap.Signals.CategoriesExplored)
	assert.ElementsMatch(t, []string{"family", "honesty", "integrity", "courage"}, snap.Values)
	assert.Equal(t, 4, snap.Signals.ValuesIdentified)
	assert.Equal(t, 1, snap.Signals.InsightsCaptured)
	assert.False(t, snap.Signals.UserConfirmation)
	assert.Zero(t, snap.Signals.ValuesConfirmed)
}

func TestExtractMatchesWholeWordsOnly(t *testing.T) {
	history := []*domain.Message{userMsg(domain.PhaseExploration, "Networking and homework are trusty habits")}

	snap := NewExtractor(nil).Extract(domain.TopicCoreValues, history, false)

	assert.Empty(t, snap.Categories)
	assert.Empty(t, snap.Values)
}

func TestExtractConfirmationInValidation(t *testing.T) {
	history := []*domain.Message{
		userMsg(domain.PhaseSynthesis, "honesty, courage and compassion"),
		userMsg(domain.PhaseValidation, "Yes, that's right."),
	}

	snap := NewExtractor(nil).Extract(domain.TopicCoreValues, history, false)

	assert.True(t, snap.Signals.UserConfirmation)
	assert.Equal(t, 3, snap.Signals.ValuesConfirmed)
	assert.ElementsMatch(t, snap.Values, snap.Confirmed)
}

func TestExtractIgnoresNegatedOrEarlyConfirmation(t *testing.T) {
	history := []*domain.Message{
		userMsg(domain.PhaseExploration, "yes, exactly"),
		userMsg(domain.PhaseValidation, "No, that is not correct, honesty fits but not courage"),
	}

	snap := NewExtractor(nil).Extract(domain.TopicCoreValues, history, false)

	assert.False(t, snap.Signals.UserConfirmation)
	// Values restated during validation count as confirmed.
	assert.ElementsMatch(t, []string{"honesty", "courage"}, snap.Confirmed)
}

func TestExtractExplicitConfirmation(t *testing.T) {
	history := []*domain.Message{userMsg(domain.PhaseValidation, "freedom, trust, joy")}

	snap := NewExtractor(nil).Extract(domain.TopicCoreValues, history, true)

	assert.True(t, snap.Signals.UserConfirmation)
	assert.Equal(t, 3, snap.Signals.ValuesConfirmed)
}

func TestExtractTopicSpecificCategory(t *testing.T) {
	history := []*domain.Message{userMsg(domain.PhaseExploration, "I want to leave a legacy and help others.")}

	goals := NewExtractor(nil).Extract(domain.TopicPurpose, history, false)
	assert.Contains(t, goals.Categories, "contribution")

	other := NewExtractor(nil).Extract(domain.TopicVision, history, false)
	assert.NotContains(t, other.Categories, "contribution")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, " that's right ", normalize("That’s   RIGHT!!"))
	assert.Equal(t, " ", normalize(""))
}
