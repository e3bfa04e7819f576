package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

func TestConversationDocRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	conv := &domain.Conversation{
		ID:          "c1",
		TenantID:    "t1",
		UserID:      "u1",
		Topic:       domain.TopicPurpose,
		Phase:       domain.PhaseDeepening,
		Status:      domain.StatusActive,
		Signals:     domain.Signals{Responses: 6, CategoriesExplored: 2},
		Categories:  []string{"family", "work"},
		ModelUsed:   "gemini-2.5-flash",
		TotalTokens: 420,
		Version:     3,
		CreatedAt:   now,
		UpdatedAt:   now,
		Messages:    []*domain.Message{{ID: "m1"}, {ID: "m2"}},
	}

	doc := toConversationDoc(conv)
	assert.Equal(t, 2, doc.Messages)

	back := doc.toDomain("c1")
	conv.Messages = nil
	assert.Equal(t, conv, back)
}

// The emulator test runs only when FIRESTORE_EMULATOR_HOST is set.
func TestStoreAgainstEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	s, err := NewStore(ctx, "coach-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	now := time.Now().UTC().Truncate(time.Millisecond)
	conv := &domain.Conversation{
		ID:        domain.ConversationID(uuid.NewString()),
		TenantID:  "t1",
		UserID:    domain.UserID(uuid.NewString()),
		Topic:     domain.TopicGoals,
		Phase:     domain.PhaseIntroduction,
		Status:    domain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	conv.AppendMessage(&domain.Message{ID: "m1", Role: domain.RoleUser, Content: "hello", CreatedAt: now, Phase: domain.PhaseIntroduction})
	require.NoError(t, s.Create(ctx, conv))
	assert.ErrorIs(t, s.Create(ctx, conv), domain.ErrAlreadyExists)

	loaded, err := s.Load(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 1)

	loaded.AppendMessage(&domain.Message{ID: "m2", Role: domain.RoleAssistant, Content: "hi", CreatedAt: now, Phase: domain.PhaseIntroduction})
	stale := loaded.Clone()
	require.NoError(t, s.Save(ctx, loaded))
	assert.Equal(t, 1, loaded.Version)
	assert.ErrorIs(t, s.Save(ctx, stale), domain.ErrConflict)

	open, err := s.FindOpen(ctx, "t1", conv.UserID, domain.TopicGoals)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, open.ID)
	assert.Len(t, open.Messages, 2)

	list, err := s.ListByUser(ctx, "t1", conv.UserID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
