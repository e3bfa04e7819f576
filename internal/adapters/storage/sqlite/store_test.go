package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "coach.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func conversation(id string, created time.Time) *domain.Conversation {
	return &domain.Conversation{
		ID:        domain.ConversationID(id),
		TenantID:  "t1",
		UserID:    "u1",
		Topic:     domain.TopicCoreValues,
		Phase:     domain.PhaseIntroduction,
		Status:    domain.StatusActive,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestCreateLoadSave(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	conv := conversation("c1", now)
	conv.AppendMessage(&domain.Message{ID: "m1", Role: domain.RoleUser, Content: "I value family", CreatedAt: now, Phase: domain.PhaseIntroduction})
	require.NoError(t, s.Create(ctx, conv))
	assert.ErrorIs(t, s.Create(ctx, conv), domain.ErrAlreadyExists)

	loaded, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, conv, loaded)

	loaded.AdvanceTo(domain.PhaseExploration)
	loaded.Signals = domain.Signals{Responses: 1, CategoriesExplored: 1, ValuesIdentified: 1}
	loaded.Categories = []string{"family"}
	loaded.Values = []string{"family"}
	loaded.TotalTokens = 42
	loaded.SessionCost = 0.0012
	loaded.AppendMessage(&domain.Message{ID: "m2", Role: domain.RoleAssistant, Content: "Tell me more", CreatedAt: now.Add(time.Second), Phase: domain.PhaseExploration})
	require.NoError(t, s.Save(ctx, loaded))
	assert.Equal(t, 1, loaded.Version)

	again, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, loaded, again)

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveDetectsConflicts(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	require.NoError(t, s.Create(ctx, conversation("c1", time.Now())))

	a, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	b, err := s.Load(ctx, "c1")
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, a))
	assert.ErrorIs(t, s.Save(ctx, b), domain.ErrConflict)
	assert.Equal(t, 0, b.Version)

	assert.ErrorIs(t, s.Save(ctx, conversation("ghost", time.Now())), domain.ErrNotFound)
}

func TestFindOpenAndListByUser(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := conversation("first", base)
	second := conversation("second", base.Add(time.Minute))
	abandoned := conversation("abandoned", base.Add(2*time.Minute))
	abandoned.Status = domain.StatusAbandoned
	for _, c := range []*domain.Conversation{first, second, abandoned} {
		require.NoError(t, s.Create(ctx, c))
	}

	open, err := s.FindOpen(ctx, "t1", "u1", domain.TopicCoreValues)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationID("second"), open.ID)

	_, err = s.FindOpen(ctx, "t1", "u1", domain.TopicGoals)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := s.ListByUser(ctx, "t1", "u1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.ConversationID("abandoned"), list[0].ID)
	assert.Equal(t, domain.ConversationID("second"), list[1].ID)
}

func TestCompletedAtRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	now := time.Date(2026, 2, 2, 8, 30, 0, 500, time.UTC)

	conv := conversation("c1", now)
	require.NoError(t, s.Create(ctx, conv))

	conv.Status = domain.StatusCompleted
	conv.CompletedAt = &now
	require.NoError(t, s.Save(ctx, conv))

	loaded, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, loaded.CompletedAt)
	assert.True(t, now.Equal(*loaded.CompletedAt))
}
