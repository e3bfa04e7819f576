package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

// ConversationStore keeps conversations in process memory. Every read and
// write goes through a deep copy, so callers never share state with the
// store.
type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[domain.ConversationID]*domain.Conversation
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: make(map[domain.ConversationID]*domain.Conversation),
	}
}

func (s *ConversationStore) Create(_ context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return domain.ErrAlreadyExists
	}

	s.conversations[conv.ID] = conv.Clone()
	return nil
}

func (s *ConversationStore) Load(_ context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return conv.Clone(), nil
}

func (s *ConversationStore) Save(_ context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.conversations[conv.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != conv.Version {
		return domain.ErrConflict
	}

	conv.Version++
	s.conversations[conv.ID] = conv.Clone()
	return nil
}

func (s *ConversationStore) FindOpen(_ context.Context, tenantID domain.TenantID, userID domain.UserID, topic domain.Topic) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *domain.Conversation
	for _, conv := range s.conversations {
		if conv.TenantID != tenantID || conv.UserID != userID || conv.Topic != topic || conv.Status.Terminal() {
			continue
		}
		if newest == nil || conv.CreatedAt.After(newest.CreatedAt) {
			newest = conv
		}
	}
	if newest == nil {
		return nil, domain.ErrNotFound
	}
	return newest.Clone(), nil
}

// ListByUser returns the user's conversations, newest first.
func (s *ConversationStore) ListByUser(_ context.Context, tenantID domain.TenantID, userID domain.UserID, limit int) ([]*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Conversation
	for _, conv := range s.conversations {
		if conv.TenantID == tenantID && conv.UserID == userID {
			result = append(result, conv.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
