package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store for projectID.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) conversationsCol() *firestore.CollectionRef {
	return s.client.Collection("conversations")
}

func (s *Store) conversationDoc(id domain.ConversationID) *firestore.DocumentRef {
	return s.conversationsCol().Doc(string(id))
}

func (s *Store) messagesCol(id domain.ConversationID) *firestore.CollectionRef {
	return s.conversationDoc(id).Collection("messages")
}

func (s *Store) templatesCol() *firestore.CollectionRef {
	return s.client.Collection("prompt_templates")
}

func (s *Store) topicConfigsCol() *firestore.CollectionRef {
	return s.client.Collection("topic_configurations")
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type conversationDoc struct {
	TenantID    string         `firestore:"tenant_id"`
	UserID      string         `firestore:"user_id"`
	Topic       string         `firestore:"topic"`
	Phase       string         `firestore:"phase"`
	Status      string         `firestore:"status"`
	Signals     domain.Signals `firestore:"signals"`
	Categories  []string       `firestore:"categories"`
	Values      []string       `firestore:"values"`
	ModelUsed   string         `firestore:"model_used"`
	TotalTokens int            `firestore:"total_tokens"`
	SessionCost float64        `firestore:"session_cost"`
	Messages    int            `firestore:"message_count"`
	Version     int            `firestore:"version"`
	CreatedAt   time.Time      `firestore:"created_at"`
	UpdatedAt   time.Time      `firestore:"updated_at"`
	CompletedAt *time.Time     `firestore:"completed_at"`
}

type messageDoc struct {
	Seq       int       `firestore:"seq"`
	Role      string    `firestore:"role"`
	Content   string    `firestore:"content"`
	Phase     string    `firestore:"phase"`
	CreatedAt time.Time `firestore:"created_at"`
}

func toConversationDoc(c *domain.Conversation) conversationDoc {
	return conversationDoc{
		TenantID:    string(c.TenantID),
		UserID:      string(c.UserID),
		Topic:       string(c.Topic),
		Phase:       string(c.Phase),
		Status:      string(c.Status),
		Signals:     c.Signals,
		Categories:  c.Categories,
		Values:      c.Values,
		ModelUsed:   c.ModelUsed,
		TotalTokens: c.TotalTokens,
		SessionCost: c.SessionCost,
		Messages:    len(c.Messages),
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		CompletedAt: c.CompletedAt,
	}
}

func (d conversationDoc) toDomain(id domain.ConversationID) *domain.Conversation {
	return &domain.Conversation{
		ID:          id,
		TenantID:    domain.TenantID(d.TenantID),
		UserID:      domain.UserID(d.UserID),
		Topic:       domain.Topic(d.Topic),
		Phase:       domain.Phase(d.Phase),
		Status:      domain.Status(d.Status),
		Signals:     d.Signals,
		Categories:  d.Categories,
		Values:      d.Values,
		ModelUsed:   d.ModelUsed,
		TotalTokens: d.TotalTokens,
		SessionCost: d.SessionCost,
		Version:     d.Version,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		CompletedAt: d.CompletedAt,
	}
}

// ─────────────────────────────────────────
// ConversationRepository implementation
// ─────────────────────────────────────────

func (s *Store) Create(ctx context.Context, conv *domain.Conversation) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(s.conversationDoc(conv.ID), toConversationDoc(conv)); err != nil {
			return err
		}
		return s.writeMessages(tx, conv, 0)
	})
	if status.Code(err) == codes.AlreadyExists {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("firestore Create: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	snap, err := s.conversationDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore Load: %w", err)
	}

	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore Load decode: %w", err)
	}

	conv := doc.toDomain(id)
	msgs, err := s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return conv, nil
}

// Save checks the stored version and writes the conversation document plus
// messages appended since the last save in one transaction.
func (s *Store) Save(ctx context.Context, conv *domain.Conversation) error {
	ref := s.conversationDoc(conv.ID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored conversationDoc
		if err := snap.DataTo(&stored); err != nil {
			return err
		}
		if stored.Version != conv.Version {
			return domain.ErrConflict
		}

		doc := toConversationDoc(conv)
		doc.Version = conv.Version + 1
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		return s.writeMessages(tx, conv, stored.Messages)
	})
	switch {
	case err == nil:
		conv.Version++
		return nil
	case errors.Is(err, domain.ErrConflict):
		return domain.ErrConflict
	case status.Code(err) == codes.NotFound:
		return domain.ErrNotFound
	}
	return fmt.Errorf("firestore Save: %w", err)
}

func (s *Store) writeMessages(tx *firestore.Transaction, conv *domain.Conversation, from int) error {
	for i := from; i < len(conv.Messages); i++ {
		m := conv.Messages[i]
		doc := messageDoc{
			Seq:       i,
			Role:      string(m.Role),
			Content:   m.Content,
			Phase:     string(m.Phase),
			CreatedAt: m.CreatedAt,
		}
		if err := tx.Set(s.messagesCol(conv.ID).Doc(string(m.ID)), doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadMessages(ctx context.Context, id domain.ConversationID) ([]*domain.Message, error) {
	iter := s.messagesCol(id).OrderBy("seq", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []*domain.Message
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore loadMessages: %w", err)
		}

		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode messageDoc: %w", err)
		}

		out = append(out, &domain.Message{
			ID:        domain.MessageID(snap.Ref.ID),
			Role:      domain.Role(doc.Role),
			Content:   doc.Content,
			Phase:     domain.Phase(doc.Phase),
			CreatedAt: doc.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) FindOpen(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, topic domain.Topic) (*domain.Conversation, error) {
	q := s.conversationsCol().
		Where("tenant_id", "==", string(tenantID)).
		Where("user_id", "==", string(userID)).
		Where("topic", "==", string(topic)).
		Where("status", "in", []string{string(domain.StatusActive), string(domain.StatusPaused)}).
		OrderBy("created_at", firestore.Desc).
		Limit(1)

	convs, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("firestore FindOpen: %w", err)
	}
	if len(convs) == 0 {
		return nil, domain.ErrNotFound
	}

	conv := convs[0]
	msgs, err := s.loadMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return conv, nil
}

// ListByUser returns conversation headers, newest first, without messages.
func (s *Store) ListByUser(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, limit int) ([]*domain.Conversation, error) {
	q := s.conversationsCol().
		Where("tenant_id", "==", string(tenantID)).
		Where("user_id", "==", string(userID)).
		OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	out, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("firestore ListByUser: %w", err)
	}
	return out, nil
}

func (s *Store) query(ctx context.Context, q firestore.Query) ([]*domain.Conversation, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*domain.Conversation
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, err
		}

		var doc conversationDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode conversationDoc: %w", err)
		}
		out = append(out, doc.toDomain(domain.ConversationID(snap.Ref.ID)))
	}
	return out, nil
}

// ─────────────────────────────────────────
// TemplateRepository implementation
// ─────────────────────────────────────────

func (s *Store) GetTemplate(ctx context.Context, topic domain.Topic, key string) (*domain.PromptTemplate, error) {
	snap, err := s.templatesCol().Doc(string(topic) + "_" + key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore GetTemplate: %w", err)
	}

	var tpl domain.PromptTemplate
	if err := snap.DataTo(&tpl); err != nil {
		return nil, fmt.Errorf("firestore GetTemplate decode: %w", err)
	}
	tpl.Topic, tpl.Key = topic, key
	return &tpl, nil
}

func (s *Store) GetTopicConfiguration(ctx context.Context, topic domain.Topic) (*domain.TopicConfiguration, error) {
	snap, err := s.topicConfigsCol().Doc(string(topic)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore GetTopicConfiguration: %w", err)
	}

	var cfg domain.TopicConfiguration
	if err := snap.DataTo(&cfg); err != nil {
		return nil, fmt.Errorf("firestore GetTopicConfiguration decode: %w", err)
	}
	cfg.Topic = topic
	return &cfg, nil
}
