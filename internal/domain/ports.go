package domain

import "context"

// LLMMessage is one entry of the history sent to a model.
type LLMMessage struct {
	Role    Role
	Content string
}

// GenerationParams tune a single model invocation.
type GenerationParams struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is what a provider returns for one invocation.
type LLMResponse struct {
	Content string
	// Model is the model that actually served the request.
	Model string
	Usage Usage
	// Cached is set when the backend served the answer from its own cache.
	Cached bool
}

// LLMProvider is the contract every model backend implements. Providers do
// not retry; failures come back as *ProviderError.
type LLMProvider interface {
	Name() string
	Generate(ctx context.Context, messages []LLMMessage, params GenerationParams) (*LLMResponse, error)
}

// ProviderResolver picks a provider by configured name. An empty name
// resolves to the default provider.
type ProviderResolver interface {
	Resolve(name string) (LLMProvider, error)
}

// ConversationRepository persists conversations. Implementations store
// single conversations atomically and return ErrNotFound, ErrAlreadyExists
// and ErrConflict (stale Version) as documented per method.
type ConversationRepository interface {
	Create(ctx context.Context, conv *Conversation) error
	Load(ctx context.Context, id ConversationID) (*Conversation, error)
	// Save writes conv when the stored version equals conv.Version and
	// increments conv.Version on success.
	Save(ctx context.Context, conv *Conversation) error
	// FindOpen returns the newest non-terminal conversation of a user on a
	// topic, or ErrNotFound.
	FindOpen(ctx context.Context, tenantID TenantID, userID UserID, topic Topic) (*Conversation, error)
	ListByUser(ctx context.Context, tenantID TenantID, userID UserID, limit int) ([]*Conversation, error)
}

// TemplateRepository serves prompt templates and per-topic configuration.
// Both lookups return ErrNotFound when nothing is stored.
type TemplateRepository interface {
	GetTemplate(ctx context.Context, topic Topic, key string) (*PromptTemplate, error)
	GetTopicConfiguration(ctx context.Context, topic Topic) (*TopicConfiguration, error)
}

// EventPublisher delivers domain events to whoever observes the core.
type EventPublisher interface {
	Publish(ctx context.Context, events ...Event) error
}
