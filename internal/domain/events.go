package domain

type EventType string

const (
	EventConversationInitiated EventType = "conversation.initiated"
	EventMessageAdded          EventType = "conversation.message_added"
	EventPhaseTransitioned     EventType = "conversation.phase_transitioned"
	EventConversationCompleted EventType = "conversation.completed"
	EventConversationPaused    EventType = "conversation.paused"
	EventConversationResumed   EventType = "conversation.resumed"
	EventConversationAbandoned EventType = "conversation.abandoned"
	EventAnalysisRequested     EventType = "analysis.requested"
	EventAnalysisCompleted     EventType = "analysis.completed"
	EventAnalysisFailed        EventType = "analysis.failed"
)

// Event is a fact emitted by the core for external observers.
type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	ConversationID ConversationID `json:"conversation_id,omitempty"`
	TenantID       TenantID       `json:"tenant_id,omitempty"`
	UserID         UserID         `json:"user_id,omitempty"`
	OccurredAt     Timestamp      `json:"occurred_at"`
	Data           map[string]any `json:"data,omitempty"`
}
