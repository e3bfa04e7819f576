package domain

// Message is one entry of a conversation timeline.
type Message struct {
	ID        MessageID `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"created_at"`

	// Phase the conversation was in when the message was appended.
	Phase Phase `json:"phase"`
}

// Signals are counters derived from the user's side of the conversation.
// They drive phase advancement.
type Signals struct {
	Responses          int  `json:"responses"`
	CategoriesExplored int  `json:"categories_explored"`
	InsightsCaptured   int  `json:"insights_captured"`
	ValuesIdentified   int  `json:"values_identified"`
	ValuesConfirmed    int  `json:"values_confirmed"`
	UserConfirmation   bool `json:"user_confirmation"`
}

// Conversation is a coaching thread of one user on one topic.
type Conversation struct {
	ID       ConversationID `json:"id"`
	TenantID TenantID       `json:"tenant_id"`
	UserID   UserID         `json:"user_id"`
	Topic    Topic          `json:"topic"`
	Phase    Phase          `json:"phase"`
	Status   Status         `json:"status"`

	Messages []*Message `json:"messages"`

	Signals    Signals  `json:"signals"`
	Categories []string `json:"categories,omitempty"`
	Values     []string `json:"values,omitempty"`

	ModelUsed   string  `json:"model_used,omitempty"`
	TotalTokens int     `json:"total_tokens"`
	SessionCost float64 `json:"session_cost"`

	// Version is bumped by every successful save and guards against
	// concurrent writers.
	Version int `json:"version"`

	CreatedAt   Timestamp  `json:"created_at"`
	UpdatedAt   Timestamp  `json:"updated_at"`
	CompletedAt *Timestamp `json:"completed_at,omitempty"`
}

// Progress is derived from the phase alone.
func (c *Conversation) Progress() float64 {
	return c.Phase.Progress()
}

// AdvanceTo moves the conversation forward. Moving to the same or an
// earlier phase is a no-op and reports false.
func (c *Conversation) AdvanceTo(next Phase) bool {
	if !next.Valid() || !c.Phase.Before(next) {
		return false
	}
	c.Phase = next
	return true
}

func (c *Conversation) AppendMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
}

// UserMessages returns the user's messages in append order.
func (c *Conversation) UserMessages() []*Message {
	var out []*Message
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a deep copy. Stores hand out clones so callers never alias
// persisted state.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		msg := *m
		out.Messages[i] = &msg
	}
	out.Categories = append([]string(nil), c.Categories...)
	out.Values = append([]string(nil), c.Values...)
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
