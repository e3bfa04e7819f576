package domain

import (
	"fmt"
	"strings"
	"time"
)

type ConversationID string
type TenantID string
type UserID string
type MessageID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Topic is the subject a coaching conversation works on.
type Topic string

const (
	TopicCoreValues Topic = "core_values"
	TopicPurpose    Topic = "purpose"
	TopicVision     Topic = "vision"
	TopicGoals      Topic = "goals"

	// TopicAnalysis namespaces analysis prompts and configuration.
	// It is not a conversation topic.
	TopicAnalysis Topic = "analysis"
)

var topicTitles = map[Topic]string{
	TopicCoreValues: "Core Values",
	TopicPurpose:    "Purpose",
	TopicVision:     "Vision",
	TopicGoals:      "Goals",
}

// Conversational reports whether a conversation can be held on t.
func (t Topic) Conversational() bool {
	_, ok := topicTitles[t]
	return ok
}

// Title is the human readable name used in prompts.
func (t Topic) Title() string {
	if title, ok := topicTitles[t]; ok {
		return title
	}
	return string(t)
}

// ParseTopic accepts the canonical name plus a few spellings used by clients.
func ParseTopic(s string) (Topic, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	switch normalized {
	case "core_values", "values":
		return TopicCoreValues, nil
	case "purpose":
		return TopicPurpose, nil
	case "vision":
		return TopicVision, nil
	case "goals", "goal":
		return TopicGoals, nil
	}
	return "", &ValidationError{Field: "topic", Message: fmt.Sprintf("unknown topic %q", s)}
}

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Terminal statuses accept no further turns or status changes.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

type Timestamp = time.Time
