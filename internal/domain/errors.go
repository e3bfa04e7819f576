package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict means the stored version moved since the conversation was loaded.
	ErrConflict = errors.New("version conflict")
	// ErrMalformedResponse means the model answered with something unparseable.
	ErrMalformedResponse = errors.New("malformed model response")
)

// ValidationError rejects malformed input before any I/O.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// PolicyViolation rejects an action the conversation's state does not allow.
type PolicyViolation struct {
	ConversationID ConversationID
	Status         Status
	Action         string
	Reason         string
}

func (e *PolicyViolation) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("policy violation: %s on conversation %s: %s", e.Action, e.ConversationID, e.Reason)
	}
	return fmt.Sprintf("policy violation: %s on conversation %s in status %s", e.Action, e.ConversationID, e.Status)
}

// ConfigurationError reports missing or broken templates and topic settings.
type ConfigurationError struct {
	Topic Topic
	Key   string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("configuration: %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("configuration: %s/%s: %v", e.Topic, e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

type ProviderErrorKind string

const (
	ProviderModelNotFound   ProviderErrorKind = "model_not_found"
	ProviderAccessDenied    ProviderErrorKind = "access_denied"
	ProviderThrottled       ProviderErrorKind = "throttled"
	ProviderTimeout         ProviderErrorKind = "timeout"
	ProviderUnavailable     ProviderErrorKind = "unavailable"
	ProviderInvalidResponse ProviderErrorKind = "invalid_response"
	ProviderUnknown         ProviderErrorKind = "unknown"
)

// ProviderError wraps an LLM backend failure.
type ProviderError struct {
	Provider string
	Model    string
	Kind     ProviderErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (model %s): %s: %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether a later identical call may succeed.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ProviderThrottled, ProviderTimeout, ProviderUnavailable:
		return true
	}
	return false
}

// RepositoryError is raised when the model answered but the conversation
// could not be written. Generated carries the reply so the caller can still
// show it.
type RepositoryError struct {
	ConversationID ConversationID
	Op             string
	Generated      *Message
	Err            error
}

func (e *RepositoryError) Error() string {
	if e.Generated != nil {
		return fmt.Sprintf("response generated but not saved: %s conversation %s: %v", e.Op, e.ConversationID, e.Err)
	}
	return fmt.Sprintf("repository: %s conversation %s: %v", e.Op, e.ConversationID, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }
