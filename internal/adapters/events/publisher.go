// Package events delivers domain events to observers outside the core.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/PabloGalante/farum-coach/internal/domain"
	"github.com/PabloGalante/farum-coach/internal/observability"
)

// LogPublisher writes every event as a structured log line.
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher logs through log, or the process logger when log is nil.
func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = observability.Logger()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, events ...domain.Event) error {
	for _, e := range events {
		attrs := []any{
			"event_id", e.ID,
			"event_type", string(e.Type),
			"occurred_at", e.OccurredAt,
		}
		if e.ConversationID != "" {
			attrs = append(attrs, "conversation_id", string(e.ConversationID))
		}
		if e.TenantID != "" {
			attrs = append(attrs, "tenant_id", string(e.TenantID))
		}
		if len(e.Data) > 0 {
			attrs = append(attrs, "data", e.Data)
		}
		if reqID := observability.RequestID(ctx); reqID != "" {
			attrs = append(attrs, "request_id", reqID)
		}
		p.log.InfoContext(ctx, "domain event", attrs...)
	}
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, events ...domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Multi fans events out to several publishers. Every publisher is called;
// their failures are combined.
type Multi []domain.EventPublisher

func (m Multi) Publish(ctx context.Context, events ...domain.Event) error {
	var result *multierror.Error
	for _, p := range m {
		if err := p.Publish(ctx, events...); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
