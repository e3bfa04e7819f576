// Package analysis runs the alignment, KPI and strategy pipelines: one
// rendered prompt, one model call and a validated list of recommendations.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/farum-coach/internal/app/prompt"
	"github.com/PabloGalante/farum-coach/internal/domain"
	"github.com/PabloGalante/farum-coach/internal/observability"
)

const (
	DefaultTimeout = 90 * time.Second

	instruction = "Analyze the context above and answer with the JSON object only."
)

type Service struct {
	providers domain.ProviderResolver
	prompts   *prompt.Service
	events    domain.EventPublisher
	metrics   *observability.Metrics
	timeout   time.Duration
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(providers domain.ProviderResolver, prompts *prompt.Service, events domain.EventPublisher, opts ...Option) *Service {
	s := &Service{
		providers: providers,
		prompts:   prompts,
		events:    events,
		timeout:   DefaultTimeout,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Alignment(ctx context.Context, ec EnrichedContext) (*Result, error) {
	return s.Analyze(ctx, KindAlignment, ec)
}

func (s *Service) KPI(ctx context.Context, ec EnrichedContext) (*Result, error) {
	return s.Analyze(ctx, KindKPI, ec)
}

func (s *Service) Strategy(ctx context.Context, ec EnrichedContext) (*Result, error) {
	return s.Analyze(ctx, KindStrategy, ec)
}

// Analyze validates ec, then runs the kind pipeline. Invalid input is
// rejected before any I/O.
func (s *Service) Analyze(ctx context.Context, kind Kind, ec EnrichedContext) (*Result, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	ec, err := ec.Normalize()
	if err != nil {
		s.metrics.ObserveAnalysis(string(kind), "validation")
		return nil, err
	}

	log := observability.LoggerFromContext(ctx).With(
		"analysis", kind,
		"tenant_id", ec.TenantID,
		"user_id", ec.UserID,
	)
	start := time.Now()
	s.publish(ctx, s.event(ec, domain.EventAnalysisRequested, map[string]any{"kind": string(kind)}))

	res, err := s.run(ctx, kind, ec)
	if err != nil {
		outcome := "error"
		var perr *domain.ProviderError
		if errors.As(err, &perr) {
			outcome = string(perr.Kind)
		}
		s.metrics.ObserveAnalysis(string(kind), outcome)
		log.Error("analysis failed", "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		s.publish(ctx, s.event(ec, domain.EventAnalysisFailed, map[string]any{
			"kind":  string(kind),
			"error": err.Error(),
		}))
		return nil, err
	}

	s.metrics.ObserveAnalysis(string(kind), "ok")
	log.Info("analysis completed",
		"recommendations", len(res.Recommendations),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	data := map[string]any{
		"kind":            string(kind),
		"recommendations": len(res.Recommendations),
		"model":           res.Model,
	}
	if res.AlignmentScore != nil {
		data["alignment_score"] = *res.AlignmentScore
	}
	s.publish(ctx, s.event(ec, domain.EventAnalysisCompleted, data))
	return res, nil
}

func (s *Service) run(ctx context.Context, kind Kind, ec EnrichedContext) (*Result, error) {
	cfg, err := s.prompts.TopicConfig(ctx, domain.TopicAnalysis)
	if err != nil {
		return nil, err
	}
	system, err := s.prompts.Render(ctx, domain.TopicAnalysis, string(kind), ec.templateParams())
	if err != nil {
		return nil, err
	}
	provider, err := s.providers.Resolve(cfg.Provider)
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	params := cfg.Params()
	resp, err := provider.Generate(ctx, []domain.LLMMessage{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUser, Content: instruction},
	}, params)
	if err != nil {
		var perr *domain.ProviderError
		if errors.As(err, &perr) {
			return nil, err
		}
		errKind := domain.ProviderUnknown
		if errors.Is(err, context.DeadlineExceeded) {
			errKind = domain.ProviderTimeout
		}
		return nil, &domain.ProviderError{Provider: provider.Name(), Model: params.Model, Kind: errKind, Err: err}
	}

	res, err := parseResult(kind, resp.Content)
	if err != nil {
		return nil, &domain.ProviderError{
			Provider: provider.Name(),
			Model:    resp.Model,
			Kind:     domain.ProviderInvalidResponse,
			Err:      fmt.Errorf("parsing %s analysis: %w", kind, err),
		}
	}
	res.Model = resp.Model
	res.Usage = resp.Usage
	res.GeneratedAt = s.now()
	return res, nil
}

func (s *Service) publish(ctx context.Context, e domain.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		observability.LoggerFromContext(ctx).Warn("failed to publish analysis event", "type", e.Type, "error", err)
	}
}

func (s *Service) event(ec EnrichedContext, typ domain.EventType, data map[string]any) domain.Event {
	return domain.Event{
		ID:         s.newID(),
		Type:       typ,
		TenantID:   ec.TenantID,
		UserID:     ec.UserID,
		OccurredAt: s.now(),
		Data:       data,
	}
}
