// Package conversation runs coaching conversations turn by turn: it keeps
// the phase state machine moving, renders the phase prompt, calls the
// configured model and persists the exchange.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/farum-coach/internal/app/phase"
	"github.com/PabloGalante/farum-coach/internal/app/prompt"
	"github.com/PabloGalante/farum-coach/internal/app/signals"
	"github.com/PabloGalante/farum-coach/internal/cache"
	"github.com/PabloGalante/farum-coach/internal/domain"
	"github.com/PabloGalante/farum-coach/internal/observability"
)

const (
	DefaultTurnTimeout = 60 * time.Second
	DefaultSaveTimeout = 10 * time.Second
)

type Service struct {
	repo      domain.ConversationRepository
	providers domain.ProviderResolver
	prompts   *prompt.Service
	events    domain.EventPublisher
	cache     *cache.Cache

	policy    *phase.Policy
	extractor *signals.Extractor
	pricing   domain.Pricing
	metrics   *observability.Metrics

	turnTimeout time.Duration
	saveTimeout time.Duration
	sessionTTL  cache.TTL

	now   func() time.Time
	newID func() string
	locks *keyedMutex
}

type Option func(*Service)

func WithPolicy(p *phase.Policy) Option { return func(s *Service) { s.policy = p } }

func WithExtractor(e *signals.Extractor) Option { return func(s *Service) { s.extractor = e } }

func WithPricing(p domain.Pricing) Option { return func(s *Service) { s.pricing = p } }

func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(newID func() string) Option { return func(s *Service) { s.newID = newID } }

// WithTimeouts bounds the model call and the save. Zero keeps the default.
func WithTimeouts(turn, save time.Duration) Option {
	return func(s *Service) {
		if turn > 0 {
			s.turnTimeout = turn
		}
		if save > 0 {
			s.saveTimeout = save
		}
	}
}

// WithSessionTTL sets how long conversation snapshots stay cached.
func WithSessionTTL(ttl cache.TTL) Option { return func(s *Service) { s.sessionTTL = ttl } }

func NewService(
	repo domain.ConversationRepository,
	providers domain.ProviderResolver,
	prompts *prompt.Service,
	events domain.EventPublisher,
	c *cache.Cache,
	opts ...Option,
) *Service {
	if c == nil {
		c = cache.Disabled()
	}
	s := &Service{
		repo:        repo,
		providers:   providers,
		prompts:     prompts,
		events:      events,
		cache:       c,
		policy:      phase.NewPolicy(nil),
		extractor:   signals.NewExtractor(nil),
		pricing:     domain.Pricing(domain.DefaultModelCosts()),
		turnTimeout: DefaultTurnTimeout,
		saveTimeout: DefaultSaveTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type StartInput struct {
	TenantID domain.TenantID
	UserID   domain.UserID
	Topic    domain.Topic
	Message  string
}

type TurnInput struct {
	ConversationID domain.ConversationID
	Message        string
	// Confirm is the user's explicit acknowledgement of the proposed result.
	Confirm bool
}

type TurnResult struct {
	Conversation *domain.Conversation
	Reply        *domain.Message
	Phase        domain.Phase
	Transitioned bool
	Completed    bool
	Usage        domain.Usage
}

// Start opens a conversation with the user's first message, or continues
// the user's open conversation on the same topic.
func (s *Service) Start(ctx context.Context, in StartInput) (*TurnResult, error) {
	if err := validateStart(in); err != nil {
		return nil, err
	}

	log := observability.LoggerFromContext(ctx).With(
		"tenant_id", in.TenantID,
		"user_id", in.UserID,
		"topic", in.Topic,
	)

	unlockThread := s.locks.Lock(threadKey(in.TenantID, in.UserID, in.Topic))
	defer unlockThread()

	open, err := s.repo.FindOpen(ctx, in.TenantID, in.UserID, in.Topic)
	switch {
	case err == nil:
		log.Info("continuing open conversation", "conversation_id", open.ID)
		return s.HandleTurn(ctx, TurnInput{ConversationID: open.ID, Message: in.Message})
	case !errors.Is(err, domain.ErrNotFound):
		log.Error("failed to look up open conversation", "error", err)
		return nil, &domain.RepositoryError{Op: "find_open", Err: err}
	}

	now := s.now()
	conv := &domain.Conversation{
		ID:        domain.ConversationID(s.newID()),
		TenantID:  in.TenantID,
		UserID:    in.UserID,
		Topic:     in.Topic,
		Phase:     domain.PhaseIntroduction,
		Status:    domain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	unlock := s.locks.Lock(conversationKey(conv.ID))
	defer unlock()

	log.Info("starting conversation", "conversation_id", conv.ID)
	initiated := s.event(conv, domain.EventConversationInitiated, nil)
	return s.runTurn(ctx, conv, in.Message, false, true, initiated)
}

// HandleTurn processes one user message: the turn either fully succeeds or
// leaves the stored conversation untouched, except that a reply generated
// but not saved is reported as *domain.RepositoryError.
func (s *Service) HandleTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if in.ConversationID == "" {
		return nil, &domain.ValidationError{Field: "conversation_id", Message: "is required"}
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, &domain.ValidationError{Field: "message", Message: "must not be empty"}
	}

	unlock := s.locks.Lock(conversationKey(in.ConversationID))
	defer unlock()

	stored, err := s.load(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if stored.Status.Terminal() {
		return nil, &domain.PolicyViolation{ConversationID: stored.ID, Status: stored.Status, Action: "handle_turn"}
	}

	conv := stored.Clone()
	var pending []domain.Event
	if conv.Status == domain.StatusPaused {
		conv.Status = domain.StatusActive
		pending = append(pending, s.event(conv, domain.EventConversationResumed, map[string]any{"auto": true}))
	}

	return s.runTurn(ctx, conv, in.Message, in.Confirm, false, pending...)
}

// runTurn mutates conv, a working copy, and persists it only after the
// model answered. pending events are published together with the turn's
// own events once the write succeeded.
func (s *Service) runTurn(ctx context.Context, conv *domain.Conversation, text string, confirm, create bool, pending ...domain.Event) (*TurnResult, error) {
	start := time.Now()
	topic := string(conv.Topic)
	log := observability.LoggerFromContext(ctx).With(
		"conversation_id", conv.ID,
		"topic", conv.Topic,
		"phase", conv.Phase,
	)
	log.Info("turn started")

	fail := func(outcome string, err error) (*TurnResult, error) {
		s.metrics.ObserveTurn(topic, outcome, time.Since(start))
		log.Error("turn failed", "outcome", outcome, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, err
	}

	cfg, err := s.prompts.TopicConfig(ctx, conv.Topic)
	if err != nil {
		return fail("configuration", err)
	}
	if cfg.MaxTurns > 0 && len(conv.UserMessages()) >= cfg.MaxTurns {
		return fail("policy", &domain.PolicyViolation{
			ConversationID: conv.ID,
			Status:         conv.Status,
			Action:         "handle_turn",
			Reason:         fmt.Sprintf("turn limit of %d reached", cfg.MaxTurns),
		})
	}

	now := s.now()
	userMsg := &domain.Message{
		ID:        domain.MessageID(s.newID()),
		Role:      domain.RoleUser,
		Content:   strings.TrimSpace(text),
		CreatedAt: now,
		Phase:     conv.Phase,
	}
	conv.AppendMessage(userMsg)

	snap := s.extractor.Extract(conv.Topic, conv.Messages, confirm)
	conv.Signals = snap.Signals
	conv.Categories = snap.Categories
	conv.Values = snap.Values

	events := append([]domain.Event(nil), pending...)
	from := conv.Phase
	decision := s.policy.Evaluate(from, conv.Signals)
	transitioned := conv.AdvanceTo(phase.Apply(from, decision))
	switch {
	case transitioned:
		log.Info("phase advanced", "from", from, "to", conv.Phase)
		events = append(events, s.event(conv, domain.EventPhaseTransitioned, map[string]any{
			"from":     string(from),
			"to":       string(conv.Phase),
			"progress": conv.Progress(),
		}))
	case decision.Kind == phase.Reject:
		log.Warn("phase policy rejected evaluation", "reason", decision.Reason)
	default:
		log.Debug("phase unchanged", "reason", decision.Reason)
	}

	system, err := s.prompts.Render(ctx, conv.Topic, string(conv.Phase), s.templateParams(conv))
	if err != nil {
		return fail("configuration", err)
	}

	provider, err := s.providers.Resolve(cfg.Provider)
	if err != nil {
		return fail("configuration", err)
	}

	params := cfg.Params()
	resp, err := s.generate(ctx, provider, llmMessages(system, conv.Messages), params)
	if err != nil {
		return fail("provider_error", err)
	}

	done := s.now()
	reply := &domain.Message{
		ID:        domain.MessageID(s.newID()),
		Role:      domain.RoleAssistant,
		Content:   resp.Content,
		CreatedAt: done,
		Phase:     conv.Phase,
	}
	conv.AppendMessage(reply)

	usage := resp.Usage
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	conv.ModelUsed = resp.Model
	conv.TotalTokens += usage.TotalTokens
	conv.SessionCost += s.pricing.Cost(resp.Model, usage)
	conv.UpdatedAt = done

	events = append(events, s.event(conv, domain.EventMessageAdded, map[string]any{
		"user_message_id":      string(userMsg.ID),
		"assistant_message_id": string(reply.ID),
		"phase":                string(conv.Phase),
		"model":                resp.Model,
		"total_tokens":         usage.TotalTokens,
	}))

	completed := conv.Phase.Terminal()
	if completed {
		conv.Status = domain.StatusCompleted
		conv.CompletedAt = &done
		events = append(events, s.event(conv, domain.EventConversationCompleted, map[string]any{
			"values":       conv.Values,
			"total_tokens": conv.TotalTokens,
			"session_cost": conv.SessionCost,
		}))
	}

	s.dropSnapshot(ctx, conv.ID)
	if err := s.persist(ctx, conv, create); err != nil {
		op := "save"
		if create {
			op = "create"
		}
		return fail("repository_error", &domain.RepositoryError{
			ConversationID: conv.ID,
			Op:             op,
			Generated:      reply,
			Err:            err,
		})
	}

	s.cacheSnapshot(ctx, conv)
	s.publish(ctx, log, events)

	if transitioned {
		s.metrics.ObservePhaseTransition(topic, string(from), string(conv.Phase))
	}
	s.metrics.ObserveTurn(topic, "ok", time.Since(start))
	log.Info("turn completed",
		"new_phase", conv.Phase,
		"completed", completed,
		"tokens", usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return &TurnResult{
		Conversation: conv.Clone(),
		Reply:        reply,
		Phase:        conv.Phase,
		Transitioned: transitioned,
		Completed:    completed,
		Usage:        usage,
	}, nil
}

// generate makes the single model call of a turn under the turn timeout.
// Any failure comes back as *domain.ProviderError.
func (s *Service) generate(ctx context.Context, provider domain.LLMProvider, msgs []domain.LLMMessage, params domain.GenerationParams) (*domain.LLMResponse, error) {
	if s.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.turnTimeout)
		defer cancel()
	}

	resp, err := provider.Generate(ctx, msgs, params)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = &domain.ProviderError{
			Provider: provider.Name(),
			Model:    params.Model,
			Kind:     domain.ProviderInvalidResponse,
			Err:      domain.ErrMalformedResponse,
		}
	}
	if err == nil {
		return resp, nil
	}

	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return nil, err
	}
	kind := domain.ProviderUnknown
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.ProviderTimeout
	}
	return nil, &domain.ProviderError{Provider: provider.Name(), Model: params.Model, Kind: kind, Err: err}
}

// persist writes conv on a context that survives caller cancellation, so
// an accepted reply is either stored or reported.
func (s *Service) persist(ctx context.Context, conv *domain.Conversation, create bool) error {
	saveCtx := context.WithoutCancel(ctx)
	if s.saveTimeout > 0 {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(saveCtx, s.saveTimeout)
		defer cancel()
	}
	if create {
		return s.repo.Create(saveCtx, conv)
	}
	return s.repo.Save(saveCtx, conv)
}

// Pause parks an active conversation. Pausing a paused one is a no-op.
func (s *Service) Pause(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	return s.changeStatus(ctx, id, "pause", func(conv *domain.Conversation) (bool, *domain.Event) {
		if conv.Status == domain.StatusPaused {
			return false, nil
		}
		conv.Status = domain.StatusPaused
		e := s.event(conv, domain.EventConversationPaused, nil)
		return true, &e
	})
}

// Resume reactivates a paused conversation; its phase is kept.
func (s *Service) Resume(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	return s.changeStatus(ctx, id, "resume", func(conv *domain.Conversation) (bool, *domain.Event) {
		if conv.Status == domain.StatusActive {
			return false, nil
		}
		conv.Status = domain.StatusActive
		e := s.event(conv, domain.EventConversationResumed, map[string]any{"auto": false})
		return true, &e
	})
}

// Abandon ends a conversation without completing it.
func (s *Service) Abandon(ctx context.Context, id domain.ConversationID, reason string) (*domain.Conversation, error) {
	return s.changeStatus(ctx, id, "abandon", func(conv *domain.Conversation) (bool, *domain.Event) {
		conv.Status = domain.StatusAbandoned
		e := s.event(conv, domain.EventConversationAbandoned, map[string]any{
			"reason": reason,
			"phase":  string(conv.Phase),
		})
		return true, &e
	})
}

func (s *Service) changeStatus(
	ctx context.Context,
	id domain.ConversationID,
	action string,
	mutate func(*domain.Conversation) (bool, *domain.Event),
) (*domain.Conversation, error) {
	if id == "" {
		return nil, &domain.ValidationError{Field: "conversation_id", Message: "is required"}
	}

	unlock := s.locks.Lock(conversationKey(id))
	defer unlock()

	log := observability.LoggerFromContext(ctx).With("conversation_id", id, "action", action)

	stored, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored.Status.Terminal() {
		return nil, &domain.PolicyViolation{ConversationID: id, Status: stored.Status, Action: action}
	}

	conv := stored.Clone()
	changed, e := mutate(conv)
	if !changed {
		return conv, nil
	}
	conv.UpdatedAt = s.now()

	s.dropSnapshot(ctx, id)
	if err := s.persist(ctx, conv, false); err != nil {
		log.Error("failed to save status change", "error", err)
		return nil, &domain.RepositoryError{ConversationID: id, Op: action, Err: err}
	}

	s.cacheSnapshot(ctx, conv)
	if e != nil {
		s.publish(ctx, log, []domain.Event{*e})
	}
	log.Info("conversation status changed", "status", conv.Status)
	return conv, nil
}

// Get returns a conversation, served from the session cache when possible.
func (s *Service) Get(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	if id == "" {
		return nil, &domain.ValidationError{Field: "conversation_id", Message: "is required"}
	}

	var cached domain.Conversation
	if s.cache.Get(ctx, sessionKey(id), &cached) {
		return &cached, nil
	}

	conv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSnapshot(ctx, conv)
	return conv, nil
}

// List returns the user's conversations, newest first.
func (s *Service) List(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, limit int) ([]*domain.Conversation, error) {
	if tenantID == "" || userID == "" {
		return nil, &domain.ValidationError{Field: "user", Message: "tenant_id and user_id are required"}
	}
	convs, err := s.repo.ListByUser(ctx, tenantID, userID, limit)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("failed to list conversations",
			"tenant_id", tenantID, "user_id", userID, "error", err)
		return nil, &domain.RepositoryError{Op: "list", Err: err}
	}
	return convs, nil
}

func (s *Service) load(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	conv, err := s.repo.Load(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", id, err)
	}
	if err != nil {
		observability.LoggerFromContext(ctx).Error("failed to load conversation", "conversation_id", id, "error", err)
		return nil, &domain.RepositoryError{ConversationID: id, Op: "load", Err: err}
	}
	return conv, nil
}

func sessionKey(id domain.ConversationID) string {
	return "session:" + string(id)
}

// cacheSnapshot refreshes the session entry. A failed refresh removes the
// entry so readers fall back to the repository instead of a stale copy.
func (s *Service) cacheSnapshot(ctx context.Context, conv *domain.Conversation) {
	if !s.cache.Set(ctx, sessionKey(conv.ID), conv, s.sessionTTL) {
		s.dropSnapshot(ctx, conv.ID)
	}
}

// dropSnapshot runs before every write, so a refresh that never lands can
// only cause a miss.
func (s *Service) dropSnapshot(ctx context.Context, id domain.ConversationID) {
	s.cache.Delete(ctx, sessionKey(id))
}

// publish never fails the caller: the state change is already stored.
func (s *Service) publish(ctx context.Context, log *slog.Logger, events []domain.Event) {
	if s.events == nil || len(events) == 0 {
		return
	}
	if err := s.events.Publish(ctx, events...); err != nil {
		log.Warn("failed to publish events", "count", len(events), "error", err)
	}
}

func (s *Service) event(conv *domain.Conversation, typ domain.EventType, data map[string]any) domain.Event {
	return domain.Event{
		ID:             s.newID(),
		Type:           typ,
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		UserID:         conv.UserID,
		OccurredAt:     s.now(),
		Data:           data,
	}
}

// templateParams exposes the conversation state to phase templates.
func (s *Service) templateParams(conv *domain.Conversation) map[string]any {
	sig := conv.Signals
	return map[string]any{
		"topic":            string(conv.Topic),
		"topic_title":      conv.Topic.Title(),
		"phase":            string(conv.Phase),
		"progress":         int(conv.Progress() * 100),
		"responses":        sig.Responses,
		"categories":       strings.Join(conv.Categories, ", "),
		"values":           strings.Join(conv.Values, ", "),
		"insights":         sig.InsightsCaptured,
		"values_confirmed": sig.ValuesConfirmed,
		"next_requirement": strings.Join(s.policy.Requirement(conv.Phase).Unmet(sig), ", "),
	}
}

// llmMessages is the rendered system prompt followed by the dialogue.
func llmMessages(system string, history []*domain.Message) []domain.LLMMessage {
	out := make([]domain.LLMMessage, 0, len(history)+1)
	out = append(out, domain.LLMMessage{Role: domain.RoleSystem, Content: system})
	for _, m := range history {
		if m.Role == domain.RoleSystem {
			continue
		}
		out = append(out, domain.LLMMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func validateStart(in StartInput) error {
	switch {
	case in.TenantID == "":
		return &domain.ValidationError{Field: "tenant_id", Message: "is required"}
	case in.UserID == "":
		return &domain.ValidationError{Field: "user_id", Message: "is required"}
	case !in.Topic.Conversational():
		return &domain.ValidationError{Field: "topic", Message: fmt.Sprintf("unknown topic %q", in.Topic)}
	case strings.TrimSpace(in.Message) == "":
		return &domain.ValidationError{Field: "message", Message: "must not be empty"}
	}
	return nil
}
