package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-coach/internal/adapters/events"
	"github.com/PabloGalante/farum-coach/internal/adapters/llm"
	"github.com/PabloGalante/farum-coach/internal/adapters/storage/memory"
	"github.com/PabloGalante/farum-coach/internal/app/prompt"
	"github.com/PabloGalante/farum-coach/internal/cache"
	"github.com/PabloGalante/farum-coach/internal/domain"
)

// flakyRepo fails writes on demand.
type flakyRepo struct {
	domain.ConversationRepository
	saveErr   error
	createErr error
}

func (r *flakyRepo) Save(ctx context.Context, c *domain.Conversation) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	return r.ConversationRepository.Save(ctx, c)
}

func (r *flakyRepo) Create(ctx context.Context, c *domain.Conversation) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.ConversationRepository.Create(ctx, c)
}

// blockingProvider answers only when its context ends.
type blockingProvider struct{}

func (blockingProvider) Name() string { return "blocking" }

func (blockingProvider) Generate(ctx context.Context, _ []domain.LLMMessage, _ domain.GenerationParams) (*domain.LLMResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// brokenSetBackend is a memory cache whose writes can be switched off.
type brokenSetBackend struct {
	*cache.Memory
	failSet atomic.Bool
}

func (b *brokenSetBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if b.failSet.Load() {
		return errors.New("cache write refused")
	}
	return b.Memory.Set(ctx, key, value, ttl)
}

type fixture struct {
	svc      *Service
	repo     *flakyRepo
	mock     *llm.MockLLM
	recorder *events.Recorder
	backend  *brokenSetBackend
	cache    *cache.Cache
	registry *llm.Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	templates, err := memory.NewSeededTemplateStore()
	require.NoError(t, err)

	f := &fixture{
		repo:     &flakyRepo{ConversationRepository: memory.NewConversationStore()},
		mock:     llm.NewMockLLM(),
		recorder: events.NewRecorder(),
		backend:  &brokenSetBackend{Memory: cache.NewMemory()},
		registry: llm.NewRegistry(llm.MockName),
	}
	f.cache = cache.New(f.backend)
	f.registry.Register(f.mock)

	seq := 0
	var mu sync.Mutex
	ids := func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}

	opts = append([]Option{WithIDGenerator(ids)}, opts...)
	prompts := prompt.NewService(templates, f.cache, cache.Seconds(60))
	f.svc = NewService(f.repo, f.registry, prompts, f.recorder, f.cache, opts...)
	return f
}

func (f *fixture) start(t *testing.T, text string) *TurnResult {
	t.Helper()
	res, err := f.svc.Start(context.Background(), StartInput{
		TenantID: "acme",
		UserID:   "u1",
		Topic:    domain.TopicCoreValues,
		Message:  text,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) stored(t *testing.T, id domain.ConversationID) *domain.Conversation {
	t.Helper()
	conv, err := f.repo.Load(context.Background(), id)
	require.NoError(t, err)
	return conv
}

func TestStartCreatesConversationAndAdvancesFromIntroduction(t *testing.T) {
	f := newFixture(t)

	res := f.start(t, "Hello, I want to understand what drives me.")

	assert.NotEmpty(t, res.Reply.Content)
	assert.Equal(t, domain.PhaseExploration, res.Phase)
	assert.True(t, res.Transitioned)
	assert.False(t, res.Completed)

	conv := f.stored(t, res.Conversation.ID)
	assert.Equal(t, domain.StatusActive, conv.Status)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, domain.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, domain.PhaseIntroduction, conv.Messages[0].Phase)
	assert.Equal(t, domain.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, domain.PhaseExploration, conv.Messages[1].Phase)
	assert.Equal(t, 0.3, conv.Progress())
	assert.Equal(t, llm.MockModel, conv.ModelUsed)
	assert.Positive(t, conv.TotalTokens)

	assert.Equal(t, []domain.EventType{
		domain.EventConversationInitiated,
		domain.EventPhaseTransitioned,
		domain.EventMessageAdded,
	}, f.recorder.Types())

	calls := f.mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.RoleSystem, calls[0][0].Role)
	assert.Contains(t, calls[0][0].Content, "core values")
	assert.Equal(t, "Hello, I want to understand what drives me.", calls[0][1].Content)
}

func TestStartReusesOpenConversation(t *testing.T) {
	f := newFixture(t)

	first := f.start(t, "Hi there")
	second := f.start(t, "My family matters a lot")

	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Len(t, f.stored(t, first.Conversation.ID).Messages, 4)
}

func TestStartValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []StartInput{
		{UserID: "u", Topic: domain.TopicGoals, Message: "x"},
		{TenantID: "t", Topic: domain.TopicGoals, Message: "x"},
		{TenantID: "t", UserID: "u", Topic: domain.TopicAnalysis, Message: "x"},
		{TenantID: "t", UserID: "u", Topic: domain.TopicGoals, Message: "   "},
	}
	for _, in := range cases {
		_, err := f.svc.Start(ctx, in)
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	}
	assert.Empty(t, f.mock.Calls())
}

func TestFullProgressionToCompletion(t *testing.T) {
	f := newFixture(t, WithPricing(domain.Pricing{llm.MockModel: {Prompt: 1, Completion: 1}}))
	ctx := context.Background()

	script := []struct {
		text    string
		confirm bool
		want    domain.Phase
	}{
		{"Hello, I want to work out what matters to me.", false, domain.PhaseExploration},
		{"My family means everything to me.", false, domain.PhaseExploration},
		{"At work I always push for honesty with my team.", false, domain.PhaseExploration},
		{"I love learning new skills.", false, domain.PhaseExploration},
		{"Courage helps me face hard conversations.", false, domain.PhaseDeepening},
		{"I realize honesty is the thread in all of this.", false, domain.PhaseDeepening},
		{"I noticed I feel drained when I hide things.", false, domain.PhaseDeepening},
		{"Sleep and exercise keep my energy up.", false, domain.PhaseSynthesis},
		{"So family, honesty and courage sound like the core.", false, domain.PhaseValidation},
		{"Yes, that's right.", false, domain.PhaseCompletion},
	}

	first := f.start(t, script[0].text)
	require.Equal(t, script[0].want, first.Phase)
	id := first.Conversation.ID

	var last *TurnResult
	for i, step := range script[1:] {
		res, err := f.svc.HandleTurn(ctx, TurnInput{ConversationID: id, Message: step.text, Confirm: step.confirm})
		require.NoError(t, err, "turn %d", i+2)
		assert.Equal(t, step.want, res.Phase, "turn %d", i+2)
		last = res
	}

	assert.True(t, last.Completed)
	conv := f.stored(t, id)
	assert.Equal(t, domain.StatusCompleted, conv.Status)
	assert.Equal(t, 1.0, conv.Progress())
	require.NotNil(t, conv.CompletedAt)
	assert.Len(t, conv.Messages, 20)
	assert.ElementsMatch(t, []string{"family", "honesty", "courage"}, conv.Values)
	assert.True(t, conv.Signals.UserConfirmation)
	assert.Equal(t, 3, conv.Signals.ValuesConfirmed)
	assert.InDelta(t, float64(conv.TotalTokens)/1000, conv.SessionCost, 1e-9)

	transitions := 0
	for _, typ := range f.recorder.Types() {
		if typ == domain.EventPhaseTransitioned {
			transitions++
		}
	}
	assert.Equal(t, 5, transitions)
	types := f.recorder.Types()
	assert.Equal(t, domain.EventConversationCompleted, types[len(types)-1])

	_, err := f.svc.HandleTurn(ctx, TurnInput{ConversationID: id, Message: "one more thing"})
	var pv *domain.PolicyViolation
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, domain.StatusCompleted, pv.Status)
}

func TestProviderFailureLeavesConversationUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "Hi").Conversation.ID
	before := f.stored(t, id)
	f.recorder.Reset()

	f.mock.FailWith(&domain.ProviderError{Provider: llm.MockName, Kind: domain.ProviderThrottled, Err: errors.New("slow down")})
	_, err := f.svc.HandleTurn(ctx, TurnInput{ConversationID: id, Message: "My family and my work matter."})

	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Retryable())

	after := f.stored(t, id)
	assert.Equal(t, before, after)
	assert.Empty(t, f.recorder.Events())
}

func TestProviderFailureOnStartCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.mock.FailWith(&domain.ProviderError{Provider: llm.MockName, Kind: domain.ProviderAccessDenied, Err: errors.New("denied")})

	_, err := f.svc.Start(context.Background(), StartInput{TenantID: "acme", UserID: "u1", Topic: domain.TopicGoals, Message: "Hi"})

	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Retryable())

	list, err := f.svc.List(context.Background(), "acme", "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTurnTimeoutAbortsWithoutPersisting(t *testing.T) {
	f := newFixture(t, WithTimeouts(20*time.Millisecond, 0))
	ctx := context.Background()
	id := f.start(t, "Hi").Conversation.ID
	before := f.stored(t, id)

	f.registry.Register(llm.Instrument(blockingProviderNamed(llm.MockName), nil))
	_, err := f.svc.HandleTurn(ctx, TurnInput{ConversationID: id, Message: "Still there?"})

	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.ProviderTimeout, perr.Kind)
	assert.Equal(t, before, f.stored(t, id))
}

type namedBlocking struct {
	blockingProvider
	name string
}

func (n namedBlocking) Name() string { return n.name }

func blockingProviderNamed(name string) domain.LLMProvider {
	return namedBlocking{name: name}
}

func TestPersistenceFailureIsReportedWithGeneratedReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "Hi").Conversation.ID
	before := f.stored(t, id)
	f.recorder.Reset()

	f.mock.Queue("A reply that could not be stored.")
	f.repo.saveErr = errors.New("disk full")

	_, err := f.svc.HandleTurn(ctx, TurnInput{ConversationID: id, Message: "My family matters."})

	var rerr *domain.RepositoryError
	require.ErrorAs(t, err, &rerr)
	require.NotNil(t, rerr.Generated)
	assert.Equal(t, "A reply that could not be stored.", rerr.Generated.Content)
	assert.Contains(t, rerr.Error(), "response generated but not saved")

	var perr *domain.ProviderError
	assert.False(t, errors.As(err, &perr))

	f.repo.saveErr = nil
	assert.Equal(t, before, f.stored(t, id))
	assert.Empty(t, f.recorder.Events())
}

func TestConflictIsRepositoryError(t *testing.T) {
	f := newFixture(t)
	id := f.start(t, "Hi").Conversation.ID
	f.repo.saveErr = domain.ErrConflict

	_, err := f.svc.HandleTurn(context.Background(), TurnInput{ConversationID: id, Message: "Again"})

	var rerr *domain.RepositoryError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestPausedConversationResumesOnTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "Hi").Conversation.ID

	paused, err := f.svc.Pause(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)
	assert.Equal(t, domain.PhaseExploration, paused.Phase)

	again, err := f.svc.Pause(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, again.Status)

	f.recorder.Reset()
	res, err := f.svc.HandleTurn(ctx, TurnInput{ConversationID: id, Message: "I'm back, thinking about my family."})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, res.Conversation.Status)
	assert.Equal(t, domain.EventConversationResumed, f.recorder.Types()[0])
}

func TestPauseResumeKeepPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "Hi").Conversation.ID

	_, err := f.svc.Pause(ctx, id)
	require.NoError(t, err)
	conv, err := f.svc.Resume(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusActive, conv.Status)
	assert.Equal(t, domain.PhaseExploration, conv.Phase)
	assert.Contains(t, f.recorder.Types(), domain.EventConversationPaused)
	assert.Contains(t, f.recorder.Types(), domain.EventConversationResumed)
}

func TestTerminalConversationRejectsActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "Hi").Conversation.ID

	conv, err := f.svc.Abandon(ctx, id, "user left")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAbandoned, conv.Status)
	callsBefore := len(f.mock.Calls())

	var pv *domain.PolicyViolation
	_, err = f.svc.HandleTurn(ctx, TurnInput{ConversationID: id, Message: "hello?"})
	require.ErrorAs(t, err, &pv)
	_, err = f.svc.Pause(ctx, id)
	require.ErrorAs(t, err, &pv)
	_, err = f.svc.Resume(ctx, id)
	require.ErrorAs(t, err, &pv)
	_, err = f.svc.Abandon(ctx, id, "again")
	require.ErrorAs(t, err, &pv)

	assert.Equal(t, callsBefore, len(f.mock.Calls()))
}

func TestMaxTurnsIsPolicyViolation(t *testing.T) {
	templates, err := memory.NewSeededTemplateStore()
	require.NoError(t, err)
	templates.PutTopicConfiguration(&domain.TopicConfiguration{Topic: domain.TopicGoals, MaxTurns: 1, MaxTokens: 100})

	reg := llm.NewRegistry(llm.MockName)
	reg.Register(llm.NewMockLLM())
	repo := memory.NewConversationStore()
	svc := NewService(repo, reg, prompt.NewService(templates, nil, cache.TTL{}), nil, nil)
	ctx := context.Background()

	res, err := svc.Start(ctx, StartInput{TenantID: "t", UserID: "u", Topic: domain.TopicGoals, Message: "Hi"})
	require.NoError(t, err)

	_, err = svc.HandleTurn(ctx, TurnInput{ConversationID: res.Conversation.ID, Message: "More"})
	var pv *domain.PolicyViolation
	require.ErrorAs(t, err, &pv)
	assert.Contains(t, pv.Reason, "turn limit")
}

func TestMissingTemplateIsConfigurationError(t *testing.T) {
	templates := memory.NewTemplateStore()
	templates.PutTopicConfiguration(&domain.TopicConfiguration{Topic: domain.TopicVision})

	reg := llm.NewRegistry(llm.MockName)
	mock := llm.NewMockLLM()
	reg.Register(mock)
	svc := NewService(memory.NewConversationStore(), reg, prompt.NewService(templates, nil, cache.TTL{}), nil, nil)

	_, err := svc.Start(context.Background(), StartInput{TenantID: "t", UserID: "u", Topic: domain.TopicVision, Message: "Hi"})

	var cerr *domain.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Empty(t, mock.Calls())
}

func TestUnknownProviderIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	templates, err := memory.NewSeededTemplateStore()
	require.NoError(t, err)
	templates.PutTopicConfiguration(&domain.TopicConfiguration{Topic: domain.TopicPurpose, Provider: "nope"})
	svc := NewService(f.repo, f.registry, prompt.NewService(templates, nil, cache.TTL{}), nil, nil)

	_, err = svc.Start(context.Background(), StartInput{TenantID: "t", UserID: "u", Topic: domain.TopicPurpose, Message: "Hi"})

	var cerr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestGetServesCachedSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t, "Hi")
	id := res.Conversation.ID

	assert.True(t, f.cache.Exists(ctx, sessionKey(id)))

	got, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res.Conversation.Version, got.Version)
	assert.Len(t, got.Messages, 2)

	_, err = f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetNeverServesSnapshotOlderThanLastSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "Hi").Conversation.ID

	f.backend.failSet.Store(true)
	_, err := f.svc.HandleTurn(ctx, TurnInput{ConversationID: id, Message: "My family means everything to me."})
	require.NoError(t, err)
	assert.False(t, f.cache.Exists(ctx, sessionKey(id)))

	got, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	stored := f.stored(t, id)
	assert.Len(t, got.Messages, 4)
	assert.Equal(t, stored.Version, got.Version)

	_, err = f.svc.Pause(ctx, id)
	require.NoError(t, err)
	got, err = f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, got.Status)
}

func TestHandleTurnUnknownConversation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.HandleTurn(context.Background(), TurnInput{ConversationID: "nope", Message: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentTurnsAreSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.start(t, "Hi").Conversation.ID

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.HandleTurn(ctx, TurnInput{ConversationID: id, Message: fmt.Sprintf("message %d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	conv := f.stored(t, id)
	assert.Len(t, conv.Messages, 2+2*n)
	assert.Equal(t, n, conv.Version)
	assert.Zero(t, f.svc.locks.size())
}

func TestConcurrentStartsShareOneThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Start(ctx, StartInput{
				TenantID: "acme",
				UserID:   "u1",
				Topic:    domain.TopicCoreValues,
				Message:  fmt.Sprintf("message %d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	convs, err := f.repo.ListByUser(ctx, "acme", "u1", 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Len(t, f.stored(t, convs[0].ID).UserMessages(), n)
	assert.Zero(t, f.svc.locks.size())
}
