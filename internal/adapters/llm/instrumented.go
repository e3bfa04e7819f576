package llm

import (
	"context"
	"errors"
	"time"

	"github.com/PabloGalante/farum-coach/internal/domain"
	"github.com/PabloGalante/farum-coach/internal/observability"
)

// Instrumented records latency, outcome and token usage of every call made
// through the wrapped provider.
type Instrumented struct {
	next    domain.LLMProvider
	metrics *observability.Metrics
}

func Instrument(next domain.LLMProvider, metrics *observability.Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: metrics}
}

func (i *Instrumented) Name() string { return i.next.Name() }

func (i *Instrumented) Generate(ctx context.Context, messages []domain.LLMMessage, params domain.GenerationParams) (*domain.LLMResponse, error) {
	start := time.Now()
	log := observability.LoggerFromContext(ctx).With("provider", i.next.Name(), "model", params.Model)

	resp, err := i.next.Generate(ctx, messages, params)
	elapsed := time.Since(start)

	if err != nil {
		outcome := string(domain.ProviderUnknown)
		var perr *domain.ProviderError
		if errors.As(err, &perr) {
			outcome = string(perr.Kind)
		}
		i.metrics.ObserveLLM(i.next.Name(), params.Model, outcome, elapsed, 0, 0)
		log.Error("llm call failed", "elapsed_ms", elapsed.Milliseconds(), "kind", outcome, "error", err)
		return nil, err
	}

	i.metrics.ObserveLLM(i.next.Name(), resp.Model, "ok", elapsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	log.Info("llm call done",
		"elapsed_ms", elapsed.Milliseconds(),
		"served_by", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp, nil
}
