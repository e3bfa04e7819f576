package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/PabloGalante/farum-coach/internal/domain"
	"github.com/PabloGalante/farum-coach/internal/observability"
)

// Registry resolves providers by name. An empty name resolves to the
// default provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
	def       string
}

func NewRegistry(defaultName string) *Registry {
	return &Registry{providers: make(map[string]domain.LLMProvider), def: defaultName}
}

// Register adds p under p.Name(), replacing any provider of that name.
func (r *Registry) Register(p domain.LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Resolve(name string) (domain.LLMProvider, error) {
	if name == "" {
		name = r.def
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, &domain.ConfigurationError{Key: "provider " + name, Err: domain.ErrNotFound}
	}
	return p, nil
}

// Names lists the registered providers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Settings selects and configures the providers built by Build.
type Settings struct {
	Default     string
	Model       string
	GCPProject  string
	GCPLocation string
	AWSRegion   string
	OpenAIKey   string
	OpenAIBase  string
}

// Build registers the mock provider plus every remote provider whose
// credentials are present, each wrapped with metrics. The default
// provider must end up registered.
func Build(ctx context.Context, s Settings, metrics *observability.Metrics) (*Registry, error) {
	if s.Default == "" {
		s.Default = MockName
	}
	reg := NewRegistry(s.Default)
	log := observability.Logger()

	reg.Register(Instrument(NewMockLLM(), metrics))

	if s.GCPProject != "" && s.GCPLocation != "" {
		v, err := NewVertexClient(ctx, s.GCPProject, s.GCPLocation, modelFor(s, VertexName))
		if err != nil {
			return nil, err
		}
		reg.Register(Instrument(v, metrics))
	}
	if s.AWSRegion != "" {
		b, err := NewBedrockClient(ctx, s.AWSRegion, modelFor(s, BedrockName))
		if err != nil {
			return nil, err
		}
		reg.Register(Instrument(b, metrics))
	}
	if s.OpenAIKey != "" {
		reg.Register(Instrument(NewOpenAIClient(s.OpenAIKey, s.OpenAIBase, modelFor(s, OpenAIName)), metrics))
	}

	if _, err := reg.Resolve(""); err != nil {
		return nil, fmt.Errorf("default llm provider %q is not configured: %w", s.Default, err)
	}
	log.Info("llm providers ready", "default", s.Default, "providers", reg.Names())
	return reg, nil
}

// modelFor applies the configured model only to the default provider.
func modelFor(s Settings, name string) string {
	if s.Default == name {
		return s.Model
	}
	return ""
}
