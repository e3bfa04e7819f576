// Package prompt serves templates and topic settings through the cache and
// renders templates into system instructions.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/PabloGalante/farum-coach/internal/cache"
	"github.com/PabloGalante/farum-coach/internal/domain"
	"github.com/PabloGalante/farum-coach/internal/observability"
)

// Service reads through the cache into a TemplateRepository.
type Service struct {
	repo  domain.TemplateRepository
	cache *cache.Cache
	ttl   cache.TTL
}

func NewService(repo domain.TemplateRepository, c *cache.Cache, ttl cache.TTL) *Service {
	if c == nil {
		c = cache.Disabled()
	}
	return &Service{repo: repo, cache: c, ttl: ttl}
}

func templateKey(topic domain.Topic, key string) string {
	return fmt.Sprintf("template:%s:%s", topic, key)
}

func topicConfigKey(topic domain.Topic) string {
	return fmt.Sprintf("topic_config:%s", topic)
}

// Template returns the template stored for (topic, key). A missing
// template is a *domain.ConfigurationError.
func (s *Service) Template(ctx context.Context, topic domain.Topic, key string) (*domain.PromptTemplate, error) {
	ck := templateKey(topic, key)

	var tpl domain.PromptTemplate
	if s.cache.Get(ctx, ck, &tpl) {
		return &tpl, nil
	}

	loaded, err := s.repo.GetTemplate(ctx, topic, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.ConfigurationError{Topic: topic, Key: key, Err: err}
		}
		return nil, fmt.Errorf("loading template %s/%s: %w", topic, key, err)
	}

	s.cache.Set(ctx, ck, loaded, s.ttl)
	return loaded, nil
}

// TopicConfig returns the generation settings of topic.
func (s *Service) TopicConfig(ctx context.Context, topic domain.Topic) (*domain.TopicConfiguration, error) {
	ck := topicConfigKey(topic)

	var cfg domain.TopicConfiguration
	if s.cache.Get(ctx, ck, &cfg) {
		return &cfg, nil
	}

	loaded, err := s.repo.GetTopicConfiguration(ctx, topic)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.ConfigurationError{Topic: topic, Key: "configuration", Err: err}
		}
		return nil, fmt.Errorf("loading topic configuration %s: %w", topic, err)
	}

	s.cache.Set(ctx, ck, loaded, s.ttl)
	return loaded, nil
}

// Render fills the (topic, key) template with params. Placeholders use
// text/template syntax, e.g. {{.topic_title}}. A declared parameter missing
// from params, or any unresolved placeholder, is a configuration error.
func (s *Service) Render(ctx context.Context, topic domain.Topic, key string, params map[string]any) (string, error) {
	tpl, err := s.Template(ctx, topic, key)
	if err != nil {
		return "", err
	}
	out, err := Execute(tpl, params)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("template render failed",
			"topic", topic, "key", key, "error", err)
		return "", &domain.ConfigurationError{Topic: topic, Key: key, Err: err}
	}
	return out, nil
}

// Invalidate drops cached templates and configuration of topic.
func (s *Service) Invalidate(ctx context.Context, topic domain.Topic) int {
	n := s.cache.ClearPattern(ctx, fmt.Sprintf("template:%s:*", topic))
	if s.cache.Delete(ctx, topicConfigKey(topic)) {
		n++
	}
	return n
}

// Execute renders tpl without touching any store.
func Execute(tpl *domain.PromptTemplate, params map[string]any) (string, error) {
	var missing []string
	for _, p := range tpl.Parameters {
		if _, ok := params[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required placeholders: %s", strings.Join(missing, ", "))
	}

	t, err := template.New(tpl.Topic.Title() + "/" + tpl.Key).
		Option("missingkey=error").
		Parse(tpl.Content)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var b strings.Builder
	if err := t.Execute(&b, params); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
