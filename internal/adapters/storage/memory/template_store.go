package memory

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

// DefaultTopic holds templates shared by every conversational topic.
const DefaultTopic domain.Topic = "default"

//go:embed templates.yaml
var seedTemplates []byte

type templateSeed struct {
	Topics    []domain.TopicConfiguration `yaml:"topics"`
	Templates []domain.PromptTemplate     `yaml:"templates"`
}

// TemplateStore serves templates and topic settings from memory. Lookups
// for a conversational topic fall back to DefaultTopic.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*domain.PromptTemplate
	configs   map[domain.Topic]*domain.TopicConfiguration
}

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{
		templates: make(map[string]*domain.PromptTemplate),
		configs:   make(map[domain.Topic]*domain.TopicConfiguration),
	}
}

// NewSeededTemplateStore loads the built-in seed.
func NewSeededTemplateStore() (*TemplateStore, error) {
	s := NewTemplateStore()
	if err := s.LoadYAML(seedTemplates); err != nil {
		return nil, fmt.Errorf("loading built-in templates: %w", err)
	}
	return s, nil
}

// LoadFile loads a YAML seed from path on top of the current content.
func (s *TemplateStore) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading templates file: %w", err)
	}
	return s.LoadYAML(data)
}

func (s *TemplateStore) LoadYAML(data []byte) error {
	var seed templateSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("decoding templates: %w", err)
	}
	for i := range seed.Topics {
		cfg := seed.Topics[i]
		if cfg.Topic == "" {
			return fmt.Errorf("topic configuration %d has no topic", i)
		}
		s.PutTopicConfiguration(&cfg)
	}
	for i := range seed.Templates {
		tpl := seed.Templates[i]
		if tpl.Topic == "" || tpl.Key == "" {
			return fmt.Errorf("template %d needs both topic and key", i)
		}
		s.PutTemplate(&tpl)
	}
	return nil
}

func templateID(topic domain.Topic, key string) string {
	return string(topic) + "/" + key
}

func (s *TemplateStore) PutTemplate(tpl *domain.PromptTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tpl
	cp.Parameters = append([]string(nil), tpl.Parameters...)
	s.templates[templateID(tpl.Topic, tpl.Key)] = &cp
}

func (s *TemplateStore) PutTopicConfiguration(cfg *domain.TopicConfiguration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.configs[cfg.Topic] = &cp
}

func (s *TemplateStore) GetTemplate(_ context.Context, topic domain.Topic, key string) (*domain.PromptTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[templateID(topic, key)]
	if !ok && topic.Conversational() {
		tpl, ok = s.templates[templateID(DefaultTopic, key)]
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *tpl
	cp.Topic = topic
	cp.Parameters = append([]string(nil), tpl.Parameters...)
	return &cp, nil
}

func (s *TemplateStore) GetTopicConfiguration(_ context.Context, topic domain.Topic) (*domain.TopicConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[topic]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}
