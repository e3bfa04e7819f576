package domain

// PromptTemplate is markdown with named placeholders, stored per
// (topic, phase) or (topic, prompt type).
type PromptTemplate struct {
	Topic   Topic  `json:"topic" yaml:"topic" firestore:"topic"`
	Key     string `json:"key" yaml:"key" firestore:"key"`
	Content string `json:"content" yaml:"content" firestore:"content"`
	// Parameters must all be supplied when rendering.
	Parameters []string `json:"parameters,omitempty" yaml:"parameters" firestore:"parameters"`
	Version    int      `json:"version" yaml:"version" firestore:"version"`
}

// TopicConfiguration holds the generation settings of a topic.
type TopicConfiguration struct {
	Topic             Topic   `json:"topic" yaml:"topic" firestore:"topic"`
	Provider          string  `json:"provider,omitempty" yaml:"provider" firestore:"provider"`
	DefaultModel      string  `json:"default_model" yaml:"default_model" firestore:"default_model"`
	SupportsStreaming bool    `json:"supports_streaming" yaml:"supports_streaming" firestore:"supports_streaming"`
	MaxTurns          int     `json:"max_turns" yaml:"max_turns" firestore:"max_turns"`
	Temperature       float64 `json:"temperature" yaml:"temperature" firestore:"temperature"`
	MaxTokens         int     `json:"max_tokens" yaml:"max_tokens" firestore:"max_tokens"`
}

// Params turns the configuration into per-call generation parameters.
func (c *TopicConfiguration) Params() GenerationParams {
	return GenerationParams{
		Model:       c.DefaultModel,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
}
