package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

const (
	OpenAIName         = "openai"
	DefaultOpenAIModel = "gpt-4o"
)

// OpenAIClient is an LLMProvider backed by the OpenAI chat completions API.
type OpenAIClient struct {
	api          *openai.Client
	defaultModel string
}

// NewOpenAIClient creates a client for token. A non-empty baseURL points it
// at a compatible endpoint.
func NewOpenAIClient(token, baseURL, defaultModel string) *OpenAIClient {
	cfg := openai.DefaultConfig(token)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if defaultModel == "" {
		defaultModel = DefaultOpenAIModel
	}
	return &OpenAIClient{api: openai.NewClientWithConfig(cfg), defaultModel: defaultModel}
}

func (o *OpenAIClient) Name() string { return OpenAIName }

func (o *OpenAIClient) Generate(ctx context.Context, messages []domain.LLMMessage, params domain.GenerationParams) (*domain.LLMResponse, error) {
	model := params.Model
	if model == "" {
		model = o.defaultModel
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   params.MaxTokens,
		Temperature: float32(params.Temperature),
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case domain.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case domain.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := o.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, providerError(OpenAIName, model, classifyOpenAI(err), fmt.Errorf("openai chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, providerError(OpenAIName, model, domain.ProviderInvalidResponse,
			fmt.Errorf("openai returned no choices: %w", domain.ErrMalformedResponse))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, providerError(OpenAIName, model, domain.ProviderInvalidResponse,
			fmt.Errorf("openai returned empty text: %w", domain.ErrMalformedResponse))
	}

	out := &domain.LLMResponse{
		Content: content,
		Model:   model,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if resp.Model != "" {
		out.Model = resp.Model
	}
	return out, nil
}

func classifyOpenAI(err error) domain.ProviderErrorKind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == "model_not_found" {
			return domain.ProviderModelNotFound
		}
		return classifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}
	return domain.ProviderUnknown
}
