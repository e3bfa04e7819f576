package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

const (
	VertexName         = "vertex"
	DefaultVertexModel = "gemini-2.5-flash"
)

// VertexClient is an LLMProvider backed by Vertex AI (Gemini).
type VertexClient struct {
	client       *genai.Client
	defaultModel string
}

// NewVertexClient creates a Vertex AI client for project and location.
func NewVertexClient(ctx context.Context, project, location, defaultModel string) (*VertexClient, error) {
	if project == "" || location == "" {
		return nil, fmt.Errorf("vertex: project and location must be set")
	}
	if defaultModel == "" {
		defaultModel = DefaultVertexModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &VertexClient{client: client, defaultModel: defaultModel}, nil
}

func (v *VertexClient) Name() string { return VertexName }

func (v *VertexClient) Generate(ctx context.Context, messages []domain.LLMMessage, params domain.GenerationParams) (*domain.LLMResponse, error) {
	model := params.Model
	if model == "" {
		model = v.defaultModel
	}

	system, turns := splitSystem(messages)

	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if params.Temperature > 0 {
		temp := float32(params.Temperature)
		cfg.Temperature = &temp
	}
	if params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(params.MaxTokens)
	}

	res, err := v.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, providerError(VertexName, model, classifyVertex(err), fmt.Errorf("vertex generate content: %w", err))
	}

	text := strings.TrimSpace(res.Text())
	if text == "" {
		return nil, providerError(VertexName, model, domain.ProviderInvalidResponse,
			fmt.Errorf("vertex returned empty text: %w", domain.ErrMalformedResponse))
	}

	out := &domain.LLMResponse{Content: text, Model: model}
	if res.ModelVersion != "" {
		out.Model = res.ModelVersion
	}
	if u := res.UsageMetadata; u != nil {
		out.Usage = domain.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
		out.Cached = u.CachedContentTokenCount > 0
	}
	return out, nil
}

func classifyVertex(err error) domain.ProviderErrorKind {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return classifyStatus(apiErrPtr.Code)
	}
	return domain.ProviderUnknown
}
