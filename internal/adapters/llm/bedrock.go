package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

const (
	BedrockName             = "bedrock"
	DefaultBedrockModel     = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	anthropicVersion        = "bedrock-2023-05-31"
	defaultBedrockMaxTokens = 1024
)

// bedrockInvoker is the slice of the Bedrock runtime client the adapter uses.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient is an LLMProvider for Claude models on AWS Bedrock, using
// the Anthropic messages format.
type BedrockClient struct {
	runtime      bedrockInvoker
	defaultModel string
}

// NewBedrockClient loads the default AWS configuration for region. The SDK
// retryer is replaced with a single attempt: retries belong to callers.
func NewBedrockClient(ctx context.Context, region, defaultModel string, optFns ...func(*config.LoadOptions) error) (*BedrockClient, error) {
	opts := append([]func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}, optFns...)
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return newBedrockClient(bedrockruntime.NewFromConfig(cfg), defaultModel), nil
}

func newBedrockClient(runtime bedrockInvoker, defaultModel string) *BedrockClient {
	if defaultModel == "" {
		defaultModel = DefaultBedrockModel
	}
	return &BedrockClient{runtime: runtime, defaultModel: defaultModel}
}

func (b *BedrockClient) Name() string { return BedrockName }

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	Messages         []claudeMessage `json:"messages"`
	MaxTokens        int             `json:"max_tokens"`
	Temperature      float64         `json:"temperature,omitempty"`
	System           string          `json:"system,omitempty"`
}

type claudeMessage struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

type claudeBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeResponse struct {
	Model   string        `json:"model"`
	Content []claudeBlock `json:"content"`
	Usage   *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (b *BedrockClient) Generate(ctx context.Context, messages []domain.LLMMessage, params domain.GenerationParams) (*domain.LLMResponse, error) {
	model := params.Model
	if model == "" {
		model = b.defaultModel
	}

	system, turns := splitSystem(messages)
	req := claudeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        params.MaxTokens,
		Temperature:      params.Temperature,
		System:           system,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultBedrockMaxTokens
	}
	for _, m := range alternate(turns) {
		req.Messages = append(req.Messages, claudeMessage{
			Role:    string(m.Role),
			Content: []claudeBlock{{Type: "text", Text: m.Content}},
		})
	}
	if len(req.Messages) == 0 {
		return nil, providerError(BedrockName, model, domain.ProviderInvalidResponse,
			errors.New("bedrock: no user message to send"))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, providerError(BedrockName, model, domain.ProviderUnknown, fmt.Errorf("marshal request: %w", err))
	}

	resp, err := b.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, providerError(BedrockName, model, classifyBedrock(err), fmt.Errorf("bedrock invoke model: %w", err))
	}

	var out claudeResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, providerError(BedrockName, model, domain.ProviderInvalidResponse,
			fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err))
	}

	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return nil, providerError(BedrockName, model, domain.ProviderInvalidResponse,
			fmt.Errorf("bedrock returned empty text: %w", domain.ErrMalformedResponse))
	}

	res := &domain.LLMResponse{Content: content, Model: model}
	if out.Usage != nil {
		res.Usage = domain.Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		}
	}
	return res, nil
}

func classifyBedrock(err error) domain.ProviderErrorKind {
	var (
		notFound    *types.ResourceNotFoundException
		denied      *types.AccessDeniedException
		throttled   *types.ThrottlingException
		quota       *types.ServiceQuotaExceededException
		timeout     *types.ModelTimeoutException
		unavailable *types.ServiceUnavailableException
		notReady    *types.ModelNotReadyException
		internal    *types.InternalServerException
		invalid     *types.ValidationException
	)
	switch {
	case errors.As(err, &notFound):
		return domain.ProviderModelNotFound
	case errors.As(err, &denied):
		return domain.ProviderAccessDenied
	case errors.As(err, &throttled), errors.As(err, &quota):
		return domain.ProviderThrottled
	case errors.As(err, &timeout):
		return domain.ProviderTimeout
	case errors.As(err, &unavailable), errors.As(err, &notReady), errors.As(err, &internal):
		return domain.ProviderUnavailable
	case errors.As(err, &invalid):
		return domain.ProviderInvalidResponse
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "UnrecognizedClientException", "ExpiredTokenException":
			return domain.ProviderAccessDenied
		}
	}
	return domain.ProviderUnknown
}
