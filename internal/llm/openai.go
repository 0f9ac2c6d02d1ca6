package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/plumelit/plume/internal/model"
)

// OpenAI adapts the chat completions API. The API has no synchronous
// batch endpoint, so GenerateBatch runs bounded concurrent singletons.
type OpenAI struct {
	client      openai.Client
	logger      *slog.Logger
	timeout     time.Duration
	concurrency int
}

// OpenAIConfig carries the adapter knobs. BaseURL is optional and
// exists for API-compatible gateways.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	Concurrency int
}

func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	return &OpenAI{
		client:      openai.NewClient(opts...),
		logger:      logger,
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
	}
}

func (p *OpenAI) Name() model.Provider {
	return model.ProviderOpenAI
}

// ValidateCredentials lists models, the cheapest authenticated call
// the API offers.
func (p *OpenAI) ValidateCredentials(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if _, err := p.client.Models.List(ctx); err != nil {
		return model.Wrap(model.KindProviderError, "openai credential check failed", err)
	}
	return nil
}

func (p *OpenAI) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Generation{}, model.Wrap(model.KindProviderError, "openai completion failed", err)
	}
	if len(completion.Choices) == 0 {
		return Generation{}, model.E(model.KindProviderError, "openai returned no choices")
	}
	return Generation{
		Text:             completion.Choices[0].Message.Content,
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
	}, nil
}

func (p *OpenAI) GenerateBatch(ctx context.Context, reqs []GenerateRequest) ([]Generation, error) {
	return generateConcurrently(ctx, p.concurrency, reqs,
		func(ctx context.Context, req GenerateRequest) (Generation, error) {
			gen, err := p.Generate(ctx, req)
			if err != nil {
				p.logger.Warn("openai batch item failed", "model", req.Model, "error", err)
			}
			return gen, err
		})
}
