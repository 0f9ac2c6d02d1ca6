package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/plumelit/plume/internal/model"
)

// anthropicDefaultMaxTokens applies when the caller leaves MaxTokens
// unset; the messages API requires an explicit cap.
const anthropicDefaultMaxTokens = 2048

// Anthropic adapts the messages API. GenerateBatch uses the native
// message batches endpoint: submit, poll until the batch ends, then
// stream results back into input order by custom id.
type Anthropic struct {
	client          anthropic.Client
	logger          *slog.Logger
	timeout         time.Duration
	pollInterval    time.Duration
	pollMaxAttempts int
}

// AnthropicConfig carries the adapter knobs. The poll budget bounds
// how long a batch may stay in flight before the adapter gives up.
type AnthropicConfig struct {
	APIKey          string
	Timeout         time.Duration
	PollInterval    time.Duration
	PollMaxAttempts int
}

func NewAnthropic(cfg AnthropicConfig, logger *slog.Logger) *Anthropic {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollMaxAttempts < 1 {
		cfg.PollMaxAttempts = 120
	}
	return &Anthropic{
		client:          anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		logger:          logger,
		timeout:         cfg.Timeout,
		pollInterval:    cfg.PollInterval,
		pollMaxAttempts: cfg.PollMaxAttempts,
	}
}

func (p *Anthropic) Name() model.Provider {
	return model.ProviderAnthropic
}

func (p *Anthropic) ValidateCredentials(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if _, err := p.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return model.Wrap(model.KindProviderError, "anthropic credential check failed", err)
	}
	return nil
}

func (p *Anthropic) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg, err := p.client.Messages.New(ctx, p.messageParams(req))
	if err != nil {
		return Generation{}, model.Wrap(model.KindProviderError, "anthropic completion failed", err)
	}
	return Generation{
		Text:             anthropicText(msg.Content),
		PromptTokens:     msg.Usage.InputTokens,
		CompletionTokens: msg.Usage.OutputTokens,
	}, nil
}

func (p *Anthropic) GenerateBatch(ctx context.Context, reqs []GenerateRequest) ([]Generation, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	requests := make([]anthropic.MessageBatchNewParamsRequest, len(reqs))
	for i, req := range reqs {
		requests[i] = anthropic.MessageBatchNewParamsRequest{
			CustomID: "item-" + strconv.Itoa(i),
			Params:   p.batchParams(req),
		}
	}

	batch, err := p.newBatch(ctx, requests)
	if err != nil {
		return nil, model.Wrap(model.KindProviderError, "anthropic batch submit failed", err)
	}

	batch, err = p.awaitBatch(ctx, batch)
	if err != nil {
		return nil, err
	}

	return p.collectBatch(ctx, batch.ID, len(reqs))
}

func (p *Anthropic) newBatch(ctx context.Context, requests []anthropic.MessageBatchNewParamsRequest) (*anthropic.MessageBatch, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.client.Messages.Batches.New(ctx, anthropic.MessageBatchNewParams{Requests: requests})
}

// awaitBatch polls until the batch ends or the poll budget runs out.
func (p *Anthropic) awaitBatch(ctx context.Context, batch *anthropic.MessageBatch) (*anthropic.MessageBatch, error) {
	for attempt := 0; attempt < p.pollMaxAttempts; attempt++ {
		if batch.ProcessingStatus == anthropic.MessageBatchProcessingStatusEnded {
			return batch, nil
		}
		select {
		case <-ctx.Done():
			return nil, model.Wrap(model.KindProviderError, "anthropic batch canceled", ctx.Err())
		case <-time.After(p.pollInterval):
		}

		refreshed, err := p.getBatch(ctx, batch.ID)
		if err != nil {
			return nil, model.Wrap(model.KindProviderError, "anthropic batch poll failed", err)
		}
		batch = refreshed
	}
	return nil, model.E(model.KindProviderError,
		"anthropic batch %s did not finish within %s", batch.ID,
		time.Duration(p.pollMaxAttempts)*p.pollInterval)
}

func (p *Anthropic) getBatch(ctx context.Context, id string) (*anthropic.MessageBatch, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.client.Messages.Batches.Get(ctx, id)
}

// collectBatch streams jsonl results and maps them back to input
// positions. Errored, canceled, and expired items keep the zero
// placeholder.
func (p *Anthropic) collectBatch(ctx context.Context, batchID string, size int) ([]Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out := make([]Generation, size)
	stream := p.client.Messages.Batches.ResultsStreaming(ctx, batchID)
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		entry := stream.Current()
		idx, err := strconv.Atoi(strings.TrimPrefix(entry.CustomID, "item-"))
		if err != nil || idx < 0 || idx >= size {
			p.logger.Warn("anthropic batch returned unknown custom id", "batch_id", batchID, "custom_id", entry.CustomID)
			continue
		}
		switch result := entry.Result.AsAny().(type) {
		case anthropic.MessageBatchSucceededResult:
			out[idx] = Generation{
				Text:             anthropicText(result.Message.Content),
				PromptTokens:     result.Message.Usage.InputTokens,
				CompletionTokens: result.Message.Usage.OutputTokens,
			}
		default:
			p.logger.Warn("anthropic batch item did not succeed",
				"batch_id", batchID, "custom_id", entry.CustomID,
				"result", fmt.Sprintf("%T", result))
		}
	}
	if err := stream.Err(); err != nil {
		return nil, model.Wrap(model.KindProviderError, "anthropic batch results failed", err)
	}
	return out, nil
}

func (p *Anthropic) messageParams(req GenerateRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

// batchParams mirrors messageParams for the batches endpoint, which
// takes its own request params type.
func (p *Anthropic) batchParams(req GenerateRequest) anthropic.MessageBatchNewParamsRequestParams {
	msg := p.messageParams(req)
	return anthropic.MessageBatchNewParamsRequestParams{
		Model:       msg.Model,
		MaxTokens:   msg.MaxTokens,
		Messages:    msg.Messages,
		System:      msg.System,
		Temperature: msg.Temperature,
	}
}

func anthropicText(content []anthropic.ContentBlockUnion) string {
	var sb strings.Builder
	for _, block := range content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}
