package providers

import (
	"context"
	"errors"
	"net"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// OpenAIConfig configures the OpenAI-compatible adapters. BaseURL may point
// at any API-compatible endpoint.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	EmbeddingModel  string
	CompletionModel string
	Dimensions      int
	MaxBatch        int
}

// OpenAIEmbedding implements EmbeddingProvider over the OpenAI embeddings
// API.
type OpenAIEmbedding struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	maxBatch   int
	logger     *zap.Logger
}

// NewOpenAIEmbedding creates an embedding provider.
func NewOpenAIEmbedding(cfg OpenAIConfig, logger *zap.Logger) *OpenAIEmbedding {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 100
	}
	return &OpenAIEmbedding{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      openai.EmbeddingModel(model),
		dimensions: cfg.Dimensions,
		maxBatch:   maxBatch,
		logger:     logger.With(zap.String("component", "embedding_openai")),
	}
}

func (p *OpenAIEmbedding) Dimensions() int   { return p.dimensions }
func (p *OpenAIEmbedding) MaxBatchSize() int { return p.maxBatch }

// Embed embeds a single text.
func (p *OpenAIEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts preserving order.
func (p *OpenAIEmbedding) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: p.model,
	}
	if p.dimensions > 0 {
		req.Dimensions = p.dimensions
	}
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classifyProviderError(types.ErrEmbeddingFailure, "create embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, types.Errorf(types.ErrEmbeddingFailure,
			"embedding response size mismatch: got %d want %d", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, types.Errorf(types.ErrEmbeddingFailure, "embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, vec := range out {
		if p.dimensions > 0 && len(vec) != p.dimensions {
			return nil, types.Errorf(types.ErrDimensionMismatch,
				"embedding %d has dimension %d, configured %d", i, len(vec), p.dimensions)
		}
	}
	return out, nil
}

// OpenAICompletion implements CompletionProvider over the chat completions
// API.
type OpenAICompletion struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAICompletion creates a completion provider.
func NewOpenAICompletion(cfg OpenAIConfig, logger *zap.Logger) *OpenAICompletion {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.CompletionModel
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAICompletion{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		logger: logger.With(zap.String("component", "completion_openai")),
	}
}

// Complete returns the completion text for a prompt.
func (p *OpenAICompletion) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyProviderError(types.ErrCompletionFailure, "create completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", types.NewError(types.ErrCompletionFailure, "empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyProviderError maps SDK errors onto the error taxonomy. Timeouts,
// connection resets, rate limits, and 5xx responses are transient; auth and
// request errors fail fast.
func classifyProviderError(code types.ErrorCode, op string, err error) error {
	retryable := false

	var apiErr *openai.APIError
	switch {
	case errors.As(err, &apiErr):
		retryable = apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	case errors.Is(err, context.DeadlineExceeded):
		retryable = true
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			retryable = true
		}
	}

	return types.NewError(code, op).WithCause(err).WithRetryable(retryable)
}
