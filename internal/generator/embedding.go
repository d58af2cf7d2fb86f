package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/maxp/memexpert/internal/domain"
)

// EmbeddingConfig holds configuration for the embedding client.
type EmbeddingConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	Timeout    time.Duration
}

// OpenAIEmbedder implements EmbeddingGenerator on an OpenAI-compatible
// embeddings endpoint.
type OpenAIEmbedder struct {
	client     *resty.Client
	model      string
	endpoint   string
	dimensions int
}

// NewOpenAIEmbedder creates a new embedding client.
// Parameters:
//   - cfg: model, credentials, endpoint, and dimensionality configuration.
// Returns:
//   - *OpenAIEmbedder: initialized client wrapper.
func NewOpenAIEmbedder(cfg *EmbeddingConfig) *OpenAIEmbedder {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &OpenAIEmbedder{
		client:     client,
		model:      cfg.Model,
		endpoint:   baseURL + "/embeddings",
		dimensions: cfg.Dimensions,
	}
}

// Dimensions returns the configured vector size.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// EmbedDocument embeds indexable meme text.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - text: document text to embed.
// Returns:
//   - []float32: embedding with the configured dimensionality.
//   - error: domain.ErrGeneratorFailure if the API call fails.
func (e *OpenAIEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

// EmbedQuery embeds a user search query.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - text: query text to embed.
// Returns:
//   - []float32: embedding with the configured dimensionality.
//   - error: domain.ErrGeneratorFailure if the API call fails.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

func (e *OpenAIEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	req := embeddingRequest{
		Model:      e.model,
		Input:      []string{text},
		Dimensions: e.dimensions,
	}

	var resp embeddingResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(e.endpoint)

	if err != nil {
		return nil, fmt.Errorf("%w: failed to call embedding API: %v", domain.ErrGeneratorFailure, err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Error != nil {
			return nil, fmt.Errorf("%w: embedding API error: %s", domain.ErrGeneratorFailure, resp.Error.Message)
		}
		return nil, fmt.Errorf("%w: embedding API error: status %d", domain.ErrGeneratorFailure, httpResp.StatusCode())
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", domain.ErrGeneratorFailure)
	}

	vec := resp.Data[0].Embedding
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, expected %d",
			domain.ErrGeneratorFailure, len(vec), e.dimensions)
	}
	return vec, nil
}
