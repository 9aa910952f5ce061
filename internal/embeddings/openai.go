package embeddings

import (
	"context"
	"net/http"
	"time"

	"github.com/linguo5/AingDesk/internal/errs"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIDriver embeds through any OpenAI-compatible embeddings endpoint.
type OpenAIDriver struct {
	model     string
	batchSize int
	client    *openai.Client
}

// NewOpenAIDriver creates a driver against an OpenAI-compatible supplier.
func NewOpenAIDriver(baseURL, apiKey, model string, timeout time.Duration) *OpenAIDriver {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIDriver{
		model:     model,
		batchSize: 512,
		client:    openai.NewClientWithConfig(cfg),
	}
}

func (d *OpenAIDriver) Kind() string      { return "openai" }
func (d *OpenAIDriver) MaxBatchSize() int { return d.batchSize }

// Embed generates vector embeddings for a batch of texts.
func (d *OpenAIDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > d.batchSize {
		return nil, errs.New(errs.InvalidRequest, "batch size %d exceeds max %d", len(texts), d.batchSize)
	}

	resp, err := d.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(d.model),
		Input: texts,
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errs.Wrap(errs.UpstreamTimeout, err, "embed call")
		}
		return nil, errs.Wrap(errs.UpstreamFailure, err, "embed call")
	}
	if len(resp.Data) != len(texts) {
		return nil, errs.New(errs.UpstreamFailure, "expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// Responses may arrive out of order; place by index.
	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			continue
		}
		vec := make([]float64, len(item.Embedding))
		for i, f := range item.Embedding {
			vec[i] = float64(f)
		}
		vectors[item.Index] = vec
	}
	return vectors, nil
}
