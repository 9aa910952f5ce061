package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linguo5/AingDesk/internal/errs"
)

// LocalDriver embeds through the managed local runtime's /api/embed
// endpoint (ollama-compatible, batch-capable).
type LocalDriver struct {
	endpoint  string
	model     string
	batchSize int
	client    *http.Client
}

// NewLocalDriver creates a driver against the local runtime.
func NewLocalDriver(endpoint, model string, timeout time.Duration) *LocalDriver {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:11434"
	}
	return &LocalDriver{
		endpoint:  endpoint,
		model:     model,
		batchSize: 128,
		client:    &http.Client{Timeout: timeout},
	}
}

func (d *LocalDriver) Kind() string      { return "local" }
func (d *LocalDriver) MaxBatchSize() int { return d.batchSize }

type localEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type localEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed generates vector embeddings for a batch of texts.
func (d *LocalDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > d.batchSize {
		return nil, errs.New(errs.InvalidRequest, "batch size %d exceeds max %d", len(texts), d.batchSize)
	}

	body, err := json.Marshal(localEmbedRequest{Model: d.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.UpstreamTimeout, err, "embed call")
		}
		return nil, errs.Wrap(errs.UpstreamFailure, err, "embed call")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamFailure, err, "read embed response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.UpstreamFailure, "embed API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result localEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, errs.Wrap(errs.UpstreamFailure, err, "decode embed response")
	}
	if len(result.Embeddings) != len(texts) {
		return nil, errs.New(errs.UpstreamFailure, "expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}
