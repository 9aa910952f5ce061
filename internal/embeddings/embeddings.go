// Package embeddings provides vector-embedding drivers for the RAG
// pipeline. The local runtime speaks its native /api/embed protocol; every
// other supplier is treated as an OpenAI-compatible embeddings endpoint.
package embeddings

import (
	"context"
	"time"

	"github.com/linguo5/AingDesk/pkg/models"
)

// Driver generates vector embeddings for batches of texts. The returned
// vectors share one dimension, fixed by the model.
type Driver interface {
	Kind() string
	MaxBatchSize() int
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// ForSupplier builds the embedding driver for a (supplier, model) pair.
func ForSupplier(s *models.Supplier, model string, timeout time.Duration) Driver {
	if s.IsLocal() {
		return NewLocalDriver(s.BaseURL, model, timeout)
	}
	return NewOpenAIDriver(s.BaseURL, s.APIKey, model, timeout)
}
