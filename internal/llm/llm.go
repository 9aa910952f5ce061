// Package llm streams chat completions from model suppliers. The managed
// local runtime speaks its native NDJSON chat protocol; every other
// supplier is treated as an OpenAI-compatible endpoint.
package llm

import (
	"context"
	"time"

	"github.com/linguo5/AingDesk/pkg/models"
)

// Request is one inference call: an assembled message context against a
// resolved model.
type Request struct {
	Model    string
	Messages []models.ChatMessage
}

// Delta is one streamed increment. Reasoning arrives separately from
// content for models that emit their thinking.
type Delta struct {
	Content   string
	Reasoning string
}

// Result is the accumulated outcome of a completed (or aborted) stream.
type Result struct {
	Content   string
	Reasoning string

	// Stat carries upstream statistics for the UI: token counts,
	// durations, and the serving model name.
	Stat map[string]any
}

// Streamer runs one streaming inference call, invoking fn for every delta
// in arrival order. A non-nil error from fn aborts the stream and is
// returned as-is. The partial Result is returned even on error when any
// content arrived.
type Streamer interface {
	Stream(ctx context.Context, req Request, fn func(Delta) error) (*Result, error)
}

// ForSupplier builds the streaming client for a supplier.
func ForSupplier(s *models.Supplier, timeout time.Duration) Streamer {
	if s.IsLocal() {
		return NewOllamaStreamer(s.BaseURL, timeout)
	}
	return NewOpenAIStreamer(s.BaseURL, s.APIKey, timeout)
}
