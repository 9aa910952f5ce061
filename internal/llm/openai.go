package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/linguo5/AingDesk/internal/errs"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIStreamer streams chat completions from any OpenAI-compatible
// endpoint.
type OpenAIStreamer struct {
	client *openai.Client
}

// NewOpenAIStreamer creates a streamer against an OpenAI-compatible
// supplier. The timeout bounds the whole stream, not a single chunk.
func NewOpenAIStreamer(baseURL, apiKey string, timeout time.Duration) *OpenAIStreamer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIStreamer{client: openai.NewClientWithConfig(cfg)}
}

// Stream implements Streamer.
func (s *OpenAIStreamer) Stream(ctx context.Context, req Request, fn func(Delta) error) (*Result, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	})
	if err != nil {
		return nil, wrapUpstream(ctx, err, "open chat stream")
	}
	defer stream.Close()

	started := time.Now()
	result := &Result{Stat: map[string]any{"model": req.Model}}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, wrapUpstream(ctx, err, "receive chat chunk")
		}
		if chunk.Usage != nil {
			result.Stat["prompt_tokens"] = chunk.Usage.PromptTokens
			result.Stat["completion_tokens"] = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		d := Delta{
			Content:   chunk.Choices[0].Delta.Content,
			Reasoning: chunk.Choices[0].Delta.ReasoningContent,
		}
		if d.Content == "" && d.Reasoning == "" {
			continue
		}
		result.Content += d.Content
		result.Reasoning += d.Reasoning
		if err := fn(d); err != nil {
			return result, err
		}
	}
	result.Stat["duration_ms"] = time.Since(started).Milliseconds()
	return result, nil
}

func wrapUpstream(ctx context.Context, err error, msg string) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return errs.Wrap(errs.Canceled, err, "%s", msg)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errs.Wrap(errs.UpstreamTimeout, err, "%s", msg)
	default:
		return errs.Wrap(errs.UpstreamFailure, err, "%s", msg)
	}
}
