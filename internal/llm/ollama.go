package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/pkg/models"
)

// OllamaStreamer streams chat completions from the managed local runtime
// over its native NDJSON protocol.
type OllamaStreamer struct {
	endpoint string
	client   *http.Client
}

// NewOllamaStreamer creates a streamer against the local runtime.
func NewOllamaStreamer(endpoint string, timeout time.Duration) *OllamaStreamer {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:11434"
	}
	return &OllamaStreamer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type ollamaChatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

type ollamaChatChunk struct {
	Message struct {
		Role     string `json:"role"`
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	TotalDuration   int64  `json:"total_duration"`
	LoadDuration    int64  `json:"load_duration"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

// Stream implements Streamer.
func (s *OllamaStreamer) Stream(ctx context.Context, req Request, fn func(Delta) error) (*Result, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "marshal chat request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "create chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, wrapUpstream(ctx, err, "open chat stream")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errs.New(errs.UpstreamFailure, "chat API returned %d: %s", resp.StatusCode, string(msg))
	}

	result := &Result{Stat: map[string]any{"model": req.Model}}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return result, errs.Wrap(errs.UpstreamFailure, err, "decode chat chunk")
		}
		if chunk.Error != "" {
			return result, errs.New(errs.UpstreamFailure, "runtime error: %s", chunk.Error)
		}
		d := Delta{Content: chunk.Message.Content, Reasoning: chunk.Message.Thinking}
		if d.Content != "" || d.Reasoning != "" {
			result.Content += d.Content
			result.Reasoning += d.Reasoning
			if err := fn(d); err != nil {
				return result, err
			}
		}
		if chunk.Done {
			result.Stat["done_reason"] = chunk.DoneReason
			result.Stat["prompt_tokens"] = chunk.PromptEvalCount
			result.Stat["completion_tokens"] = chunk.EvalCount
			result.Stat["duration_ms"] = chunk.TotalDuration / int64(time.Millisecond)
			return result, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return result, wrapUpstream(ctx, err, "read chat stream")
	}
	return result, nil
}
