package supplier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linguo5/AingDesk/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// CheckResult reports the outcome of a supplier configuration probe.
type CheckResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// CheckSupplierConfig performs a minimal protocol probe with no side
// effects: list-models against OpenAI-compatible endpoints, /api/tags
// against the local runtime. The reason is human-readable on failure.
func (r *Registry) CheckSupplierConfig(ctx context.Context, name string) (*CheckResult, error) {
	s, err := r.GetSupplierConfig(name)
	if err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if s.IsLocal() {
		return probeLocal(probeCtx, s.BaseURL), nil
	}
	return probeOpenAI(probeCtx, s), nil
}

func probeOpenAI(ctx context.Context, s *models.Supplier) *CheckResult {
	cfg := openai.DefaultConfig(s.APIKey)
	if s.BaseURL != "" {
		cfg.BaseURL = s.BaseURL
	}
	client := openai.NewClientWithConfig(cfg)

	if _, err := client.ListModels(ctx); err != nil {
		return &CheckResult{OK: false, Reason: fmt.Sprintf("list models failed: %v", err)}
	}
	return &CheckResult{OK: true}
}

func probeLocal(ctx context.Context, endpoint string) *CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/tags", nil)
	if err != nil {
		return &CheckResult{OK: false, Reason: fmt.Sprintf("bad endpoint: %v", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &CheckResult{OK: false, Reason: fmt.Sprintf("runtime unreachable: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &CheckResult{OK: false, Reason: fmt.Sprintf("runtime returned %d: %s", resp.StatusCode, string(body))}
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return &CheckResult{OK: false, Reason: fmt.Sprintf("decode tags: %v", err)}
	}
	return &CheckResult{OK: true}
}
