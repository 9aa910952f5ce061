// Package manager supervises the local model runtime (an ollama-compatible
// server) and drives model install jobs against it: pulling artifacts with
// progress, removing them, and installing the runtime itself from download
// mirrors.
package manager

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	healthTimeout   = 20 * time.Second
	stopGracePeriod = 3 * time.Second
	logBufferLines  = 500
)

// Runtime supervises the local runtime process. When an externally started
// runtime already answers on the endpoint, it is adopted instead of
// spawning a second instance.
type Runtime struct {
	endpoint  string
	binDir    string // managed runtime installation dir
	modelsDir string // artifact storage handed to the runtime
	logs      *LogBuffer
	client    *http.Client

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	adopted bool
}

// NewRuntime creates the supervisor. Directories live under the data root
// so everything the daemon owns sits in one tree.
func NewRuntime(endpoint, dataRoot string) *Runtime {
	return &Runtime{
		endpoint:  endpoint,
		binDir:    filepath.Join(dataRoot, "runtime"),
		modelsDir: filepath.Join(dataRoot, "runtime", "models"),
		logs:      NewLogBuffer(logBufferLines),
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Endpoint returns the runtime's base URL.
func (rt *Runtime) Endpoint() string { return rt.endpoint }

// Logs exposes the runtime output buffer.
func (rt *Runtime) Logs() *LogBuffer { return rt.logs }

// BinaryPath is where the managed runtime binary is installed.
func (rt *Runtime) BinaryPath() string {
	name := "ollama"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(rt.binDir, name)
}

// Installed reports whether a runtime binary is available: managed first,
// then PATH.
func (rt *Runtime) Installed() bool {
	return rt.findBinary() != ""
}

func (rt *Runtime) findBinary() string {
	if _, err := os.Stat(rt.BinaryPath()); err == nil {
		return rt.BinaryPath()
	}
	if path, err := exec.LookPath("ollama"); err == nil {
		return path
	}
	return ""
}

// Start brings the runtime up. It adopts an already-running instance,
// otherwise spawns the binary and waits for the API to answer. A missing
// binary is not an error; model installs surface it when first needed.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.Healthy(ctx) {
		rt.mu.Lock()
		rt.adopted = true
		rt.mu.Unlock()
		log.Warn().Str("endpoint", rt.endpoint).Msg("A runtime is already listening, adopting it instead of spawning one")
		return nil
	}

	bin := rt.findBinary()
	if bin == "" {
		log.Info().Msg("No local runtime binary found, skipping start")
		return nil
	}

	if err := os.MkdirAll(rt.modelsDir, 0o755); err != nil {
		return errs.Wrap(errs.StorageFailure, err, "create models dir")
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, bin, "serve")
	cmd.Env = append(os.Environ(),
		"OLLAMA_HOST="+hostPart(rt.endpoint),
		"OLLAMA_MODELS="+rt.modelsDir,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return errs.Wrap(errs.Internal, err, "create stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return errs.Wrap(errs.Internal, err, "create stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return errs.Wrap(errs.Internal, err, "start runtime process")
	}

	go rt.pump("stdout", stdout)
	go rt.pump("stderr", stderr)

	rt.mu.Lock()
	rt.cmd = cmd
	rt.cancel = cancel
	rt.mu.Unlock()

	log.Info().Int("pid", cmd.Process.Pid).Str("endpoint", rt.endpoint).Msg("Runtime process started")

	go func() {
		_ = cmd.Wait()
		rt.mu.Lock()
		if rt.cmd == cmd {
			rt.cmd = nil
			rt.cancel = nil
		}
		rt.mu.Unlock()
		log.Info().Int("pid", cmd.Process.Pid).Msg("Runtime process exited")
	}()

	if err := rt.waitForHealth(ctx, healthTimeout); err != nil {
		log.Warn().Err(err).Msg("Runtime did not become healthy in time, it may still be loading")
	}
	return nil
}

// Stop shuts the spawned runtime down, interrupt first, kill after the
// grace period. An adopted external runtime is left running.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	cmd, cancel := rt.cmd, rt.cancel
	rt.cmd, rt.cancel = nil, nil
	rt.mu.Unlock()
	if cmd == nil {
		return
	}

	log.Info().Int("pid", cmd.Process.Pid).Msg("Stopping runtime process")
	_ = cmd.Process.Signal(os.Interrupt)

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		_ = cmd.Process.Kill()
	}
	cancel()
}

// Healthy reports whether the runtime API answers.
func (rt *Runtime) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rt.endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := rt.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (rt *Runtime) waitForHealth(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if rt.Healthy(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return errs.New(errs.UpstreamTimeout, "runtime health check timed out after %s", timeout)
}

func (rt *Runtime) pump(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		rt.logs.Write(stream, scanner.Text())
	}
}

// ListInstalled queries the runtime for installed model artifacts.
func (rt *Runtime) ListInstalled(ctx context.Context) ([]models.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rt.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "create tags request")
	}
	resp, err := rt.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamFailure, err, "list installed models")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.UpstreamFailure, "tags API returned %d", resp.StatusCode)
	}

	var payload struct {
		Models []struct {
			Name    string `json:"name"`
			Details struct {
				ParameterSize string `json:"parameter_size"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errs.Wrap(errs.UpstreamFailure, err, "decode tags response")
	}

	out := make([]models.Model, 0, len(payload.Models))
	for _, m := range payload.Models {
		out = append(out, models.Model{
			Name:         m.Name,
			Title:        m.Name,
			Parameters:   m.Details.ParameterSize,
			Capabilities: []string{models.CapChat},
		})
	}
	return out, nil
}

// hostPart strips the scheme for OLLAMA_HOST, which wants host:port.
func hostPart(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}
