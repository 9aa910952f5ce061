package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/internal/supplier"
	"github.com/linguo5/AingDesk/pkg/models"
	"github.com/rs/zerolog/log"
)

// managerJobKey tracks the runtime-manager installation itself.
const managerJobKey = "__runtime_manager__"

// Manager runs model install jobs. Jobs are ephemeral: they live in memory
// for the UI's 1 Hz polling and disappear on restart; the installed
// artifacts themselves are the durable state.
type Manager struct {
	runtime *Runtime
	reg     *supplier.Registry
	mirrors []string

	mu   sync.Mutex
	jobs map[string]*models.InstallJob

	// lastMirror remembers which mirror a failed manager download used so
	// a reconnect rotates to the next one.
	lastMirror int
}

// NewManager wires the job runner to the runtime and the supplier registry.
func NewManager(rt *Runtime, reg *supplier.Registry, mirrors []string) *Manager {
	return &Manager{
		runtime: rt,
		reg:     reg,
		mirrors: mirrors,
		jobs:    make(map[string]*models.InstallJob),
	}
}

// Runtime exposes the supervised runtime.
func (m *Manager) Runtime() *Runtime { return m.runtime }

func jobKey(model, parameters string) string { return model + ":" + parameters }

// ── Job state ───────────────────────────────────────────────

// snapshot returns a copy of a job for safe reading.
func (m *Manager) snapshot(key string) (models.InstallJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[key]
	if !ok {
		return models.InstallJob{}, false
	}
	return *j, true
}

// advance moves a job's state forward. States only ever increase and
// terminal states are sticky, so a late goroutine cannot drag a finished
// job backwards.
func (m *Manager) advance(key string, status int, progress float64, notice string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[key]
	if !ok {
		return
	}
	if j.Terminal() {
		return
	}
	if status != models.JobFailed && status < j.Status {
		return
	}
	j.Status = status
	if progress > j.Progress || status == models.JobDone {
		j.Progress = progress
	}
	if status == models.JobDone {
		j.Progress = 100
	}
	if notice != "" {
		j.Notice = notice
	}
	j.UpdateTime = time.Now().Unix()
}

// ── Model install jobs ──────────────────────────────────────

// InstallModel starts pulling a model artifact. Re-installing a model whose
// job already finished is a no-op returning the done job; a job still
// running is returned as-is.
func (m *Manager) InstallModel(model, parameters string) (models.InstallJob, error) {
	if model == "" {
		return models.InstallJob{}, errs.New(errs.InvalidRequest, "model is required")
	}
	key := jobKey(model, parameters)

	m.mu.Lock()
	if j, ok := m.jobs[key]; ok {
		if j.Status != models.JobFailed {
			cp := *j
			m.mu.Unlock()
			return cp, nil
		}
		// A failed job may be retried from scratch.
	}
	job := &models.InstallJob{
		Model:      model,
		Parameters: parameters,
		Status:     models.JobQueued,
		UpdateTime: time.Now().Unix(),
	}
	m.jobs[key] = job
	cp := *job
	m.mu.Unlock()

	go m.runPull(key, model, parameters)
	log.Info().Str("model", model).Str("parameters", parameters).Msg("Model install queued")
	return cp, nil
}

// GetProgress returns the install job for a model.
func (m *Manager) GetProgress(model, parameters string) (models.InstallJob, error) {
	j, ok := m.snapshot(jobKey(model, parameters))
	if !ok {
		return models.InstallJob{}, errs.New(errs.NotFound, "no install job for model %q", model)
	}
	return j, nil
}

// pullName joins model and parameter tag into the runtime artifact name.
func pullName(model, parameters string) string {
	if parameters == "" {
		return model
	}
	return model + ":" + parameters
}

// runPull drives one artifact pull against the runtime's streaming API.
func (m *Manager) runPull(key, model, parameters string) {
	name := pullName(model, parameters)
	m.advance(key, models.JobDownloading, 0, "")

	body, _ := json.Marshal(map[string]any{"model": name, "stream": true})
	resp, err := http.Post(m.runtime.Endpoint()+"/api/pull", "application/json", bytes.NewReader(body))
	if err != nil {
		m.advance(key, models.JobFailed, 0, fmt.Sprintf("pull failed: %v", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		m.advance(key, models.JobFailed, 0, fmt.Sprintf("pull returned %d: %s", resp.StatusCode, msg))
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk struct {
			Status    string `json:"status"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
			Error     string `json:"error"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			m.advance(key, models.JobFailed, 0, chunk.Error)
			return
		}
		switch {
		case chunk.Total > 0:
			// Download progress takes the 0..90 band; verification the rest.
			pct := float64(chunk.Completed) / float64(chunk.Total) * 90
			m.advance(key, models.JobDownloading, pct, chunk.Status)
		case chunk.Status == "success":
			m.advance(key, models.JobInstalling, 95, chunk.Status)
		default:
			m.advance(key, models.JobDownloading, 0, chunk.Status)
		}
	}
	if err := scanner.Err(); err != nil {
		m.advance(key, models.JobFailed, 0, fmt.Sprintf("pull stream broke: %v", err))
		return
	}

	m.advance(key, models.JobInstalling, 95, "verifying")
	if err := m.syncLocal(context.Background()); err != nil {
		m.advance(key, models.JobFailed, 0, fmt.Sprintf("sync after install: %v", err))
		return
	}
	m.advance(key, models.JobDone, 100, "")
	log.Info().Str("model", name).Msg("Model installed")
}

// ReconnectDownload resumes a broken model download. The runtime pull is
// resumable server-side, so this simply re-runs the job.
func (m *Manager) ReconnectDownload(model, parameters string) (models.InstallJob, error) {
	key := jobKey(model, parameters)
	m.mu.Lock()
	if j, ok := m.jobs[key]; ok && !j.Terminal() {
		cp := *j
		m.mu.Unlock()
		return cp, nil
	}
	delete(m.jobs, key)
	m.mu.Unlock()
	return m.InstallModel(model, parameters)
}

// RemoveModel deletes an installed artifact and refreshes the local
// supplier's catalog.
func (m *Manager) RemoveModel(ctx context.Context, model, parameters string) error {
	name := pullName(model, parameters)
	body, _ := json.Marshal(map[string]any{"model": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, m.runtime.Endpoint()+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.Internal, err, "create delete request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.UpstreamFailure, err, "delete model")
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return errs.New(errs.NotFound, "model %q is not installed", name)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errs.New(errs.UpstreamFailure, "delete returned %d: %s", resp.StatusCode, msg)
	}

	m.mu.Lock()
	delete(m.jobs, jobKey(model, parameters))
	m.mu.Unlock()

	if err := m.syncLocal(ctx); err != nil {
		return err
	}
	log.Info().Str("model", name).Msg("Model removed")
	return nil
}

// syncLocal mirrors the runtime's installed artifacts into the local
// supplier's model catalog.
func (m *Manager) syncLocal(ctx context.Context) error {
	installed, err := m.runtime.ListInstalled(ctx)
	if err != nil {
		return err
	}
	return m.reg.SyncLocalModels(installed)
}

// Sync refreshes the local catalog from the runtime; called at startup.
func (m *Manager) Sync(ctx context.Context) error {
	if !m.runtime.Healthy(ctx) {
		return nil
	}
	return m.syncLocal(ctx)
}

// ── Runtime manager installation ────────────────────────────

// InstallRuntime downloads the runtime binary from the configured mirrors
// and starts it. Progress reports under the manager job key.
func (m *Manager) InstallRuntime() (models.InstallJob, error) {
	m.mu.Lock()
	if j, ok := m.jobs[managerJobKey]; ok && !j.Terminal() {
		cp := *j
		m.mu.Unlock()
		return cp, nil
	}
	job := &models.InstallJob{
		Model:      managerJobKey,
		Status:     models.JobQueued,
		UpdateTime: time.Now().Unix(),
	}
	m.jobs[managerJobKey] = job
	cp := *job
	mirrorIdx := m.lastMirror
	m.mu.Unlock()

	go m.runRuntimeDownload(mirrorIdx)
	return cp, nil
}

// ReconnectRuntimeDownload retries a failed runtime download on the next
// mirror.
func (m *Manager) ReconnectRuntimeDownload() (models.InstallJob, error) {
	m.mu.Lock()
	if j, ok := m.jobs[managerJobKey]; ok && !j.Terminal() {
		cp := *j
		m.mu.Unlock()
		return cp, nil
	}
	delete(m.jobs, managerJobKey)
	m.lastMirror++
	m.mu.Unlock()
	return m.InstallRuntime()
}

// RuntimeProgress returns the runtime-manager install job.
func (m *Manager) RuntimeProgress() (models.InstallJob, error) {
	j, ok := m.snapshot(managerJobKey)
	if !ok {
		return models.InstallJob{}, errs.New(errs.NotFound, "no runtime install job")
	}
	return j, nil
}

func (m *Manager) runRuntimeDownload(mirrorIdx int) {
	if len(m.mirrors) == 0 {
		m.advance(managerJobKey, models.JobFailed, 0, "no download mirrors configured")
		return
	}
	mirror := m.mirrors[mirrorIdx%len(m.mirrors)]
	url := fmt.Sprintf("%s/ollama-%s-%s", mirror, runtime.GOOS, runtime.GOARCH)

	m.advance(managerJobKey, models.JobDownloading, 0, "downloading runtime")
	resp, err := http.Get(url)
	if err != nil {
		m.advance(managerJobKey, models.JobFailed, 0, fmt.Sprintf("mirror %s unreachable: %v", mirror, err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		m.advance(managerJobKey, models.JobFailed, 0, fmt.Sprintf("mirror %s returned %d", mirror, resp.StatusCode))
		return
	}

	if err := os.MkdirAll(m.runtime.binDir, 0o755); err != nil {
		m.advance(managerJobKey, models.JobFailed, 0, fmt.Sprintf("create runtime dir: %v", err))
		return
	}
	tmp := m.runtime.BinaryPath() + ".partial"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		m.advance(managerJobKey, models.JobFailed, 0, fmt.Sprintf("create runtime file: %v", err))
		return
	}

	total := resp.ContentLength
	var written int64
	buf := make([]byte, 256*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				m.advance(managerJobKey, models.JobFailed, 0, fmt.Sprintf("write runtime file: %v", werr))
				return
			}
			written += int64(n)
			if total > 0 {
				m.advance(managerJobKey, models.JobDownloading, float64(written)/float64(total)*90, "")
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			m.advance(managerJobKey, models.JobFailed, 0, fmt.Sprintf("download interrupted: %v", rerr))
			return
		}
	}
	if err := f.Close(); err != nil {
		m.advance(managerJobKey, models.JobFailed, 0, fmt.Sprintf("close runtime file: %v", err))
		return
	}
	if err := os.Rename(tmp, m.runtime.BinaryPath()); err != nil {
		m.advance(managerJobKey, models.JobFailed, 0, fmt.Sprintf("install runtime file: %v", err))
		return
	}

	m.advance(managerJobKey, models.JobInstalling, 95, "starting runtime")
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	if err := m.runtime.Start(ctx); err != nil {
		m.advance(managerJobKey, models.JobFailed, 0, fmt.Sprintf("start runtime: %v", err))
		return
	}
	m.advance(managerJobKey, models.JobDone, 100, "")
	log.Info().Str("mirror", mirror).Msg("Runtime installed")
}
