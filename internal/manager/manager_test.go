package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/internal/objstore"
	"github.com/linguo5/AingDesk/internal/supplier"
	"github.com/linguo5/AingDesk/pkg/models"
)

// fakeRuntime imitates the runtime API: tags, pull with streamed progress,
// and delete.
type fakeRuntime struct {
	srv       *httptest.Server
	installed atomic.Value // []string
	pullFails atomic.Bool
}

func newFakeRuntime(t *testing.T) *fakeRuntime {
	t.Helper()
	f := &fakeRuntime{}
	f.installed.Store([]string{})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		names := f.installed.Load().([]string)
		list := make([]map[string]any, 0, len(names))
		for _, n := range names {
			list = append(list, map[string]any{"name": n})
		}
		json.NewEncoder(w).Encode(map[string]any{"models": list})
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if f.pullFails.Load() {
			fmt.Fprintln(w, `{"error":"pull exploded"}`)
			return
		}
		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
		fmt.Fprintln(w, `{"status":"downloading","total":100,"completed":40}`)
		fmt.Fprintln(w, `{"status":"downloading","total":100,"completed":100}`)
		fmt.Fprintln(w, `{"status":"success"}`)
		names := append([]string{}, f.installed.Load().([]string)...)
		f.installed.Store(append(names, req.Model))
	})
	mux.HandleFunc("/api/delete", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		names := f.installed.Load().([]string)
		kept := make([]string, 0, len(names))
		found := false
		for _, n := range names {
			if n == req.Model {
				found = true
				continue
			}
			kept = append(kept, n)
		}
		if !found {
			http.NotFound(w, r)
			return
		}
		f.installed.Store(kept)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestManager(t *testing.T, f *fakeRuntime) (*Manager, *supplier.Registry) {
	t.Helper()
	obj, err := objstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	reg := supplier.NewRegistry(obj)
	if err := reg.EnsureLocal(f.srv.URL); err != nil {
		t.Fatal(err)
	}
	rt := NewRuntime(f.srv.URL, t.TempDir())
	return NewManager(rt, reg, nil), reg
}

func waitTerminal(t *testing.T, m *Manager, model, parameters string) models.InstallJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := m.GetProgress(model, parameters)
		if err == nil && j.Terminal() {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("install job never reached a terminal state")
	return models.InstallJob{}
}

func TestInstallModelCompletesAndSyncs(t *testing.T) {
	f := newFakeRuntime(t)
	m, reg := newTestManager(t, f)

	if _, err := m.InstallModel("qwen2.5", "7b"); err != nil {
		t.Fatal(err)
	}
	job := waitTerminal(t, m, "qwen2.5", "7b")
	if job.Status != models.JobDone {
		t.Fatalf("status = %d, notice = %q", job.Status, job.Notice)
	}
	if job.Progress != 100 {
		t.Fatalf("progress = %f", job.Progress)
	}

	catalog, err := reg.ListModels(models.LocalSupplierName)
	if err != nil {
		t.Fatal(err)
	}
	if len(catalog) != 1 || catalog[0].Name != "qwen2.5:7b" {
		t.Fatalf("local catalog = %+v", catalog)
	}
}

func TestInstallDoneIsNoop(t *testing.T) {
	f := newFakeRuntime(t)
	m, _ := newTestManager(t, f)

	m.InstallModel("qwen2.5", "7b")
	waitTerminal(t, m, "qwen2.5", "7b")

	again, err := m.InstallModel("qwen2.5", "7b")
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != models.JobDone {
		t.Fatalf("re-install must return the finished job, got status %d", again.Status)
	}
}

func TestInstallFailureRecordsNoticeAndAllowsRetry(t *testing.T) {
	f := newFakeRuntime(t)
	f.pullFails.Store(true)
	m, _ := newTestManager(t, f)

	m.InstallModel("gemma2", "2b")
	job := waitTerminal(t, m, "gemma2", "2b")
	if job.Status != models.JobFailed || job.Notice == "" {
		t.Fatalf("job = %+v", job)
	}

	f.pullFails.Store(false)
	if _, err := m.ReconnectDownload("gemma2", "2b"); err != nil {
		t.Fatal(err)
	}
	job = waitTerminal(t, m, "gemma2", "2b")
	if job.Status != models.JobDone {
		t.Fatalf("retry did not succeed: %+v", job)
	}
}

func TestGetProgressUnknownJob(t *testing.T) {
	f := newFakeRuntime(t)
	m, _ := newTestManager(t, f)
	if _, err := m.GetProgress("never", "seen"); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestAdvanceIsMonotonicAndTerminalSticky(t *testing.T) {
	f := newFakeRuntime(t)
	m, _ := newTestManager(t, f)

	key := jobKey("x", "1b")
	m.mu.Lock()
	m.jobs[key] = &models.InstallJob{Model: "x", Parameters: "1b", Status: models.JobQueued}
	m.mu.Unlock()

	m.advance(key, models.JobInstalling, 95, "")
	m.advance(key, models.JobDownloading, 40, "late progress line")
	j, _ := m.snapshot(key)
	if j.Status != models.JobInstalling {
		t.Fatalf("state regressed to %d", j.Status)
	}

	m.advance(key, models.JobDone, 100, "")
	m.advance(key, models.JobFailed, 0, "too late")
	j, _ = m.snapshot(key)
	if j.Status != models.JobDone || j.Progress != 100 {
		t.Fatalf("terminal state not sticky: %+v", j)
	}
}

func TestRemoveModelRefreshesCatalog(t *testing.T) {
	f := newFakeRuntime(t)
	m, reg := newTestManager(t, f)

	m.InstallModel("llama3.2", "3b")
	waitTerminal(t, m, "llama3.2", "3b")

	if err := m.RemoveModel(context.Background(), "llama3.2", "3b"); err != nil {
		t.Fatal(err)
	}
	catalog, err := reg.ListModels(models.LocalSupplierName)
	if err != nil {
		t.Fatal(err)
	}
	if len(catalog) != 0 {
		t.Fatalf("catalog still has %+v", catalog)
	}

	err = m.RemoveModel(context.Background(), "llama3.2", "3b")
	if errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestListVisibleMergesInstallState(t *testing.T) {
	f := newFakeRuntime(t)
	m, _ := newTestManager(t, f)

	m.InstallModel("qwen2.5", "7b")
	waitTerminal(t, m, "qwen2.5", "7b")

	visible := m.ListVisible(context.Background())
	if len(visible) == 0 {
		t.Fatal("empty picker catalog")
	}
	var found bool
	for _, v := range visible {
		if v.Name == "qwen2.5" && v.Parameters == "7b" {
			found = true
			if !v.Installed {
				t.Fatal("installed model not flagged")
			}
		}
	}
	if !found {
		t.Fatal("qwen2.5:7b missing from picker catalog")
	}
}
