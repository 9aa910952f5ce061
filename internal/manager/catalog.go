package manager

import (
	"context"
	"sort"

	"github.com/linguo5/AingDesk/pkg/models"
)

// VisibleModel is one entry of the install picker: a recommended model with
// its installation state merged in.
type VisibleModel struct {
	models.Model
	Installed  bool    `json:"installed"`
	Installing bool    `json:"installing"`
	Progress   float64 `json:"progress"`
	SizeNote   string  `json:"size,omitempty"`
}

// recommendedModels is the built-in picker catalog. Names follow the
// runtime's registry; parameters are the pullable tag variants.
var recommendedModels = []struct {
	name string
	tags []string
	caps []string
	size map[string]string
}{
	{
		name: "deepseek-r1",
		tags: []string{"1.5b", "7b", "8b", "14b", "32b"},
		caps: []string{models.CapChat},
		size: map[string]string{"1.5b": "1.1GB", "7b": "4.7GB", "8b": "4.9GB", "14b": "9.0GB", "32b": "20GB"},
	},
	{
		name: "qwen2.5",
		tags: []string{"0.5b", "1.5b", "3b", "7b", "14b", "32b"},
		caps: []string{models.CapChat, models.CapTools},
		size: map[string]string{"0.5b": "398MB", "1.5b": "986MB", "3b": "1.9GB", "7b": "4.7GB", "14b": "9.0GB", "32b": "20GB"},
	},
	{
		name: "llama3.2",
		tags: []string{"1b", "3b"},
		caps: []string{models.CapChat, models.CapTools},
		size: map[string]string{"1b": "1.3GB", "3b": "2.0GB"},
	},
	{
		name: "llama3.2-vision",
		tags: []string{"11b"},
		caps: []string{models.CapChat, models.CapVision},
		size: map[string]string{"11b": "7.9GB"},
	},
	{
		name: "gemma2",
		tags: []string{"2b", "9b", "27b"},
		caps: []string{models.CapChat},
		size: map[string]string{"2b": "1.6GB", "9b": "5.4GB", "27b": "16GB"},
	},
	{
		name: "phi4",
		tags: []string{"14b"},
		caps: []string{models.CapChat},
		size: map[string]string{"14b": "9.1GB"},
	},
	{
		name: "bge-m3",
		tags: []string{"567m"},
		caps: []string{models.CapEmbedding},
		size: map[string]string{"567m": "1.2GB"},
	},
	{
		name: "nomic-embed-text",
		tags: []string{"v1.5"},
		caps: []string{models.CapEmbedding},
		size: map[string]string{"v1.5": "274MB"},
	},
}

// ListVisible returns the picker catalog with installation state merged
// from the runtime and the job table. A runtime that is down just reports
// nothing installed.
func (m *Manager) ListVisible(ctx context.Context) []VisibleModel {
	installed := make(map[string]bool)
	if artifacts, err := m.runtime.ListInstalled(ctx); err == nil {
		for _, a := range artifacts {
			installed[a.Name] = true
		}
	}

	var out []VisibleModel
	for _, rec := range recommendedModels {
		for _, tag := range rec.tags {
			vm := VisibleModel{
				Model: models.Model{
					Name:         rec.name,
					Title:        rec.name,
					Parameters:   tag,
					Capabilities: rec.caps,
				},
				Installed: installed[pullName(rec.name, tag)],
				SizeNote:  rec.size[tag],
			}
			if j, ok := m.snapshot(jobKey(rec.name, tag)); ok && !j.Terminal() {
				vm.Installing = true
				vm.Progress = j.Progress
			}
			out = append(out, vm)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
