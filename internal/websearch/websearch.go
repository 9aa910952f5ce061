// Package websearch augments chat prompts with live web results. The
// engine is pluggable; without network search configured the noop searcher
// keeps the chat path identical minus the snippets.
package websearch

import (
	"context"
	"strings"

	"github.com/linguo5/AingDesk/pkg/models"
)

// Searcher runs one query against a search engine and returns scored
// snippets, best first.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]models.SearchSnippet, error)
}

// Noop satisfies Searcher and finds nothing. Used when no engine is
// configured or the requested engine is unknown.
type Noop struct{}

func (Noop) Name() string { return "" }

func (Noop) Search(ctx context.Context, query string, limit int) ([]models.SearchSnippet, error) {
	return nil, nil
}

// Registry maps engine names to searchers.
type Registry struct {
	engines map[string]Searcher
}

// NewRegistry builds a registry from the given searchers.
func NewRegistry(searchers ...Searcher) *Registry {
	engines := make(map[string]Searcher, len(searchers))
	for _, s := range searchers {
		if s.Name() != "" {
			engines[s.Name()] = s
		}
	}
	return &Registry{engines: engines}
}

// For resolves an engine by name, falling back to the noop searcher.
func (r *Registry) For(name string) Searcher {
	if s, ok := r.engines[strings.ToLower(strings.TrimSpace(name))]; ok {
		return s
	}
	return Noop{}
}

// Preamble renders search snippets as a system-message block prepended to
// the chat context. Empty when nothing was found.
func Preamble(snippets []models.SearchSnippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("The following web search results may help answer the user. Cite them only when relevant.\n")
	for _, s := range snippets {
		b.WriteString("\n")
		b.WriteString(s.Title)
		if s.URL != "" {
			b.WriteString(" (")
			b.WriteString(s.URL)
			b.WriteString(")")
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(s.Content))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
