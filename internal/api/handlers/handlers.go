// Package handlers implements the HTTP handlers for the AingDesk backend:
// chat streaming and session CRUD, the supplier registry, the RAG
// pipeline, the local model manager, localisation, and sharing.
package handlers

import (
	"net/http"

	"github.com/linguo5/AingDesk/internal/chat"
	"github.com/linguo5/AingDesk/internal/config"
	"github.com/linguo5/AingDesk/internal/i18n"
	"github.com/linguo5/AingDesk/internal/manager"
	"github.com/linguo5/AingDesk/internal/rag"
	"github.com/linguo5/AingDesk/internal/share"
	"github.com/linguo5/AingDesk/internal/supplier"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Cfg      *config.Config
	Engine   *chat.Engine
	Registry *supplier.Registry
	RAG      *rag.Service
	Manager  *manager.Manager
	Shares   *share.Service
	Msgs     *i18n.Catalog
}

// New creates a Handlers instance with all dependencies.
func New(cfg *config.Config, eng *chat.Engine, reg *supplier.Registry, ragSvc *rag.Service, mgr *manager.Manager, shares *share.Service, msgs *i18n.Catalog) *Handlers {
	return &Handlers{
		Cfg:      cfg,
		Engine:   eng,
		Registry: reg,
		RAG:      ragSvc,
		Manager:  mgr,
		Shares:   shares,
		Msgs:     msgs,
	}
}

// ── Index ───────────────────────────────────────────────────

func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	h.respondOK(w, map[string]string{"version": h.Cfg.Version})
}

func (h *Handlers) GetLanguages(w http.ResponseWriter, r *http.Request) {
	h.respondOK(w, map[string]any{
		"languages": h.Msgs.Languages(),
		"current":   h.Msgs.Language(),
	})
}

func (h *Handlers) SetLanguage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
	}
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.Msgs.SetLanguage(req.Language); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}
