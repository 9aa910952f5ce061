package handlers

import (
	"net/http"

	"github.com/linguo5/AingDesk/pkg/models"
)

type shareRequest struct {
	ShareID   string `json:"share_id"`
	ContextID string `json:"context_id"`
	Title     string `json:"title"`
}

// CreateShare shares a conversation.
func (h *Handlers) CreateShare(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	sh, err := h.Shares.Create(req.ContextID, req.Title)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, sh)
}

// GetShareList returns all shares, newest first.
func (h *Handlers) GetShareList(w http.ResponseWriter, r *http.Request) {
	shares, err := h.Shares.List()
	if err != nil {
		h.respondError(w, err)
		return
	}
	if shares == nil {
		shares = []models.Share{}
	}
	h.respondOK(w, shares)
}

// GetShareInfo returns one share with the shared conversation's history.
func (h *Handlers) GetShareInfo(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	sh, err := h.Shares.Get(req.ShareID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	history, err := h.Shares.History(req.ShareID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if history == nil {
		history = []models.TurnEntry{}
	}
	h.respondOK(w, map[string]any{"share": sh, "history": history})
}

// RemoveShare deletes a share; the conversation is untouched.
func (h *Handlers) RemoveShare(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.Shares.Remove(req.ShareID); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}
