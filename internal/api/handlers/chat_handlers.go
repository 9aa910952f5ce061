package handlers

import (
	"net/http"

	"github.com/linguo5/AingDesk/internal/chat"
	"github.com/linguo5/AingDesk/pkg/models"
)

type contextRequest struct {
	ContextID string `json:"context_id"`
}

// GetChatList returns all conversations, newest first.
func (h *Handlers) GetChatList(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Engine.Store().List()
	if err != nil {
		h.respondError(w, err)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	h.respondOK(w, convs)
}

// CreateChat starts an empty conversation.
func (h *Handlers) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title        string `json:"title"`
		Model        string `json:"model"`
		Parameters   string `json:"parameters"`
		SupplierName string `json:"supplierName"`
	}
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	conv, err := h.Engine.Store().Create(chat.DeriveTitle(req.Title), req.Model, req.Parameters, req.SupplierName)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, conv)
}

// GetChatInfo returns a conversation's config plus its full history.
func (h *Handlers) GetChatInfo(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	conv, err := h.Engine.Store().Get(req.ContextID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	history, err := h.Engine.Store().History(req.ContextID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if history == nil {
		history = []models.TurnEntry{}
	}
	h.respondOK(w, map[string]any{"config": conv, "history": history})
}

// GetLastChatHistory returns the trailing turn pair.
func (h *Handlers) GetLastChatHistory(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	history, err := h.Engine.Store().History(req.ContextID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if len(history) > 2 {
		history = history[len(history)-2:]
	}
	h.respondOK(w, history)
}

// RemoveChat deletes a conversation with its history.
func (h *Handlers) RemoveChat(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	h.Engine.StopGenerate(req.ContextID)
	if err := h.Engine.Store().Remove(req.ContextID); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}

// ModifyChatTitle renames a conversation.
func (h *Handlers) ModifyChatTitle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContextID string `json:"context_id"`
		Title     string `json:"title"`
	}
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.Engine.Store().SetTitle(req.ContextID, req.Title); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}

// GetModelList flattens enabled chat-capable models across suppliers for
// the model picker.
func (h *Handlers) GetModelList(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.Registry.ListSuppliers()
	if err != nil {
		h.respondError(w, err)
		return
	}
	type pickerModel struct {
		SupplierName string   `json:"supplierName"`
		Model        string   `json:"model"`
		Title        string   `json:"title"`
		Parameters   string   `json:"parameters"`
		Capabilities []string `json:"capability"`
	}
	out := []pickerModel{}
	for _, s := range suppliers {
		if !s.Enabled {
			continue
		}
		for _, m := range s.Models {
			if !m.Enabled || !m.HasCapability(models.CapChat) {
				continue
			}
			out = append(out, pickerModel{
				SupplierName: s.Name,
				Model:        m.Name,
				Title:        m.Title,
				Parameters:   m.Parameters,
				Capabilities: m.Capabilities,
			})
		}
	}
	h.respondOK(w, out)
}

// Chat is the streaming generation endpoint. It is the only route that
// answers with a chunked text/plain body instead of the JSON envelope.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.Engine.Chat(r.Context(), w, req); err != nil {
		h.respondError(w, err)
	}
}

// StopGenerate cancels a conversation's in-flight generation. Idempotent.
func (h *Handlers) StopGenerate(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	h.Engine.StopGenerate(req.ContextID)
	h.respondOK(w, nil)
}
