package handlers

import (
	"net/http"
	"strings"

	"github.com/linguo5/AingDesk/pkg/models"
)

type ragRequest struct {
	RAGName        string   `json:"ragName"`
	RAGDesc        string   `json:"ragDesc"`
	SupplierName   string   `json:"supplierName"`
	EmbeddingModel string   `json:"embeddingModel"`
	FilePaths      []string `json:"filePaths"`
}

// CreateRAG creates a knowledge base bound to an embedding model.
func (h *Handlers) CreateRAG(w http.ResponseWriter, r *http.Request) {
	var req ragRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	kb, err := h.RAG.CreateRAG(models.KnowledgeBase{
		Name:              req.RAGName,
		Description:       req.RAGDesc,
		EmbeddingSupplier: req.SupplierName,
		EmbeddingModel:    req.EmbeddingModel,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, kb)
}

// ModifyRAG updates a base's description and, while empty, its embedding
// binding.
func (h *Handlers) ModifyRAG(w http.ResponseWriter, r *http.Request) {
	var req ragRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.RAG.ModifyRAG(req.RAGName, req.RAGDesc, req.SupplierName, req.EmbeddingModel); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}

// RemoveRAG deletes a base with all its documents and vectors.
func (h *Handlers) RemoveRAG(w http.ResponseWriter, r *http.Request) {
	var req ragRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.RAG.RemoveRAG(req.RAGName); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}

// GetRAGList returns all knowledge bases.
func (h *Handlers) GetRAGList(w http.ResponseWriter, r *http.Request) {
	bases, err := h.RAG.ListRAG()
	if err != nil {
		h.respondError(w, err)
		return
	}
	if bases == nil {
		bases = []models.KnowledgeBase{}
	}
	h.respondOK(w, bases)
}

// UploadDoc queues files for background parsing.
func (h *Handlers) UploadDoc(w http.ResponseWriter, r *http.Request) {
	var req ragRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	docs, err := h.RAG.UploadDocs(req.RAGName, req.FilePaths)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, docs)
}

// GetRAGDocList returns a base's documents; the UI polls this while the
// parse worker runs.
func (h *Handlers) GetRAGDocList(w http.ResponseWriter, r *http.Request) {
	var req ragRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	docs, err := h.RAG.ListDocs(req.RAGName)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	h.respondOK(w, docs)
}

// GetDocContent returns a document's stored raw content. A GET endpoint so
// the front-end can link to it directly.
func (h *Handlers) GetDocContent(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("ragName")
	docID := r.URL.Query().Get("doc_id")
	content, err := h.RAG.GetDocContent(base, docID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, map[string]string{"content": content})
}

// RemoveDoc deletes documents with their chunks. Accepts a comma-separated
// doc_id list in the query string.
func (h *Handlers) RemoveDoc(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("ragName")
	ids := strings.Split(r.URL.Query().Get("doc_id"), ",")
	kept := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			kept = append(kept, id)
		}
	}
	if err := h.RAG.RemoveDocs(base, kept); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}
