package handlers

import (
	"net/http"

	"github.com/linguo5/AingDesk/pkg/models"
)

type modelRequest struct {
	SupplierName string `json:"supplierName"`
	Model        string `json:"model"`
	Parameters   string `json:"parameters"`
	Title        string `json:"title"`
	Status       *bool  `json:"status"`
}

// GetSupplierList returns all suppliers, local first.
func (h *Handlers) GetSupplierList(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.Registry.ListSuppliers()
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, suppliers)
}

// AddSupplier registers an OpenAI-compatible supplier.
func (h *Handlers) AddSupplier(w http.ResponseWriter, r *http.Request) {
	var req models.Supplier
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	s, err := h.Registry.AddSupplier(req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, s)
}

// RemoveSupplier deletes a supplier and its catalog.
func (h *Handlers) RemoveSupplier(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.Registry.RemoveSupplier(req.SupplierName); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}

// SetSupplierStatus flips a supplier's enabled flag.
func (h *Handlers) SetSupplierStatus(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	enabled := req.Status != nil && *req.Status
	if err := h.Registry.SetSupplierStatus(req.SupplierName, enabled); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}

// GetSupplierConfig returns one supplier's configuration.
func (h *Handlers) GetSupplierConfig(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	s, err := h.Registry.GetSupplierConfig(req.SupplierName)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, s)
}

// SetSupplierConfig updates endpoint, credentials, and display metadata.
func (h *Handlers) SetSupplierConfig(w http.ResponseWriter, r *http.Request) {
	var req models.Supplier
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.Registry.SetSupplierConfig(req.Name, req); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}

// CheckSupplierConfig probes a supplier's endpoint without side effects.
func (h *Handlers) CheckSupplierConfig(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	result, err := h.Registry.CheckSupplierConfig(r.Context(), req.SupplierName)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, result)
}

// GetModelsList returns one supplier's model catalog.
func (h *Handlers) GetModelsList(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	catalog, err := h.Registry.ListModels(req.SupplierName)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if catalog == nil {
		catalog = []models.Model{}
	}
	h.respondOK(w, catalog)
}

// AddModels appends a model to a supplier's catalog.
func (h *Handlers) AddModels(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SupplierName string       `json:"supplierName"`
		Model        models.Model `json:"modelInfo"`
	}
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.Registry.AddModel(req.SupplierName, req.Model); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}

// RemoveModels deletes a model from a supplier's catalog.
func (h *Handlers) RemoveModels(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.Registry.RemoveModel(req.SupplierName, req.Model, req.Parameters); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}

// SetModelStatus flips a model's enabled flag.
func (h *Handlers) SetModelStatus(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	enabled := req.Status != nil && *req.Status
	if err := h.Registry.SetModelStatus(req.SupplierName, req.Model, req.Parameters, enabled); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}

// SetModelTitle renames a model in the picker.
func (h *Handlers) SetModelTitle(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.Registry.SetModelTitle(req.SupplierName, req.Model, req.Parameters, req.Title); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}

// GetEmbeddingModels flattens embedding-capable models across suppliers.
func (h *Handlers) GetEmbeddingModels(w http.ResponseWriter, r *http.Request) {
	refs, err := h.Registry.ListEmbeddingModels()
	if err != nil {
		h.respondError(w, err)
		return
	}
	if refs == nil {
		refs = []models.EmbeddingModelRef{}
	}
	h.respondOK(w, refs)
}
