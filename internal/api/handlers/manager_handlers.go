package handlers

import (
	"net/http"

	"github.com/linguo5/AingDesk/pkg/models"
)

type managerRequest struct {
	Model      string `json:"model"`
	Parameters string `json:"parameters"`
}

// InstallModel starts a non-blocking model pull; the client polls progress
// at 1 Hz.
func (h *Handlers) InstallModel(w http.ResponseWriter, r *http.Request) {
	var req managerRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	job, err := h.Manager.InstallModel(req.Model, req.Parameters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, job)
}

// GetModelInstallProgress returns the install job for a model.
func (h *Handlers) GetModelInstallProgress(w http.ResponseWriter, r *http.Request) {
	var req managerRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	job, err := h.Manager.GetProgress(req.Model, req.Parameters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, job)
}

// RemoveModel uninstalls a local artifact and refreshes the local
// supplier's catalog.
func (h *Handlers) RemoveModel(w http.ResponseWriter, r *http.Request) {
	var req managerRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.Manager.RemoveModel(r.Context(), req.Model, req.Parameters); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, nil)
}

// ListInstalledModels returns the runtime's installed artifacts.
func (h *Handlers) ListInstalledModels(w http.ResponseWriter, r *http.Request) {
	installed, err := h.Manager.Runtime().ListInstalled(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if installed == nil {
		installed = []models.Model{}
	}
	h.respondOK(w, installed)
}

// ListVisibleModels returns the install picker catalog with install state
// merged in.
func (h *Handlers) ListVisibleModels(w http.ResponseWriter, r *http.Request) {
	h.respondOK(w, h.Manager.ListVisible(r.Context()))
}

// InstallModelManager bootstraps the local runtime itself from a download
// mirror.
func (h *Handlers) InstallModelManager(w http.ResponseWriter, r *http.Request) {
	job, err := h.Manager.InstallRuntime()
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, job)
}

// GetModelManagerInstallProgress returns the runtime install job.
func (h *Handlers) GetModelManagerInstallProgress(w http.ResponseWriter, r *http.Request) {
	job, err := h.Manager.RuntimeProgress()
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, job)
}

// ReconnectModelDownload retries a broken download: a model pull when a
// model is named, the runtime download (rotating mirrors) otherwise.
func (h *Handlers) ReconnectModelDownload(w http.ResponseWriter, r *http.Request) {
	var req managerRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	var (
		job models.InstallJob
		err error
	)
	if req.Model != "" {
		job, err = h.Manager.ReconnectDownload(req.Model, req.Parameters)
	} else {
		job, err = h.Manager.ReconnectRuntimeDownload()
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondOK(w, job)
}
