// Package api wires the HTTP surface of the backend daemon.
package api

import (
	"net/http"

	"github.com/linguo5/AingDesk/internal/api/handlers"
	"github.com/linguo5/AingDesk/internal/api/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		// The desktop shell serves the UI from a local origin.
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Context-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/index", func(r chi.Router) {
		r.Get("/get_version", h.GetVersion)
		r.Post("/get_languages", h.GetLanguages)
		r.Post("/set_language", h.SetLanguage)
	})

	r.Route("/chat", func(r chi.Router) {
		r.Post("/get_chat_list", h.GetChatList)
		r.Post("/create_chat", h.CreateChat)
		r.Post("/get_chat_info", h.GetChatInfo)
		r.Post("/get_last_chat_history", h.GetLastChatHistory)
		r.Post("/remove_chat", h.RemoveChat)
		r.Post("/modify_chat_title", h.ModifyChatTitle)
		r.Post("/get_model_list", h.GetModelList)
		r.Post("/chat", h.Chat)
		r.Post("/stop_generate", h.StopGenerate)
	})

	r.Route("/manager", func(r chi.Router) {
		r.Post("/install_model", h.InstallModel)
		r.Post("/get_model_install_progress", h.GetModelInstallProgress)
		r.Post("/remove_model", h.RemoveModel)
		r.Post("/list_installed_models", h.ListInstalledModels)
		r.Post("/list_visible_models", h.ListVisibleModels)
		r.Post("/install_model_manager", h.InstallModelManager)
		r.Post("/get_model_manager_install_progress", h.GetModelManagerInstallProgress)
		r.Post("/reconnect_model_download", h.ReconnectModelDownload)
	})

	r.Route("/rag", func(r chi.Router) {
		r.Post("/create_rag", h.CreateRAG)
		r.Post("/modify_rag", h.ModifyRAG)
		r.Post("/remove_rag", h.RemoveRAG)
		r.Post("/get_rag_list", h.GetRAGList)
		r.Post("/upload_doc", h.UploadDoc)
		r.Post("/get_rag_doc_list", h.GetRAGDocList)
		r.Get("/get_doc_content", h.GetDocContent)
		r.Get("/remove_doc", h.RemoveDoc)
	})

	r.Route("/model", func(r chi.Router) {
		r.Post("/get_supplier_list", h.GetSupplierList)
		r.Post("/add_supplier", h.AddSupplier)
		r.Post("/remove_supplier", h.RemoveSupplier)
		r.Post("/set_supplier_status", h.SetSupplierStatus)
		r.Post("/get_supplier_config", h.GetSupplierConfig)
		r.Post("/set_supplier_config", h.SetSupplierConfig)
		r.Post("/check_supplier_config", h.CheckSupplierConfig)
		r.Post("/get_models_list", h.GetModelsList)
		r.Post("/add_models", h.AddModels)
		r.Post("/remove_models", h.RemoveModels)
		r.Post("/set_model_status", h.SetModelStatus)
		r.Post("/set_model_title", h.SetModelTitle)
		r.Post("/get_embedding_models", h.GetEmbeddingModels)
	})

	r.Route("/share", func(r chi.Router) {
		r.Post("/create_share", h.CreateShare)
		r.Post("/get_share_list", h.GetShareList)
		r.Post("/get_share_info", h.GetShareInfo)
		r.Post("/remove_share", h.RemoveShare)
	})

	return r
}
