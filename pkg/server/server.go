// Package server provides the public entry point for initializing the
// AingDesk backend daemon: the object store, the supplier registry, the
// knowledge pipeline with its parse worker, the chat engine, the local
// runtime supervisor, and the HTTP surface on top of them.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(srv.Addr, srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/linguo5/AingDesk/internal/api"
	"github.com/linguo5/AingDesk/internal/api/handlers"
	"github.com/linguo5/AingDesk/internal/chat"
	"github.com/linguo5/AingDesk/internal/config"
	"github.com/linguo5/AingDesk/internal/i18n"
	"github.com/linguo5/AingDesk/internal/manager"
	"github.com/linguo5/AingDesk/internal/objstore"
	"github.com/linguo5/AingDesk/internal/rag"
	"github.com/linguo5/AingDesk/internal/share"
	"github.com/linguo5/AingDesk/internal/supplier"
	"github.com/linguo5/AingDesk/internal/telemetry"
	"github.com/linguo5/AingDesk/internal/vectorindex"
	"github.com/linguo5/AingDesk/internal/websearch"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized backend daemon.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Addr is the loopback address the daemon should listen on.
	Addr string

	// Config is the resolved configuration.
	Config *config.Config

	// ShutdownFunc stops background work (parse worker, runtime process)
	// and flushes telemetry. Call it on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the daemon with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	telemetryShutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	obj, err := objstore.New(cfg.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("open data root: %w", err)
	}
	log.Info().Str("root", obj.Root()).Msg("Object store opened")

	msgs := i18n.New(obj)

	reg := supplier.NewRegistry(obj)
	if err := reg.EnsureLocal(cfg.Runtime.Endpoint); err != nil {
		return nil, fmt.Errorf("seed local supplier: %w", err)
	}

	vec := vectorindex.NewStore(obj)
	if err := vec.SwitchToCosineIndex(); err != nil {
		return nil, fmt.Errorf("check vector layout: %w", err)
	}

	ragSvc := rag.NewService(obj, reg, vec, cfg.RAG, cfg.Chat.UpstreamTimeout)

	chats := chat.NewStore(obj)
	engine := chat.NewEngine(chats, reg, ragSvc, websearch.NewRegistry(), msgs, cfg.Chat)

	runtime := manager.NewRuntime(cfg.Runtime.Endpoint, cfg.DataRoot)
	mgr := manager.NewManager(runtime, reg, cfg.Runtime.Mirrors)

	shares := share.NewService(obj, chats)

	// Background work: the parse worker and the local runtime. The worker
	// context outlives individual requests and ends at shutdown.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	go ragSvc.RunWorker(workerCtx)

	if err := runtime.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("Local runtime failed to start, model installs will report it")
	}
	if err := mgr.Sync(ctx); err != nil {
		log.Warn().Err(err).Msg("Could not sync installed models from the runtime")
	}

	h := handlers.New(cfg, engine, reg, ragSvc, mgr, shares, msgs)
	router := api.NewRouter(h)

	shutdown := func(ctx context.Context) error {
		stopWorker()
		runtime.Stop()
		return telemetryShutdown(ctx)
	}

	return &Server{
		Handler:      router,
		Addr:         cfg.BindAddr,
		Config:       cfg,
		ShutdownFunc: shutdown,
	}, nil
}
