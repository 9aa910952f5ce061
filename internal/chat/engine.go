package chat

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/linguo5/AingDesk/internal/config"
	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/internal/i18n"
	"github.com/linguo5/AingDesk/internal/llm"
	"github.com/linguo5/AingDesk/internal/rag"
	"github.com/linguo5/AingDesk/internal/supplier"
	"github.com/linguo5/AingDesk/internal/websearch"
	"github.com/linguo5/AingDesk/pkg/models"
	"github.com/rs/zerolog/log"
)

const searchSnippetLimit = 5

// Engine drives POST /chat/chat: it resolves the model, assembles the
// context with search and knowledge-base augmentation, streams the
// completion to the client, and persists the finished turn pair. One
// generation runs per conversation; a newer request cancels the older one.
type Engine struct {
	store  *Store
	reg    *supplier.Registry
	rag    *rag.Service
	search *websearch.Registry
	msgs   *i18n.Catalog
	cfg    config.ChatConfig

	mu       sync.Mutex
	inflight map[string]*generation

	// newStreamer is swapped in tests.
	newStreamer func(*models.Supplier, time.Duration) llm.Streamer
}

// NewEngine wires the chat path together.
func NewEngine(store *Store, reg *supplier.Registry, ragSvc *rag.Service, search *websearch.Registry, msgs *i18n.Catalog, cfg config.ChatConfig) *Engine {
	if cfg.ContextLength <= 0 {
		cfg.ContextLength = 8192
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 2 * time.Minute
	}
	return &Engine{
		store:    store,
		reg:      reg,
		rag:      ragSvc,
		search:   search,
		msgs:     msgs,
		cfg:      cfg,
		inflight: make(map[string]*generation),
		newStreamer: func(s *models.Supplier, timeout time.Duration) llm.Streamer {
			return llm.ForSupplier(s, timeout)
		},
	}
}

// Store exposes the underlying conversation store for the session handlers.
func (e *Engine) Store() *Store { return e.store }

// Chat handles one generation request. Errors returned before any byte is
// streamed map to the JSON envelope; once streaming starts, failures are
// finalized into the stream itself and nil is returned.
func (e *Engine) Chat(ctx context.Context, w http.ResponseWriter, req models.ChatRequest) error {
	if strings.TrimSpace(req.UserContent) == "" {
		return errs.New(errs.InvalidRequest, "user_content is required")
	}
	if req.SupplierName == "" {
		req.SupplierName = models.LocalSupplierName
	}

	sup, err := e.reg.ResolveChatModel(req.SupplierName, req.Model)
	if err != nil {
		return err
	}

	conv, err := e.resolveConversation(&req)
	if err != nil {
		return err
	}

	if req.RegenerateID != "" && !req.TempChat {
		if err := e.store.TruncateAt(conv.ContextID, req.RegenerateID); err != nil {
			return err
		}
	}

	var history []models.TurnEntry
	if !req.TempChat {
		if history, err = e.store.History(conv.ContextID); err != nil {
			return err
		}
	}

	// Augmentation failures degrade to a plain chat rather than failing the
	// request.
	snippets := e.runSearch(ctx, req)
	hits := e.runRetrieve(ctx, req)

	messages := e.assemble(history, req.UserContent, snippets, hits)

	genCtx, cancel := context.WithCancel(ctx)
	gen := &generation{cancel: cancel}
	e.replaceInflight(conv.ContextID, gen)
	defer e.clearInflight(conv.ContextID, gen)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	// The client may have sent an empty context_id; the header tells it
	// which conversation the implicit create landed on.
	w.Header().Set("X-Context-Id", conv.ContextID)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	streamer := e.newStreamer(sup, e.cfg.UpstreamTimeout)
	started := time.Now()
	result, streamErr := streamer.Stream(genCtx, llm.Request{Model: req.Model, Messages: messages}, func(d llm.Delta) error {
		// Reasoning streams ahead of content; write failures mean the
		// client went away, and generation continues so the turn still
		// persists server-side.
		if d.Reasoning != "" {
			io.WriteString(w, d.Reasoning)
		}
		if d.Content != "" {
			io.WriteString(w, d.Content)
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if result == nil {
		result = &llm.Result{Stat: map[string]any{"model": req.Model}}
	}

	content := result.Content
	if streamErr != nil {
		token := e.interruptionToken(streamErr)
		content += token
		io.WriteString(w, token)
		if flusher != nil {
			flusher.Flush()
		}
		log.Warn().Err(streamErr).Str("context", conv.ContextID).Msg("Generation interrupted")
	}

	if !req.TempChat {
		e.persistTurn(conv, req, content, result, snippets)
	}
	log.Info().
		Str("context", conv.ContextID).
		Str("model", req.Model).
		Dur("elapsed", time.Since(started)).
		Bool("interrupted", streamErr != nil).
		Msg("Generation finished")
	return nil
}

// StopGenerate cancels the in-flight generation of a conversation. A
// conversation with nothing running is a no-op.
func (e *Engine) StopGenerate(contextID string) {
	e.mu.Lock()
	gen, ok := e.inflight[contextID]
	if ok {
		delete(e.inflight, contextID)
	}
	e.mu.Unlock()
	if ok {
		gen.cancel()
		log.Info().Str("context", contextID).Msg("Generation stopped by request")
	}
}

// ── Internals ───────────────────────────────────────────────

func (e *Engine) resolveConversation(req *models.ChatRequest) (*models.Conversation, error) {
	if req.TempChat {
		// Temporary chats never touch disk; a synthetic conversation keys
		// the in-flight registry.
		if req.ContextID == "" {
			req.ContextID = "temp"
		}
		return &models.Conversation{
			ContextID:    req.ContextID,
			Model:        req.Model,
			Parameters:   req.Parameters,
			SupplierName: req.SupplierName,
		}, nil
	}
	if req.ContextID == "" {
		conv, err := e.store.Create(DeriveTitle(req.UserContent), req.Model, req.Parameters, req.SupplierName)
		if err != nil {
			return nil, err
		}
		req.ContextID = conv.ContextID
		return conv, nil
	}
	conv, err := e.store.Get(req.ContextID)
	if err != nil {
		return nil, err
	}
	if conv.Model != req.Model || conv.SupplierName != req.SupplierName || conv.Parameters != req.Parameters {
		conv.Model = req.Model
		conv.SupplierName = req.SupplierName
		conv.Parameters = req.Parameters
		if err := e.store.Update(conv); err != nil {
			return nil, err
		}
	}
	return conv, nil
}

func (e *Engine) runSearch(ctx context.Context, req models.ChatRequest) []models.SearchSnippet {
	if req.Search == "" {
		return nil
	}
	snippets, err := e.search.For(req.Search).Search(ctx, req.UserContent, searchSnippetLimit)
	if err != nil {
		log.Warn().Err(err).Str("engine", req.Search).Msg("Web search failed, continuing without")
		return nil
	}
	return snippets
}

func (e *Engine) runRetrieve(ctx context.Context, req models.ChatRequest) []rag.Hit {
	if len(req.RAGList) == 0 {
		return nil
	}
	hits, err := e.rag.Retrieve(ctx, req.RAGList, req.UserContent)
	if err != nil {
		log.Warn().Err(err).Strs("bases", req.RAGList).Msg("Retrieval failed, continuing without")
		return nil
	}
	return hits
}

// assemble prepends augmentation preambles as system messages ahead of the
// budgeted history window.
func (e *Engine) assemble(history []models.TurnEntry, userContent string, snippets []models.SearchSnippet, hits []rag.Hit) []models.ChatMessage {
	var preambles []models.ChatMessage
	if p := rag.Preamble(hits); p != "" {
		preambles = append(preambles, models.ChatMessage{Role: models.RoleSystem, Content: p})
	}
	if p := websearch.Preamble(snippets); p != "" {
		preambles = append(preambles, models.ChatMessage{Role: models.RoleSystem, Content: p})
	}
	return append(preambles, AssembleContext(history, userContent, e.cfg.ContextLength)...)
}

// interruptionToken localizes the marker appended to a cut-off answer. The
// catalog strings carry their own leading newline.
func (e *Engine) interruptionToken(err error) string {
	if errs.KindOf(err) == errs.Canceled {
		return e.msgs.Interrupted()
	}
	return e.msgs.T("chat.stream_error")
}

func (e *Engine) persistTurn(conv *models.Conversation, req models.ChatRequest, content string, result *llm.Result, snippets []models.SearchSnippet) {
	userEntry := NewTurnEntry(models.RoleUser, req.UserContent)
	userEntry.DocFiles = req.DocFiles
	userEntry.Images = req.Images

	assistantEntry := NewTurnEntry(models.RoleAssistant, content)
	assistantEntry.Reasoning = result.Reasoning
	assistantEntry.Stat = result.Stat
	if len(snippets) > 0 {
		assistantEntry.SearchResult = snippets
		assistantEntry.SearchType = req.Search
		assistantEntry.SearchQuery = req.UserContent
	}

	if err := e.store.AppendTurns(conv.ContextID, userEntry, assistantEntry); err != nil {
		log.Error().Err(err).Str("context", conv.ContextID).Msg("Failed to persist turn pair")
	}
}

// generation tokens one running chat; the pointer identity tells whether a
// registry slot still belongs to this request or was replaced.
type generation struct {
	cancel context.CancelFunc
}

func (e *Engine) replaceInflight(contextID string, gen *generation) {
	e.mu.Lock()
	prev, ok := e.inflight[contextID]
	e.inflight[contextID] = gen
	e.mu.Unlock()
	if ok {
		prev.cancel()
	}
}

func (e *Engine) clearInflight(contextID string, gen *generation) {
	e.mu.Lock()
	if current, ok := e.inflight[contextID]; ok && current == gen {
		delete(e.inflight, contextID)
	}
	e.mu.Unlock()
	gen.cancel()
}
