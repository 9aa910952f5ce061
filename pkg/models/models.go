// Package models defines the shared data model for the AingDesk backend:
// conversations and turn entries, model suppliers, knowledge bases with
// their documents and chunks, and install jobs for the local runtime.
//
// Field tags follow the wire protocol the desktop front-end speaks, so the
// same structs serve both persistence and the HTTP API.
package models

import "encoding/json"

// ── Conversations ───────────────────────────────────────────

// Conversation is the persisted per-chat configuration, stored at
// context/<context_id>/config.json. History lives next to it.
type Conversation struct {
	ContextID    string `json:"context_id"`
	Title        string `json:"title"`
	Model        string `json:"model"`
	Parameters   string `json:"parameters"`
	SupplierName string `json:"supplierName"`
	CreateTime   int64  `json:"create_time"`
	ContextPath  string `json:"context_path"`
}

// Roles of turn entries. History alternates user, assistant starting at 0.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// SearchSnippet is one scored web-search result attached to a turn.
type SearchSnippet struct {
	Title   string  `json:"title"`
	URL     string  `json:"link"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// TurnEntry is a single entry of a conversation's history. Entries come in
// (user, assistant) pairs; assistant entries carry the streaming result and
// upstream statistics.
type TurnEntry struct {
	ID         string          `json:"id"`
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	Reasoning  string          `json:"reasoning,omitempty"`
	DocFiles   []string        `json:"doc_files,omitempty"`
	Images     []string        `json:"images,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	CreateTime int64           `json:"create_time"`
	CreatedAt  string          `json:"create_at"`

	// Tokens is len(Content): a deliberately coarse token proxy. The
	// context budget semantics depend on it staying character-based.
	Tokens int `json:"tokens"`

	// Stat is a free-form statistics map surfaced to the UI
	// (eval counts, durations, model name).
	Stat map[string]any `json:"stat,omitempty"`

	// Assistant-only search metadata.
	SearchResult []SearchSnippet `json:"search_result,omitempty"`
	SearchType   string          `json:"search_type,omitempty"`
	SearchQuery  string          `json:"search_query,omitempty"`
}

// ChatMessage is one assembled context message passed to the inference call.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /chat/chat.
type ChatRequest struct {
	Model        string   `json:"model"`
	Parameters   string   `json:"parameters"`
	ContextID    string   `json:"context_id"`
	SupplierName string   `json:"supplierName"`
	Search       string   `json:"search"`
	RAGList      []string `json:"rag_list"`
	TempChat     bool     `json:"temp_chat"`
	UserContent  string   `json:"user_content"`
	DocFiles     []string `json:"doc_files,omitempty"`
	Images       []string `json:"images,omitempty"`
	RegenerateID string   `json:"regenerate_id,omitempty"`
}

// ── Suppliers & models ──────────────────────────────────────

// LocalSupplierName is the reserved name of the managed local runtime
// supplier. Exactly one local supplier exists; it cannot be removed and its
// model list mirrors installed artifacts.
const LocalSupplierName = "local"

// Model capabilities.
const (
	CapChat      = "llm"
	CapEmbedding = "embedding"
	CapVision    = "vision"
	CapTools     = "tools"
)

// Model is one entry of a supplier's catalog. For the local supplier,
// Name:Parameters uniquely identifies an installed runtime artifact.
type Model struct {
	Name         string   `json:"model"`
	Title        string   `json:"title"`
	Parameters   string   `json:"parameters"`
	Capabilities []string `json:"capability"`
	Enabled      bool     `json:"status"`
}

// HasCapability reports whether the model advertises the capability.
func (m Model) HasCapability(cap string) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Supplier is a named model provider with credentials and a model catalog,
// stored at suppliers/<supplierName>.json.
type Supplier struct {
	Name    string  `json:"supplierName"`
	Title   string  `json:"supplierTitle"`
	HomeURL string  `json:"home,omitempty"`
	BaseURL string  `json:"baseUrl"`
	APIKey  string  `json:"apiKey"`
	Enabled bool    `json:"status"`
	Models  []Model `json:"models"`
}

// IsLocal reports whether this is the managed local runtime supplier.
func (s *Supplier) IsLocal() bool { return s.Name == LocalSupplierName }

// EmbeddingModelRef is a flat (supplier, model) reference to an
// embedding-capable model.
type EmbeddingModelRef struct {
	SupplierName string `json:"supplierName"`
	Model        string `json:"model"`
	Title        string `json:"title"`
}

// ── Knowledge bases ─────────────────────────────────────────

// KnowledgeBase is a named document collection sharing one embedding model.
// The name is the primary key; the manifest lives at rag/<name>/manifest.json.
type KnowledgeBase struct {
	Name              string `json:"ragName"`
	Description       string `json:"ragDesc"`
	EmbeddingSupplier string `json:"supplierName"`
	EmbeddingModel    string `json:"embeddingModel"`

	// Dimension is fixed by the first embedded chunk. All chunks in a base
	// share it; changing the embedding model once set is forbidden.
	Dimension  int   `json:"dimension,omitempty"`
	CreateTime int64 `json:"create_time"`
}

// Document parse states.
const (
	DocPending = "pending"
	DocParsing = "parsing"
	DocParsed  = "parsed"
	DocFailed  = "failed"
)

// Document is one ingested file of a knowledge base, stored at
// rag/<base>/docs/<id>.meta. Terminal states are parsed and failed.
type Document struct {
	ID         string `json:"doc_id"`
	FileName   string `json:"doc_name"`
	SourcePath string `json:"doc_file"`
	Status     string `json:"parsed_status"`
	ChunkCount int    `json:"chunk_count"`
	Abstract   string `json:"doc_abstract"`
	Reason     string `json:"parsed_reason,omitempty"`
	CreateTime int64  `json:"create_time"`
	UpdateTime int64  `json:"update_time"`
}

// ── Install jobs ────────────────────────────────────────────

// Install job states. States advance monotonically; done and failed are
// terminal and sticky.
const (
	JobQueued      = 0
	JobDownloading = 1
	JobInstalling  = 2
	JobDone        = 3
	JobFailed      = -1
)

// InstallJob is the ephemeral progress record of a model (or runtime
// manager) installation, polled by the client at 1 Hz.
type InstallJob struct {
	Model      string  `json:"model"`
	Parameters string  `json:"parameters,omitempty"`
	Status     int     `json:"status"`
	Progress   float64 `json:"progress"`
	Notice     string  `json:"notice,omitempty"`
	UpdateTime int64   `json:"update_time"`
}

// Terminal reports whether the job reached done or failed.
func (j *InstallJob) Terminal() bool {
	return j.Status == JobDone || j.Status == JobFailed
}

// ── Sharing (peripheral) ────────────────────────────────────

// Share is conversation sharing metadata persisted under share/<id>.json.
type Share struct {
	ID         string `json:"share_id"`
	ContextID  string `json:"context_id"`
	Title      string `json:"title"`
	CreateTime int64  `json:"create_time"`
}
