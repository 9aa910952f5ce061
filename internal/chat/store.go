// Package chat implements conversations: the persisted session store with
// its turn-log semantics, and the streaming engine that drives inference,
// augmentation, and persistence for POST /chat/chat.
package chat

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/internal/objstore"
	"github.com/linguo5/AingDesk/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	contextDir  = "context"
	configFile  = "config.json"
	historyFile = "history.json"

	// titleRunes caps auto-derived conversation titles.
	titleRunes = 18
)

// Store persists conversations under context/<context_id>/: config.json
// for the session config and history.json for the full turn log.
type Store struct {
	obj *objstore.Store
}

// NewStore creates the conversation store.
func NewStore(obj *objstore.Store) *Store {
	return &Store{obj: obj}
}

func configPath(id string) string  { return contextDir + "/" + id + "/" + configFile }
func historyPath(id string) string { return contextDir + "/" + id + "/" + historyFile }

// DeriveTitle trims a first user message into a conversation title.
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) > titleRunes {
		return string(runes[:titleRunes])
	}
	if content == "" {
		return "New chat"
	}
	return content
}

// Create starts a conversation. An empty title is derived later from the
// first user message.
func (s *Store) Create(title, model, parameters, supplierName string) (*models.Conversation, error) {
	conv := &models.Conversation{
		ContextID:    uuid.NewString(),
		Title:        title,
		Model:        model,
		Parameters:   parameters,
		SupplierName: supplierName,
		CreateTime:   time.Now().Unix(),
	}
	conv.ContextPath = s.obj.Path(contextDir + "/" + conv.ContextID)
	if err := s.obj.Write(configPath(conv.ContextID), conv); err != nil {
		return nil, err
	}
	log.Info().Str("context", conv.ContextID).Str("model", model).Msg("Conversation created")
	return conv, nil
}

// Get loads a conversation's config.
func (s *Store) Get(contextID string) (*models.Conversation, error) {
	var conv models.Conversation
	ok, err := s.obj.Read(configPath(contextID), &conv)
	if err != nil {
		return nil, err
	}
	if !ok || conv.ContextID == "" {
		return nil, errs.New(errs.NotFound, "conversation %q not found", contextID)
	}
	return &conv, nil
}

// List returns all conversations, newest first.
func (s *Store) List() ([]models.Conversation, error) {
	ids, err := s.obj.List(contextDir)
	if err != nil {
		return nil, err
	}
	out := make([]models.Conversation, 0, len(ids))
	for _, id := range ids {
		var conv models.Conversation
		ok, err := s.obj.Read(configPath(id), &conv)
		if err != nil {
			return nil, err
		}
		if ok && conv.ContextID != "" {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreateTime != out[j].CreateTime {
			return out[i].CreateTime > out[j].CreateTime
		}
		return out[i].ContextID < out[j].ContextID
	})
	return out, nil
}

// Remove deletes a conversation with its history.
func (s *Store) Remove(contextID string) error {
	if _, err := s.Get(contextID); err != nil {
		return err
	}
	return s.obj.RemoveTree(contextDir + "/" + contextID)
}

// SetTitle renames a conversation.
func (s *Store) SetTitle(contextID, title string) error {
	conv, err := s.Get(contextID)
	if err != nil {
		return err
	}
	conv.Title = strings.TrimSpace(title)
	return s.obj.Write(configPath(contextID), conv)
}

// Update persists config changes (model switches mid-conversation).
func (s *Store) Update(conv *models.Conversation) error {
	if _, err := s.Get(conv.ContextID); err != nil {
		return err
	}
	return s.obj.Write(configPath(conv.ContextID), conv)
}

// History returns the conversation's full turn log in order.
func (s *Store) History(contextID string) ([]models.TurnEntry, error) {
	if _, err := s.Get(contextID); err != nil {
		return nil, err
	}
	var entries []models.TurnEntry
	if _, err := s.obj.Read(historyPath(contextID), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// AppendTurns appends entries to the turn log.
func (s *Store) AppendTurns(contextID string, entries ...models.TurnEntry) error {
	history, err := s.History(contextID)
	if err != nil {
		return err
	}
	history = append(history, entries...)
	return s.obj.Write(historyPath(contextID), history)
}

// TruncateAt drops the entry with the given ID and everything after it.
// Matching an assistant entry also drops the user entry that opened the
// turn, so regeneration always rewrites whole pairs and the log keeps
// alternating roles.
func (s *Store) TruncateAt(contextID, entryID string) error {
	history, err := s.History(contextID)
	if err != nil {
		return err
	}
	for i, e := range history {
		if e.ID != entryID {
			continue
		}
		if e.Role == models.RoleAssistant && i > 0 && history[i-1].Role == models.RoleUser {
			i--
		}
		return s.obj.Write(historyPath(contextID), history[:i])
	}
	return errs.New(errs.NotFound, "entry %q not found in conversation %q", entryID, contextID)
}

// NewTurnEntry builds a turn log entry with identity and timestamps filled
// in. Tokens is the character count, the deliberate coarse proxy the
// context budget is defined over.
func NewTurnEntry(role, content string) models.TurnEntry {
	now := time.Now()
	return models.TurnEntry{
		ID:         uuid.NewString(),
		Role:       role,
		Content:    content,
		CreateTime: now.Unix(),
		CreatedAt:  now.Format("2006-01-02 15:04:05"),
		Tokens:     len(content),
	}
}

// AssembleContext selects history for the inference call under a character
// budget of half the context length. Whole entries drop oldest-first; the
// current user message is always included even when it alone exceeds the
// budget.
func AssembleContext(history []models.TurnEntry, current string, contextLength int) []models.ChatMessage {
	budget := contextLength / 2
	spent := len(current)

	keepFrom := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := len(history[i].Content)
		if spent+cost > budget {
			break
		}
		spent += cost
		keepFrom = i
	}

	out := make([]models.ChatMessage, 0, len(history)-keepFrom+1)
	for _, e := range history[keepFrom:] {
		out = append(out, models.ChatMessage{Role: e.Role, Content: e.Content})
	}
	out = append(out, models.ChatMessage{Role: models.RoleUser, Content: current})
	return out
}
