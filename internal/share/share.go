// Package share manages conversation sharing metadata. Shares are
// pointers: removing one never touches the conversation it references.
package share

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/linguo5/AingDesk/internal/chat"
	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/internal/objstore"
	"github.com/linguo5/AingDesk/pkg/models"
)

const shareDir = "share"

// Service persists shares under share/<id>.json.
type Service struct {
	obj   *objstore.Store
	chats *chat.Store
}

// NewService creates the share service.
func NewService(obj *objstore.Store, chats *chat.Store) *Service {
	return &Service{obj: obj, chats: chats}
}

func sharePath(id string) string { return shareDir + "/" + id + ".json" }

// Create shares a conversation. The title defaults to the conversation's.
func (s *Service) Create(contextID, title string) (*models.Share, error) {
	conv, err := s.chats.Get(contextID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		title = conv.Title
	}
	sh := &models.Share{
		ID:         uuid.NewString(),
		ContextID:  contextID,
		Title:      title,
		CreateTime: time.Now().Unix(),
	}
	if err := s.obj.Write(sharePath(sh.ID), sh); err != nil {
		return nil, err
	}
	return sh, nil
}

// Get loads one share.
func (s *Service) Get(id string) (*models.Share, error) {
	var sh models.Share
	ok, err := s.obj.Read(sharePath(id), &sh)
	if err != nil {
		return nil, err
	}
	if !ok || sh.ID == "" {
		return nil, errs.New(errs.NotFound, "share %q not found", id)
	}
	return &sh, nil
}

// History returns the shared conversation's turn log.
func (s *Service) History(id string) ([]models.TurnEntry, error) {
	sh, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return s.chats.History(sh.ContextID)
}

// List returns all shares, newest first.
func (s *Service) List() ([]models.Share, error) {
	names, err := s.obj.List(shareDir)
	if err != nil {
		return nil, err
	}
	out := make([]models.Share, 0, len(names))
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		var sh models.Share
		ok, err := s.obj.Read(shareDir+"/"+name, &sh)
		if err != nil {
			return nil, err
		}
		if ok && sh.ID != "" {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreateTime != out[j].CreateTime {
			return out[i].CreateTime > out[j].CreateTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Remove deletes a share. The conversation stays.
func (s *Service) Remove(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.obj.Remove(sharePath(id))
}
