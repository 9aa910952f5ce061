// Package objstore persists JSON documents under a rooted data directory.
// It is the single owner of the on-disk layout; every other subsystem is a
// façade over it.
//
// Writes go through a temp file in the target directory followed by a
// rename, so readers observe either the pre-write or post-write snapshot,
// never a partial document. Corrupt or empty files read as absent, which
// lets startup tolerate partial writes from prior crashes.
package objstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/rs/zerolog/log"
)

// Store is a single-writer-per-file JSON object store.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per relative path
}

// New creates a store rooted at dir, creating it if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errs.New(errs.InvalidRequest, "data root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "create data root %s", root)
	}
	return &Store{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the absolute data root path.
func (s *Store) Root() string { return s.root }

// Path resolves a relative document path to an absolute one. Paths escaping
// the root are collapsed back into it.
func (s *Store) Path(rel string) string {
	clean := filepath.Clean("/" + filepath.FromSlash(rel))
	return filepath.Join(s.root, clean)
}

func (s *Store) lock(rel string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[rel]
	if !ok {
		l = &sync.Mutex{}
		s.locks[rel] = l
	}
	return l
}

// Read decodes the document at rel into v. It returns false when the file
// is missing, empty, or corrupt; the caller sees an empty value either way.
func (s *Store) Read(rel string, v any) (bool, error) {
	data, err := os.ReadFile(s.Path(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.Wrap(errs.StorageFailure, err, "read %s", rel)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Str("path", rel).Err(err).Msg("Corrupt document, treating as empty")
		return false, nil
	}
	return true, nil
}

// Write marshals v and atomically replaces the document at rel.
func (s *Store) Write(rel string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Internal, err, "marshal %s", rel)
	}

	l := s.lock(rel)
	l.Lock()
	defer l.Unlock()

	abs := s.Path(rel)
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.StorageFailure, err, "create dir for %s", rel)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(abs)+".*")
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "create temp for %s", rel)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.StorageFailure, err, "write temp for %s", rel)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.StorageFailure, err, "sync temp for %s", rel)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.StorageFailure, err, "close temp for %s", rel)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.StorageFailure, err, "rename into %s", rel)
	}
	return nil
}

// List returns the entry names of a directory, sorted, skipping temp files.
// A missing directory lists as empty.
func (s *Store) List(rel string) ([]string, error) {
	entries, err := os.ReadDir(s.Path(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.StorageFailure, err, "list %s", rel)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes a single document. Missing documents remove cleanly.
func (s *Store) Remove(rel string) error {
	l := s.lock(rel)
	l.Lock()
	defer l.Unlock()
	if err := os.Remove(s.Path(rel)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.StorageFailure, err, "remove %s", rel)
	}
	return nil
}

// RemoveTree deletes a directory recursively.
func (s *Store) RemoveTree(rel string) error {
	abs := s.Path(rel)
	if abs == s.root {
		return errs.New(errs.InvalidRequest, "refusing to remove data root")
	}
	if err := os.RemoveAll(abs); err != nil {
		return errs.Wrap(errs.StorageFailure, err, "remove tree %s", rel)
	}
	return nil
}

// ── Raw access (vector files) ───────────────────────────────

// Append appends raw bytes to the file at rel, creating it if needed.
func (s *Store) Append(rel string, data []byte) error {
	l := s.lock(rel)
	l.Lock()
	defer l.Unlock()

	abs := s.Path(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errs.Wrap(errs.StorageFailure, err, "create dir for %s", rel)
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "open %s", rel)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return errs.Wrap(errs.StorageFailure, err, "append %s", rel)
	}
	return nil
}

// ReadRaw returns the raw bytes of the file at rel; missing reads as empty.
func (s *Store) ReadRaw(rel string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.StorageFailure, err, "read %s", rel)
	}
	return data, nil
}

// WriteRaw atomically replaces the file at rel with raw bytes.
func (s *Store) WriteRaw(rel string, data []byte) error {
	l := s.lock(rel)
	l.Lock()
	defer l.Unlock()

	abs := s.Path(rel)
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.StorageFailure, err, "create dir for %s", rel)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(abs)+".*")
	if err != nil {
		return errs.Wrap(errs.StorageFailure, err, "create temp for %s", rel)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.StorageFailure, err, "write temp for %s", rel)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.StorageFailure, err, "close temp for %s", rel)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.StorageFailure, err, "rename into %s", rel)
	}
	return nil
}

// Exists reports whether a document or directory exists at rel.
func (s *Store) Exists(rel string) bool {
	_, err := os.Stat(s.Path(rel))
	return err == nil
}

// String implements fmt.Stringer for log fields.
func (s *Store) String() string { return fmt.Sprintf("objstore(%s)", s.root) }
