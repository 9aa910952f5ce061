package objstore_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/linguo5/AingDesk/internal/objstore"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *objstore.Store {
	t.Helper()
	s, err := objstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := newTestStore(t)

	if err := s.Write("context/c1/config.json", doc{Name: "hello", Count: 3}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var got doc
	ok, err := s.Read("context/c1/config.json", &got)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !ok {
		t.Fatal("Read() ok = false, want true")
	}
	if got.Name != "hello" || got.Count != 3 {
		t.Errorf("Read() = %+v, want {hello 3}", got)
	}
}

func TestReadMissing(t *testing.T) {
	s := newTestStore(t)

	var got doc
	ok, err := s.Read("nope/missing.json", &got)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if ok {
		t.Error("Read() on missing file ok = true, want false")
	}
}

func TestReadCorruptIsEmpty(t *testing.T) {
	s := newTestStore(t)

	// Simulate a partial write from a prior crash.
	path := s.Path("context/c1/history.json")
	os.MkdirAll(filepath.Dir(path), 0o755)
	if err := os.WriteFile(path, []byte(`[{"id":"a","role":`), 0o644); err != nil {
		t.Fatal(err)
	}

	var got []doc
	ok, err := s.Read("context/c1/history.json", &got)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if ok {
		t.Error("Read() on corrupt file ok = true, want false")
	}
}

func TestReadEmptyIsEmpty(t *testing.T) {
	s := newTestStore(t)

	path := s.Path("suppliers/empty.json")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, nil, 0o644)

	var got doc
	ok, _ := s.Read("suppliers/empty.json", &got)
	if ok {
		t.Error("Read() on empty file ok = true, want false")
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t)

	s.Write("suppliers/b.json", doc{Name: "b"})
	s.Write("suppliers/a.json", doc{Name: "a"})

	names, err := s.List("suppliers")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 2 || names[0] != "a.json" || names[1] != "b.json" {
		t.Errorf("List() = %v, want [a.json b.json]", names)
	}

	names, err = s.List("does-not-exist")
	if err != nil {
		t.Fatalf("List() missing dir error = %v", err)
	}
	if len(names) != 0 {
		t.Errorf("List() missing dir = %v, want empty", names)
	}
}

func TestRemoveTree(t *testing.T) {
	s := newTestStore(t)

	s.Write("rag/kb1/manifest.json", doc{Name: "kb1"})
	s.Write("rag/kb1/docs/d1.meta", doc{Name: "d1"})

	if err := s.RemoveTree("rag/kb1"); err != nil {
		t.Fatalf("RemoveTree() error = %v", err)
	}
	if s.Exists("rag/kb1") {
		t.Error("RemoveTree() left directory behind")
	}
}

// TestConcurrentWritersNoTornReads hammers one file with concurrent writers
// while readers decode it. Every successful read must be a complete document
// because writes rename over a temp file.
func TestConcurrentWritersNoTornReads(t *testing.T) {
	s := newTestStore(t)
	const rel = "context/torture/history.json"

	if err := s.Write(rel, doc{Name: "seed", Count: 0}); err != nil {
		t.Fatal(err)
	}

	var writers, readers sync.WaitGroup
	stop := make(chan struct{})

	for w := 0; w < 4; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < 200; i++ {
				s.Write(rel, doc{Name: "writer", Count: w*1000 + i})
			}
		}(w)
	}

	var readMu sync.Mutex
	var readErr error
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				raw, err := os.ReadFile(s.Path(rel))
				if err != nil || len(raw) == 0 {
					continue
				}
				var got doc
				if err := json.Unmarshal(raw, &got); err != nil {
					readMu.Lock()
					readErr = err
					readMu.Unlock()
					return
				}
			}
		}()
	}

	writers.Wait()
	close(stop)
	readers.Wait()

	if readErr != nil {
		t.Fatalf("reader observed a partial document: %v", readErr)
	}
}
