package rag

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/linguo5/AingDesk/internal/config"
	"github.com/linguo5/AingDesk/internal/embeddings"
	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/internal/objstore"
	"github.com/linguo5/AingDesk/internal/supplier"
	"github.com/linguo5/AingDesk/internal/vectorindex"
	"github.com/linguo5/AingDesk/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	ragDir       = "rag"
	manifestFile = "manifest.json"
	docsDir      = "docs"
	sourceDir    = "source"
	metaSuffix   = ".meta"
)

// Service owns knowledge bases: their manifests, document metadata, raw
// document content, and the vector index built from them.
type Service struct {
	obj *objstore.Store
	reg *supplier.Registry
	vec *vectorindex.Store
	cfg config.RAGConfig

	embedTimeout time.Duration

	// wake nudges the parse worker; buffered so notifies never block.
	wake chan struct{}
}

// NewService wires the knowledge pipeline together.
func NewService(obj *objstore.Store, reg *supplier.Registry, vec *vectorindex.Store, cfg config.RAGConfig, embedTimeout time.Duration) *Service {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.PerBaseTopK <= 0 {
		cfg.PerBaseTopK = 4
	}
	if cfg.GlobalTopK <= 0 {
		cfg.GlobalTopK = 8
	}
	if embedTimeout <= 0 {
		embedTimeout = 2 * time.Minute
	}
	return &Service{
		obj:          obj,
		reg:          reg,
		vec:          vec,
		cfg:          cfg,
		embedTimeout: embedTimeout,
		wake:         make(chan struct{}, 1),
	}
}

func manifestPath(base string) string { return ragDir + "/" + base + "/" + manifestFile }
func metaPath(base, docID string) string {
	return ragDir + "/" + base + "/" + docsDir + "/" + docID + metaSuffix
}
func sourcePath(base, docID string) string {
	return ragDir + "/" + base + "/" + sourceDir + "/" + docID
}

func validBaseName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}

// ── Knowledge-base CRUD ─────────────────────────────────────

// CreateRAG creates a knowledge base bound to an embedding model.
func (s *Service) CreateRAG(kb models.KnowledgeBase) (*models.KnowledgeBase, error) {
	if !validBaseName(kb.Name) {
		return nil, errs.New(errs.InvalidRequest, "invalid knowledge base name %q", kb.Name)
	}
	if kb.EmbeddingSupplier == "" || kb.EmbeddingModel == "" {
		return nil, errs.New(errs.InvalidRequest, "embedding supplier and model are required")
	}
	if _, err := s.reg.GetSupplierConfig(kb.EmbeddingSupplier); err != nil {
		return nil, err
	}
	if s.obj.Exists(manifestPath(kb.Name)) {
		return nil, errs.New(errs.Conflict, "knowledge base %q already exists", kb.Name)
	}
	kb.Dimension = 0
	kb.CreateTime = time.Now().Unix()
	if err := s.obj.Write(manifestPath(kb.Name), &kb); err != nil {
		return nil, err
	}
	log.Info().Str("base", kb.Name).Str("model", kb.EmbeddingModel).Msg("Knowledge base created")
	return &kb, nil
}

// GetRAG loads a base's manifest.
func (s *Service) GetRAG(name string) (*models.KnowledgeBase, error) {
	if !validBaseName(name) {
		return nil, errs.New(errs.InvalidRequest, "invalid knowledge base name %q", name)
	}
	var kb models.KnowledgeBase
	ok, err := s.obj.Read(manifestPath(name), &kb)
	if err != nil {
		return nil, err
	}
	if !ok || kb.Name == "" {
		return nil, errs.New(errs.NotFound, "knowledge base %q not found", name)
	}
	return &kb, nil
}

// ListRAG returns all knowledge bases sorted by name.
func (s *Service) ListRAG() ([]models.KnowledgeBase, error) {
	names, err := s.obj.List(ragDir)
	if err != nil {
		return nil, err
	}
	out := make([]models.KnowledgeBase, 0, len(names))
	for _, name := range names {
		var kb models.KnowledgeBase
		ok, err := s.obj.Read(manifestPath(name), &kb)
		if err != nil {
			return nil, err
		}
		if ok && kb.Name != "" {
			out = append(out, kb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ModifyRAG updates a base's description. The embedding binding is frozen
// once any document exists; retrieval would silently mix vector spaces
// otherwise.
func (s *Service) ModifyRAG(name, description, embeddingSupplier, embeddingModel string) error {
	kb, err := s.GetRAG(name)
	if err != nil {
		return err
	}
	changesEmbedding := (embeddingSupplier != "" && embeddingSupplier != kb.EmbeddingSupplier) ||
		(embeddingModel != "" && embeddingModel != kb.EmbeddingModel)
	if changesEmbedding {
		docs, err := s.ListDocs(name)
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			return errs.New(errs.Conflict, "cannot change the embedding model of %q: documents already embedded", name)
		}
		if embeddingSupplier != "" {
			kb.EmbeddingSupplier = embeddingSupplier
		}
		if embeddingModel != "" {
			kb.EmbeddingModel = embeddingModel
		}
	}
	kb.Description = description
	return s.obj.Write(manifestPath(name), kb)
}

// RemoveRAG deletes a base with everything under it.
func (s *Service) RemoveRAG(name string) error {
	if _, err := s.GetRAG(name); err != nil {
		return err
	}
	if err := s.obj.RemoveTree(ragDir + "/" + name); err != nil {
		return err
	}
	s.vec.Drop(name)
	log.Info().Str("base", name).Msg("Knowledge base removed")
	return nil
}

// ── Documents ───────────────────────────────────────────────

// UploadDocs registers files for ingestion. Content is copied into the
// store immediately so parsing does not depend on the original path
// surviving; parsing itself happens in the background worker.
func (s *Service) UploadDocs(base string, paths []string) ([]models.Document, error) {
	if _, err := s.GetRAG(base); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errs.New(errs.InvalidRequest, "no files given")
	}
	now := time.Now().Unix()
	out := make([]models.Document, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return out, errs.Wrap(errs.InvalidRequest, err, "read %s", p)
		}
		doc := models.Document{
			ID:         uuid.NewString(),
			FileName:   filepath.Base(p),
			SourcePath: p,
			Status:     models.DocPending,
			CreateTime: now,
			UpdateTime: now,
		}
		if err := s.obj.WriteRaw(sourcePath(base, doc.ID), content); err != nil {
			return out, err
		}
		if err := s.obj.Write(metaPath(base, doc.ID), &doc); err != nil {
			return out, err
		}
		out = append(out, doc)
	}
	s.Notify()
	log.Info().Str("base", base).Int("docs", len(out)).Msg("Documents queued for parsing")
	return out, nil
}

// ListDocs returns a base's documents, oldest first, then by ID for stable
// order within one upload batch.
func (s *Service) ListDocs(base string) ([]models.Document, error) {
	names, err := s.obj.List(ragDir + "/" + base + "/" + docsDir)
	if err != nil {
		return nil, err
	}
	out := make([]models.Document, 0, len(names))
	for _, name := range names {
		if !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		var doc models.Document
		ok, err := s.obj.Read(ragDir+"/"+base+"/"+docsDir+"/"+name, &doc)
		if err != nil {
			return nil, err
		}
		if ok && doc.ID != "" {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreateTime != out[j].CreateTime {
			return out[i].CreateTime < out[j].CreateTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetDoc loads one document's metadata.
func (s *Service) GetDoc(base, docID string) (*models.Document, error) {
	var doc models.Document
	ok, err := s.obj.Read(metaPath(base, docID), &doc)
	if err != nil {
		return nil, err
	}
	if !ok || doc.ID == "" {
		return nil, errs.New(errs.NotFound, "document %q not found in %q", docID, base)
	}
	return &doc, nil
}

// GetDocContent returns the stored raw content of a document.
func (s *Service) GetDocContent(base, docID string) (string, error) {
	if _, err := s.GetDoc(base, docID); err != nil {
		return "", err
	}
	data, err := s.obj.ReadRaw(sourcePath(base, docID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RemoveDocs deletes documents with their chunks. Unknown IDs are skipped.
func (s *Service) RemoveDocs(base string, docIDs []string) error {
	if _, err := s.GetRAG(base); err != nil {
		return err
	}
	for _, id := range docIDs {
		if _, err := s.GetDoc(base, id); err != nil {
			if errs.KindOf(err) == errs.NotFound {
				continue
			}
			return err
		}
		if err := s.vec.RemoveDocument(base, id); err != nil {
			return err
		}
		if err := s.obj.Remove(sourcePath(base, id)); err != nil {
			return err
		}
		if err := s.obj.Remove(metaPath(base, id)); err != nil {
			return err
		}
	}
	return nil
}

// ── Retrieval ───────────────────────────────────────────────

// Hit is one retrieved chunk attributed to its base and document.
type Hit struct {
	Base     string  `json:"ragName"`
	DocID    string  `json:"doc_id"`
	FileName string  `json:"doc_name"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// Retrieve embeds the query once per base (bases may use different
// embedding models) and fans out the per-base searches concurrently. Only
// chunks of fully parsed documents are eligible. Per-base results are
// capped, then merged and capped globally.
func (s *Service) Retrieve(ctx context.Context, bases []string, query string) ([]Hit, error) {
	if len(bases) == 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	perBase := make([][]Hit, len(bases))
	g, gctx := errgroup.WithContext(ctx)
	for i, base := range bases {
		i, base := i, base
		g.Go(func() error {
			hits, err := s.retrieveOne(gctx, base, query)
			if err != nil {
				// One broken base must not sink retrieval for the others.
				log.Warn().Err(err).Str("base", base).Msg("Retrieval skipped for base")
				return nil
			}
			perBase[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []Hit
	for _, hits := range perBase {
		merged = append(merged, hits...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > s.cfg.GlobalTopK {
		merged = merged[:s.cfg.GlobalTopK]
	}
	return merged, nil
}

func (s *Service) retrieveOne(ctx context.Context, base, query string) ([]Hit, error) {
	kb, err := s.GetRAG(base)
	if err != nil {
		return nil, err
	}
	docs, err := s.ListDocs(base)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool)
	fileNames := make(map[string]string)
	for _, d := range docs {
		if d.Status == models.DocParsed {
			allowed[d.ID] = true
		}
		fileNames[d.ID] = d.FileName
	}
	if len(allowed) == 0 {
		return nil, nil
	}

	sup, err := s.reg.GetSupplierConfig(kb.EmbeddingSupplier)
	if err != nil {
		return nil, err
	}
	driver := embeddings.ForSupplier(sup, kb.EmbeddingModel, s.embedTimeout)
	vectors, err := driver.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, errs.New(errs.UpstreamFailure, "expected one query embedding, got %d", len(vectors))
	}

	scored, err := s.vec.Query(base, vectors[0], s.cfg.PerBaseTopK, allowed)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(scored))
	for _, sc := range scored {
		hits = append(hits, Hit{
			Base:     base,
			DocID:    sc.DocID,
			FileName: fileNames[sc.DocID],
			Content:  sc.Text,
			Score:    sc.Score,
		})
	}
	return hits, nil
}

// Preamble renders retrieved chunks as a system-message block prepended to
// the chat context. Empty when nothing was retrieved.
func Preamble(hits []Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("The following reference material was retrieved from the user's knowledge bases. Use it when it is relevant and ignore it otherwise.\n")
	for i, h := range hits {
		b.WriteString("\n[")
		b.WriteString(h.FileName)
		b.WriteString("]\n")
		b.WriteString(strings.TrimSpace(h.Content))
		if i != len(hits)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
