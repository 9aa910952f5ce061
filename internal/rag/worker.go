package rag

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/linguo5/AingDesk/internal/embeddings"
	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/internal/vectorindex"
	"github.com/linguo5/AingDesk/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	workerPollInterval = 5 * time.Second
	abstractRunes      = 200
)

// Notify wakes the parse worker early. Safe from any goroutine; a pending
// wake coalesces with the next one.
func (s *Service) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RunWorker is the background parse loop. One document is processed at a
// time, oldest pending first across all bases. A document failure marks
// that document failed and the loop keeps going; only context cancellation
// stops it.
func (s *Service) RunWorker(ctx context.Context) {
	log.Info().Msg("Parse worker started")
	ticker := time.NewTicker(workerPollInterval)
	defer ticker.Stop()

	for {
		for s.processNext(ctx) {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("Parse worker stopped")
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// processNext parses the oldest pending document. Returns false when the
// queue is empty.
func (s *Service) processNext(ctx context.Context) bool {
	base, doc, ok := s.nextPending()
	if !ok {
		return false
	}

	doc.Status = models.DocParsing
	doc.UpdateTime = time.Now().Unix()
	if err := s.obj.Write(metaPath(base, doc.ID), doc); err != nil {
		log.Error().Err(err).Str("base", base).Str("doc", doc.ID).Msg("Failed to mark document parsing")
		return true
	}

	if err := s.parseDoc(ctx, base, doc); err != nil {
		doc.Status = models.DocFailed
		doc.Reason = errs.Message(err)
		doc.UpdateTime = time.Now().Unix()
		if werr := s.obj.Write(metaPath(base, doc.ID), doc); werr != nil {
			log.Error().Err(werr).Str("doc", doc.ID).Msg("Failed to persist document failure")
		}
		log.Warn().Err(err).Str("base", base).Str("doc", doc.ID).Msg("Document parse failed")
		return true
	}

	doc.Status = models.DocParsed
	doc.Reason = ""
	doc.UpdateTime = time.Now().Unix()
	if err := s.obj.Write(metaPath(base, doc.ID), doc); err != nil {
		log.Error().Err(err).Str("doc", doc.ID).Msg("Failed to persist parsed document")
	}
	log.Info().Str("base", base).Str("doc", doc.FileName).Int("chunks", doc.ChunkCount).Msg("Document parsed")
	return true
}

// nextPending finds the oldest pending document across all bases. Documents
// stuck in parsing (a crash mid-parse) are picked up again too: their
// chunks were never marked parsed, so re-embedding after removing stale
// vectors is safe.
func (s *Service) nextPending() (string, *models.Document, bool) {
	bases, err := s.ListRAG()
	if err != nil {
		log.Error().Err(err).Msg("Parse worker cannot list bases")
		return "", nil, false
	}
	var bestBase string
	var best *models.Document
	for _, kb := range bases {
		docs, err := s.ListDocs(kb.Name)
		if err != nil {
			log.Error().Err(err).Str("base", kb.Name).Msg("Parse worker cannot list documents")
			continue
		}
		for i := range docs {
			d := &docs[i]
			if d.Status != models.DocPending && d.Status != models.DocParsing {
				continue
			}
			if best == nil || d.CreateTime < best.CreateTime ||
				(d.CreateTime == best.CreateTime && d.ID < best.ID) {
				bestBase, best = kb.Name, d
			}
		}
	}
	return bestBase, best, best != nil
}

// parseDoc chunks, embeds, and indexes one document.
func (s *Service) parseDoc(ctx context.Context, base string, doc *models.Document) error {
	kb, err := s.GetRAG(base)
	if err != nil {
		return err
	}
	data, err := s.obj.ReadRaw(sourcePath(base, doc.ID))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errs.New(errs.InvalidRequest, "document %s is empty", doc.FileName)
	}

	// Drop leftovers from an interrupted earlier attempt before re-indexing.
	if err := s.vec.RemoveDocument(base, doc.ID); err != nil {
		return err
	}

	chunks := ChunkFile(doc.FileName, string(data), ChunkerConfig{
		ChunkSize:    s.cfg.ChunkSize,
		ChunkOverlap: s.cfg.ChunkOverlap,
	})
	if len(chunks) == 0 {
		return errs.New(errs.InvalidRequest, "document %s produced no chunks", doc.FileName)
	}

	sup, err := s.reg.GetSupplierConfig(kb.EmbeddingSupplier)
	if err != nil {
		return err
	}
	driver := embeddings.ForSupplier(sup, kb.EmbeddingModel, s.embedTimeout)

	batch := driver.MaxBatchSize()
	for start := 0; start < len(chunks); start += batch {
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vectors, err := driver.Embed(ctx, texts)
		if err != nil {
			return err
		}
		entries := make([]vectorindex.Entry, 0, len(vectors))
		for i, vec := range vectors {
			c := chunks[start+i]
			entries = append(entries, vectorindex.Entry{
				ChunkID: uuid.NewString(),
				DocID:   doc.ID,
				Ordinal: c.Ordinal,
				Offset:  c.Offset,
				Text:    c.Text,
				Vector:  vec,
			})
		}
		if err := s.vec.Append(base, entries); err != nil {
			return err
		}
	}

	// The first embedded document pins the base's dimension.
	if kb.Dimension == 0 {
		if dim, err := s.vec.Dimension(base); err == nil && dim > 0 {
			kb.Dimension = dim
			if err := s.obj.Write(manifestPath(base), kb); err != nil {
				return err
			}
		}
	}

	doc.ChunkCount = len(chunks)
	doc.Abstract = abstract(string(data))
	return nil
}

// abstract returns the leading runes of the document as its summary.
func abstract(text string) string {
	runes := []rune(text)
	if len(runes) <= abstractRunes {
		return text
	}
	return string(runes[:abstractRunes])
}
