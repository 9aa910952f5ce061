// Package rag implements the knowledge pipeline: knowledge-base CRUD,
// document ingestion through a background parse worker (chunk, embed,
// persist), and cosine-similarity retrieval used to augment chat prompts.
package rag

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ChunkerConfig configures the text chunker.
type ChunkerConfig struct {
	ChunkSize    int // target chunk size in characters
	ChunkOverlap int // overlap carried between chunks
}

// Chunk holds a single chunk of text with its position in the source.
type Chunk struct {
	Text    string
	Ordinal int
	Offset  int // rune offset of the chunk start in the source
}

// separatorsFor picks split boundaries by file type: markdown prefers
// heading and fence boundaries, source code prefers blank lines, plain text
// falls back to paragraphs then sentences.
func separatorsFor(filename string) []string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return []string{"\n## ", "\n### ", "\n```", "\n\n", "\n", ". ", " ", ""}
	case ".go", ".py", ".js", ".ts", ".java", ".c", ".cpp", ".rs":
		return []string{"\n\n", "\n", " ", ""}
	default:
		return []string{"\n\n", "\n", ". ", "。", " ", ""}
	}
}

// ChunkFile splits a document into overlapping chunks using recursive
// splitting with file-type-aware separators.
func ChunkFile(filename, text string, cfg ChunkerConfig) []Chunk {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}

	if utf8.RuneCountInString(text) <= cfg.ChunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []Chunk{{Text: text, Ordinal: 0, Offset: 0}}
	}

	chunks := recursiveSplit(text, separatorsFor(filename), cfg.ChunkSize, cfg.ChunkOverlap)

	// Assign ordinals and approximate source offsets.
	offset := 0
	for i := range chunks {
		chunks[i].Ordinal = i
		chunks[i].Offset = offset
		offset += utf8.RuneCountInString(chunks[i].Text)
		if cfg.ChunkOverlap > 0 && offset > cfg.ChunkOverlap {
			offset -= cfg.ChunkOverlap
		}
	}
	return chunks
}

// recursiveSplit breaks text into pieces no larger than chunkSize, then
// packs the pieces back into chunks near the target with overlap.
func recursiveSplit(text string, separators []string, chunkSize, overlap int) []Chunk {
	return mergePieces(splitToSize(text, separators, chunkSize), chunkSize, overlap)
}

// splitToSize splits on the first separator that applies and recurses into
// any piece still over chunkSize with the remaining separators. Separators
// stay attached to the piece that follows them, so the pieces concatenate
// back to the original text. The trailing "" separator degrades to a hard
// rune split, so every returned piece fits the target.
func splitToSize(text string, separators []string, chunkSize int) []string {
	if utf8.RuneCountInString(text) <= chunkSize {
		return []string{text}
	}
	for i, sep := range separators {
		if sep == "" {
			return splitByRunes(text, chunkSize)
		}
		parts := strings.Split(text, sep)
		if len(parts) < 2 {
			continue
		}
		var pieces []string
		for j, part := range parts {
			if j > 0 {
				part = sep + part
			}
			if part == "" {
				continue
			}
			pieces = append(pieces, splitToSize(part, separators[i+1:], chunkSize)...)
		}
		return pieces
	}
	return []string{text}
}

// mergePieces greedily fills each chunk up to chunkSize and seeds the next
// one with an overlap tail of the previous.
func mergePieces(pieces []string, chunkSize, overlap int) []Chunk {
	var chunks []Chunk
	var current strings.Builder
	size := 0
	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if current.Len() > 0 && size+n > chunkSize {
			chunks = append(chunks, Chunk{Text: current.String()})
			tail := overlapTail(current.String(), overlap)
			current.Reset()
			current.WriteString(tail)
			size = utf8.RuneCountInString(tail)
		}
		current.WriteString(piece)
		size += n
	}
	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, Chunk{Text: current.String()})
	}
	return chunks
}

// overlapTail returns the last n runes of s.
func overlapTail(s string, n int) string {
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}

// splitByRunes splits text into segments of n runes each.
func splitByRunes(text string, n int) []string {
	runes := []rune(text)
	var segments []string
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[i:end]))
	}
	return segments
}
