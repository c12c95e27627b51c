// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chunker splits documents into overlapping, attributable chunks
// for embedding.
//
// Splitting is recursive: the text is cut on the coarsest separator that
// produces pieces under the size limit (paragraph, then line, then sentence,
// then word) and only falls back to a hard character cut when no separator
// helps. Adjacent pieces are merged back up to the chunk size, and the tail
// of each chunk is repeated at the head of the next one up to the overlap.
//
// Sizes are measured in runes.
package chunker

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 100
)

var (
	// proseSeparators is the default order: paragraph, line, sentence, word, character.
	proseSeparators = []string{"\n\n", "\n", ". ", " ", ""}

	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", ". ", " ", "",
	}

	codeSeparators = []string{
		"\nfunc ", "\nfunction ", "\nclass ", "\ndef ", "\ninterface ",
		"\n\n", "\n", " ", "",
	}
)

// =============================================================================
// Errors
// =============================================================================

// InvalidParameterError is returned before any processing when the size
// parameters cannot produce progress.
type InvalidParameterError struct {
	ChunkSize int
	Overlap   int
	Reason    string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid chunk parameters (size=%d, overlap=%d): %s", e.ChunkSize, e.Overlap, e.Reason)
}

// ValidateParams checks chunkSize and overlap.
func ValidateParams(chunkSize, overlap int) error {
	switch {
	case chunkSize <= 0:
		return &InvalidParameterError{ChunkSize: chunkSize, Overlap: overlap, Reason: "chunk size must be positive"}
	case overlap < 0:
		return &InvalidParameterError{ChunkSize: chunkSize, Overlap: overlap, Reason: "overlap must not be negative"}
	case overlap >= chunkSize:
		return &InvalidParameterError{ChunkSize: chunkSize, Overlap: overlap, Reason: "overlap must be smaller than chunk size"}
	}
	return nil
}

// =============================================================================
// Chunker
// =============================================================================

// Chunker holds the size parameters and separator policy.
//
// A Chunker is immutable after construction and safe for concurrent use.
type Chunker struct {
	chunkSize  int
	overlap    int
	separators []string
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the maximum chunk length in runes.
func WithChunkSize(size int) Option {
	return func(c *Chunker) { c.chunkSize = size }
}

// WithOverlap sets the number of runes shared by adjacent chunks.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) { c.overlap = overlap }
}

// WithSeparators forces a separator list instead of choosing one from the
// document's file extension.
func WithSeparators(separators []string) Option {
	return func(c *Chunker) { c.separators = slices.Clone(separators) }
}

// New creates a Chunker. Parameters are validated by Split, so an invalid
// configuration surfaces on first use with an InvalidParameterError.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChunkSize returns the configured chunk size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split divides doc into chunks.
//
// # Description
//
// Returns a lazy sequence. Each range over the sequence re-splits the
// document from the start, so the sequence can be consumed more than once
// and always yields the same chunks in the same order.
//
// # Inputs
//
//   - doc: The document. An empty or whitespace-only text yields an empty
//     sequence.
//
// # Outputs
//
//   - iter.Seq[datatypes.Chunk]: Chunks ordered by SequenceIndex starting at 0.
//   - error: *InvalidParameterError when chunkSize <= 0, overlap < 0 or
//     overlap >= chunkSize. Nothing is split in that case.
//
// # Example
//
//	seq, err := chunker.New().Split(datatypes.Document{SourceID: "notes.txt", Text: text})
//	if err != nil {
//	    return err
//	}
//	for chunk := range seq {
//	    fmt.Println(chunk.SequenceIndex, len(chunk.Text))
//	}
func (c *Chunker) Split(doc datatypes.Document) (iter.Seq[datatypes.Chunk], error) {
	if err := ValidateParams(c.chunkSize, c.overlap); err != nil {
		return nil, err
	}

	separators := c.separators
	if separators == nil {
		separators = separatorsFor(doc.SourceID)
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.chunkSize),
		textsplitter.WithChunkOverlap(c.overlap),
		textsplitter.WithSeparators(separators),
	)

	return func(yield func(datatypes.Chunk) bool) {
		if strings.TrimSpace(doc.Text) == "" {
			return
		}
		pieces, err := splitter.SplitText(doc.Text)
		if err != nil {
			// SplitText only fails on pathological separator input; the
			// sequence ends early and the caller sees fewer chunks.
			slog.Error("failed to split document", "source_id", doc.SourceID, "error", err)
			return
		}

		// The next chunk starts no earlier than overlap runes before the
		// end of the previous one.
		cursor := 0
		for i, text := range pieces {
			offset := -1
			if idx := strings.Index(doc.Text[cursor:], text); idx >= 0 {
				byteOffset := cursor + idx
				offset = utf8.RuneCountInString(doc.Text[:byteOffset])
				cursor = backRunes(doc.Text, byteOffset+len(text), c.overlap)
				if cursor <= byteOffset {
					cursor = byteOffset + 1
				}
			}
			chunk := datatypes.Chunk{
				ID:            chunkID(doc.SourceID, i, text),
				Text:          text,
				SourceID:      doc.SourceID,
				SequenceIndex: i,
				Offset:        offset,
			}
			if !yield(chunk) {
				return
			}
		}
	}, nil
}

// SplitAll collects the result of Split into a slice.
func (c *Chunker) SplitAll(doc datatypes.Document) ([]datatypes.Chunk, error) {
	seq, err := c.Split(doc)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// Split is a convenience for New(WithChunkSize(chunkSize), WithOverlap(overlap)).Split(doc).
func Split(doc datatypes.Document, chunkSize, overlap int) (iter.Seq[datatypes.Chunk], error) {
	return New(WithChunkSize(chunkSize), WithOverlap(overlap)).Split(doc)
}

// =============================================================================
// Helper Functions
// =============================================================================

// chunkID derives a stable UUID from the chunk's identity so that
// re-ingesting the same document overwrites rather than duplicates.
func chunkID(sourceID string, seq int, text string) string {
	h := sha256.New()
	h.Write([]byte(sourceID))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	h.Write(buf[:])
	h.Write([]byte(text))
	sum := h.Sum(nil)
	id, _ := uuid.FromBytes(sum[:16])
	return id.String()
}

// backRunes returns the byte index n runes before end.
func backRunes(s string, end, n int) int {
	for ; n > 0 && end > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:end])
		end -= size
	}
	return end
}

func separatorsFor(sourceID string) []string {
	switch strings.ToLower(filepath.Ext(sourceID)) {
	case ".md", ".markdown":
		return markdownSeparators
	case ".go", ".py", ".js", ".ts", ".java", ".c", ".cpp", ".h", ".rs":
		return codeSeparators
	default:
		return proseSeparators
	}
}
