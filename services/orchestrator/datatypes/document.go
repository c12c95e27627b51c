// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the value types shared by the DocQA services:
// documents and chunks, conversation turns, turn states and the HTTP
// request and response bodies.
package datatypes

import "fmt"

// Document is an uploaded text body. It is immutable once created.
type Document struct {
	// SourceID names the document, usually the uploaded filename.
	SourceID string `json:"source_id"`
	Text     string `json:"-"`
}

// Chunk is a contiguous substring of a Document.
//
// # Fields
//
//   - ID: Deterministic UUID derived from SourceID, SequenceIndex and Text.
//     Re-chunking the same document yields the same IDs.
//   - Text: The chunk content, a substring of the document.
//   - SourceID: Identifier of the document the chunk came from.
//   - SequenceIndex: Zero-based position of the chunk in the document.
//   - Offset: Rune offset of Text within the document.
type Chunk struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	SourceID      string `json:"source_id"`
	SequenceIndex int    `json:"sequence_index"`
	Offset        int    `json:"offset"`
}

// SourceName is the attribution label shown next to an answer, for example
// "report.txt#2".
func (c Chunk) SourceName() string {
	return fmt.Sprintf("%s#%d", c.SourceID, c.SequenceIndex)
}

// Source is a retrieved chunk as returned to the caller. Excerpt has been
// through output anonymization.
type Source struct {
	Name          string  `json:"name"`
	SourceID      string  `json:"source_id"`
	SequenceIndex int     `json:"sequence_index"`
	Score         float64 `json:"score"`
	Excerpt       string  `json:"excerpt"`
}
