// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chunker

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// repeatedDoc is 2500 characters of "abcdefghi " repeated.
func repeatedDoc() datatypes.Document {
	return datatypes.Document{SourceID: "doc.txt", Text: strings.Repeat("abcdefghi ", 250)}
}

func TestSplit_RepeatedDocumentProducesThreeChunks(t *testing.T) {
	doc := repeatedDoc()
	require.Equal(t, 2500, utf8.RuneCountInString(doc.Text))

	seq, err := Split(doc, 1000, 100)
	require.NoError(t, err)
	chunks := slices.Collect(seq)

	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.SequenceIndex)
		assert.Equal(t, "doc.txt", c.SourceID)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 1000)
		require.GreaterOrEqual(t, c.Offset, 0, "chunk %d must be located in the document", i)
		assert.Equal(t, c.Text, doc.Text[c.Offset:c.Offset+len(c.Text)], "chunk %d must be a substring at its offset", i)
	}

	assert.Equal(t, 0, chunks[0].Offset)
	// Adjacent chunks share text.
	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].Offset + len(chunks[i-1].Text)
		assert.Less(t, chunks[i].Offset, prevEnd, "chunk %d should overlap chunk %d", i, i-1)
		assert.LessOrEqual(t, prevEnd-chunks[i].Offset, 100)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	doc := repeatedDoc()
	c := New()

	first, err := c.SplitAll(doc)
	require.NoError(t, err)
	second, err := c.SplitAll(doc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSplit_SequenceIsRestartable(t *testing.T) {
	seq, err := New().Split(repeatedDoc())
	require.NoError(t, err)

	a := slices.Collect(seq)
	b := slices.Collect(seq)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestSplit_EarlyBreak(t *testing.T) {
	seq, err := New().Split(repeatedDoc())
	require.NoError(t, err)

	count := 0
	for range seq {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestSplit_EmptyDocument(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\n\t"} {
		seq, err := Split(datatypes.Document{SourceID: "empty.txt", Text: text}, 1000, 100)
		require.NoError(t, err)
		assert.Empty(t, slices.Collect(seq))
	}
}

func TestSplit_InvalidParameters(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
	}{
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := Split(repeatedDoc(), tt.chunkSize, tt.overlap)
			require.Error(t, err)
			assert.Nil(t, seq)

			var ipe *InvalidParameterError
			require.True(t, errors.As(err, &ipe))
			assert.Equal(t, tt.chunkSize, ipe.ChunkSize)
			assert.Equal(t, tt.overlap, ipe.Overlap)
		})
	}
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("word ", 30) // 150 runes
	text := para + "\n\n" + para + "\n\n" + para
	seq, err := Split(datatypes.Document{SourceID: "p.txt", Text: text}, 200, 20)
	require.NoError(t, err)

	chunks := slices.Collect(seq)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.False(t, strings.Contains(c.Text, "\n\n"), "chunk should not straddle a paragraph break")
	}
}

func TestSplit_HardCutWithoutSeparators(t *testing.T) {
	text := strings.Repeat("x", 250)
	seq, err := Split(datatypes.Document{SourceID: "x.txt", Text: text}, 100, 10)
	require.NoError(t, err)

	chunks := slices.Collect(seq)
	require.GreaterOrEqual(t, len(chunks), 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 100)
	}
}

func TestChunkID(t *testing.T) {
	a := chunkID("doc.txt", 0, "hello")
	assert.Equal(t, a, chunkID("doc.txt", 0, "hello"))
	assert.NotEqual(t, a, chunkID("doc.txt", 1, "hello"))
	assert.NotEqual(t, a, chunkID("other.txt", 0, "hello"))
	assert.Len(t, a, 36)
}

func TestSeparatorsFor(t *testing.T) {
	assert.Equal(t, markdownSeparators, separatorsFor("README.md"))
	assert.Equal(t, codeSeparators, separatorsFor("main.go"))
	assert.Equal(t, proseSeparators, separatorsFor("notes.txt"))
	assert.Equal(t, proseSeparators, separatorsFor("no-extension"))
}

func TestWithSeparatorsOverride(t *testing.T) {
	c := New(WithChunkSize(10), WithOverlap(0), WithSeparators([]string{"|"}))
	chunks, err := c.SplitAll(datatypes.Document{SourceID: "a.md", Text: "aaaa|bbbb|cccc"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "aaaa|bbbb", chunks[0].Text)
	assert.Equal(t, "cccc", chunks[1].Text)
}
