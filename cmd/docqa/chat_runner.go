// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianDocQA/pkg/ux"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/session"
)

// InputReader abstracts line input so the loop can be driven by tests.
type InputReader interface {
	// ReadLine returns the next line without surrounding whitespace, or
	// io.EOF when input is exhausted.
	ReadLine() (string, error)
}

// lineReader implements InputReader over any io.Reader.
type lineReader struct {
	reader *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{reader: bufio.NewReader(r)}
}

func (r *lineReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		// A last line without a newline still counts.
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// docChatRunner runs an interactive question loop over one session.
//
// # Description
//
// Each non-empty line is one turn. Turn failures are shown and the loop
// continues; only cancellation or an input error ends it early.
//
// # Thread Safety
//
// Not thread-safe. One runner per terminal.
type docChatRunner struct {
	service *services.DocQAService
	session *session.Context
	ui      ux.ChatUI
	input   InputReader
	out     io.Writer
	topK    int
}

// Run loops until exit, EOF or cancellation.
func (r *docChatRunner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			r.ui.SessionEnd(r.session.ID(), r.session.TurnCount())
			return err
		}

		fmt.Fprint(r.out, r.ui.Prompt())
		input, err := r.input.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.ui.SessionEnd(r.session.ID(), r.session.TurnCount())
				return nil
			}
			slog.Error("failed to read input", "error", err)
			return fmt.Errorf("read input: %w", err)
		}

		if input == "" {
			continue
		}
		if isExitCommand(input) {
			r.ui.SessionEnd(r.session.ID(), r.session.TurnCount())
			return nil
		}

		if err := r.handleMessage(ctx, input); err != nil {
			if ctx.Err() != nil {
				r.ui.SessionEnd(r.session.ID(), r.session.TurnCount())
				return ctx.Err()
			}
			r.ui.Error(err)
		}
	}
}

func (r *docChatRunner) handleMessage(ctx context.Context, question string) error {
	fragments := 0
	resp, err := r.service.Answer(ctx, r.session,
		&datatypes.ChatRequest{Question: question, TopK: r.topK},
		services.WithStateHook(func(state datatypes.TurnState) {
			r.ui.State(state.String())
		}),
		// Raw fragments are not anonymized; only their count is shown.
		services.WithFragmentHook(func(string) {
			fragments++
			r.ui.Progress(fragments)
		}))
	if err != nil {
		return err
	}

	r.ui.Response(resp.Answer)
	r.ui.Revealed(resp.RevealedAnswer)
	sources := make([]ux.SourceInfo, len(resp.Sources))
	for i, src := range resp.Sources {
		sources[i] = ux.SourceInfo{Name: src.Name, Score: src.Score, Excerpt: src.Excerpt}
	}
	r.ui.Sources(sources)
	r.ui.Footer(resp.Footer)
	fmt.Fprintln(r.out)
	return nil
}

func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}
