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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianDocQA/pkg/ux"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

func newAskCmd(state *cliState) *cobra.Command {
	var (
		reveal      bool
		keepHistory bool
		topK        int
		personality string
	)
	cmd := &cobra.Command{
		Use:   "ask <file>",
		Short: "Chat about a plain-text file in the terminal",
		Long: `ask indexes the file in a fresh session and reads one question per line
from stdin until "exit", "quit" or end of input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := state.load(true); err != nil {
				return err
			}
			if cmd.Flags().Changed("reveal") {
				state.cfg.PII.RevealToUser = reveal
			}

			doc, err := readDocument(args[0], state.cfg.Server.MaxUploadBytes)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
			defer stop()

			svc, err := newService(state.cfg)
			if err != nil {
				return err
			}
			defer svc.Close(context.Background())

			sess, err := svc.Sessions().Create(ctx)
			if err != nil {
				return err
			}
			if !keepHistory {
				defer func() {
					if err := svc.Sessions().Close(context.Background(), sess.ID(), true); err != nil {
						slog.Warn("failed to purge session", "session_id", sess.ID(), "error", err)
					}
				}()
			}

			info, err := svc.DocQA().Ingest(ctx, sess, doc)
			if err != nil {
				return fmt.Errorf("failed to index %s: %w", doc.SourceID, err)
			}

			out := cmd.OutOrStdout()
			ui := ux.NewChatUI(out, ux.DetectPersonality(personality, out))
			ui.Header(ux.HeaderConfig{
				SessionID:  sess.ID(),
				SourceID:   info.SourceID,
				Chunks:     info.Chunks,
				PIIEnabled: svc.DocQA().Anonymizer().Enabled(),
				ModelName:  state.cfg.LLM.Model,
			})

			runner := &docChatRunner{
				service: svc.DocQA(),
				session: sess,
				ui:      ui,
				input:   newLineReader(cmd.InOrStdin()),
				out:     out,
				topK:    topK,
			}
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "show the answer with your own values restored (overrides pii.reveal_to_user)")
	cmd.Flags().BoolVar(&keepHistory, "keep-history", false, "keep the session history in the store after exit")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "chunks retrieved per question (default index.top_k)")
	cmd.Flags().StringVar(&personality, "personality", "", "output style: full, minimal or machine")
	return cmd
}

// readDocument loads a UTF-8 text file no larger than maxBytes.
func readDocument(path string, maxBytes int64) (datatypes.Document, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return datatypes.Document{}, err
	}
	if fi.IsDir() {
		return datatypes.Document{}, fmt.Errorf("%s is a directory", path)
	}
	if maxBytes > 0 && fi.Size() > maxBytes {
		return datatypes.Document{}, fmt.Errorf("%s is %d bytes, more than the %d byte limit", path, fi.Size(), maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return datatypes.Document{}, err
	}
	if !utf8.Valid(data) {
		return datatypes.Document{}, fmt.Errorf("%s is not UTF-8 text", path)
	}
	return datatypes.Document{SourceID: filepath.Base(path), Text: string(data)}, nil
}
