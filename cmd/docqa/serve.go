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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd(state *cliState) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the DocQA HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := state.load(false); err != nil {
				return err
			}
			if port > 0 {
				state.cfg.Server.Port = port
			}
			if state.cfg.Logging.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			slog.Info("Starting DocQA",
				"port", state.cfg.Server.Port,
				"llm_backend", state.cfg.LLM.Backend,
				"index_backend", state.cfg.Index.Backend,
				"history_backend", state.cfg.History.Backend,
				"pii_enabled", state.cfg.PII.Enabled,
			)

			svc, err := newService(state.cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return svc.Run(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")
	return cmd
}

// commandContext returns the command context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
