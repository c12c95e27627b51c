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
	"fmt"
	"os"

	"github.com/AleutianAI/AleutianDocQA/pkg/config"
	"github.com/AleutianAI/AleutianDocQA/pkg/logging"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator"
	"github.com/spf13/cobra"
)

// configEnv names a config file when --config is not given.
const configEnv = "DOCQA_CONFIG"

// newService builds the server. Tests replace it to inject mocks.
var newService = func(cfg *config.DocQAConfig) (orchestrator.Service, error) {
	return orchestrator.New(cfg, nil)
}

// cliState is shared by the subcommands of one invocation.
type cliState struct {
	configPath string
	logLevel   string
	cfg        *config.DocQAConfig
	logger     *logging.Logger
}

func newRootCmd() *cobra.Command {
	state := &cliState{}

	root := &cobra.Command{
		Use:   "docqa",
		Short: "Ask questions about a document without exposing personal data",
		Long: `docqa splits a plain-text document into chunks, indexes them, and answers
questions with a language model. Names, phone numbers and other personal data
are replaced with placeholders before any text reaches the model.`,
		SilenceUsage: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.logger != nil {
				_ = state.logger.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&state.configPath, "config", "c", "",
		"path to a YAML config file (default $"+configEnv+")")
	root.PersistentFlags().StringVar(&state.logLevel, "log-level", "",
		"override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(state),
		newAskCmd(state),
		newAnonymizeCmd(state),
		newConfigCmd(state),
	)
	return root
}

// load reads the configuration and installs the logger. quietByDefault
// lowers the default level to warn for commands whose stdout is the
// product.
func (s *cliState) load(quietByDefault bool) error {
	path := s.configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	levelName := cfg.Logging.Level
	if quietByDefault && levelName == "info" {
		levelName = "warn"
	}
	if s.logLevel != "" {
		levelName = s.logLevel
	}
	level, ok := logging.ParseLevel(levelName)
	if !ok {
		return fmt.Errorf("unknown log level %q", levelName)
	}

	s.logger = logging.New(logging.Config{
		Level:   level,
		Format:  logging.Format(cfg.Logging.Format),
		LogDir:  cfg.Logging.Dir,
		Service: "docqa",
	})
	s.logger.Install()
	s.cfg = cfg
	return nil
}
