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
	"encoding/json"
	"fmt"
	"io"

	"github.com/AleutianAI/AleutianDocQA/services/pii"
	"github.com/spf13/cobra"
)

// anonymizeOutput is what `docqa anonymize` prints.
type anonymizeOutput struct {
	Mode     string          `json:"mode"`
	Text     string          `json:"text"`
	Map      pii.ReversalMap `json:"map,omitempty"`
	Entities []pii.Entity    `json:"entities"`
}

func newAnonymizeCmd(state *cliState) *cobra.Command {
	var (
		mode    string
		showMap bool
	)
	cmd := &cobra.Command{
		Use:   "anonymize",
		Short: "Anonymize stdin and print the result as JSON",
		Long: `anonymize runs the configured PII analyzer over stdin in one call scope and
prints the anonymized text, the detected entities and, with --show-map, the
placeholder map. Use it to audit what would be sent to the model.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := state.load(true); err != nil {
				return err
			}

			var m pii.Mode
			switch mode {
			case "input":
				m = pii.ModeInput
			case "output":
				m = pii.ModeOutput
			default:
				return fmt.Errorf("unknown mode %q, want input or output", mode)
			}

			text, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			anonymizer, err := pii.FromConfig(state.cfg.PII)
			if err != nil {
				return err
			}
			res, err := anonymizer.Anonymize(commandContext(cmd), string(text), m)
			if err != nil {
				return err
			}

			out := anonymizeOutput{Mode: m.String(), Text: res.Text, Entities: res.Entities}
			if showMap {
				out.Map = res.Map
			}
			if out.Entities == nil {
				out.Entities = []pii.Entity{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "input", "anonymization mode: input or output")
	cmd.Flags().BoolVar(&showMap, "show-map", false, "include the placeholder map, which contains the original values")
	return cmd
}
