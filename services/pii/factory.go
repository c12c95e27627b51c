// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pii

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/AleutianAI/AleutianDocQA/pkg/config"
)

// FromConfig assembles the analyzer and anonymizer described by cfg.
func FromConfig(cfg config.PIIConfig) (*Anonymizer, error) {
	if !cfg.Enabled {
		return NewAnonymizer(nil, false), nil
	}

	var recognizers []Recognizer
	patterns, err := LoadPatternRecognizers(nil)
	if err != nil {
		return nil, err
	}
	for _, p := range patterns {
		recognizers = append(recognizers, p)
	}

	if len(cfg.DenyList) > 0 {
		terms := make(map[EntityKind][]string, len(cfg.DenyList))
		for kind, list := range cfg.DenyList {
			terms[EntityKind(kind)] = list
		}
		deny, err := NewDenyListRecognizer(terms)
		if err != nil {
			return nil, err
		}
		recognizers = append(recognizers, deny)
	}

	if cfg.NameHeuristic {
		recognizers = append(recognizers, NameRecognizer{})
	}

	actions := make(map[EntityKind]Action, len(cfg.Entities))
	var redacted []EntityKind
	for kind, action := range cfg.Entities {
		k := EntityKind(kind)
		if !k.Valid() {
			return nil, fmt.Errorf("unknown entity kind %q", kind)
		}
		actions[k] = Action(action)
		if Action(action) == ActionRedact {
			redacted = append(redacted, k)
		}
	}
	slices.Sort(redacted)

	switch cfg.Engine {
	case "", "builtin":
	case "presidio":
		recognizers = append(recognizers, NewPresidioRecognizer(PresidioConfig{
			BaseURL:        cfg.PresidioURL,
			Language:       cfg.Language,
			ScoreThreshold: cfg.ScoreThreshold,
			Kinds:          redacted,
		}))
	default:
		return nil, fmt.Errorf("unknown PII engine %q", cfg.Engine)
	}

	slog.Info("PII analyzer configured",
		"engine", cfg.Engine,
		"recognizers", len(recognizers),
		"redacted_kinds", len(redacted))

	analyzer := NewAnalyzer(AnalyzerConfig{
		Recognizers:    recognizers,
		Actions:        actions,
		ScoreThreshold: cfg.ScoreThreshold,
	})
	return NewAnonymizer(analyzer, true), nil
}
