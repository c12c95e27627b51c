// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"

	"github.com/AleutianAI/AleutianDocQA/pkg/config"
)

// FromConfig builds the configured chat backend.
func FromConfig(cfg config.LLMConfig) (LLMClient, error) {
	switch cfg.Backend {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "ollama":
		return NewOllamaClient(cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.Backend)
	}
}
