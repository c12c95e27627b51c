// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the DocQA YAML configuration, applies environment
// overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the config at path on top of DefaultConfig. An empty path
// skips the file. Environment overrides are applied after the file, then
// the result is validated.
func Load(path string) (*DocQAConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and returns a single error listing every
// failing field.
func Validate(cfg *DocQAConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// WriteDefault writes DefaultConfig as YAML to path, creating parent
// directories. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays environment variables. The names without the DOCQA_
// prefix are kept compatible with the original chat app's .env file.
func applyEnv(cfg *DocQAConfig, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("OPENAI_API_KEY", &cfg.LLM.APIKey)
	str("DEFAULT_GAI_MODEL", &cfg.LLM.Model)
	str("DOCQA_LLM_BACKEND", &cfg.LLM.Backend)
	str("DOCQA_LLM_BASE_URL", &cfg.LLM.BaseURL)
	str("DOCQA_EMBEDDINGS_BACKEND", &cfg.Embeddings.Backend)
	str("DOCQA_EMBEDDINGS_URL", &cfg.Embeddings.BaseURL)
	str("DOCQA_EMBEDDINGS_MODEL", &cfg.Embeddings.Model)
	str("DOCQA_INDEX_BACKEND", &cfg.Index.Backend)
	str("DOCQA_WEAVIATE_URL", &cfg.Index.WeaviateURL)
	str("DOCQA_PRESIDIO_URL", &cfg.PII.PresidioURL)
	str("DOCQA_PII_ENGINE", &cfg.PII.Engine)
	str("DOCQA_HISTORY_BACKEND", &cfg.History.Backend)
	str("DOCQA_HISTORY_PATH", &cfg.History.Path)
	str("DOCQA_API_TOKEN", &cfg.Server.APIToken)
	str("DOCQA_LOG_LEVEL", &cfg.Logging.Level)
	str("DOCQA_LOG_DIR", &cfg.Logging.Dir)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Observability.OTelEndpoint)
	str("DOCQA_TRACE_EXPORTER", &cfg.Observability.TraceExporter)

	if v, ok := lookup("DOCQA_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DOCQA_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup("ENABLE_PRESIDIO_PII_CLEANING"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENABLE_PRESIDIO_PII_CLEANING: %w", err)
		}
		cfg.PII.Enabled = enabled
		if !enabled {
			slog.Warn("PII cleaning disabled by ENABLE_PRESIDIO_PII_CLEANING, text reaches the model unmodified")
		}
	}
	return nil
}
