// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import "time"

type DocQAConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Chunking      ChunkingConfig      `yaml:"chunking"`
	Embeddings    EmbeddingsConfig    `yaml:"embeddings"`
	Index         IndexConfig         `yaml:"index"`
	PII           PIIConfig           `yaml:"pii"`
	LLM           LLMConfig           `yaml:"llm"`
	History       HistoryConfig       `yaml:"history"`
	Session       SessionConfig       `yaml:"session"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"gt=0,lte=65535"`
	// MaxUploadBytes caps document uploads (20 MB by default).
	MaxUploadBytes int64 `yaml:"max_upload_bytes" validate:"gt=0"`
	// APIToken, when set, is required as a bearer token on /v1 routes.
	APIToken string `yaml:"api_token,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`
	Dir    string `yaml:"dir,omitempty"`
}

type ChunkingConfig struct {
	ChunkSize int `yaml:"chunk_size" validate:"gt=0"`
	Overlap   int `yaml:"overlap" validate:"gte=0,ltfield=ChunkSize"`
}

type EmbeddingsConfig struct {
	// Backend is one of "openai", "ollama" or "batch_embed".
	Backend string `yaml:"backend" validate:"oneof=openai ollama batch_embed"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty" validate:"required_unless=Backend openai"`
	// BatchSize is the number of texts sent per provider request.
	BatchSize         int     `yaml:"batch_size" validate:"gt=0"`
	Concurrency       int     `yaml:"concurrency" validate:"gt=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

type IndexConfig struct {
	// Backend is "memory" (per-session, in-process) or "weaviate".
	Backend     string `yaml:"backend" validate:"oneof=memory weaviate"`
	WeaviateURL string `yaml:"weaviate_url,omitempty" validate:"required_if=Backend weaviate"`
	TopK        int    `yaml:"top_k" validate:"gt=0"`
}

type PIIConfig struct {
	// Enabled toggles anonymization. Disabled means pass-through.
	Enabled bool `yaml:"enabled"`
	// Engine is "builtin" (pattern + deny list + name heuristic) or
	// "presidio" (builtin plus a Presidio analyzer).
	Engine         string  `yaml:"engine" validate:"oneof=builtin presidio"`
	PresidioURL    string  `yaml:"presidio_url,omitempty" validate:"required_if=Engine presidio"`
	Language       string  `yaml:"language" validate:"required"`
	ScoreThreshold float64 `yaml:"score_threshold" validate:"gte=0,lte=1"`
	// Entities maps an entity kind to its action, "redact" or "keep".
	Entities map[string]string `yaml:"entities" validate:"required,dive,keys,oneof=PERSON EMAIL_ADDRESS PHONE_NUMBER LOCATION CREDIT_CARD US_SSN IP_ADDRESS,endkeys,oneof=redact keep"`
	// DenyList holds exact terms per entity kind.
	DenyList      map[string][]string `yaml:"deny_list,omitempty"`
	NameHeuristic bool                `yaml:"name_heuristic"`
	// AnonymizeContext runs retrieved chunk text through the turn's input
	// anonymization scope before it reaches the model.
	AnonymizeContext bool `yaml:"anonymize_context"`
	// RevealToUser returns a de-anonymized copy of the answer to the asker.
	RevealToUser bool `yaml:"reveal_to_user"`
}

type LLMConfig struct {
	// Backend is "openai" or "ollama".
	Backend     string  `yaml:"backend" validate:"oneof=openai ollama"`
	Model       string  `yaml:"model" validate:"required"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`
	// APIKey is only read from the environment.
	APIKey string `yaml:"-"`
}

type HistoryConfig struct {
	// Backend is "memory", "badger" or "sqlite".
	Backend string `yaml:"backend" validate:"oneof=memory badger sqlite"`
	Path    string `yaml:"path,omitempty" validate:"required_unless=Backend memory"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	TurnTimeout   time.Duration `yaml:"turn_timeout" validate:"gt=0"`
}

type ObservabilityConfig struct {
	// TraceExporter is "none", "stdout" or "otlp".
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	OTelEndpoint  string `yaml:"otel_endpoint,omitempty" validate:"required_if=TraceExporter otlp"`
}

// DefaultConfig returns a configuration that runs fully in-process against
// OpenAI, with the chunking and model defaults of the original chat app.
func DefaultConfig() DocQAConfig {
	return DocQAConfig{
		Server: ServerConfig{
			Port:           12210,
			MaxUploadBytes: 20 << 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		Chunking: ChunkingConfig{
			ChunkSize: 1000,
			Overlap:   100,
		},
		Embeddings: EmbeddingsConfig{
			Backend:           "openai",
			Model:             "text-embedding-3-small",
			BatchSize:         64,
			Concurrency:       4,
			RequestsPerSecond: 0,
		},
		Index: IndexConfig{
			Backend: "memory",
			TopK:    4,
		},
		PII: PIIConfig{
			Enabled:        true,
			Engine:         "builtin",
			Language:       "en",
			ScoreThreshold: 0.3,
			Entities: map[string]string{
				"PERSON":        "redact",
				"EMAIL_ADDRESS": "redact",
				"PHONE_NUMBER":  "redact",
				"LOCATION":      "redact",
				"CREDIT_CARD":   "redact",
				"US_SSN":        "redact",
				"IP_ADDRESS":    "redact",
			},
			NameHeuristic: true,
		},
		LLM: LLMConfig{
			Backend:     "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0,
		},
		History: HistoryConfig{Backend: "memory"},
		Session: SessionConfig{
			IdleTTL:       2 * time.Hour,
			SweepInterval: 5 * time.Minute,
			TurnTimeout:   2 * time.Minute,
		},
		Observability: ObservabilityConfig{TraceExporter: "none"},
	}
}
