// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the pipeline configuration: YAML file, then
// environment overrides (a local .env is honored), then struct validation.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/SafeHarborAI/safeharbor/pkg/identify"
	"github.com/SafeHarborAI/safeharbor/pkg/llm"
	"github.com/SafeHarborAI/safeharbor/pkg/masking"
	"github.com/SafeHarborAI/safeharbor/pkg/phi"
	"github.com/SafeHarborAI/safeharbor/pkg/retrieval"
)

// ChunkingConfig is the chunk geometry section.
type ChunkingConfig struct {
	Size               int `yaml:"size" validate:"gt=0"`
	Overlap            int `yaml:"overlap" validate:"gte=0"`
	CheckpointInterval int `yaml:"checkpoint_interval" validate:"gte=1"`
	MaxConcurrency     int `yaml:"max_concurrency" validate:"gte=1"`
}

// JobConfig is the orchestrator section.
type JobConfig struct {
	ResultsDir       string        `yaml:"results_dir" validate:"required"`
	CheckpointDir    string        `yaml:"checkpoint_dir" validate:"required"`
	TaskDir          string        `yaml:"task_dir" validate:"required"`
	OutputPrefix     string        `yaml:"output_prefix"`
	MaxParallelFiles int           `yaml:"max_parallel_files" validate:"gte=1"`
	ShutdownGrace    time.Duration `yaml:"shutdown_grace"`
}

// ServerConfig is the status API section.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig is the log output section.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// Config is the full pipeline configuration.
type Config struct {
	LLM      llm.Config               `yaml:"llm"`
	Identify identify.Config          `yaml:"identify"`
	Chunking ChunkingConfig           `yaml:"chunking"`
	Masking  masking.Config           `yaml:"masking"`
	Weaviate retrieval.WeaviateConfig `yaml:"weaviate"`
	Job      JobConfig                `yaml:"job"`
	Server   ServerConfig             `yaml:"server"`
	Logging  LoggingConfig            `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LLM:      llm.DefaultConfig(),
		Identify: identify.DefaultConfig(),
		Chunking: ChunkingConfig{Size: 1000, Overlap: 100, CheckpointInterval: 1, MaxConcurrency: 1},
		Masking:  masking.DefaultConfig(),
		Weaviate: retrieval.DefaultWeaviateConfig(),
		Job: JobConfig{
			ResultsDir:       "results",
			CheckpointDir:    ".deid/checkpoints",
			TaskDir:          ".deid/tasks",
			OutputPrefix:     "deid",
			MaxParallelFiles: 2,
			ShutdownGrace:    30 * time.Second,
		},
		Server:  ServerConfig{Addr: ":8787"},
		Logging: LoggingConfig{Level: "info"},
	}
}

var validate = validator.New()

// Load reads the configuration. path may be empty, in which case only the
// defaults plus environment apply. A .env in the working directory is
// loaded first, matching local development setups; its absence is fine.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, phi.E(phi.KindInvalidInput, "config.Load", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, phi.E(phi.KindInvalidInput, "config.Load", err)
		}
	}

	applyEnv(&cfg)

	if err := validate.Struct(cfg); err != nil {
		return Config{}, phi.E(phi.KindInvalidInput, "config.Load", err)
	}
	if cfg.Chunking.Overlap >= cfg.Chunking.Size {
		return Config{}, phi.Errorf(phi.KindInvalidInput, "config.Load",
			"chunking overlap %d must be smaller than size %d", cfg.Chunking.Overlap, cfg.Chunking.Size)
	}
	return cfg, nil
}

// applyEnv maps the supported environment overrides onto the config.
// Secrets and deployment endpoints belong in the environment, not in a
// YAML file that gets committed.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DEID_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = llm.Provider(v)
	}
	if v := os.Getenv("DEID_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("DEID_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("DEID_WEAVIATE_HOST"); v != "" {
		cfg.Weaviate.Host = v
	}
	if v := os.Getenv("DEID_RESULTS_DIR"); v != "" {
		cfg.Job.ResultsDir = v
	}
	if v := os.Getenv("DEID_MASKING_SALT"); v != "" {
		cfg.Masking.Salt = v
	}
	if v := os.Getenv("DEID_DATE_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Masking.DateSeed = seed
		}
	}
	if v := os.Getenv("DEID_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
