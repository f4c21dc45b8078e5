// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// The deid CLI de-identifies Protected Health Information in free-text
// medical records: streaming chunked detection with checkpoint/resume,
// per-type masking, evaluation against ground truth, and a read-only job
// status API.
package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/SafeHarborAI/safeharbor/pkg/config"
	"github.com/SafeHarborAI/safeharbor/pkg/logging"
)

// errPartialFailure maps to exit code 2: the job finished, some files did
// not.
var errPartialFailure = errors.New("completed with file failures")

var (
	flagConfig   string
	flagLogLevel string
	flagQuiet    bool

	cfg       config.Config
	appLogger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "deid",
	Short: "PHI de-identification pipeline",
	Long: `deid removes Protected Health Information from medical text.

Documents are split into overlapping chunks, each chunk is scanned with
deterministic tools and an LLM structured-output identifier (optionally
grounded in retrieved regulation snippets), findings are merged back into
document coordinates, and per-type masking strategies rewrite the text.
Progress is checkpointed per chunk, so interrupted runs resume.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(resolveConfigPath())
		if err != nil {
			return err
		}
		cfg = loaded
		if flagLogLevel != "" {
			cfg.Logging.Level = flagLogLevel
		}
		appLogger = logging.New(logging.Config{
			Level:  logging.ParseLevel(cfg.Logging.Level),
			LogDir: cfg.Logging.Dir,
			JSON:   cfg.Logging.JSON,
			Quiet:  cfg.Logging.Quiet || flagQuiet,
		})
		appLogger.SetGlobal()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			appLogger.Close()
		}
	},
}

// resolveConfigPath honors --config when given, otherwise picks up a
// ./deid.yaml if one exists.
func resolveConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if _, err := os.Stat("deid.yaml"); err == nil {
		return "deid.yaml"
	}
	return ""
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ./deid.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false, "suppress stderr logging")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(regulationsCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}
