// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/SafeHarborAI/safeharbor/pkg/job"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Process new files as they appear in a directory",
	Long: `Watches a directory and runs the full de-identification pipeline on
every supported file created there. Runs until interrupted. Shares the
process command's flags for pipeline configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		runner, err := buildRunner(ctx)
		if err != nil {
			return err
		}
		watcher, err := job.NewWatcher(runner, appLogger.Slog())
		if err != nil {
			return err
		}
		return watcher.Watch(ctx, args[0])
	},
}

func init() {
	// The watch pipeline is configured with the same knobs as process.
	watchCmd.Flags().AddFlagSet(processCmd.Flags())
}
