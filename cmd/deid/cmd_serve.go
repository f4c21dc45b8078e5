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

var serveFlags struct {
	addr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only job status API",
	Long: `Exposes task records, aggregate stats, /healthz, and Prometheus
/metrics over HTTP. Task files are read from disk on every request, so a
deid process running in another terminal is observable live.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		store, err := job.NewTaskStore(cfg.Job.TaskDir)
		if err != nil {
			return err
		}
		server, err := job.NewServer(store, appLogger.Slog())
		if err != nil {
			return err
		}

		addr := serveFlags.addr
		if addr == "" {
			addr = cfg.Server.Addr
		}
		return server.Run(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address (default from config)")
}
