// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
	"github.com/SafeHarborAI/safeharbor/pkg/ux"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "Export or import custom PHI type definitions",
}

var typesExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the registry's custom types to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		if err := phi.Default().ExportCustomTypes(f); err != nil {
			return err
		}
		ux.Success("custom types exported to %s", args[0])
		return nil
	},
}

var typesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load custom types from a JSON export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		count, err := phi.Default().ImportCustomTypes(f)
		if err != nil {
			return err
		}
		ux.Success("imported %d custom types from %s", count, args[0])
		return nil
	},
}

func init() {
	typesCmd.AddCommand(typesExportCmd)
	typesCmd.AddCommand(typesImportCmd)
}
