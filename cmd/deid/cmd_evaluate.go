// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SafeHarborAI/safeharbor/pkg/evaluation"
	"github.com/SafeHarborAI/safeharbor/pkg/ux"
)

var evaluateFlags struct {
	predictions string
	truth       string
	mode        string
	out         string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score predictions against ground-truth annotations",
	Long: `Compares predicted (text, type) pairs with ground truth and reports
precision, recall, and F1, overall and per PHI type. Input files are JSON
arrays or JSONL of {"text": ..., "type": ...} records.`,
	RunE: runEvaluate,
}

func init() {
	f := evaluateCmd.Flags()
	f.StringVar(&evaluateFlags.predictions, "predictions", "", "predicted pairs file (required)")
	f.StringVar(&evaluateFlags.truth, "truth", "", "ground-truth pairs file (required)")
	f.StringVar(&evaluateFlags.mode, "mode", "exact", "matching mode: exact, partial, overlap")
	f.StringVar(&evaluateFlags.out, "out", "", "write the full JSON report here")
	evaluateCmd.MarkFlagRequired("predictions")
	evaluateCmd.MarkFlagRequired("truth")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	mode, err := evaluation.ParseMode(evaluateFlags.mode)
	if err != nil {
		return err
	}
	predictions, err := evaluation.LoadPairs(evaluateFlags.predictions)
	if err != nil {
		return err
	}
	truth, err := evaluation.LoadPairs(evaluateFlags.truth)
	if err != nil {
		return err
	}

	report := evaluation.Evaluate([]evaluation.Sample{{
		Predictions: predictions,
		Truth:       truth,
	}}, mode)

	rows := []ux.KV{
		{Key: "Mode", Value: string(report.Mode)},
		{Key: "Precision", Value: fmt.Sprintf("%.4f", report.Overall.Precision)},
		{Key: "Recall", Value: fmt.Sprintf("%.4f", report.Overall.Recall)},
		{Key: "F1", Value: fmt.Sprintf("%.4f", report.Overall.F1)},
		{Key: "TP / FP / FN", Value: fmt.Sprintf("%d / %d / %d", report.Overall.TP, report.Overall.FP, report.Overall.FN)},
	}
	fmt.Println(ux.SummaryBox("Evaluation", rows))

	for _, t := range report.TypesSorted() {
		m := report.PerType[t]
		fmt.Printf("  %-28s P=%.3f R=%.3f F1=%.3f (tp=%d fp=%d fn=%d)\n",
			t, m.Precision, m.Recall, m.F1, m.TP, m.FP, m.FN)
	}

	if evaluateFlags.out != "" {
		if err := evaluation.WriteReport(evaluateFlags.out, report); err != nil {
			return err
		}
		ux.Success("report written to %s", evaluateFlags.out)
	}
	return nil
}
