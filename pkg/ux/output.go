// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the deid CLI.
package ux

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// SafeHarbor palette - clinical blues with amber accents.
var (
	ColorPrimary = lipgloss.Color("#4A9FD8") // primary blue
	ColorBright  = lipgloss.Color("#7FC4EE") // highlights
	ColorDeep    = lipgloss.Color("#2B6A96") // borders
	ColorMuted   = lipgloss.Color("#5C6B73") // secondary text

	ColorSuccess = lipgloss.Color("#4AD8A0")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorDeep).
		Padding(0, 1),
}

// Success prints a checkmarked line to stdout.
func Success(format string, args ...any) {
	fmt.Printf("%s %s\n", Styles.Success.Render("✓"), fmt.Sprintf(format, args...))
}

// Warn prints a warning line to stderr.
func Warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", Styles.Warning.Render("⚠"), fmt.Sprintf(format, args...))
}

// Error prints an error line to stderr.
func Error(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", Styles.Error.Render("✗"), fmt.Sprintf(format, args...))
}

// Header prints a styled section title.
func Header(text string) {
	fmt.Println(Styles.Title.Render(text))
}

// KV is one row of a summary box.
type KV struct {
	Key   string
	Value string
}

// SummaryBox renders aligned key/value rows inside a rounded border.
func SummaryBox(title string, rows []KV) string {
	width := 0
	for _, r := range rows {
		if len(r.Key) > width {
			width = len(r.Key)
		}
	}
	var b strings.Builder
	b.WriteString(Styles.Title.Render(title))
	for _, r := range rows {
		b.WriteString("\n")
		b.WriteString(Styles.Muted.Render(fmt.Sprintf("%-*s", width+2, r.Key)))
		b.WriteString(r.Value)
	}
	return Styles.Box.Render(b.String())
}

// Distribution renders a count-per-label table, highest counts first.
func Distribution(counts map[string]int) []KV {
	type pair struct {
		label string
		n     int
	}
	pairs := make([]pair, 0, len(counts))
	for label, n := range counts {
		pairs = append(pairs, pair{label, n})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].n != pairs[j].n {
			return pairs[i].n > pairs[j].n
		}
		return pairs[i].label < pairs[j].label
	})
	out := make([]KV, len(pairs))
	for i, p := range pairs {
		out[i] = KV{Key: p.label, Value: fmt.Sprintf("%d", p.n)}
	}
	return out
}
