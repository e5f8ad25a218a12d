// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/microbench/pkg/benchmp"
)

// Palette shared by console output.
var (
	colorTeal  = lipgloss.Color("#20B9B4")
	colorDeep  = lipgloss.Color("#16858E")
	colorSlate = lipgloss.Color("#2C4A54")
	colorGold  = lipgloss.Color("#F4D03F")
	colorRed   = lipgloss.Color("#E74C3C")
)

var consoleStyles = struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Value lipgloss.Style
	Muted lipgloss.Style
	Warn  lipgloss.Style
	Error lipgloss.Style
	Box   lipgloss.Style
}{
	Title: lipgloss.NewStyle().Bold(true).Foreground(colorTeal),
	Label: lipgloss.NewStyle().Foreground(colorDeep).Width(16),
	Value: lipgloss.NewStyle().Bold(true),
	Muted: lipgloss.NewStyle().Foreground(colorSlate),
	Warn:  lipgloss.NewStyle().Foreground(colorGold),
	Error: lipgloss.NewStyle().Foreground(colorRed),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorDeep).
		Padding(0, 1),
}

// Console writes human-readable outcome summaries. Output is styled when the
// destination is a terminal and plain otherwise, so piped output stays
// parseable.
type Console struct {
	w      io.Writer
	styled bool
}

// NewConsole creates a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, styled: isTerminal(w)}
}

// Plain forces unstyled output.
func (c *Console) Plain() *Console {
	c.styled = false
	return c
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Outcome writes a summary of out.
func (c *Console) Outcome(out *benchmp.Outcome) error {
	var rows [][2]string
	add := func(k, v string) { rows = append(rows, [2]string{k, v}) }

	add("per iteration", FormatRate(out.Rate()))
	add("median", fmt.Sprintf("%v over %d iterations", out.Elapsed(), out.N()))
	if s := out.Summary; s.Count > 1 {
		add("spread", fmt.Sprintf("p10 %s  p90 %s  cv %.2f%%",
			FormatRate(s.P10), FormatRate(s.P90), s.CV*100))
	}
	add("samples", fmt.Sprintf("%d", out.Set.Len()))
	if out.Parallelism > 1 {
		add("workers", fmt.Sprintf("%d  start skew %v", out.Parallelism, out.StartSkew()))
		if out.Baseline != nil {
			add("baseline", FormatRate(out.Baseline.Rate()))
		}
	}
	if out.DrainKills > 0 {
		add("drain kills", fmt.Sprintf("%d", out.DrainKills))
	}
	add("wall", out.Wall.Round(time.Millisecond).String())

	title := out.Name
	if p := out.Params.Encode(); p != "" {
		title += " " + p
	}

	var b strings.Builder
	if !c.styled {
		fmt.Fprintf(&b, "%s (run %s)\n", title, out.RunID)
		for _, r := range rows {
			fmt.Fprintf(&b, "  %-16s %s\n", r[0], r[1])
		}
		_, err := io.WriteString(c.w, b.String())
		return err
	}

	b.WriteString(consoleStyles.Title.Render(title))
	b.WriteString(" ")
	b.WriteString(consoleStyles.Muted.Render("run " + out.RunID))
	for _, r := range rows {
		b.WriteString("\n")
		b.WriteString(consoleStyles.Label.Render(r[0]))
		b.WriteString(consoleStyles.Value.Render(r[1]))
	}
	_, err := fmt.Fprintln(c.w, consoleStyles.Box.Render(b.String()))
	return err
}

// Warn writes a warning line.
func (c *Console) Warn(msg string) error {
	if c.styled {
		msg = consoleStyles.Warn.Render("⚠ " + msg)
	} else {
		msg = "WARN: " + msg
	}
	_, err := fmt.Fprintln(c.w, msg)
	return err
}

// Failure writes an error line.
func (c *Console) Failure(msg string) error {
	if c.styled {
		msg = consoleStyles.Error.Render("✗ " + msg)
	} else {
		msg = "ERROR: " + msg
	}
	_, err := fmt.Fprintln(c.w, msg)
	return err
}

// FormatRate renders a per-iteration cost in the most readable unit.
func FormatRate(ns float64) string {
	switch {
	case ns >= 1e9:
		return fmt.Sprintf("%.3f s", ns/1e9)
	case ns >= 1e6:
		return fmt.Sprintf("%.3f ms", ns/1e6)
	case ns >= 1e3:
		return fmt.Sprintf("%.3f µs", ns/1e3)
	default:
		return fmt.Sprintf("%.2f ns", ns)
	}
}
