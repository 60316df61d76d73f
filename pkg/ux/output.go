// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders operator-facing terminal output: status lines, boxes,
// the final operation summary and confirmation prompts.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Brand colors, shared with the dashboards.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the lipgloss styles used across commands.
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconAnchor  Icon = "⚓"
)

// Render returns the icon with its status color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes styled lines to an output stream.
//
// # Description
//
// Machine mode drops colors and icons and prefixes lines with OK/WARN/ERROR so
// cron jobs and CI logs stay greppable. Silent mode suppresses everything
// except Summary output, which health-check --silent relies on.
type Printer struct {
	Out     io.Writer
	Machine bool
	Silent  bool
}

// NewPrinter returns a Printer on stdout.
func NewPrinter(machine, silent bool) *Printer {
	return &Printer{Out: os.Stdout, Machine: machine, Silent: silent}
}

// Title prints a styled heading.
func (p *Printer) Title(text string) {
	if p.Silent || p.Machine {
		return
	}
	fmt.Fprintln(p.Out, Styles.Title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(format string, args ...any) {
	p.line(IconSuccess, "OK", Styles.Success, fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (p *Printer) Warning(format string, args ...any) {
	p.line(IconWarning, "WARN", Styles.Warning, fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	p.line(IconError, "ERROR", Styles.Error, fmt.Sprintf(format, args...))
}

// Info prints a muted informational line.
func (p *Printer) Info(format string, args ...any) {
	if p.Silent {
		return
	}
	text := fmt.Sprintf(format, args...)
	if p.Machine {
		fmt.Fprintln(p.Out, text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Banner prints a boxed warning that stays visible in scrollback.
func (p *Printer) Banner(text string) {
	if p.Machine {
		fmt.Fprintf(p.Out, "WARN: %s\n", text)
		return
	}
	fmt.Fprintln(p.Out, Styles.WarningBox.Render(Styles.Bold.Render(string(IconWarning)+" "+text)))
}

func (p *Printer) line(icon Icon, prefix string, style lipgloss.Style, text string) {
	if p.Silent {
		return
	}
	if p.Machine {
		fmt.Fprintf(p.Out, "%s: %s\n", prefix, text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", icon.Render(), style.Render(text))
}
