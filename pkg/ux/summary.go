// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"
	"time"
)

// Summary is the final block printed by every command.
type Summary struct {
	Operation      string
	OperationID    string
	Outcome        string
	Succeeded      []string
	Failed         []string
	Warnings       []string
	RollbackTarget string
	Duration       time.Duration
	ExitCode       int
}

// Render formats the summary as plain lines (no styling).
func (s Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "operation: %s", s.Operation)
	if s.OperationID != "" {
		fmt.Fprintf(&b, " (%s)", s.OperationID)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "outcome:   %s\n", s.Outcome)
	if s.Duration > 0 {
		fmt.Fprintf(&b, "duration:  %s\n", s.Duration.Round(time.Millisecond))
	}
	if s.RollbackTarget != "" {
		fmt.Fprintf(&b, "rollback:  %s\n", s.RollbackTarget)
	}
	writeList(&b, "succeeded", s.Succeeded)
	writeList(&b, "warnings", s.Warnings)
	writeList(&b, "failed", s.Failed)
	fmt.Fprintf(&b, "exit code: %d", s.ExitCode)
	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}

// Summary prints the summary box. It is printed even in silent mode.
func (p *Printer) Summary(s Summary) {
	body := s.Render()
	if p.Machine {
		fmt.Fprintln(p.Out, body)
		return
	}
	style := Styles.Box
	switch {
	case s.ExitCode >= 2:
		style = Styles.ErrorBox
	case s.ExitCode == 1:
		style = Styles.WarningBox
	}
	fmt.Fprintln(p.Out, style.Render(body))
}
