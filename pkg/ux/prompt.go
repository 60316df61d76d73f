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
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// ErrNotInteractive is returned when a prompt is needed but stdin is not a terminal.
var ErrNotInteractive = errors.New("confirmation required but stdin is not a terminal (use --yes)")

// Prompter asks the operator to confirm destructive actions.
type Prompter interface {
	// ConfirmDestructive requires the operator to type the phrase exactly.
	ConfirmDestructive(title, description, phrase string) (bool, error)
}

// TerminalPrompter prompts on the controlling terminal using huh forms.
type TerminalPrompter struct{}

// ConfirmDestructive implements Prompter.
//
// # Description
//
// Destructive steps (database drop, backup pruning) use a typed phrase rather
// than a y/N so a stray Enter cannot confirm them.
//
// # Outputs
//
//   - bool: True only if the typed value equals phrase
//   - error: ErrNotInteractive when stdin is not a TTY, or a form error
func (TerminalPrompter) ConfirmDestructive(title, description, phrase string) (bool, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return false, ErrNotInteractive
	}

	var typed string
	input := huh.NewInput().
		Title(title).
		Description(fmt.Sprintf("%s\nType %q to continue.", description, phrase)).
		Value(&typed)
	if err := input.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return typed == phrase, nil
}

// StaticPrompter answers every prompt with a fixed value. Used by tests.
type StaticPrompter struct {
	Answer bool
	Err    error
	Asked  []string
}

// ConfirmDestructive implements Prompter.
func (s *StaticPrompter) ConfirmDestructive(title, _, _ string) (bool, error) {
	s.Asked = append(s.Asked, title)
	return s.Answer, s.Err
}

var (
	_ Prompter = TerminalPrompter{}
	_ Prompter = (*StaticPrompter)(nil)
)
