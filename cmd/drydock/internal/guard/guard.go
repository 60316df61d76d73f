// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guard issues confirmation tokens for destructive steps.
//
// A destructive component (database drop/recreate, backup pruning) takes a
// Token and checks it with Authorizes before acting. Tokens only come from an
// Issuer, which either prompts the operator or, with --yes, logs that the
// action was pre-authorized.
package guard

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jinterlante1206/drydock/pkg/ux"
)

// Action names a destructive step.
type Action string

const (
	ActionDatabaseRecreate Action = "database-recreate"
	ActionBackupPrune      Action = "backup-prune"
)

// Source records how a token was obtained.
type Source string

const (
	SourcePrompt    Source = "prompt"
	SourceAssumeYes Source = "assume-yes"
	SourceAutomatic Source = "automatic"
)

var (
	// ErrDeclined is returned when the operator declines a prompt.
	ErrDeclined = errors.New("operation not confirmed")

	// ErrUnauthorized is returned when a token does not cover an action.
	ErrUnauthorized = errors.New("destructive action not authorized")
)

// Token proves that Action was confirmed.
type Token struct {
	Action Action
	Source Source
	issued bool
}

// Authorizes returns nil when t covers action.
func (t Token) Authorizes(action Action) error {
	if !t.issued || t.Action != action {
		return fmt.Errorf("%w: %s", ErrUnauthorized, action)
	}
	return nil
}

// Automatic returns a token for steps run by drydock itself during an
// automatic rollback. The operator confirmed the parent operation.
func Automatic(action Action) Token {
	return Token{Action: action, Source: SourceAutomatic, issued: true}
}

// Issuer hands out tokens.
type Issuer struct {
	prompter  ux.Prompter
	assumeYes bool
	printer   *ux.Printer
	logger    *slog.Logger
}

// NewIssuer creates an Issuer. printer may be nil.
func NewIssuer(prompter ux.Prompter, assumeYes bool, printer *ux.Printer, logger *slog.Logger) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{prompter: prompter, assumeYes: assumeYes, printer: printer, logger: logger}
}

// Confirm obtains a token for action.
//
// # Description
//
// With --yes the token is issued without a prompt and a WARN line plus a
// banner record who skipped the confirmation. Otherwise the operator must type
// the action name.
//
// # Inputs
//
//   - action: The destructive step.
//   - description: What will be destroyed, shown in the prompt.
//
// # Outputs
//
//   - Token: Valid only for action.
//   - error: ErrDeclined, ux.ErrNotInteractive or a prompt error.
func (i *Issuer) Confirm(action Action, description string) (Token, error) {
	if i.assumeYes {
		i.logger.Warn("destructive action pre-authorized with --yes",
			"action", action, "description", description)
		if i.printer != nil {
			i.printer.Banner(fmt.Sprintf("%s confirmed by --yes: %s", action, description))
		}
		return Token{Action: action, Source: SourceAssumeYes, issued: true}, nil
	}
	if i.prompter == nil {
		return Token{}, ux.ErrNotInteractive
	}

	ok, err := i.prompter.ConfirmDestructive(
		fmt.Sprintf("Confirm %s", action), description, string(action))
	if err != nil {
		return Token{}, fmt.Errorf("confirm %s: %w", action, err)
	}
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrDeclined, action)
	}
	i.logger.Info("destructive action confirmed", "action", action)
	return Token{Action: action, Source: SourcePrompt, issued: true}, nil
}
