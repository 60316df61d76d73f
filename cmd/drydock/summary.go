// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/health"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
	"github.com/jinterlante1206/drydock/pkg/ux"
)

// errWarnings is returned for an operation that completed with warnings.
var errWarnings = errors.New("completed with warnings")

// reportedError carries an exit code for an outcome already shown in a
// summary, so execute does not print it again.
type reportedError struct {
	err  error
	code int
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// exitCodeFor returns the code of the worst outcome: the error's code, or 1
// for a record that finished with warnings.
func exitCodeFor(rec *ops.Record, err error) int {
	if err != nil {
		return util.ExitCode(err)
	}
	if rec != nil && rec.Outcome == ops.OutcomeWarning {
		return util.ExitWarning
	}
	return util.ExitOK
}

// summaryOf renders rec as the final summary block.
func summaryOf(rec *ops.Record, err error) ux.Summary {
	return ux.Summary{
		Operation:      string(rec.Kind),
		OperationID:    rec.ID,
		Outcome:        string(rec.Outcome),
		Succeeded:      rec.Succeeded,
		Failed:         rec.Failed,
		Warnings:       rec.Warnings,
		RollbackTarget: rec.Anchor,
		Duration:       rec.Duration(),
		ExitCode:       exitCodeFor(rec, err),
	}
}

// finish journals rec, prints the error and the summary and returns the
// error the process exits with.
func (s *session) finish(rec *ops.Record, err error) error {
	s.save(rec)
	if err != nil {
		s.printer.Error("%v", err)
		if stderr := util.ExtractStderr(err); stderr != "" {
			s.printer.Info("stderr: %s", stderr)
		}
	}
	summary := summaryOf(rec, err)
	s.printer.Summary(summary)
	return reported(err, summary.ExitCode)
}

// reported wraps err for execute. Code 0 yields nil.
func reported(err error, code int) error {
	if code == util.ExitOK {
		return nil
	}
	if err == nil {
		err = errWarnings
	}
	return &reportedError{err: err, code: code}
}

// healthSummary turns a report into a summary. OK checks count as
// succeeded, WARNING as warnings and CRITICAL as failed.
func healthSummary(report health.Report) ux.Summary {
	summary := ux.Summary{
		Operation: string(ops.KindHealth),
		Outcome:   report.Status.String(),
		ExitCode:  healthExitCode(report.Status),
	}
	for _, r := range report.Results {
		line := fmt.Sprintf("%s: %s", r.Name, r.Message)
		switch r.Status {
		case health.StatusCritical:
			summary.Failed = append(summary.Failed, line)
		case health.StatusWarning:
			summary.Warnings = append(summary.Warnings, line)
		default:
			summary.Succeeded = append(summary.Succeeded, r.Name)
		}
	}
	return summary
}

// healthExitCode maps OK/WARNING/CRITICAL to 0/1/2.
func healthExitCode(status health.Status) int {
	switch status {
	case health.StatusCritical:
		return util.ExitCritical
	case health.StatusWarning:
		return util.ExitWarning
	default:
		return util.ExitOK
	}
}

// healthError returns the error health-check exits with.
func healthError(report health.Report) error {
	switch report.Status {
	case health.StatusCritical:
		return reported(util.NewOpError(util.KindVerification, "health-check",
			fmt.Errorf("%d critical checks", len(report.Critical()))), util.ExitCritical)
	case health.StatusWarning:
		return reported(fmt.Errorf("%d checks at warning", len(report.AtLeast(health.StatusWarning))), util.ExitWarning)
	}
	return nil
}

// printReport lists check results. criticalOnly hides everything below
// CRITICAL.
func printReport(p *ux.Printer, report health.Report, criticalOnly bool) {
	results := report.Results
	if criticalOnly {
		results = report.Critical()
	}
	for _, r := range results {
		switch r.Status {
		case health.StatusCritical:
			p.Error("%-28s %s", r.Name, r.Message)
		case health.StatusWarning:
			p.Warning("%-28s %s", r.Name, r.Message)
		default:
			p.Success("%-28s %s", r.Name, r.Message)
		}
	}
}
