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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/health"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// =============================================================================
// Exit Code Tests
// =============================================================================

func TestExitCodeFor(t *testing.T) {
	warned := ops.New(ops.KindMaintenance)
	warned.Finish(ops.OutcomeWarning, nil)
	ok := ops.New(ops.KindBackup)
	ok.Finish(ops.OutcomeSuccess, nil)

	tests := []struct {
		name string
		rec  *ops.Record
		err  error
		want int
	}{
		{"success", ok, nil, util.ExitOK},
		{"warnings", warned, nil, util.ExitWarning},
		{"nil record", nil, nil, util.ExitOK},
		{"precondition", ok, util.NewOpError(util.KindPrecondition, "deploy", errors.New("no compose file")), util.ExitWarning},
		{"terminal", ok, util.NewOpError(util.KindTerminal, "restore", errors.New("load failed")), util.ExitCritical},
		{"verification", warned, util.NewOpError(util.KindVerification, "deploy.verify", nil), util.ExitCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.rec, tt.err))
		})
	}
}

func TestReported(t *testing.T) {
	assert.NoError(t, reported(errors.New("ignored"), util.ExitOK))

	err := reported(nil, util.ExitWarning)
	var rep *reportedError
	require.ErrorAs(t, err, &rep)
	assert.Equal(t, util.ExitWarning, rep.code)
	assert.ErrorIs(t, err, errWarnings)

	cause := util.NewOpError(util.KindIntegrity, "backup.verify", errors.New("checksum mismatch"))
	err = reported(cause, util.ExitCritical)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, util.KindIntegrity, util.KindOf(err))
}

func TestSummaryOf(t *testing.T) {
	rec := ops.New(ops.KindUpdate)
	rec.Anchor = "20250301T120000Z"
	rec.Succeed("api")
	rec.Fail("worker")
	rec.Finish(ops.OutcomeRolledBack, nil)
	err := util.NewOpError(util.KindVerification, "update.verify", errors.New("2 critical checks"))

	s := summaryOf(rec, err)
	assert.Equal(t, "update", s.Operation)
	assert.Equal(t, rec.ID, s.OperationID)
	assert.Equal(t, "rolled-back", s.Outcome)
	assert.Equal(t, []string{"api"}, s.Succeeded)
	assert.Equal(t, []string{"worker"}, s.Failed)
	assert.Equal(t, rec.Anchor, s.RollbackTarget)
	assert.Equal(t, util.ExitCritical, s.ExitCode)
}

// =============================================================================
// Health Summary Tests
// =============================================================================

func TestHealthSummary(t *testing.T) {
	report := health.Report{
		Status: health.StatusCritical,
		Results: []health.Result{
			{Name: "cpu", Status: health.StatusOK, Message: "12%"},
			{Name: "disk:/", Status: health.StatusWarning, Message: "82% used"},
			{Name: "service:api", Status: health.StatusCritical, Message: "not running"},
		},
	}

	s := healthSummary(report)
	assert.Equal(t, "health-check", s.Operation)
	assert.Equal(t, []string{"cpu"}, s.Succeeded)
	assert.Equal(t, []string{"disk:/: 82% used"}, s.Warnings)
	assert.Equal(t, []string{"service:api: not running"}, s.Failed)
	assert.Equal(t, util.ExitCritical, s.ExitCode)
}

func TestHealthError(t *testing.T) {
	tests := []struct {
		name     string
		status   health.Status
		wantCode int
	}{
		{"ok", health.StatusOK, util.ExitOK},
		{"warning", health.StatusWarning, util.ExitWarning},
		{"critical", health.StatusCritical, util.ExitCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := health.Report{
				Status:  tt.status,
				Results: []health.Result{{Name: "memory", Status: tt.status}},
			}
			assert.Equal(t, tt.wantCode, healthExitCode(tt.status))

			err := healthError(report)
			if tt.wantCode == util.ExitOK {
				assert.NoError(t, err)
				return
			}
			var rep *reportedError
			require.ErrorAs(t, err, &rep)
			assert.Equal(t, tt.wantCode, rep.code)
		})
	}
}

// =============================================================================
// Command Tree Tests
// =============================================================================

func TestExecute_Init(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "drydock.yaml")

	assert.Equal(t, util.ExitOK, execute([]string{"init", "--config", path}))
	_, err := os.Stat(path)
	require.NoError(t, err)

	assert.Equal(t, util.ExitWarning, execute([]string{"init", "--config", path}))
}

func TestExecute_UnknownCommand(t *testing.T) {
	assert.Equal(t, util.ExitWarning, execute([]string{"launch-the-missiles"}))
}

func TestRollbackFlagDefaultsToLatest(t *testing.T) {
	for _, cmd := range []string{"deploy", "update"} {
		c, _, err := rootCmd.Find([]string{cmd})
		require.NoError(t, err)
		flag := c.Flags().Lookup("rollback")
		require.NotNil(t, flag, cmd)
		assert.Equal(t, rollbackLatest, flag.NoOptDefVal, cmd)
	}
}
