// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/runtime"
	"github.com/jinterlante1206/drydock/pkg/logging"
)

func numeric(name string, v float64, th Thresholds) Check {
	return Check{Name: name, Thresholds: th, Observe: func(ctx context.Context) (Observation, error) {
		return Observation{Value: v}, nil
	}}
}

type stubSampler struct {
	cpu, mem, disk, inode float64
	err                   error
}

func (s stubSampler) CPUPercent(ctx context.Context) (float64, error)    { return s.cpu, s.err }
func (s stubSampler) MemoryPercent(ctx context.Context) (float64, error) { return s.mem, s.err }
func (s stubSampler) DiskPercent(ctx context.Context, p string) (float64, error) {
	return s.disk, s.err
}
func (s stubSampler) InodePercent(ctx context.Context, p string) (float64, error) {
	return s.inode, s.err
}

// =============================================================================
// Evaluator Tests
// =============================================================================

func TestEvaluate_OneCriticalFourOK(t *testing.T) {
	th := Thresholds{Warning: 70, Critical: 90}
	ev := NewEvaluator(logging.Nop())

	report := ev.Evaluate(context.Background(), []Check{
		numeric("cpu", 10, th),
		numeric("memory", 20, th),
		numeric("disk", 95, th),
		numeric("inodes", 5, th),
		numeric("swap", 0, th),
	})

	assert.Equal(t, StatusCritical, report.Status)
	require.Len(t, report.Results, 5, "every result is retained")
	assert.Equal(t, "disk", report.Results[2].Name, "results keep check order")
	assert.Equal(t, StatusCritical, report.Results[2].Status)
	assert.False(t, report.GeneratedAt.IsZero())
}

func TestEvaluate_AllOK(t *testing.T) {
	th := Thresholds{Warning: 70, Critical: 90}
	report := NewEvaluator(logging.Nop()).Evaluate(context.Background(), []Check{
		numeric("a", 1, th), numeric("b", 2, th), numeric("c", 3, th), numeric("d", 4, th), numeric("e", 5, th),
	})
	assert.Equal(t, StatusOK, report.Status)
}

func TestEvaluate_ErrorIsCriticalForThatCheckOnly(t *testing.T) {
	th := Thresholds{Warning: 70, Critical: 90}
	failing := Check{Name: "broken", Observe: func(ctx context.Context) (Observation, error) {
		return Observation{}, errors.New("permission denied")
	}}

	report := NewEvaluator(logging.Nop()).Evaluate(context.Background(), []Check{numeric("ok", 1, th), failing})
	assert.Equal(t, StatusOK, report.Results[0].Status)
	assert.Equal(t, StatusCritical, report.Results[1].Status)
	assert.Contains(t, report.Results[1].Message, "permission denied")
}

func TestEvaluate_TimeoutBoundsTotalTime(t *testing.T) {
	stuck := func(name string) Check {
		return Check{Name: name, Timeout: 100 * time.Millisecond, Observe: func(ctx context.Context) (Observation, error) {
			time.Sleep(2 * time.Second) // ignores ctx on purpose
			return Observation{IsBool: true, OK: true}, nil
		}}
	}

	start := time.Now()
	report := NewEvaluator(logging.Nop()).Evaluate(context.Background(), []Check{stuck("a"), stuck("b"), stuck("c")})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second, "checks run concurrently and are cut at their timeout")
	for _, r := range report.Results {
		assert.Equal(t, StatusCritical, r.Status)
		assert.Contains(t, r.Message, "timed out")
	}
}

func TestEvaluate_PanicIsCritical(t *testing.T) {
	check := Check{Name: "panicky", Observe: func(ctx context.Context) (Observation, error) {
		panic("nil map")
	}}
	report := NewEvaluator(logging.Nop()).Evaluate(context.Background(), []Check{check})
	assert.Equal(t, StatusCritical, report.Status)
	assert.Contains(t, report.Results[0].Message, "panicked")
}

func TestEvaluate_BooleanFailureSeverity(t *testing.T) {
	warnOnly := Check{Name: "optional-endpoint", FailureStatus: StatusWarning, Observe: func(ctx context.Context) (Observation, error) {
		return Observation{IsBool: true, OK: false}, nil
	}}
	defaulted := Check{Name: "required", Observe: func(ctx context.Context) (Observation, error) {
		return Observation{IsBool: true, OK: false}, nil
	}}
	report := NewEvaluator(logging.Nop()).Evaluate(context.Background(), []Check{warnOnly, defaulted})
	assert.Equal(t, StatusWarning, report.Results[0].Status)
	assert.Equal(t, StatusCritical, report.Results[1].Status)
}

// =============================================================================
// Check Constructor Tests
// =============================================================================

func TestResourceChecks(t *testing.T) {
	th := Thresholds{Warning: 70, Critical: 90}
	s := stubSampler{cpu: 50, mem: 75, disk: 91, inode: 10}
	report := NewEvaluator(logging.Nop()).Evaluate(context.Background(), []Check{
		CPUCheck(s, th), MemoryCheck(s, th), DiskCheck(s, "/", th), InodeCheck(s, "/", th),
	})
	got := map[string]Status{}
	for _, r := range report.Results {
		got[r.Name] = r.Status
	}
	assert.Equal(t, map[string]Status{
		"cpu": StatusOK, "memory": StatusWarning, "disk:/": StatusCritical, "inodes:/": StatusOK,
	}, got)
}

func TestLivenessCheck(t *testing.T) {
	ctrl := runtime.NewFakeController()
	ctrl.Seed("api", "api:1", true)
	ctrl.Seed("worker", "worker:1", false)

	report := NewEvaluator(logging.Nop()).Evaluate(context.Background(), []Check{
		LivenessCheck(ctrl, "api"), LivenessCheck(ctrl, "worker"), LivenessCheck(ctrl, "ghost"),
	})
	assert.Equal(t, StatusOK, report.Results[0].Status)
	assert.Equal(t, StatusCritical, report.Results[1].Status)
	assert.Equal(t, StatusCritical, report.Results[2].Status)
	assert.Contains(t, report.Results[2].Message, "missing")
}

func TestEndpointCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	report := NewEvaluator(logging.Nop()).Evaluate(context.Background(), []Check{
		EndpointCheck("up", srv.URL+"/health", time.Second, StatusCritical),
		EndpointCheck("down", srv.URL+"/down", time.Second, StatusCritical),
		EndpointCheck("tcp", "tcp://"+ln.Addr().String(), time.Second, StatusCritical),
	})
	assert.Equal(t, StatusOK, report.Results[0].Status)
	assert.Equal(t, StatusCritical, report.Results[1].Status)
	assert.Equal(t, StatusOK, report.Results[2].Status)
}

func TestCertificateCheck(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// The httptest certificate is self-signed, so verification fails and the
	// check reports CRITICAL with the handshake error.
	addr := strings.TrimPrefix(srv.URL, "https://")
	report := NewEvaluator(logging.Nop()).Evaluate(context.Background(), []Check{
		CertificateCheck(addr, Thresholds{Warning: 30, Critical: 7}),
	})
	assert.Equal(t, StatusCritical, report.Status)
	assert.Contains(t, report.Results[0].Message, "tls handshake")
	assert.Equal(t, "certificate:"+addr, report.Results[0].Name)
}

func TestBackupFreshnessCheck(t *testing.T) {
	th := Thresholds{Warning: 1, Critical: 2}
	fresh := BackupFreshnessCheck(func(ctx context.Context) (time.Time, bool, error) {
		return time.Now().Add(-2 * time.Hour), true, nil
	}, th)
	stale := BackupFreshnessCheck(func(ctx context.Context) (time.Time, bool, error) {
		return time.Now().Add(-72 * time.Hour), true, nil
	}, th)
	none := BackupFreshnessCheck(func(ctx context.Context) (time.Time, bool, error) {
		return time.Time{}, false, nil
	}, th)

	report := NewEvaluator(logging.Nop()).Evaluate(context.Background(), []Check{fresh, stale, none})
	assert.Equal(t, StatusOK, report.Results[0].Status)
	assert.Equal(t, StatusCritical, report.Results[1].Status)
	assert.Equal(t, StatusCritical, report.Results[2].Status)
	assert.Contains(t, report.Results[2].Message, "no verified backup")
}

func TestAlertCountCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/alerts", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"alerts":[
			{"labels":{"alertname":"HighCPU"},"annotations":{},"state":"firing","activeAt":"2026-10-19T10:00:00Z","value":"1"},
			{"labels":{"alertname":"DiskSoon"},"annotations":{},"state":"pending","activeAt":"2026-10-19T10:00:00Z","value":"1"},
			{"labels":{"alertname":"Down"},"annotations":{},"state":"firing","activeAt":"2026-10-19T10:00:00Z","value":"1"}
		]}}`))
	}))
	defer srv.Close()

	report := NewEvaluator(logging.Nop()).Evaluate(context.Background(), []Check{
		AlertCountCheck(srv.URL, Thresholds{Warning: 1, Critical: 5}),
	})
	assert.Equal(t, 2.0, report.Results[0].Value)
	assert.Equal(t, StatusWarning, report.Status)
}

func TestCountLogMatches(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "auth.log")
	lines := []string{
		"Oct 19 11:30:00 host sshd[1]: Failed password for root from 10.0.0.1",
		"Oct 19 11:45:00 host sshd[2]: Invalid user admin from 10.0.0.2",
		"Oct 19 09:00:00 host sshd[3]: Failed password for root from 10.0.0.3",
		"Oct 19 11:50:00 host sshd[4]: Accepted publickey for deploy",
		"2026-10-19T11:55:00.000000+00:00 host sshd[5]: Failed password for bob",
		"garbage line with Failed password",
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))

	n, err := CountLogMatches(path, regexp.MustCompile(DefaultFailedLoginPattern.String()), now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = CountLogMatches(filepath.Join(t.TempDir(), "missing"), DefaultFailedLoginPattern, now, now)
	assert.Error(t, err)
}

func TestDiskUsedPercent(t *testing.T) {
	assert.InDelta(t, 50.0, diskUsedPercent(100, 50, 50), 0.001)
	assert.InDelta(t, 0.0, diskUsedPercent(0, 0, 0), 0.001)
	// Reserved blocks: used / (used + available).
	assert.InDelta(t, 50.0, diskUsedPercent(100, 55, 45), 0.001)
}
