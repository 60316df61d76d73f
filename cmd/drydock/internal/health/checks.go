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
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/runtime"
)

// Check categories.
const (
	CategoryResource    = "resource"
	CategoryService     = "service"
	CategoryEndpoint    = "endpoint"
	CategoryCertificate = "certificate"
	CategoryBackup      = "backup"
	CategoryAlerts      = "alerts"
	CategorySecurity    = "security"
)

// =============================================================================
// Resource Checks
// =============================================================================

// CPUCheck classifies CPU saturation.
func CPUCheck(s Sampler, th Thresholds) Check {
	return Check{
		Name: "cpu", Category: CategoryResource, Thresholds: th, Timeout: 5 * time.Second,
		Observe: func(ctx context.Context) (Observation, error) {
			v, err := s.CPUPercent(ctx)
			return Observation{Value: v, Message: fmt.Sprintf("%.1f%% busy", v)}, err
		},
	}
}

// MemoryCheck classifies memory saturation.
func MemoryCheck(s Sampler, th Thresholds) Check {
	return Check{
		Name: "memory", Category: CategoryResource, Thresholds: th,
		Observe: func(ctx context.Context) (Observation, error) {
			v, err := s.MemoryPercent(ctx)
			return Observation{Value: v, Message: fmt.Sprintf("%.1f%% used", v)}, err
		},
	}
}

// DiskCheck classifies block usage of the filesystem holding path.
func DiskCheck(s Sampler, path string, th Thresholds) Check {
	return Check{
		Name: "disk:" + path, Category: CategoryResource, Thresholds: th,
		Observe: func(ctx context.Context) (Observation, error) {
			v, err := s.DiskPercent(ctx, path)
			return Observation{Value: v, Message: fmt.Sprintf("%.1f%% used", v)}, err
		},
	}
}

// InodeCheck classifies inode usage of the filesystem holding path.
func InodeCheck(s Sampler, path string, th Thresholds) Check {
	return Check{
		Name: "inodes:" + path, Category: CategoryResource, Thresholds: th,
		Observe: func(ctx context.Context) (Observation, error) {
			v, err := s.InodePercent(ctx, path)
			return Observation{Value: v, Message: fmt.Sprintf("%.1f%% used", v)}, err
		},
	}
}

// =============================================================================
// Service and Endpoint Checks
// =============================================================================

// LivenessCheck passes when the service's primary instance is running.
func LivenessCheck(ctrl runtime.Controller, service string) Check {
	return Check{
		Name: "service:" + service, Category: CategoryService, FailureStatus: StatusCritical,
		Observe: func(ctx context.Context) (Observation, error) {
			st, err := ctrl.Status(ctx, service)
			if err != nil {
				return Observation{}, err
			}
			msg := string(st.State)
			if st.Image != "" {
				msg += " (" + st.Image + ")"
			}
			return Observation{IsBool: true, OK: st.Running(), Message: msg}, nil
		},
	}
}

// EndpointCheck passes when target answers. "tcp://host:port" dials; any
// other target is fetched over HTTP and must answer below 400.
func EndpointCheck(name, target string, timeout time.Duration, failure Status) Check {
	return Check{
		Name: "endpoint:" + name, Category: CategoryEndpoint, Timeout: timeout, FailureStatus: failure,
		Observe: func(ctx context.Context) (Observation, error) {
			var err error
			if strings.HasPrefix(target, "tcp://") {
				err = dialTCP(ctx, strings.TrimPrefix(target, "tcp://"))
			} else {
				err = getHTTP(ctx, http.DefaultClient, target)
			}
			if err != nil {
				return Observation{IsBool: true, OK: false, Message: err.Error()}, nil
			}
			return Observation{IsBool: true, OK: true, Message: "reachable"}, nil
		},
	}
}

// =============================================================================
// Certificate Check
// =============================================================================

// CertificateCheck classifies days until the leaf certificate of addr
// ("host:port") expires. Thresholds are inverted.
func CertificateCheck(addr string, th Thresholds) Check {
	th.Inverted = true
	return Check{
		Name: "certificate:" + addr, Category: CategoryCertificate, Thresholds: th,
		Observe: func(ctx context.Context) (Observation, error) {
			notAfter, err := leafExpiry(ctx, addr)
			if err != nil {
				return Observation{}, err
			}
			days := time.Until(notAfter).Hours() / 24
			return Observation{Value: days, Message: fmt.Sprintf("expires %s (%.0f days)", notAfter.Format("2006-01-02"), days)}, nil
		},
	}
}

func leafExpiry(ctx context.Context, addr string) (time.Time, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return time.Time{}, fmt.Errorf("certificate address %q: %w", addr, err)
	}
	dialer := &tls.Dialer{Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return time.Time{}, fmt.Errorf("tls handshake %s: %w", addr, err)
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return time.Time{}, fmt.Errorf("%s presented no certificate", addr)
	}
	return certs[0].NotAfter, nil
}

// =============================================================================
// Backup Freshness Check
// =============================================================================

// LastBackupFunc returns the creation time of the newest verified backup and
// false when there is none.
type LastBackupFunc func(ctx context.Context) (time.Time, bool, error)

// BackupFreshnessCheck classifies days since the newest verified backup.
// No verified backup at all is CRITICAL.
func BackupFreshnessCheck(last LastBackupFunc, th Thresholds) Check {
	return Check{
		Name: "backup-freshness", Category: CategoryBackup, Thresholds: th,
		Observe: func(ctx context.Context) (Observation, error) {
			at, ok, err := last(ctx)
			if err != nil {
				return Observation{}, err
			}
			if !ok {
				return Observation{}, fmt.Errorf("no verified backup")
			}
			days := time.Since(at).Hours() / 24
			return Observation{Value: days, Message: fmt.Sprintf("last verified backup %.1f days ago", days)}, nil
		},
	}
}

// =============================================================================
// Alert Count Check
// =============================================================================

// AlertCountCheck classifies the number of firing alerts reported by the
// Prometheus server at baseURL.
func AlertCountCheck(baseURL string, th Thresholds) Check {
	return Check{
		Name: "alerts", Category: CategoryAlerts, Thresholds: th,
		Observe: func(ctx context.Context) (Observation, error) {
			client, err := promapi.NewClient(promapi.Config{Address: baseURL})
			if err != nil {
				return Observation{}, fmt.Errorf("prometheus client: %w", err)
			}
			res, err := promv1.NewAPI(client).Alerts(ctx)
			if err != nil {
				return Observation{}, fmt.Errorf("query alerts: %w", err)
			}
			firing := 0
			for _, a := range res.Alerts {
				if a.State == promv1.AlertStateFiring {
					firing++
				}
			}
			return Observation{Value: float64(firing), Message: fmt.Sprintf("%d firing", firing)}, nil
		},
	}
}

// =============================================================================
// Failed Login Check
// =============================================================================

// DefaultFailedLoginPattern matches sshd and PAM authentication failures.
var DefaultFailedLoginPattern = regexp.MustCompile(`Failed password|authentication failure|Invalid user`)

// FailedLoginCheck classifies failed logins in an auth log over a window.
func FailedLoginCheck(path string, pattern *regexp.Regexp, window time.Duration, th Thresholds) Check {
	if pattern == nil {
		pattern = DefaultFailedLoginPattern
	}
	return Check{
		Name: "failed-logins", Category: CategorySecurity, Thresholds: th,
		Observe: func(ctx context.Context) (Observation, error) {
			n, err := CountLogMatches(path, pattern, time.Now().Add(-window), time.Now())
			if err != nil {
				return Observation{}, err
			}
			return Observation{Value: float64(n), Message: fmt.Sprintf("%d in last %s", n, window)}, nil
		},
	}
}

// CountLogMatches counts lines matching pattern whose timestamp is at or
// after since. Lines with no recognizable timestamp are counted.
//
// # Description
//
// Both classic syslog ("Oct 19 12:00:01", year taken from now) and
// RFC 3339 prefixes are understood.
func CountLogMatches(path string, pattern *regexp.Regexp, since, now time.Time) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !pattern.MatchString(line) {
			continue
		}
		if ts, ok := parseLogTime(line, now); ok && ts.Before(since) {
			continue
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("read %s: %w", path, err)
	}
	return count, nil
}

func parseLogTime(line string, now time.Time) (time.Time, bool) {
	if len(line) >= 15 {
		if ts, err := time.ParseInLocation("Jan _2 15:04:05", line[:15], now.Location()); err == nil {
			ts = ts.AddDate(now.Year(), 0, 0)
			if ts.After(now.Add(24 * time.Hour)) {
				ts = ts.AddDate(-1, 0, 0)
			}
			return ts, true
		}
	}
	if i := strings.IndexByte(line, ' '); i > 0 {
		if ts, err := time.Parse(time.RFC3339Nano, line[:i]); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
