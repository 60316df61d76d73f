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
	"fmt"
	"math"
	"strings"
)

// =============================================================================
// Status
// =============================================================================

// Status is a health classification. Higher is worse.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusCritical
)

// String returns OK, WARNING or CRITICAL.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStatus parses OK, WARNING or CRITICAL (case-insensitive).
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OK":
		return StatusOK, nil
	case "WARNING", "WARN":
		return StatusWarning, nil
	case "CRITICAL", "":
		return StatusCritical, nil
	default:
		return StatusCritical, fmt.Errorf("unknown health status %q", s)
	}
}

// Worst returns the more severe of a and b.
func Worst(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}

// =============================================================================
// Thresholds
// =============================================================================

// Thresholds classify a numeric observation.
//
// # Description
//
// Normal: value < Warning is OK, Warning <= value < Critical is WARNING,
// value >= Critical is CRITICAL.
//
// Inverted (days remaining, free space): value > Warning is OK,
// Critical < value <= Warning is WARNING, value <= Critical is CRITICAL.
type Thresholds struct {
	Warning  float64 `yaml:"warning" json:"warning"`
	Critical float64 `yaml:"critical" json:"critical"`
	Inverted bool    `yaml:"inverted" json:"inverted,omitempty"`
}

// Validate checks the thresholds are ordered for their direction.
func (t Thresholds) Validate() error {
	if t.Inverted && t.Critical > t.Warning {
		return fmt.Errorf("inverted thresholds need critical (%v) <= warning (%v)", t.Critical, t.Warning)
	}
	if !t.Inverted && t.Critical < t.Warning {
		return fmt.Errorf("thresholds need warning (%v) <= critical (%v)", t.Warning, t.Critical)
	}
	return nil
}

// Classify maps value to a Status. NaN and infinities are a broken
// measurement and classify as critical in either direction.
func (t Thresholds) Classify(value float64) Status {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return StatusCritical
	}
	if t.Inverted {
		switch {
		case value <= t.Critical:
			return StatusCritical
		case value <= t.Warning:
			return StatusWarning
		default:
			return StatusOK
		}
	}
	switch {
	case value >= t.Critical:
		return StatusCritical
	case value >= t.Warning:
		return StatusWarning
	default:
		return StatusOK
	}
}

// ClassifyBool maps a boolean observation: true is OK, false is failure.
func ClassifyBool(ok bool, failure Status) Status {
	if ok {
		return StatusOK
	}
	return failure
}
