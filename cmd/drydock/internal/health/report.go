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
	"time"
)

// Result is the outcome of one check.
type Result struct {
	Name       string        `json:"name"`
	Category   string        `json:"category"`
	Value      float64       `json:"value"`
	Boolean    bool          `json:"boolean,omitempty"`
	Status     Status        `json:"status"`
	Thresholds *Thresholds   `json:"thresholds,omitempty"`
	Message    string        `json:"message"`
	Duration   time.Duration `json:"duration_ns"`
}

// Report is the aggregated outcome of an evaluation.
type Report struct {
	Results     []Result  `json:"results"`
	Status      Status    `json:"status"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Aggregate returns the worst status among results; OK for none.
func Aggregate(results []Result) Status {
	status := StatusOK
	for _, r := range results {
		status = Worst(status, r.Status)
	}
	return status
}

// NewReport builds a Report with the aggregated status.
func NewReport(results []Result, at time.Time) Report {
	return Report{Results: results, Status: Aggregate(results), GeneratedAt: at}
}

// Critical returns the CRITICAL results.
func (r Report) Critical() []Result {
	return r.AtLeast(StatusCritical)
}

// AtLeast returns the results at or above min, in order.
func (r Report) AtLeast(min Status) []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status >= min {
			out = append(out, res)
		}
	}
	return out
}

// Counts returns the number of results per status.
func (r Report) Counts() map[Status]int {
	out := map[Status]int{StatusOK: 0, StatusWarning: 0, StatusCritical: 0}
	for _, res := range r.Results {
		out[res.Status]++
	}
	return out
}
