// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// =============================================================================
// Interface
// =============================================================================

// Manager runs host commands. All exec.Command calls go through it so
// maintenance tasks can be tested without touching the host.
type Manager interface {
	// Run executes name with args and returns stdout. A non-zero exit is
	// returned as *util.CommandError carrying stderr.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// Available reports whether name is on PATH.
	Available(name string) bool
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultManager runs real processes via os/exec.
type DefaultManager struct{}

// NewDefaultManager creates a DefaultManager.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes the command and captures stdout and stderr.
func (m *DefaultManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return stdout.Bytes(), util.NewCommandError(commandLine(name, args), code, stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

// Available reports whether name resolves on PATH.
func (m *DefaultManager) Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func commandLine(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

// =============================================================================
// Mock Implementation
// =============================================================================

// MockManager records calls and delegates to function fields.
//
// # Example
//
//	mock := &process.MockManager{
//	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
//	        return []byte("Listing... Done\n"), nil
//	    },
//	}
type MockManager struct {
	RunFunc       func(ctx context.Context, name string, args ...string) ([]byte, error)
	AvailableFunc func(name string) bool

	Calls []Call
	mu    sync.Mutex
}

// Call is one recorded invocation.
type Call struct {
	Name string
	Args []string
}

// Run records the call and delegates to RunFunc (empty output when nil).
func (m *MockManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Name: name, Args: args})
	fn := m.RunFunc
	m.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(ctx, name, args...)
}

// Available delegates to AvailableFunc; true when unset.
func (m *MockManager) Available(name string) bool {
	if m.AvailableFunc == nil {
		return true
	}
	return m.AvailableFunc(name)
}

// GetCalls returns a copy of the recorded calls.
func (m *MockManager) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.Calls))
	copy(out, m.Calls)
	return out
}

var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
