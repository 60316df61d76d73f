// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Dump framing written by pg_dump in plain format.
const (
	PgDumpHeader  = "-- PostgreSQL database dump"
	PgDumpTrailer = "-- PostgreSQL database dump complete"
)

// FakeStack is a FakeController whose Exec emulates the tools drydock runs
// inside the datastore and cache services: pg_dump, psql and redis-cli.
//
// The datastore content is a list of SQL lines; the cache content is an opaque
// string persisted to the RDB file on BGSAVE.
type FakeStack struct {
	*FakeController

	DatastoreService string
	CacheService     string
	RDBPath          string

	mu       sync.Mutex
	database []string
	cache    string
	lastSave int64

	// CorruptDump drops the completion trailer from pg_dump output.
	CorruptDump bool

	// StallBGSave makes BGSAVE never advance LASTSAVE.
	StallBGSave bool
}

// NewFakeStack creates a stack with the given datastore and cache services.
func NewFakeStack(datastore, cache, rdbPath string) *FakeStack {
	s := &FakeStack{
		FakeController:   NewFakeController(),
		DatastoreService: datastore,
		CacheService:     cache,
		RDBPath:          rdbPath,
		lastSave:         1_700_000_000,
	}
	s.ExecFunc = s.exec
	return s
}

// SetDatabase replaces the datastore content.
func (s *FakeStack) SetDatabase(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.database = append([]string(nil), lines...)
}

// Database returns the datastore content.
func (s *FakeStack) Database() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.database...)
}

// SetCache replaces the in-memory cache content.
func (s *FakeStack) SetCache(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = content
}

func (s *FakeStack) exec(ctx context.Context, inst Instance, req ExecRequest) (ExecResult, error) {
	if len(req.Cmd) == 0 {
		return ExecResult{ExitCode: 127, Stderr: "empty command"}, nil
	}
	var out strings.Builder
	res := ExecResult{}

	switch req.Cmd[0] {
	case "pg_dump":
		s.mu.Lock()
		fmt.Fprintf(&out, "--\n%s\n--\n\n", PgDumpHeader)
		for _, line := range s.database {
			out.WriteString(line + "\n")
		}
		if !s.CorruptDump {
			fmt.Fprintf(&out, "\n--\n%s\n--\n", PgDumpTrailer)
		}
		s.mu.Unlock()

	case "psql":
		if req.Stdin == nil {
			return ExecResult{ExitCode: 1, Stderr: "no input"}, nil
		}
		var lines []string
		scanner := bufio.NewScanner(req.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, "--") {
				continue
			}
			lines = append(lines, line)
		}
		if err := scanner.Err(); err != nil {
			return ExecResult{}, err
		}
		s.SetDatabase(lines...)

	case "redis-cli":
		switch strings.ToUpper(req.Cmd[len(req.Cmd)-1]) {
		case "PING":
			out.WriteString("PONG\n")
		case "LASTSAVE":
			s.mu.Lock()
			fmt.Fprintf(&out, "%d\n", s.lastSave)
			s.mu.Unlock()
		case "BGSAVE":
			s.mu.Lock()
			if !s.StallBGSave {
				s.lastSave++
			}
			content := "REDIS0011" + s.cache
			s.mu.Unlock()
			s.SetFile(s.CacheService, s.RDBPath, []byte(content))
			out.WriteString("Background saving started\n")
		default:
			out.WriteString("OK\n")
		}

	default:
		if req.Stdin != nil {
			_, _ = io.Copy(io.Discard, req.Stdin)
		}
	}

	if req.Stdout != nil {
		if _, err := io.WriteString(req.Stdout, out.String()); err != nil {
			return res, err
		}
	} else {
		res.Stdout = out.String()
	}
	return res, nil
}
