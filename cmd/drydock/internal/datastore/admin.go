// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datastore holds the PostgreSQL administrative connection used for
// readiness pings, database recreation during restore, and maintenance.
//
// Dumps and replays do not go through this package. They run inside the
// datastore service (pg_dump/psql) so the client version always matches the
// server.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/guard"
)

// MaintenanceDatabase is the database the admin connects to while the target
// database is dropped and recreated.
const MaintenanceDatabase = "postgres"

// ErrNoDSN is returned when no connection string is configured.
var ErrNoDSN = errors.New("datastore DSN not configured")

// DSNSource reveals the connection string on demand so it does not sit in
// ordinary heap memory between uses.
type DSNSource interface {
	Reveal() (string, error)
}

// StaticDSN is a plain-string DSNSource. Used by tests and tools.
type StaticDSN string

// Reveal implements DSNSource.
func (s StaticDSN) Reveal() (string, error) {
	if s == "" {
		return "", ErrNoDSN
	}
	return string(s), nil
}

// Admin runs administrative statements.
type Admin struct {
	dsn      DSNSource
	database string
	logger   *slog.Logger
}

// NewAdmin creates an Admin. database overrides the DSN's database name when
// non-empty.
func NewAdmin(dsn DSNSource, database string, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{dsn: dsn, database: database, logger: logger}
}

// connConfig parses the DSN. When maintenance is set the connection targets
// MaintenanceDatabase instead of the application database.
func (a *Admin) connConfig(maintenance bool) (*pgx.ConnConfig, string, error) {
	if a.dsn == nil {
		return nil, "", ErrNoDSN
	}
	raw, err := a.dsn.Reveal()
	if err != nil {
		return nil, "", err
	}
	cfg, err := pgx.ParseConfig(raw)
	if err != nil {
		// The parse error may echo the DSN, which carries the password.
		return nil, "", errors.New("parse datastore DSN: invalid connection string")
	}
	target := cfg.Database
	if a.database != "" {
		target = a.database
		cfg.Database = a.database
	}
	if maintenance {
		cfg.Database = MaintenanceDatabase
	}
	return cfg, target, nil
}

func (a *Admin) connect(ctx context.Context, maintenance bool) (*pgx.Conn, string, error) {
	cfg, target, err := a.connConfig(maintenance)
	if err != nil {
		return nil, "", err
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("connect to %s: %w", cfg.Database, err)
	}
	return conn, target, nil
}

// Database returns the application database name, or "" when the DSN cannot
// be parsed.
func (a *Admin) Database() string {
	_, target, err := a.connConfig(false)
	if err != nil {
		return a.database
	}
	return target
}

// Ping opens a connection to the application database and pings it.
func (a *Admin) Ping(ctx context.Context) error {
	conn, _, err := a.connect(ctx, false)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}

// RecreateDatabase drops and recreates the application database.
//
// # Description
//
// Connects to the maintenance database, terminates remaining sessions on the
// target, then DROP DATABASE IF EXISTS and CREATE DATABASE owned by the
// connecting role. Requires a token for guard.ActionDatabaseRecreate; the
// token is checked before any connection is made.
//
// # Inputs
//
//   - ctx: Cancellation.
//   - token: Confirmation for guard.ActionDatabaseRecreate.
//
// # Outputs
//
//   - error: guard.ErrUnauthorized, connection or statement failures.
func (a *Admin) RecreateDatabase(ctx context.Context, token guard.Token) error {
	if err := token.Authorizes(guard.ActionDatabaseRecreate); err != nil {
		return err
	}
	conn, target, err := a.connect(ctx, true)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if target == "" || target == MaintenanceDatabase {
		return fmt.Errorf("refusing to recreate database %q", target)
	}
	ident := pgx.Identifier{target}.Sanitize()
	owner := pgx.Identifier{conn.Config().User}.Sanitize()

	if _, err := conn.Exec(ctx,
		`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`,
		target); err != nil {
		return fmt.Errorf("terminate sessions on %s: %w", target, err)
	}
	if _, err := conn.Exec(ctx, "DROP DATABASE IF EXISTS "+ident); err != nil {
		return fmt.Errorf("drop database %s: %w", target, err)
	}
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+ident+" OWNER "+owner); err != nil {
		return fmt.Errorf("create database %s: %w", target, err)
	}
	a.logger.Warn("database recreated", "database", target, "token_source", token.Source)
	return nil
}

// DeadTuples returns the number of dead tuples across user tables.
func (a *Admin) DeadTuples(ctx context.Context) (int64, error) {
	conn, _, err := a.connect(ctx, false)
	if err != nil {
		return 0, err
	}
	defer conn.Close(context.Background())

	var n int64
	if err := conn.QueryRow(ctx,
		`SELECT COALESCE(sum(n_dead_tup), 0)::bigint FROM pg_stat_user_tables`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead tuples: %w", err)
	}
	return n, nil
}

// Optimize runs VACUUM ANALYZE on the application database.
func (a *Admin) Optimize(ctx context.Context) error {
	conn, target, err := a.connect(ctx, false)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "VACUUM ANALYZE"); err != nil {
		return fmt.Errorf("vacuum analyze %s: %w", target, err)
	}
	a.logger.Info("datastore optimized", "database", target)
	return nil
}
