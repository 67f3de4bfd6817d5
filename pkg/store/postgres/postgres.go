/*
Copyright 2026 The FiskAI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package postgres implements every pkg/store repository against a real
// Postgres database via github.com/jmoiron/sqlx (row mapping) over a
// github.com/jackc/pgx/v5/stdlib connection pool. Migrations live in
// pkg/store/postgres/migrations and run via github.com/pressly/goose/v3.
package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Wandeon/FiskAI-App-sub004/pkg/store"
)

// Open connects to dsn through the pgx stdlib driver and wraps it as an
// sqlx.DB. Goose migrations run as plain DDL over the same pool; a fresh
// connection picks up schema changes made by a prior migration run without
// a process restart.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return sqlx.NewDb(db, "pgx"), nil
}

// Store bundles sqlx-backed repositories sharing one connection pool and
// logger.
type Store struct {
	DB     *sqlx.DB
	Logger *zap.Logger
}

// New constructs a Store over an already-open connection.
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{DB: db, Logger: logger}
}

// Repositories constructs one instance of every repository over s.DB,
// bundled as store.Repositories for the CLI entry points and the watchdog.
func (s *Store) Repositories() store.Repositories {
	return store.Repositories{
		Evidence:      NewEvidenceRepository(s.DB),
		Facts:         NewCandidateFactRepository(s.DB),
		Rules:         NewRuleRepository(s.DB),
		Conflicts:     NewConflictRepository(s.DB),
		Releases:      NewReleaseRepository(s.DB),
		AgentRuns:     NewAgentRunRepository(s.DB),
		ProgressGates: NewProgressGateRepository(s.DB),
		Alerts:        NewAlertRepository(s.DB),
	}
}
