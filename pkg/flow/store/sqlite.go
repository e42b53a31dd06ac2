// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/stepflow/pkg/flow"
)

// SQLite is a durable flow.StepCache backed by a single-writer SQLite
// database, for workflows that need resume state to survive a process
// restart without a filesystem full of JSON snapshots.
type SQLite struct {
	db *sql.DB
}

// SQLiteConfig configures a SQLite store.
type SQLiteConfig struct {
	// Path is the database file path, or ":memory:" for a private
	// in-process database.
	Path string

	// WAL enables write-ahead-log journaling for concurrent readers.
	WAL bool
}

// NewSQLite opens (creating if necessary) the database at cfg.Path, applies
// pragmas, and runs migrations.
func NewSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLite, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection avoids SQLITE_BUSY errors from this package's own
	// concurrent callers; WAL mode lets external readers proceed alongside.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS step_cache (
		workflow_id TEXT NOT NULL,
		step_key TEXT NOT NULL,
		outcome TEXT NOT NULL,
		meta TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (workflow_id, step_key)
	)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Scoped returns a flow.StepCache bound to a single workflowID, for passing
// to flow.WithCache. The keyed rows survive across invocations that reuse
// the same workflowID, enabling cross-process resume.
func (s *SQLite) Scoped(ctx context.Context, workflowID string) flow.StepCache {
	return &sqliteScopedCache{store: s, ctx: ctx, workflowID: workflowID}
}

// LoadResumeState reads every row persisted for workflowID into a
// flow.ResumeState suitable for flow.WithResumeState.
func (s *SQLite) LoadResumeState(ctx context.Context, workflowID string) (flow.ResumeState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step_key, outcome, meta FROM step_cache WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return flow.ResumeState{}, fmt.Errorf("failed to query step cache: %w", err)
	}
	defer rows.Close()

	steps := make(map[string]flow.CacheEntry)
	for rows.Next() {
		var stepKey, outcomeJSON, metaJSON string
		if err := rows.Scan(&stepKey, &outcomeJSON, &metaJSON); err != nil {
			return flow.ResumeState{}, fmt.Errorf("failed to scan step cache row: %w", err)
		}
		var entry flow.CacheEntry
		if err := json.Unmarshal([]byte(outcomeJSON), &entry.Outcome); err != nil {
			return flow.ResumeState{}, fmt.Errorf("failed to unmarshal outcome for %s: %w", stepKey, err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &entry.Meta); err != nil {
			return flow.ResumeState{}, fmt.Errorf("failed to unmarshal meta for %s: %w", stepKey, err)
		}
		steps[stepKey] = entry
	}
	if err := rows.Err(); err != nil {
		return flow.ResumeState{}, fmt.Errorf("failed to iterate step cache rows: %w", err)
	}
	return flow.ResumeState{Steps: steps}, nil
}

// DeleteWorkflow removes every row persisted for workflowID, for cleaning up
// after a run that completed and no longer needs to be resumable.
func (s *SQLite) DeleteWorkflow(ctx context.Context, workflowID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM step_cache WHERE workflow_id = ?`, workflowID); err != nil {
		return fmt.Errorf("failed to delete step cache rows: %w", err)
	}
	return nil
}

// sqliteScopedCache adapts SQLite to flow.StepCache for one workflowID. Get
// and Has block on a synchronous query; this is acceptable under the
// engine's "at most one concurrent execution per (cache, key)" contract.
type sqliteScopedCache struct {
	store      *SQLite
	ctx        context.Context
	workflowID string
}

func (c *sqliteScopedCache) Get(key string) (flow.CacheEntry, bool) {
	var outcomeJSON, metaJSON string
	row := c.store.db.QueryRowContext(c.ctx,
		`SELECT outcome, meta FROM step_cache WHERE workflow_id = ? AND step_key = ?`,
		c.workflowID, key)
	if err := row.Scan(&outcomeJSON, &metaJSON); err != nil {
		return flow.CacheEntry{}, false
	}
	var entry flow.CacheEntry
	if err := json.Unmarshal([]byte(outcomeJSON), &entry.Outcome); err != nil {
		return flow.CacheEntry{}, false
	}
	if err := json.Unmarshal([]byte(metaJSON), &entry.Meta); err != nil {
		return flow.CacheEntry{}, false
	}
	return entry, true
}

func (c *sqliteScopedCache) Set(key string, entry flow.CacheEntry) {
	outcomeJSON, err := json.Marshal(entry.Outcome)
	if err != nil {
		return
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return
	}
	_, _ = c.store.db.ExecContext(c.ctx,
		`INSERT INTO step_cache (workflow_id, step_key, outcome, meta, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (workflow_id, step_key) DO UPDATE SET outcome = excluded.outcome, meta = excluded.meta`,
		c.workflowID, key, string(outcomeJSON), string(metaJSON), time.Now().UTC().Format(time.RFC3339Nano))
}

func (c *sqliteScopedCache) Has(key string) bool {
	var one int
	row := c.store.db.QueryRowContext(c.ctx,
		`SELECT 1 FROM step_cache WHERE workflow_id = ? AND step_key = ?`, c.workflowID, key)
	return row.Scan(&one) == nil
}
