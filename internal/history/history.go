// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package history persists a record of completed batch runs in a SQLite
// database, one row per run, so prior runs can be listed and compared
// across processes. Full results (factor matrices) stay in gob export
// files; history keeps only the summary.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/esat-tools/sabatch/internal/batchrun"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    dataset TEXT NOT NULL,
    models INTEGER NOT NULL,
    factors INTEGER NOT NULL,
    method TEXT NOT NULL,
    seed INTEGER NOT NULL,
    best_model INTEGER NOT NULL,
    best_loss_true REAL,
    failures INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset);
`

// ErrOpenStore is returned when the history database cannot be opened or
// migrated.
var ErrOpenStore = errors.New("failed to open history store")

// Entry is one recorded run.
type Entry struct {
	ID           string
	Dataset      string
	Models       int
	Factors      int
	Method       string
	Seed         int64
	BestModel    int
	BestLossTrue float64
	Failures     int
	Started      time.Time
	Finished     time.Time
}

// Store is the SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at dbPath and applies the
// schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenStore, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("%w: %w", ErrOpenStore, err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores the summary of a completed batch. Re-recording the same run
// ID overwrites the previous row.
func (s *Store) Record(result *batchrun.Result) error {
	bestLoss := 0.0
	if best := result.Best(); best != nil {
		bestLoss = best.LossTrue
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (id, dataset, models, factors, method, seed, best_model, best_loss_true, failures, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			best_model = excluded.best_model,
			best_loss_true = excluded.best_loss_true,
			failures = excluded.failures,
			finished_at = excluded.finished_at
	`,
		result.ID,
		result.DatasetID,
		result.Config.Models,
		result.Config.Factors,
		string(result.Config.Method),
		result.Config.Seed,
		result.BestModel,
		bestLoss,
		len(result.Failures),
		result.Started,
		result.Finished,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", result.ID, err)
	}

	return nil
}

// List returns recorded runs, most recent first. An empty dataset lists
// every run.
func (s *Store) List(dataset string) ([]*Entry, error) {
	query := `SELECT id, dataset, models, factors, method, seed, best_model, best_loss_true, failures, started_at, finished_at FROM runs`

	var args []any

	if dataset != "" {
		query += " WHERE dataset = ?"
		args = append(args, dataset)
	}

	query += " ORDER BY finished_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var entries []*Entry

	for rows.Next() {
		var e Entry

		if err := rows.Scan(&e.ID, &e.Dataset, &e.Models, &e.Factors, &e.Method, &e.Seed,
			&e.BestModel, &e.BestLossTrue, &e.Failures, &e.Started, &e.Finished); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}

		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
