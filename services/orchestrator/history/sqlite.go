// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS turns (
	session_id TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	role       TEXT    NOT NULL,
	text       TEXT    NOT NULL,
	ts         INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
)`

// SQLiteStore keeps history in a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens or creates the database file at path. Parent
// directories are created as needed.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating turns table: %w", err)
	}
	slog.Info("history store opened", "backend", "sqlite", "path", path)
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, turns ...datatypes.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var next int64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM turns WHERE session_id = ?`, sessionID)
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("reading sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO turns (session_id, seq, role, text, ts) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, turn := range turns {
		if _, err := stmt.ExecContext(ctx, sessionID, next, string(turn.Role), turn.Text, turn.Timestamp); err != nil {
			return fmt.Errorf("inserting turn: %w", err)
		}
		next++
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turns: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) ([]datatypes.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role, text, ts FROM turns WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []datatypes.Turn
	for rows.Next() {
		var (
			role string
			turn datatypes.Turn
		)
		if err := rows.Scan(&role, &turn.Text, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turn.Role = datatypes.Role(role)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return turns, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting turns: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
