// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package runlog persists per-run acquisition statistics in a local
// SQLite database.
package runlog // import "github.com/fximage/hubx/runlog"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id      TEXT PRIMARY KEY,
	serial  TEXT NOT NULL,
	started TIMESTAMP NOT NULL,
	stopped TIMESTAMP NOT NULL,
	frames  INTEGER NOT NULL,
	packets INTEGER NOT NULL,
	lost    INTEGER NOT NULL,
	lines   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_serial ON runs(serial);
`

// Run is the record of one acquisition run.
type Run struct {
	ID      string
	Serial  string
	Started time.Time
	Stopped time.Time
	Frames  uint64
	Packets uint64
	Lost    uint64
	Lines   uint64
}

// NewRun returns a run record with a fresh identifier, started now.
func NewRun(serial string) Run {
	return Run{
		ID:      uuid.NewString(),
		Serial:  serial,
		Started: time.Now().UTC(),
	}
}

// DB is a run-log store. Use ":memory:" for an ephemeral store.
type DB struct {
	db *sql.DB
}

// Open opens (and if needed creates) the run log at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runlog: could not open %q: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runlog: could not create schema: %w", err)
	}

	return &DB{db: db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Record inserts one finished run.
func (db *DB) Record(ctx context.Context, run Run) error {
	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO runs (id, serial, started, stopped, frames, packets, lost, lines) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		run.ID, run.Serial, run.Started, run.Stopped,
		run.Frames, run.Packets, run.Lost, run.Lines,
	)
	if err != nil {
		return fmt.Errorf("runlog: could not record run %q: %w", run.ID, err)
	}
	return nil
}

// Runs returns the runs of one detector serial, most recent first. An
// empty serial selects every run.
func (db *DB) Runs(ctx context.Context, serial string) ([]Run, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch serial {
	case "":
		rows, err = db.db.QueryContext(ctx,
			"SELECT id, serial, started, stopped, frames, packets, lost, lines FROM runs ORDER BY started DESC",
		)
	default:
		rows, err = db.db.QueryContext(ctx,
			"SELECT id, serial, started, stopped, frames, packets, lost, lines FROM runs WHERE serial=? ORDER BY started DESC",
			serial,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("runlog: could not query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		err = rows.Scan(
			&run.ID, &run.Serial, &run.Started, &run.Stopped,
			&run.Frames, &run.Packets, &run.Lost, &run.Lines,
		)
		if err != nil {
			return runs, fmt.Errorf("runlog: could not scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return runs, fmt.Errorf("runlog: could not scan runs: %w", err)
	}
	return runs, nil
}
