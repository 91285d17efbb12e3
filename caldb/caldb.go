// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package caldb holds types to describe the detector configuration and
// calibration bookkeeping database of a scanner installation.
package caldb // import "github.com/fximage/hubx/caldb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to retrieve detector records and
// calibration bookkeeping data from the installation database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the installation database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("caldb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("caldb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("caldb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// DetectorRecord is one registered detector of the installation.
type DetectorRecord struct {
	ID          int64
	Serial      string
	MAC         string
	IP          string
	CmdPort     uint16
	ImgPort     uint16
	PixelCount  uint32
	ModuleCount uint8
	PixelDepth  uint8
}

// Calibration is one calibration-file bookkeeping entry: where the file
// lives, what kind of calibration it holds and the bright-field target
// it was derived for.
type Calibration struct {
	ID      int64
	Serial  string // detector serial the file belongs to
	Kind    string // "og", "mog"
	Path    string
	Target  uint16
	Created time.Time
}

// Detectors returns every registered detector.
func (db *DB) Detectors(ctx context.Context) ([]DetectorRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var dets []DetectorRecord
	rows, err := db.db.QueryContext(ctx, "SELECT * FROM detectors")
	if err != nil {
		return dets, fmt.Errorf("caldb: could not run detectors query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var det DetectorRecord
		err = rows.Scan(
			&det.ID, &det.Serial, &det.MAC, &det.IP,
			&det.CmdPort, &det.ImgPort,
			&det.PixelCount, &det.ModuleCount, &det.PixelDepth,
		)
		if err != nil {
			return dets, fmt.Errorf("caldb: could not scan detectors: %w", err)
		}
		dets = append(dets, det)
	}

	if err := rows.Err(); err != nil {
		return dets, fmt.Errorf("caldb: could not scan db for detectors: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return dets, fmt.Errorf("caldb: context error while retrieving detectors: %w", err)
	}

	return dets, nil
}

// LastCalibration returns the most recent calibration entry of the
// given kind for one detector serial.
func (db *DB) LastCalibration(ctx context.Context, serial, kind string) (Calibration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var cal Calibration
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT id, serial, kind, path, target, created FROM calibrations
WHERE (serial=? AND kind=?)
ORDER BY created DESC LIMIT 1
`,
		serial, kind,
	)
	if err != nil {
		return cal, fmt.Errorf("caldb: could not query calibration: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&cal.ID, &cal.Serial, &cal.Kind, &cal.Path, &cal.Target, &cal.Created)
		if err != nil {
			return cal, fmt.Errorf("caldb: could not get calibration values: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return cal, fmt.Errorf("caldb: could not scan db for calibration: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return cal, fmt.Errorf("caldb: context error while retrieving calibration: %w", err)
	}

	return cal, nil
}

// AddCalibration records a new calibration file.
func (db *DB) AddCalibration(ctx context.Context, cal Calibration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO calibrations (serial, kind, path, target, created) VALUES (?, ?, ?, ?, ?)",
		cal.Serial, cal.Kind, cal.Path, cal.Target, cal.Created,
	)
	if err != nil {
		return fmt.Errorf("caldb: could not insert calibration: %w", err)
	}
	return nil
}
