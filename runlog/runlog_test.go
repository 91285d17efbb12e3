// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRunLog(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("could not open run log: %+v", err)
	}
	defer db.Close()

	ctx := context.Background()

	r1 := NewRun("TDI04-8S-0042")
	if r1.ID == "" {
		t.Fatalf("run without identifier")
	}
	r1.Stopped = r1.Started.Add(2 * time.Second)
	r1.Frames = 10
	r1.Packets = 10240
	r1.Lost = 3
	r1.Lines = 10237

	r2 := NewRun("TDI04-8S-0007")
	r2.Started = r1.Started.Add(time.Minute)
	r2.Stopped = r2.Started.Add(time.Second)

	if err := db.Record(ctx, r1); err != nil {
		t.Fatalf("could not record run: %+v", err)
	}
	if err := db.Record(ctx, r2); err != nil {
		t.Fatalf("could not record run: %+v", err)
	}

	runs, err := db.Runs(ctx, "")
	if err != nil {
		t.Fatalf("could not list runs: %+v", err)
	}
	if got, want := len(runs), 2; got != want {
		t.Fatalf("invalid number of runs: got=%d, want=%d", got, want)
	}
	if got, want := runs[0].ID, r2.ID; got != want {
		t.Fatalf("runs not sorted most recent first: got=%q, want=%q", got, want)
	}

	runs, err = db.Runs(ctx, "TDI04-8S-0042")
	if err != nil {
		t.Fatalf("could not list runs: %+v", err)
	}
	if got, want := len(runs), 1; got != want {
		t.Fatalf("invalid number of runs: got=%d, want=%d", got, want)
	}
	if got, want := runs[0].Frames, uint64(10); got != want {
		t.Errorf("invalid frame count: got=%d, want=%d", got, want)
	}
	if got, want := runs[0].Lost, uint64(3); got != want {
		t.Errorf("invalid loss count: got=%d, want=%d", got, want)
	}
}

func TestDuplicateRunRejected(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("could not open run log: %+v", err)
	}
	defer db.Close()

	run := NewRun("TDI04-8S-0042")
	run.Stopped = run.Started

	ctx := context.Background()
	if err := db.Record(ctx, run); err != nil {
		t.Fatalf("could not record run: %+v", err)
	}
	if err := db.Record(ctx, run); err == nil {
		t.Fatalf("duplicate run id must be rejected")
	}
}
