// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caldb

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/fximage/hubx/internal/fakedb"
)

func init() {
	drvName = "fakedb"
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open caldb: %+v", err)
	}
	defer db.Close()
}

func TestDetectors(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open caldb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{
			"id", "serial", "mac", "ip",
			"cmd_port", "img_port",
			"pixel_count", "module_count", "pixel_depth",
		},
		Values: [][]driver.Value{
			{
				int64(1), "TDI04-8S-0042", "00:0c:6e:01:02:03", "192.168.1.2",
				int64(3000), int64(4001),
				int64(2048), int64(8), int64(16),
			},
		},
	}, func(ctx context.Context) error {
		dets, err := db.Detectors(ctx)
		if err != nil {
			t.Fatalf("could not retrieve detectors: %+v", err)
		}

		if got, want := len(dets), 1; got != want {
			t.Fatalf("invalid number of detectors: got=%d, want=%d", got, want)
		}
		det := dets[0]
		if got, want := det.Serial, "TDI04-8S-0042"; got != want {
			t.Fatalf("invalid serial: got=%q, want=%q", got, want)
		}
		if got, want := det.PixelCount, uint32(2048); got != want {
			t.Fatalf("invalid pixel count: got=%d, want=%d", got, want)
		}
		if got, want := det.CmdPort, uint16(3000); got != want {
			t.Fatalf("invalid command port: got=%d, want=%d", got, want)
		}
		return nil
	})
}

func TestLastCalibration(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open caldb: %+v", err)
	}
	defer db.Close()

	created := time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC)

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"id", "serial", "kind", "path", "target", "created"},
		Values: [][]driver.Value{
			{int64(7), "TDI04-8S-0042", "og", "/var/lib/hubx/cal/0042-og.bin", int64(2048), created},
		},
	}, func(ctx context.Context) error {
		cal, err := db.LastCalibration(ctx, "TDI04-8S-0042", "og")
		if err != nil {
			t.Fatalf("could not retrieve calibration: %+v", err)
		}

		if got, want := cal.Path, "/var/lib/hubx/cal/0042-og.bin"; got != want {
			t.Fatalf("invalid path: got=%q, want=%q", got, want)
		}
		if got, want := cal.Target, uint16(2048); got != want {
			t.Fatalf("invalid target: got=%d, want=%d", got, want)
		}
		if !cal.Created.Equal(created) {
			t.Fatalf("invalid creation time: got=%v, want=%v", cal.Created, created)
		}
		return nil
	})
}

func TestAddCalibration(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open caldb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		err := db.AddCalibration(ctx, Calibration{
			Serial:  "TDI04-8S-0042",
			Kind:    "og",
			Path:    "/var/lib/hubx/cal/0042-og.bin",
			Target:  2048,
			Created: time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("could not add calibration: %+v", err)
		}
		return nil
	})

	if got, want := len(fakedb.Execs()), 1; got != want {
		t.Fatalf("invalid number of statements: got=%d, want=%d", got, want)
	}
}
