// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package adaptor_test

import (
	"testing"
	"time"

	"github.com/fximage/hubx"
	"github.com/fximage/hubx/adaptor"
	"github.com/fximage/hubx/internal/fakedet"
	"github.com/fximage/hubx/wire"
)

func TestDiscovery(t *testing.T) {
	dev, err := fakedet.New(wire.DevInfo{
		MAC:        [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x07},
		Serial:     "TDI04-8S-0007",
		PixelCount: 2048,
	})
	if err != nil {
		t.Fatalf("could not start fake detector: %+v", err)
	}
	defer dev.Close()

	adp := adaptor.New("127.0.0.1",
		adaptor.WithDiscoveryAddr(dev.CmdAddr()),
		adaptor.WithWindow(300*time.Millisecond),
	)
	if err := adp.Open(); err != nil {
		t.Fatalf("could not open adaptor: %+v", err)
	}
	defer adp.Close()

	if got, want := adp.Connect(), 1; got != want {
		t.Fatalf("invalid device count: got=%d, want=%d", got, want)
	}

	det, err := adp.Detector(0)
	if err != nil {
		t.Fatalf("could not fetch detector: %+v", err)
	}
	if got, want := det.Serial, "TDI04-8S-0007"; got != want {
		t.Errorf("invalid serial: got=%q, want=%q", got, want)
	}
	if got, want := det.PixelCount, uint32(2048); got != want {
		t.Errorf("invalid pixel count: got=%d, want=%d", got, want)
	}
	if got, want := det.CmdPort, dev.Info.CmdPort; got != want {
		t.Errorf("invalid command port: got=%d, want=%d", got, want)
	}
	if got, want := det.PixelDepth, uint8(16); got != want {
		t.Errorf("invalid pixel depth: got=%d, want=%d", got, want)
	}

	if _, err := adp.Detector(3); err == nil {
		t.Errorf("expected index range error")
	}
}

func TestDiscoveryEmptyWindow(t *testing.T) {
	// nothing answers: an empty result is not an error.
	adp := adaptor.New("127.0.0.1",
		adaptor.WithDiscoveryAddr("127.0.0.1:9"), // discard port
		adaptor.WithWindow(150*time.Millisecond),
	)
	if err := adp.Open(); err != nil {
		t.Fatalf("could not open adaptor: %+v", err)
	}
	defer adp.Close()

	if got, want := adp.Connect(), 0; got != want {
		t.Fatalf("invalid device count: got=%d, want=%d", got, want)
	}
}

func TestConfigDetector(t *testing.T) {
	if testing.Short() {
		t.Skip("config round-trip waits for the device reboot window")
	}

	mac := [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x09}
	dev, err := fakedet.New(wire.DevInfo{MAC: mac})
	if err != nil {
		t.Fatalf("could not start fake detector: %+v", err)
	}
	defer dev.Close()

	adp := adaptor.New("127.0.0.1",
		adaptor.WithDiscoveryAddr(dev.CmdAddr()),
		adaptor.WithWindow(200*time.Millisecond),
	)
	if err := adp.Open(); err != nil {
		t.Fatalf("could not open adaptor: %+v", err)
	}
	defer adp.Close()

	target := hubx.Detector{
		MAC:     mac,
		IP:      "192.168.44.5",
		CmdPort: 3200,
		ImgPort: 4200,
	}
	if got, want := adp.ConfigDetector(target), 1; got != want {
		t.Fatalf("could not configure detector: got=%d, want=%d", got, want)
	}

	nfo := dev.InfoSnapshot()
	if nfo.IP != "192.168.44.5" || nfo.CmdPort != 3200 || nfo.ImgPort != 4200 {
		t.Fatalf("device not reconfigured: %+v", nfo)
	}
}
