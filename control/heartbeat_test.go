// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package control

import (
	"testing"
	"time"

	"github.com/fximage/hubx"
	"github.com/fximage/hubx/internal/fakedet"
	"github.com/fximage/hubx/wire"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestHeartbeatEvents(t *testing.T) {
	dev, err := fakedet.New(wire.DevInfo{})
	if err != nil {
		t.Fatalf("could not start fake detector: %+v", err)
	}
	defer dev.Close()
	dev.SetEnvironment(253, 421)

	sink := newRecSink()
	ch := openChannel(t, dev, sink)

	hb := newHeartbeat(ch, sink)
	hb.period = 20 * time.Millisecond
	hb.Start()
	defer hb.Stop()

	ok := waitFor(t, 3*time.Second, func() bool {
		_, t1 := sink.event(hubx.EventTemperature)
		_, t2 := sink.event(hubx.EventHumidity)
		return t1 && t2
	})
	if !ok {
		t.Fatalf("no housekeeping events received")
	}

	if got, _ := sink.event(hubx.EventTemperature); got != 25.3 {
		t.Errorf("invalid temperature: got=%v, want=25.3", got)
	}
	if got, _ := sink.event(hubx.EventHumidity); got != 42.1 {
		t.Errorf("invalid humidity: got=%v, want=42.1", got)
	}
}

func TestHeartbeatMissPolicy(t *testing.T) {
	dev, err := fakedet.New(wire.DevInfo{})
	if err != nil {
		t.Fatalf("could not start fake detector: %+v", err)
	}
	defer dev.Close()

	sink := newRecSink()
	ch := openChannel(t, dev, sink)
	dev.Mute(true)

	hb := newHeartbeat(ch, sink)
	hb.period = 10 * time.Millisecond
	hb.Start()
	defer hb.Stop()

	ok := waitFor(t, 5*time.Second, func() bool {
		return sink.countErr(hubx.ErrHeartbeatFail) >= 1
	})
	if !ok {
		t.Fatalf("no heartbeat failure reported after sustained misses")
	}

	// the counter resets after a report: a second report needs ten more
	// misses, so shortly after the first there is still only one.
	if got := sink.countErr(hubx.ErrHeartbeatFail); got > 2 {
		t.Fatalf("heartbeat failure flood: got=%d reports", got)
	}

	// recovery resets the miss counter and events resume.
	dev.Mute(false)
	ok = waitFor(t, 3*time.Second, func() bool {
		_, has := sink.event(hubx.EventTemperature)
		return has
	})
	if !ok {
		t.Fatalf("heartbeat did not recover after unmuting")
	}
}

func TestHeartbeatStop(t *testing.T) {
	dev, err := fakedet.New(wire.DevInfo{})
	if err != nil {
		t.Fatalf("could not start fake detector: %+v", err)
	}
	defer dev.Close()

	sink := newRecSink()
	ch := openChannel(t, dev, sink)

	hb := newHeartbeat(ch, sink)
	hb.period = 50 * time.Millisecond
	hb.Start()
	if !hb.Running() {
		t.Fatalf("heartbeat not running after start")
	}

	start := time.Now()
	hb.Stop()
	if d := time.Since(start); d > 2*time.Second {
		t.Fatalf("stop took too long: %v", d)
	}
	if hb.Running() {
		t.Fatalf("heartbeat still running after stop")
	}

	// stop on an idle monitor is a no-op; restart works.
	hb.Stop()
	hb.Start()
	if !hb.Running() {
		t.Fatalf("heartbeat did not restart")
	}
	hb.Stop()
}

func TestChannelHeartbeatLifecycle(t *testing.T) {
	dev, err := fakedet.New(wire.DevInfo{})
	if err != nil {
		t.Fatalf("could not start fake detector: %+v", err)
	}
	defer dev.Close()

	sink := newRecSink()
	ch := NewChannel(sink)
	ch.SetTimeout(time.Second)

	det := hubx.NewDetector("127.0.0.1")
	det.CmdPort = dev.Info.CmdPort
	if err := ch.Open(det); err != nil {
		t.Fatalf("could not open channel: %+v", err)
	}
	defer ch.Close()

	ch.mu.Lock()
	hb := ch.hb
	ch.mu.Unlock()
	if hb == nil || !hb.Running() {
		t.Fatalf("heartbeat not started by open")
	}

	ch.EnableHeartbeat(false)
	ch.mu.Lock()
	stopped := ch.hb == nil
	ch.mu.Unlock()
	if !stopped || hb.Running() {
		t.Fatalf("heartbeat not stopped by disable")
	}

	ch.EnableHeartbeat(true)
	ch.mu.Lock()
	hb = ch.hb
	ch.mu.Unlock()
	if hb == nil || !hb.Running() {
		t.Fatalf("heartbeat not restarted by enable")
	}

	ch.Close()
	if hb.Running() {
		t.Fatalf("heartbeat still running after channel close")
	}
}
