// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package control

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/fximage/hubx"
	"github.com/fximage/hubx/wire"
)

const (
	// heartbeatPeriod is the interval between liveness probes.
	heartbeatPeriod = 1 * time.Second

	// heartbeatMissLimit is the number of consecutive misses after which
	// one HeartbeatFail is reported and the counter restarts.
	heartbeatMissLimit = 10
)

type hbState int

const (
	hbIdle hbState = iota
	hbRunning
	hbStopping
)

// Heartbeat periodically probes the detector through the control channel
// and reports temperature and humidity readings. It never tears the
// channel down on its own: after ten consecutive misses it reports one
// HeartbeatFail and keeps probing.
type Heartbeat struct {
	ch   *Channel
	sink Sink

	period time.Duration

	mu     sync.Mutex
	state  hbState
	done   chan struct{}
	joined chan struct{}

	missed int
}

func newHeartbeat(ch *Channel, sink Sink) *Heartbeat {
	return &Heartbeat{
		ch:     ch,
		sink:   sink,
		period: heartbeatPeriod,
	}
}

// Start launches the monitor goroutine. Starting a running monitor is a
// no-op.
func (hb *Heartbeat) Start() {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	if hb.state != hbIdle {
		return
	}
	hb.state = hbRunning
	hb.missed = 0
	hb.done = make(chan struct{})
	hb.joined = make(chan struct{})

	go hb.run(hb.done, hb.joined)
}

// Stop terminates the monitor and waits for it to join. The monitor
// leaves its current wait within one heartbeat period.
func (hb *Heartbeat) Stop() {
	hb.mu.Lock()
	if hb.state != hbRunning {
		hb.mu.Unlock()
		return
	}
	hb.state = hbStopping
	done, joined := hb.done, hb.joined
	hb.mu.Unlock()

	close(done)

	select {
	case <-joined:
	case <-time.After(2 * hb.period):
		hb.sink.OnError(hubx.ErrHeartbeatStopBad, "heartbeat did not stop in time")
	}

	hb.mu.Lock()
	hb.state = hbIdle
	hb.mu.Unlock()
}

// Running reports whether the monitor goroutine is active.
func (hb *Heartbeat) Running() bool {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.state == hbRunning
}

func (hb *Heartbeat) run(done, joined chan struct{}) {
	defer close(joined)

	for {
		select {
		case <-done:
			return
		case <-time.After(hb.period):
		}

		select {
		case <-done:
			return
		default:
		}

		// probe with the heartbeat period as deadline so Stop is not
		// held up by the channel's long command timeout.
		resp, rc := hb.ch.request(wire.Command{
			Cmd: gcuInfoCode(),
			Op:  wire.OpRead,
		}, hb.period)

		if rc != OK {
			hb.missed++
			if hb.missed >= heartbeatMissLimit {
				hb.sink.OnError(hubx.ErrHeartbeatFail,
					"heartbeat failed: 10 consecutive misses",
				)
				hb.missed = 0
			}
			continue
		}

		hb.missed = 0
		if temp, hum, ok := parseGCUInfo(resp.Data); ok {
			hb.sink.OnEvent(hubx.EventTemperature, temp)
			hb.sink.OnEvent(hubx.EventHumidity, hum)
		}
	}
}

func gcuInfoCode() uint8 {
	nfo, _ := wire.Lookup(wire.ParamGCUInfo)
	return nfo.Code
}

// parseGCUInfo extracts temperature and humidity from a GCU_INFO reply.
// The layout is firmware specific: two little-endian 16-bit values at
// the payload start, both scaled by ten.
func parseGCUInfo(data []byte) (temp, hum float32, ok bool) {
	if len(data) < 4 {
		return 0, 0, false
	}
	temp = float32(binary.LittleEndian.Uint16(data[0:2])) / 10
	hum = float32(binary.LittleEndian.Uint16(data[2:4])) / 10
	return temp, hum, true
}
