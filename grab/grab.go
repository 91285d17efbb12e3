// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package grab receives image datagrams from a detector and feeds them
// into a frame assembler.
package grab // import "github.com/fximage/hubx/grab"

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fximage/hubx"
	"github.com/fximage/hubx/frame"
	"github.com/fximage/hubx/wire"
	"github.com/fximage/hubx/xudp"
	"golang.org/x/xerrors"
)

// DefaultTimeout bounds one receive call. Timeouts are expected during
// idle periods and absorbed silently.
const DefaultTimeout = 1 * time.Second

// Stats counts the traffic of one grabber since it was opened.
type Stats struct {
	PacketsReceived uint64
	PacketsLost     uint64 // detected via packet-id gaps in header mode
	LinesReceived   uint64
}

// Grabber owns the image socket of one detector. Completed frames and
// receive errors are delivered to the sink installed at construction;
// the grabber feeds an internal frame assembler.
type Grabber struct {
	msg  *log.Logger
	sink frame.Sink
	asm  *frame.Assembler

	mu        sync.Mutex
	conn      *xudp.Conn
	det       hubx.Detector
	local     string
	open      bool
	grabbing  bool
	header    bool
	timeout   time.Duration
	target    uint32
	delivered uint32

	stats      Stats
	lastPacket uint32
	haveLast   bool
	lineCount  uint32

	done     chan struct{}
	joined   chan struct{}
	stopOnce *sync.Once
}

// NewGrabber returns a closed grabber delivering frames and errors to
// sink.
func NewGrabber(sink frame.Sink) *Grabber {
	g := &Grabber{
		msg:     log.New(os.Stdout, "grab: ", 0),
		timeout: DefaultTimeout,
	}
	if sink == nil {
		sink = nopSink{}
	}
	g.sink = sink
	g.asm = frame.NewAssembler(counting{g})
	return g
}

type nopSink struct{}

func (nopSink) OnError(id uint32, msg string)   {}
func (nopSink) OnEvent(id uint32, value uint32) {}
func (nopSink) OnFrame(img *frame.Image)        {}

// counting forwards assembler output to the user sink and counts
// delivered frames for the grab target.
type counting struct{ g *Grabber }

func (c counting) OnError(id uint32, msg string)   { c.g.sink.OnError(id, msg) }
func (c counting) OnEvent(id uint32, value uint32) { c.g.sink.OnEvent(id, value) }
func (c counting) OnFrame(img *frame.Image) {
	c.g.mu.Lock()
	c.g.delivered++
	c.g.mu.Unlock()
	c.g.sink.OnFrame(img)
}

// Assembler returns the grabber's frame assembler, for line-count
// configuration.
func (g *Grabber) Assembler() *frame.Assembler { return g.asm }

// SetHeader switches line-packet header parsing on or off.
func (g *Grabber) SetHeader(enable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.header = enable
}

// SetTimeout sets the per-receive deadline.
func (g *Grabber) SetTimeout(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d > 0 {
		g.timeout = d
	}
}

// SetLocalAddr overrides the local bind address (default every
// interface on the detector's image port). Must be called before Open.
func (g *Grabber) SetLocalAddr(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.local = addr
}

// Open binds the image socket for the given detector.
func (g *Grabber) Open(det hubx.Detector) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open {
		return nil
	}

	local := g.local
	if local == "" {
		local = fmt.Sprintf(":%d", det.ImgPort)
	}
	conn, err := xudp.Bind(local)
	if err != nil {
		g.sink.OnError(hubx.ErrGrabOpenFail, err.Error())
		return xerrors.Errorf("grab: could not bind image socket: %w", err)
	}

	g.conn = conn
	g.det = det
	g.open = true
	g.stats = Stats{}
	g.haveLast = false
	g.lineCount = 0
	g.msg.Printf("opened image socket on %s", conn.LocalAddr())
	return nil
}

// LocalAddr returns the bound image endpoint.
func (g *Grabber) LocalAddr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return ""
	}
	return g.conn.LocalAddr().String()
}

// IsGrabbing reports whether the receive loop is active.
func (g *Grabber) IsGrabbing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.grabbing
}

// Stats returns the traffic counters.
func (g *Grabber) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// Grab starts acquisition. With frames == 0 the loop runs until Stop;
// otherwise it ends after the given number of completed frames.
func (g *Grabber) Grab(frames uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.open {
		g.sink.OnError(hubx.ErrGrabNotOpen, "grabber not open")
		return xerrors.New("grab: grabber not open")
	}
	if g.grabbing {
		g.sink.OnError(hubx.ErrGrabBusy, "already grabbing")
		return xerrors.New("grab: already grabbing")
	}

	if err := g.asm.Start(int(g.det.PixelCount), int(g.det.PixelDepth)); err != nil {
		g.sink.OnError(hubx.ErrGrabBusy, "could not start frame assembly")
		return xerrors.Errorf("grab: could not start frame assembly: %w", err)
	}

	g.target = frames
	g.delivered = 0
	g.grabbing = true
	g.done = make(chan struct{})
	g.joined = make(chan struct{})
	g.stopOnce = new(sync.Once)

	go g.run(g.done, g.joined)
	g.msg.Printf("acquisition started (target=%d frames)", frames)
	return nil
}

func (g *Grabber) run(done, joined chan struct{}) {
	defer close(joined)

	buf := make([]byte, 65536)
	for {
		select {
		case <-done:
			g.finish()
			return
		default:
		}

		g.mu.Lock()
		var (
			conn    = g.conn
			timeout = g.timeout
			header  = g.header
			target  = g.target
			got     = g.delivered
		)
		g.mu.Unlock()

		if target > 0 && got >= target {
			g.finish()
			return
		}

		n, _, err := conn.Recv(buf, timeout)
		switch {
		case err == nil:
		case xerrors.Is(err, xudp.ErrTimeout):
			continue // idle periods are expected
		case xerrors.Is(err, xudp.ErrClosed):
			g.finish()
			return
		default:
			g.sink.OnError(hubx.ErrGrabRecvFail, err.Error())
			g.finish()
			return
		}

		g.handlePacket(buf[:n], header)
	}
}

func (g *Grabber) handlePacket(pkt []byte, header bool) {
	g.mu.Lock()
	g.stats.PacketsReceived++
	g.mu.Unlock()

	if header {
		hdr, err := wire.DecodeLineHeader(pkt)
		if err != nil {
			g.mu.Lock()
			g.stats.PacketsLost++
			g.mu.Unlock()
			return
		}

		g.mu.Lock()
		if g.haveLast && hdr.PacketID > g.lastPacket+1 {
			g.stats.PacketsLost += uint64(hdr.PacketID - g.lastPacket - 1)
		}
		g.lastPacket = hdr.PacketID
		g.haveLast = true
		g.stats.LinesReceived++
		g.mu.Unlock()

		g.asm.AddLine(pkt[wire.LineHeaderSize:], uint32(hdr.LineID))
		return
	}

	g.mu.Lock()
	line := g.lineCount
	g.lineCount++
	g.stats.LinesReceived++
	g.mu.Unlock()

	g.asm.AddLine(pkt, line)
}

func (g *Grabber) finish() {
	g.asm.Stop()
	g.mu.Lock()
	g.grabbing = false
	g.mu.Unlock()
}

// Snap acquires exactly one frame, blocking until it was delivered to
// the sink, then stops.
func (g *Grabber) Snap() error {
	if err := g.Grab(1); err != nil {
		return err
	}

	for {
		g.mu.Lock()
		var (
			done     = g.delivered >= 1
			grabbing = g.grabbing
		)
		g.mu.Unlock()
		if done || !grabbing {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	g.Stop()
	return nil
}

// Stop ends the receive loop and joins it. The loop leaves its current
// receive within one timeout period.
func (g *Grabber) Stop() {
	g.mu.Lock()
	if !g.grabbing {
		g.mu.Unlock()
		return
	}
	var (
		once   = g.stopOnce
		done   = g.done
		joined = g.joined
	)
	g.mu.Unlock()

	once.Do(func() { close(done) })
	<-joined
	g.msg.Printf("acquisition stopped")
}

// Close stops any acquisition and releases the image socket. Close is
// idempotent; it unblocks a pending receive immediately.
func (g *Grabber) Close() {
	g.mu.Lock()
	if !g.open {
		g.mu.Unlock()
		return
	}
	g.open = false
	conn := g.conn
	g.conn = nil
	var (
		grabbing = g.grabbing
		once     = g.stopOnce
		done     = g.done
		joined   = g.joined
	)
	g.mu.Unlock()

	_ = conn.Close()
	if grabbing {
		once.Do(func() { close(done) })
		<-joined
	}

	st := g.Stats()
	g.msg.Printf("closed (packets=%d lost=%d lines=%d)",
		st.PacketsReceived, st.PacketsLost, st.LinesReceived,
	)
}
