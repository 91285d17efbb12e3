// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session coordinates the lifetime of one detector connection:
// discovery, control channel, heartbeat, acquisition and correction.
package session // import "github.com/fximage/hubx/session"

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/fximage/hubx"
	"github.com/fximage/hubx/adaptor"
	"github.com/fximage/hubx/control"
	"github.com/fximage/hubx/correct"
	"github.com/fximage/hubx/frame"
	"github.com/fximage/hubx/grab"
	"golang.org/x/xerrors"
)

// CmdSink receives command-path errors and housekeeping events.
type CmdSink = control.Sink

// ImgSink receives image-path errors, events and corrected frames.
type ImgSink = frame.Sink

// Option configures a Session.
type Option func(*config)

type config struct {
	localImg string
	lines    int
}

// WithImageAddr overrides the local image bind address (default every
// interface on the detector's image port).
func WithImageAddr(addr string) Option {
	return func(cfg *config) { cfg.localImg = addr }
}

// WithLines sets the number of lines per assembled frame.
func WithLines(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.lines = n
		}
	}
}

// Session owns one detector connection: the control channel with its
// heartbeat, the image receiver with its assembler, and a reference to
// the correction engine applied to completed frames.
type Session struct {
	msg *log.Logger

	cmdSink CmdSink
	imgSink ImgSink

	mu      sync.Mutex
	det     hubx.Detector
	ch      *control.Channel
	grabber *grab.Grabber
	eng     *correct.Engine
	open    bool
	busy    bool // calibration in progress; excludes acquisition
	cfg     config
}

// Discover scans the local network for detectors through the given
// adapter address.
func Discover(localIP string, opts ...adaptor.Option) ([]hubx.Detector, error) {
	adp := adaptor.New(localIP, opts...)
	if err := adp.Open(); err != nil {
		return nil, err
	}
	defer adp.Close()

	n := adp.Connect()
	if n < 0 {
		return nil, xerrors.New("session: discovery failed")
	}

	dets := make([]hubx.Detector, 0, n)
	for i := 0; i < n; i++ {
		det, err := adp.Detector(i)
		if err != nil {
			return nil, err
		}
		dets = append(dets, det)
	}
	return dets, nil
}

// New returns a closed session reporting to the two sinks. Nil sinks
// drop their reports.
func New(cmdSink CmdSink, imgSink ImgSink, opts ...Option) *Session {
	cfg := config{lines: frame.DefaultLines}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		msg:     log.New(os.Stdout, "session: ", 0),
		cmdSink: cmdSink,
		imgSink: imgSink,
		cfg:     cfg,
	}
	if s.imgSink == nil {
		s.imgSink = dropImg{}
	}
	return s
}

type dropImg struct{}

func (dropImg) OnError(id uint32, msg string)   {}
func (dropImg) OnEvent(id uint32, value uint32) {}
func (dropImg) OnFrame(img *frame.Image)        {}

// correcting runs the correction engine over each completed frame
// before handing it to the downstream sink. Calibration tables are
// read-only during acquisition, so no lock is held across the pixel
// loop.
type correcting struct{ s *Session }

func (c correcting) OnError(id uint32, msg string)   { c.s.imgSink.OnError(id, msg) }
func (c correcting) OnEvent(id uint32, value uint32) { c.s.imgSink.OnEvent(id, value) }
func (c correcting) OnFrame(img *frame.Image) {
	c.s.mu.Lock()
	eng := c.s.eng
	c.s.mu.Unlock()

	if eng != nil {
		if err := eng.ApplyImage(img); err != nil {
			c.s.imgSink.OnError(hubx.ErrGrabRecvFail, err.Error())
			return
		}
	}
	c.s.imgSink.OnFrame(img)
}

// Open connects the session to one detector: it opens the control
// channel (which starts the heartbeat) and binds the image socket.
func (s *Session) Open(det hubx.Detector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil
	}

	ch := control.NewChannel(s.cmdSink)
	if err := ch.Open(det); err != nil {
		return xerrors.Errorf("session: could not open control channel: %w", err)
	}

	g := grab.NewGrabber(correcting{s})
	if s.cfg.localImg != "" {
		g.SetLocalAddr(s.cfg.localImg)
	}
	if err := g.Assembler().SetLines(s.cfg.lines); err != nil {
		ch.Close()
		return xerrors.Errorf("session: could not configure frame height: %w", err)
	}
	if err := g.Open(det); err != nil {
		ch.Close()
		return xerrors.Errorf("session: could not open image receiver: %w", err)
	}

	s.det = det
	s.ch = ch
	s.grabber = g
	s.open = true
	s.msg.Printf("session open to %s", det)
	return nil
}

// IsOpen reports whether the session is connected.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Detector returns the connected detector.
func (s *Session) Detector() hubx.Detector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.det
}

// Channel returns the control channel for parameter access.
func (s *Session) Channel() *control.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Grabber returns the image receiver.
func (s *Session) Grabber() *grab.Grabber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grabber
}

// Engine returns the correction engine, nil when none is attached.
func (s *Session) Engine() *correct.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng
}

// SetEngine attaches the correction engine applied to completed frames.
// The engine must not be swapped while grabbing.
func (s *Session) SetEngine(eng *correct.Engine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grabber != nil && s.grabber.IsGrabbing() {
		return xerrors.New("session: cannot swap engine while grabbing")
	}
	s.eng = eng
	return nil
}

// StartGrab begins acquisition of n frames (0 = until StopGrab).
func (s *Session) StartGrab(n uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return xerrors.New("session: not open")
	}
	if s.busy {
		return xerrors.New("session: calibration in progress")
	}
	return s.grabber.Grab(n)
}

// StopGrab ends acquisition and joins the receive loop.
func (s *Session) StopGrab() {
	s.mu.Lock()
	g := s.grabber
	s.mu.Unlock()
	if g != nil {
		g.Stop()
	}
}

// Snap acquires one frame synchronously.
func (s *Session) Snap() error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return xerrors.New("session: not open")
	}
	if s.busy {
		s.mu.Unlock()
		return xerrors.New("session: calibration in progress")
	}
	g := s.grabber
	s.mu.Unlock()

	return g.Snap()
}

// Calibrate runs fn against the correction engine with acquisition
// locked out. It fails when a grab is running or no engine is attached.
func (s *Session) Calibrate(fn func(eng *correct.Engine) error) error {
	s.mu.Lock()
	if s.grabber != nil && s.grabber.IsGrabbing() {
		s.mu.Unlock()
		return xerrors.New("session: cannot calibrate while grabbing")
	}
	if s.busy {
		s.mu.Unlock()
		return xerrors.New("session: calibration already in progress")
	}
	if s.eng == nil {
		s.mu.Unlock()
		return xerrors.New("session: no correction engine attached")
	}
	s.busy = true
	eng := s.eng
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()
	return fn(eng)
}

// Close tears the session down: the control channel first (heartbeat
// stopped, then the command socket closed), then the image receiver,
// whose receive loop stops the assembler on its way out and is joined.
// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	ch := s.ch
	g := s.grabber
	s.ch = nil
	s.grabber = nil
	s.mu.Unlock()

	start := time.Now()
	ch.Close()   // stops the heartbeat, closes the command socket
	g.Close()    // joins the receive loop, stops the assembler
	s.msg.Printf("session closed (teardown took %v)", time.Since(start).Round(time.Millisecond))
}
