// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"github.com/fximage/hubx"
	"github.com/fximage/hubx/adaptor"
	"github.com/go-daq/tdaq"
	"golang.org/x/xerrors"
)

// Server exposes a detector session through TDAQ run-control commands:
// /config discovers detectors, /init opens a session to the selected
// one, /start and /stop drive acquisition, /quit closes the session.
type Server struct {
	localIP string
	index   int    // detector index within the discovery result
	frames  uint32 // frames per run, 0 = run until /stop
	opts    []Option

	dets []hubx.Detector
	ses  *Session

	discOpts []adaptor.Option
}

// NewServer returns a run-control server discovering through the given
// local adapter address and driving detector index idx.
func NewServer(localIP string, idx int, frames uint32, opts ...Option) *Server {
	return &Server{
		localIP: localIP,
		index:   idx,
		frames:  frames,
		opts:    opts,
	}
}

// SetDiscoveryOptions overrides discovery parameters (tests point the
// broadcast at a loopback device).
func (srv *Server) SetDiscoveryOptions(opts ...adaptor.Option) {
	srv.discOpts = opts
}

// Session returns the active session, nil before /init.
func (srv *Server) Session() *Session { return srv.ses }

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	dets, err := Discover(srv.localIP, srv.discOpts...)
	if err != nil {
		ctx.Msg.Errorf("could not discover detectors: %+v", err)
		return xerrors.Errorf("could not discover detectors: %w", err)
	}

	for i, det := range dets {
		ctx.Msg.Infof("found detector %d: %v", i, det)
	}
	srv.dets = dets
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	if srv.ses != nil {
		ctx.Msg.Errorf("session already initialized")
		return xerrors.New("session already initialized")
	}
	if srv.index < 0 || srv.index >= len(srv.dets) {
		ctx.Msg.Errorf("detector index %d out of range (found=%d)", srv.index, len(srv.dets))
		return xerrors.Errorf("detector index %d out of range (found=%d)", srv.index, len(srv.dets))
	}

	ses := New(nil, nil, srv.opts...)
	if err := ses.Open(srv.dets[srv.index]); err != nil {
		ctx.Msg.Errorf("could not open session: %+v", err)
		return xerrors.Errorf("could not open session: %w", err)
	}

	srv.ses = ses
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	if srv.ses != nil {
		srv.ses.Close()
		srv.ses = nil
	}
	srv.dets = nil
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if srv.ses == nil {
		return xerrors.New("no session: run /config and /init first")
	}
	return srv.ses.StartGrab(srv.frames)
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	if srv.ses == nil {
		return xerrors.New("no session")
	}
	srv.ses.StopGrab()

	st := srv.ses.Grabber().Stats()
	ctx.Msg.Infof("run stopped: packets=%d lost=%d lines=%d",
		st.PacketsReceived, st.PacketsLost, st.LinesReceived,
	)
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	if srv.ses != nil {
		srv.ses.Close()
		srv.ses = nil
	}
	return nil
}
