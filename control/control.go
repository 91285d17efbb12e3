// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package control implements the detector command channel: serialized
// request/response exchanges over UDP, the parameter catalog surface and
// the background heartbeat monitor.
package control // import "github.com/fximage/hubx/control"

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fximage/hubx"
	"github.com/fximage/hubx/wire"
	"github.com/fximage/hubx/xudp"
	"golang.org/x/xerrors"
)

// DefaultTimeout bounds one request/response exchange.
const DefaultTimeout = 20 * time.Second

// Outcome of a synchronous channel call: 1 on success, 0 when the
// parameter or operation is not supported by the catalog, -1 on failure.
const (
	OK          = 1
	Unsupported = 0
	Failed      = -1
)

// Sink receives channel errors and housekeeping events. Calls may arrive
// from the heartbeat goroutine.
type Sink interface {
	OnError(id uint32, msg string)
	OnEvent(id uint32, value float32)
}

// Channel is the command channel to one detector. A channel serializes
// one outstanding request at a time; concurrent callers block on the
// request lock.
type Channel struct {
	msg  *log.Logger
	sink Sink

	reqmu sync.Mutex // one request in flight
	mu    sync.Mutex // open/close state, timeout, heartbeat flag

	conn    *xudp.Conn
	det     hubx.Detector
	open    bool
	timeout time.Duration

	hb        *Heartbeat
	hbEnabled bool
}

// NewChannel returns a closed channel reporting to sink. A nil sink
// drops all reports.
func NewChannel(sink Sink) *Channel {
	if sink == nil {
		sink = nopSink{}
	}
	return &Channel{
		msg:       log.New(os.Stdout, "control: ", 0),
		sink:      sink,
		timeout:   DefaultTimeout,
		hbEnabled: true,
	}
}

type nopSink struct{}

func (nopSink) OnError(id uint32, msg string)    {}
func (nopSink) OnEvent(id uint32, value float32) {}

// Open binds the command socket and, unless disabled, starts the
// heartbeat monitor. Opening an open channel is a no-op.
func (ch *Channel) Open(det hubx.Detector) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.open {
		return nil
	}

	if det.IP == "" {
		ch.sink.OnError(hubx.ErrConOpenFail, "invalid detector IP address")
		return xerrors.New("control: invalid detector IP address")
	}

	conn, err := xudp.Bind(":0")
	if err != nil {
		ch.sink.OnError(hubx.ErrConBindFail, err.Error())
		return xerrors.Errorf("control: could not bind command socket: %w", err)
	}

	ch.conn = conn
	ch.det = det
	ch.open = true
	ch.msg.Printf("opened command channel to %s", det.CmdAddr())

	if ch.hbEnabled {
		ch.hb = newHeartbeat(ch, ch.sink)
		ch.hb.Start()
	}
	return nil
}

// IsOpen reports whether the channel holds a bound command socket.
func (ch *Channel) IsOpen() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.open
}

// Detector returns the detector the channel was opened against.
func (ch *Channel) Detector() hubx.Detector {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.det
}

// SetTimeout sets the request/response deadline.
func (ch *Channel) SetTimeout(d time.Duration) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if d > 0 {
		ch.timeout = d
	}
}

// EnableHeartbeat switches the background liveness monitor on or off.
// On an open channel the monitor is started or stopped immediately.
func (ch *Channel) EnableHeartbeat(enable bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.hbEnabled == enable {
		return
	}
	ch.hbEnabled = enable

	if !ch.open {
		return
	}
	switch {
	case enable:
		ch.hb = newHeartbeat(ch, ch.sink)
		ch.hb.Start()
	case ch.hb != nil:
		ch.hb.Stop()
		ch.hb = nil
	}
}

// Close stops the heartbeat and releases the command socket. Close is
// idempotent.
func (ch *Channel) Close() {
	ch.mu.Lock()
	hb := ch.hb
	ch.hb = nil
	ch.mu.Unlock()

	if hb != nil {
		hb.Stop()
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.open {
		return
	}
	ch.open = false
	_ = ch.conn.Close()
	ch.conn = nil
	ch.msg.Printf("closed command channel to %s", ch.det.CmdAddr())
}

// Operate executes a system operation (load settings, save settings,
// restore defaults, send frame trigger, ...). data is encoded big-endian
// when the operation declares a payload width.
func (ch *Channel) Operate(p wire.Param, data uint64) int {
	nfo, ok := wire.Lookup(p)
	if !ok {
		ch.sink.OnError(hubx.ErrInvalidParam, fmt.Sprintf("unsupported operation code %d", p))
		return Unsupported
	}

	var op wire.Op
	switch {
	case nfo.Perm&wire.PermLoad != 0:
		op = wire.OpLoad
	case nfo.Perm&wire.PermExec != 0:
		op = wire.OpExec
	default:
		ch.sink.OnError(hubx.ErrInvalidParam, fmt.Sprintf("parameter %d is not executable", p))
		return Unsupported
	}

	_, rc := ch.request(wire.Command{
		Cmd:  nfo.Code,
		Op:   op,
		Data: encodeValue(data, nfo.Width),
	}, 0)
	return rc
}

// Read reads an integer parameter. Per-module parameters require a
// concrete module index: reading with wire.ModuleAll fails.
func (ch *Channel) Read(p wire.Param, module uint8) (uint64, int) {
	nfo, ok := wire.Lookup(p)
	if !ok {
		if p == wire.ParamPixelDepth {
			// the firmware exposes no depth register; discovery reports
			// the effective depth, 16 bits being the detector default.
			return 16, OK
		}
		ch.sink.OnError(hubx.ErrInvalidParam, fmt.Sprintf("unsupported read code %d", p))
		return 0, Unsupported
	}
	if nfo.Perm&wire.PermRead == 0 {
		ch.sink.OnError(hubx.ErrInvalidParam, fmt.Sprintf("parameter %d is not readable", p))
		return 0, Unsupported
	}
	module, rc := ch.moduleIndex(nfo, module)
	if rc != OK {
		return 0, rc
	}

	resp, rc := ch.request(wire.Command{Cmd: nfo.Code, Op: wire.OpRead, Module: module}, 0)
	if rc != OK {
		return 0, rc
	}

	val, err := decodeValue(resp.Data, nfo.Width)
	if err != nil {
		ch.sink.OnError(hubx.ErrConRecvErrCmd, err.Error())
		return 0, Failed
	}
	return val, OK
}

// ReadString reads a string parameter (serial numbers).
func (ch *Channel) ReadString(p wire.Param, module uint8) (string, int) {
	nfo, ok := wire.Lookup(p)
	if !ok || !nfo.IsString() {
		ch.sink.OnError(hubx.ErrInvalidParam, fmt.Sprintf("unsupported string read code %d", p))
		return "", Unsupported
	}
	module, rc := ch.moduleIndex(nfo, module)
	if rc != OK {
		return "", rc
	}

	resp, rc := ch.request(wire.Command{Cmd: nfo.Code, Op: wire.OpRead, Module: module}, 0)
	if rc != OK {
		return "", rc
	}
	return string(resp.Data), OK
}

// Write writes an integer parameter and awaits the device ack.
func (ch *Channel) Write(p wire.Param, val uint64, module uint8) int {
	nfo, ok := wire.Lookup(p)
	if !ok {
		ch.sink.OnError(hubx.ErrInvalidParam, fmt.Sprintf("unsupported write code %d", p))
		return Unsupported
	}
	if nfo.Perm&wire.PermWrite == 0 {
		ch.sink.OnError(hubx.ErrInvalidParam, fmt.Sprintf("parameter %d is not writable", p))
		return Unsupported
	}

	// broadcast writes (module 0xFF) are allowed; only reads must
	// address one concrete module.
	if !nfo.PerModule {
		module = 0
	}

	_, rc := ch.request(wire.Command{
		Cmd:    nfo.Code,
		Op:     wire.OpWrite,
		Module: module,
		Data:   encodeValue(val, nfo.Width),
	}, 0)
	return rc
}

func (ch *Channel) moduleIndex(nfo wire.ParamInfo, module uint8) (uint8, int) {
	if !nfo.PerModule {
		return 0, OK
	}
	if module == wire.ModuleAll {
		ch.sink.OnError(hubx.ErrInvalidParam, "module index cannot be 0xFF for read")
		return 0, Failed
	}
	return module, OK
}

// request performs one serialized exchange. A zero deadline selects the
// configured channel timeout.
func (ch *Channel) request(cmd wire.Command, deadline time.Duration) (wire.Response, int) {
	ch.reqmu.Lock()
	defer ch.reqmu.Unlock()

	ch.mu.Lock()
	var (
		conn    = ch.conn
		open    = ch.open
		addr    = ch.det.CmdAddr()
		timeout = ch.timeout
	)
	ch.mu.Unlock()

	if !open {
		ch.sink.OnError(hubx.ErrConNotOpen, "control channel not open")
		return wire.Response{}, Failed
	}
	if deadline <= 0 {
		deadline = timeout
	}

	raw, err := wire.Encode(cmd)
	if err != nil {
		ch.sink.OnError(hubx.ErrConSendFail, err.Error())
		return wire.Response{}, Failed
	}

	if _, err := conn.SendTo(raw, addr); err != nil {
		ch.sink.OnError(hubx.ErrConSendFail, err.Error())
		return wire.Response{}, Failed
	}

	buf := make([]byte, 512)
	n, _, err := conn.Recv(buf, deadline)
	switch {
	case err == nil:
	case xerrors.Is(err, xudp.ErrTimeout):
		ch.sink.OnError(hubx.ErrConRecvTimeout, "command response timeout")
		return wire.Response{}, Failed
	default:
		ch.sink.OnError(hubx.ErrConRecvErrCmd, err.Error())
		return wire.Response{}, Failed
	}

	resp, err := wire.DecodeResponse(buf[:n])
	if err != nil {
		ch.sink.OnError(hubx.ErrConRecvErrCmd, err.Error())
		return wire.Response{}, Failed
	}
	if resp.Cmd != cmd.Cmd {
		ch.sink.OnError(hubx.ErrConRecvErrCmd,
			fmt.Sprintf("response command mismatch (got=0x%02x, want=0x%02x)", resp.Cmd, cmd.Cmd),
		)
		return wire.Response{}, Failed
	}
	if resp.Code != 0 {
		ch.sink.OnError(hubx.ErrConRecvErrCode,
			fmt.Sprintf("device returned error code %d", resp.Code),
		)
		return wire.Response{}, Failed
	}
	return resp, OK
}

func encodeValue(v uint64, width int) []byte {
	switch width {
	case 1:
		return []byte{uint8(v)}
	case 2:
		return wire.U16BE(uint16(v))
	case 4:
		return wire.U32BE(uint32(v))
	default:
		return nil
	}
}

func decodeValue(data []byte, width int) (uint64, error) {
	if width > 0 && len(data) < width {
		return 0, xerrors.Errorf("control: response payload too short (got=%d, want=%d)",
			len(data), width,
		)
	}
	switch width {
	case 1:
		return uint64(data[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(data[:2])), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(data[:4])), nil
	default:
		return 0, nil
	}
}
