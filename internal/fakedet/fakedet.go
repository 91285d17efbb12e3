// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedet emulates a line-scan detector over loopback UDP for
// tests: it answers discovery broadcasts, serves the command protocol
// from an in-memory parameter store and streams image line packets.
package fakedet // import "github.com/fximage/hubx/internal/fakedet"

import (
	"encoding/binary"
	"net"
	"strings"
	"sync"

	"github.com/fximage/hubx/adaptor"
	"github.com/fximage/hubx/wire"
	"golang.org/x/xerrors"
)

// Device is an in-process detector bound to a loopback command port.
type Device struct {
	Info wire.DevInfo

	conn *net.UDPConn

	mu     sync.Mutex
	params map[paramKey]uint64
	serial map[paramKey]string
	temp   uint16 // tenths of a degree
	hum    uint16 // tenths of a percent
	muted  bool
	fail   uint8 // device error code injected into the next reply

	done   chan struct{}
	joined chan struct{}
}

type paramKey struct {
	code   uint8
	module uint8
}

// New starts a fake detector on 127.0.0.1 with an ephemeral command
// port. Info fields left zero get sensible defaults.
func New(info wire.DevInfo) (*Device, error) {
	addr, err := net.ResolveUDPAddr("udp4", "127.0.0.1:0")
	if err != nil {
		return nil, xerrors.Errorf("fakedet: could not resolve loopback: %w", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, xerrors.Errorf("fakedet: could not bind: %w", err)
	}

	if info.IP == "" {
		info.IP = "127.0.0.1"
	}
	if info.Serial == "" {
		info.Serial = "FAKE-0001"
	}
	if info.PixelCount == 0 {
		info.PixelCount = 64
	}
	if info.ModuleCount == 0 {
		info.ModuleCount = 2
	}
	if info.PixelDepth == 0 {
		info.PixelDepth = 16
	}
	info.CmdPort = uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	if info.ImgPort == 0 {
		info.ImgPort = 4001
	}

	dev := &Device{
		Info:   info,
		conn:   conn,
		params: make(map[paramKey]uint64),
		serial: make(map[paramKey]string),
		temp:   253, // 25.3 C
		hum:    421, // 42.1 %
		done:   make(chan struct{}),
		joined: make(chan struct{}),
	}

	gcu, _ := wire.Lookup(wire.ParamGCUSerial)
	dev.serial[paramKey{code: gcu.Code}] = info.Serial
	dm, _ := wire.Lookup(wire.ParamDMSerial)
	for i := uint8(0); i < info.ModuleCount; i++ {
		dev.serial[paramKey{code: dm.Code, module: i}] = info.Serial + "-DM" + string('0'+rune(i))
	}
	pix, _ := wire.Lookup(wire.ParamPixelCount)
	dev.params[paramKey{code: pix.Code}] = uint64(info.PixelCount)

	go dev.serve()
	return dev, nil
}

// CmdAddr returns the device command endpoint.
func (dev *Device) CmdAddr() string { return dev.conn.LocalAddr().String() }

// InfoSnapshot returns the current device identity, which CONFIG and
// RESET requests mutate.
func (dev *Device) InfoSnapshot() wire.DevInfo {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.Info
}

// Close stops the device.
func (dev *Device) Close() {
	select {
	case <-dev.done:
	default:
		close(dev.done)
		_ = dev.conn.Close()
		<-dev.joined
	}
}

// Mute makes the device drop every request, simulating a dead link.
func (dev *Device) Mute(mute bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.muted = mute
}

// FailNext injects a device error code into the next command reply.
func (dev *Device) FailNext(code uint8) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.fail = code
}

// SetEnvironment sets the temperature and humidity reported by GCU_INFO,
// in tenths.
func (dev *Device) SetEnvironment(tempTenths, humTenths uint16) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.temp = tempTenths
	dev.hum = humTenths
}

// Param returns the stored value of a parameter, for assertions.
func (dev *Device) Param(p wire.Param, module uint8) (uint64, bool) {
	nfo, ok := wire.Lookup(p)
	if !ok {
		return 0, false
	}
	if !nfo.PerModule {
		module = 0
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	v, ok := dev.params[paramKey{code: nfo.Code, module: module}]
	return v, ok
}

// SetParam seeds the value of a parameter.
func (dev *Device) SetParam(p wire.Param, module uint8, v uint64) {
	nfo, ok := wire.Lookup(p)
	if !ok {
		return
	}
	if !nfo.PerModule {
		module = 0
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.params[paramKey{code: nfo.Code, module: module}] = v
}

func (dev *Device) serve() {
	defer close(dev.joined)

	buf := make([]byte, 2048)
	for {
		n, peer, err := dev.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-dev.done:
				return
			default:
				continue
			}
		}

		dev.mu.Lock()
		muted := dev.muted
		dev.mu.Unlock()
		if muted {
			continue
		}

		if reply := dev.handle(buf[:n]); reply != nil {
			_, _ = dev.conn.WriteToUDP(reply, peer)
		}
	}
}

func (dev *Device) handle(req []byte) []byte {
	if strings.HasPrefix(string(req), adaptor.DiscoverRequest) {
		reply, err := wire.EncodeDevInfo(dev.InfoSnapshot())
		if err != nil {
			return nil
		}
		return reply
	}

	if strings.HasPrefix(string(req), adaptor.ConfigRequest) {
		mac, ip, cmdPort, imgPort, err := adaptor.DecodeConfigRecord(req)
		if err != nil {
			return nil
		}
		dev.mu.Lock()
		if mac == dev.Info.MAC {
			dev.Info.IP = ip
			dev.Info.CmdPort = cmdPort
			dev.Info.ImgPort = imgPort
		}
		dev.mu.Unlock()
		return nil
	}

	if strings.HasPrefix(string(req), adaptor.RestoreRequest) {
		dev.mu.Lock()
		dev.Info.IP = "192.168.1.2"
		dev.Info.CmdPort = 3000
		dev.Info.ImgPort = 4001
		dev.mu.Unlock()
		return nil
	}

	cmd, err := wire.DecodeCommand(req)
	if err != nil {
		return nil
	}

	dev.mu.Lock()
	fail := dev.fail
	dev.fail = 0
	dev.mu.Unlock()
	if fail != 0 {
		return dev.reply(wire.Response{Cmd: cmd.Cmd, Op: cmd.Op, Code: fail})
	}

	gcuInfo, _ := wire.Lookup(wire.ParamGCUInfo)
	if cmd.Cmd == gcuInfo.Code && cmd.Op == wire.OpRead {
		dev.mu.Lock()
		data := make([]byte, 8)
		binary.LittleEndian.PutUint16(data[0:2], dev.temp)
		binary.LittleEndian.PutUint16(data[2:4], dev.hum)
		dev.mu.Unlock()
		return dev.reply(wire.Response{Cmd: cmd.Cmd, Op: cmd.Op, Data: data})
	}

	nfo, known := wire.LookupCode(cmd.Cmd)
	if !known {
		return dev.reply(wire.Response{Cmd: cmd.Cmd, Op: cmd.Op, Code: 1})
	}

	switch cmd.Op {
	case wire.OpRead:
		if nfo.IsString() {
			dev.mu.Lock()
			s := dev.serial[paramKey{code: cmd.Cmd, module: cmd.Module}]
			dev.mu.Unlock()
			return dev.reply(wire.Response{Cmd: cmd.Cmd, Op: cmd.Op, Data: []byte(s)})
		}

		dev.mu.Lock()
		v := dev.params[paramKey{code: cmd.Cmd, module: cmd.Module}]
		dev.mu.Unlock()

		var data []byte
		switch nfo.Width {
		case 1:
			data = []byte{uint8(v)}
		case 2:
			data = wire.U16BE(uint16(v))
		case 4:
			data = wire.U32BE(uint32(v))
		}
		return dev.reply(wire.Response{Cmd: cmd.Cmd, Op: cmd.Op, Data: data})

	case wire.OpWrite:
		var v uint64
		switch nfo.Width {
		case 1:
			if len(cmd.Data) < 1 {
				return dev.reply(wire.Response{Cmd: cmd.Cmd, Op: cmd.Op, Code: 2})
			}
			v = uint64(cmd.Data[0])
		case 2:
			if len(cmd.Data) < 2 {
				return dev.reply(wire.Response{Cmd: cmd.Cmd, Op: cmd.Op, Code: 2})
			}
			v = uint64(binary.BigEndian.Uint16(cmd.Data))
		case 4:
			if len(cmd.Data) < 4 {
				return dev.reply(wire.Response{Cmd: cmd.Cmd, Op: cmd.Op, Code: 2})
			}
			v = uint64(binary.BigEndian.Uint32(cmd.Data))
		}

		dev.mu.Lock()
		if cmd.Module == wire.ModuleAll && nfo.PerModule {
			for i := uint8(0); i < dev.Info.ModuleCount; i++ {
				dev.params[paramKey{code: cmd.Cmd, module: i}] = v
			}
		} else {
			dev.params[paramKey{code: cmd.Cmd, module: cmd.Module}] = v
		}
		dev.mu.Unlock()
		return dev.reply(wire.Response{Cmd: cmd.Cmd, Op: cmd.Op})

	case wire.OpExec, wire.OpLoad:
		return dev.reply(wire.Response{Cmd: cmd.Cmd, Op: cmd.Op})
	}

	return dev.reply(wire.Response{Cmd: cmd.Cmd, Op: cmd.Op, Code: 1})
}

func (dev *Device) reply(resp wire.Response) []byte {
	raw, err := wire.EncodeResponse(resp)
	if err != nil {
		return nil
	}
	return raw
}

// StreamLines sends n line packets of width pixels (depth bits each) to
// the given image endpoint. In header mode each packet carries a line
// header with consecutive packet and line identifiers starting at
// firstID; fill(line) produces the pixel values of one line.
func (dev *Device) StreamLines(dst string, width, depth, n int, header bool, firstID uint32, fill func(line int) uint16) error {
	raddr, err := net.ResolveUDPAddr("udp4", dst)
	if err != nil {
		return xerrors.Errorf("fakedet: could not resolve image endpoint: %w", err)
	}

	bpp := (depth + 7) / 8
	for i := 0; i < n; i++ {
		payload := make([]byte, width*bpp)
		v := fill(i)
		for x := 0; x < width; x++ {
			if bpp == 1 {
				payload[x] = uint8(v)
			} else {
				binary.LittleEndian.PutUint16(payload[2*x:], v)
			}
		}

		pkt := payload
		if header {
			pkt = wire.EncodeLinePacket(wire.LineHeader{
				PacketID: firstID + uint32(i),
				LineID:   uint16(i),
				Energy:   wire.EnergyLow,
			}, payload)
		}

		if _, err := dev.conn.WriteToUDP(pkt, raddr); err != nil {
			return xerrors.Errorf("fakedet: could not send line %d: %w", i, err)
		}
	}
	return nil
}
