// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package adaptor

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/fximage/hubx"
	"github.com/fximage/hubx/internal/crc16"
	"github.com/fximage/hubx/xudp"
	"golang.org/x/xerrors"
)

// rebootWait gives a reconfigured device time to come back up.
const rebootWait = 3 * time.Second

// ConfigRecordSize is the size of a CONFIG_DETECTOR payload: the ASCII
// tag, the target MAC, the new IP, the two ports and a CRC-16 footer.
const ConfigRecordSize = len(ConfigRequest) + 6 + 32 + 2 + 2 + 2

// ConfigDetector broadcasts a new endpoint configuration to the device
// with det's MAC: its IP, command port and image port are rewritten and
// the device reboots. Returns 1 on success, -1 on failure.
func (adp *Adaptor) ConfigDetector(det hubx.Detector) int {
	adp.mu.Lock()
	defer adp.mu.Unlock()

	if !adp.open {
		adp.sink.OnError(hubx.ErrAdapterNotOpen, "adaptor not open")
		return -1
	}
	if net.ParseIP(det.IP) == nil {
		adp.sink.OnError(hubx.ErrInvalidParam, "invalid detector IP address")
		return -1
	}

	rec := encodeConfigRecord(det)
	if err := adp.broadcast(rec); err != nil {
		adp.sink.OnError(hubx.ErrAdapterSendFail, err.Error())
		return -1
	}

	adp.msg.Printf("configured device %s -> %s:%d/%d; waiting for reboot",
		det.MACString(), det.IP, det.CmdPort, det.ImgPort,
	)
	time.Sleep(rebootWait)
	return 1
}

// Restore broadcasts a reset request to every discovered device,
// returning them to the factory endpoint (192.168.1.2, ports 3000/4001).
// Returns 1 when at least one device was addressed, -1 otherwise.
func (adp *Adaptor) Restore() int {
	adp.mu.Lock()
	defer adp.mu.Unlock()

	if !adp.open {
		adp.sink.OnError(hubx.ErrAdapterNotOpen, "adaptor not open")
		return -1
	}
	if len(adp.discovered) == 0 {
		adp.sink.OnError(hubx.ErrAdapterRecvErrCmd, "no devices discovered")
		return -1
	}

	sent := 0
	for _, det := range adp.discovered {
		rec := encodeRestoreRecord(det.MAC)
		if err := adp.broadcast(rec); err != nil {
			adp.sink.OnError(hubx.ErrAdapterSendFail, err.Error())
			continue
		}
		adp.msg.Printf("restored device %s", det.MACString())
		sent++
	}

	if sent == 0 {
		return -1
	}
	time.Sleep(rebootWait)
	return 1
}

func (adp *Adaptor) broadcast(rec []byte) error {
	conn, err := xudp.Bind(net.JoinHostPort(adp.ip, "0"))
	if err != nil {
		return xerrors.Errorf("adaptor: could not bind broadcast socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.SendTo(rec, adp.cfg.bcast); err != nil {
		return xerrors.Errorf("adaptor: could not send broadcast: %w", err)
	}
	return nil
}

func encodeConfigRecord(det hubx.Detector) []byte {
	buf := make([]byte, 0, ConfigRecordSize)
	buf = append(buf, ConfigRequest...)
	buf = append(buf, det.MAC[:]...)

	ip := make([]byte, 32)
	copy(ip, det.IP)
	buf = append(buf, ip...)

	buf = binary.BigEndian.AppendUint16(buf, det.CmdPort)
	buf = binary.BigEndian.AppendUint16(buf, det.ImgPort)

	sum := crc16.Checksum(buf, nil)
	return binary.LittleEndian.AppendUint16(buf, sum)
}

func encodeRestoreRecord(mac [6]byte) []byte {
	buf := make([]byte, 0, len(RestoreRequest)+6+2)
	buf = append(buf, RestoreRequest...)
	buf = append(buf, mac[:]...)

	sum := crc16.Checksum(buf, nil)
	return binary.LittleEndian.AppendUint16(buf, sum)
}

// DecodeConfigRecord parses a CONFIG_DETECTOR record. Device emulations
// use it to apply endpoint rewrites.
func DecodeConfigRecord(p []byte) (mac [6]byte, ip string, cmdPort, imgPort uint16, err error) {
	if len(p) != ConfigRecordSize {
		return mac, "", 0, 0, xerrors.Errorf("adaptor: invalid config record size %d", len(p))
	}
	if string(p[:len(ConfigRequest)]) != ConfigRequest {
		return mac, "", 0, 0, xerrors.New("adaptor: invalid config record tag")
	}

	want := binary.LittleEndian.Uint16(p[len(p)-2:])
	if crc16.Checksum(p[:len(p)-2], nil) != want {
		return mac, "", 0, 0, xerrors.New("adaptor: config record checksum mismatch")
	}

	off := len(ConfigRequest)
	copy(mac[:], p[off:off+6])
	off += 6

	raw := p[off : off+32]
	for i, b := range raw {
		if b == 0 {
			raw = raw[:i]
			break
		}
	}
	ip = string(raw)
	off += 32

	cmdPort = binary.BigEndian.Uint16(p[off : off+2])
	imgPort = binary.BigEndian.Uint16(p[off+2 : off+4])
	return mac, ip, cmdPort, imgPort, nil
}
