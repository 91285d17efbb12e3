// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire implements the binary command, response and image-packet
// framing spoken by line-scan detectors.
//
// All frames share the same layout:
//
//	offset  size  field
//	0       2     magic 0xAA55, emitted little-endian (0x55, 0xAA)
//	2       1     command code
//	3       1     operation (EXECUTE=0x00, WRITE=0x01, READ=0x02, LOAD=0x04)
//	4       1     module index (commands) or device error code (responses)
//	5       1     data length N
//	6       N     payload, big-endian integers
//	6+N     2     CRC-16 footer, little-endian
//
// Integers inside payloads are big-endian regardless of host order.
package wire // import "github.com/fximage/hubx/wire"

import (
	"encoding/binary"

	"github.com/fximage/hubx/internal/crc16"
	"golang.org/x/xerrors"
)

// Magic is the 16-bit frame marker. On the wire it appears as
// 0x55 followed by 0xAA.
const Magic = 0xAA55

// Op is a command operation code.
type Op uint8

const (
	OpExec  Op = 0x00
	OpWrite Op = 0x01
	OpRead  Op = 0x02
	OpLoad  Op = 0x04
)

func (op Op) String() string {
	switch op {
	case OpExec:
		return "EXECUTE"
	case OpWrite:
		return "WRITE"
	case OpRead:
		return "READ"
	case OpLoad:
		return "LOAD"
	}
	return "Op(?)"
}

// ModuleAll addresses every detector module at once. It is not a valid
// module index for READ operations.
const ModuleAll = 0xFF

const (
	hdrLen  = 6
	maxData = 255
)

var (
	ErrTooShort = xerrors.New("wire: frame too short")
	ErrMagic    = xerrors.New("wire: invalid frame magic")
	ErrCRC      = xerrors.New("wire: invalid frame checksum")
	ErrLength   = xerrors.New("wire: invalid frame length")
)

// Command is a command frame addressed to a detector.
type Command struct {
	Cmd    uint8
	Op     Op
	Module uint8
	Data   []byte
}

// Encode serializes cmd, appending the CRC-16 footer.
func Encode(cmd Command) ([]byte, error) {
	if len(cmd.Data) > maxData {
		return nil, xerrors.Errorf("wire: payload too large (got=%d, max=%d): %w",
			len(cmd.Data), maxData, ErrLength,
		)
	}

	buf := make([]byte, 0, hdrLen+len(cmd.Data)+crc16.Size)
	buf = append(buf, 0x55, 0xAA, cmd.Cmd, uint8(cmd.Op), cmd.Module, uint8(len(cmd.Data)))
	buf = append(buf, cmd.Data...)

	sum := crc16.Checksum(buf, nil)
	buf = append(buf, uint8(sum), uint8(sum>>8))
	return buf, nil
}

// Response is a response frame from a detector. Code is the device error
// byte: zero means the device accepted the request.
type Response struct {
	Cmd  uint8
	Op   Op
	Code uint8
	Data []byte
}

// DecodeResponse validates and decodes a response frame. A frame with a
// nonzero device error code is still a valid frame; callers inspect
// Response.Code.
func DecodeResponse(p []byte) (Response, error) {
	var resp Response

	if len(p) < hdrLen+crc16.Size {
		return resp, xerrors.Errorf("wire: response too short (got=%d): %w", len(p), ErrTooShort)
	}
	if p[0] != 0x55 || p[1] != 0xAA {
		return resp, xerrors.Errorf("wire: invalid magic (got=0x%02x%02x): %w", p[1], p[0], ErrMagic)
	}
	if !Verify(p) {
		return resp, xerrors.Errorf("wire: response checksum mismatch: %w", ErrCRC)
	}

	n := int(p[5])
	if hdrLen+n+crc16.Size != len(p) {
		return resp, xerrors.Errorf("wire: declared payload length %d does not match frame length %d: %w",
			n, len(p), ErrLength,
		)
	}

	resp.Cmd = p[2]
	resp.Op = Op(p[3])
	resp.Code = p[4]
	resp.Data = make([]byte, n)
	copy(resp.Data, p[hdrLen:hdrLen+n])
	return resp, nil
}

// EncodeResponse serializes a response frame. It is the counterpart of
// DecodeResponse, used by device emulations.
func EncodeResponse(resp Response) ([]byte, error) {
	if len(resp.Data) > maxData {
		return nil, xerrors.Errorf("wire: payload too large (got=%d, max=%d): %w",
			len(resp.Data), maxData, ErrLength,
		)
	}

	buf := make([]byte, 0, hdrLen+len(resp.Data)+crc16.Size)
	buf = append(buf, 0x55, 0xAA, resp.Cmd, uint8(resp.Op), resp.Code, uint8(len(resp.Data)))
	buf = append(buf, resp.Data...)

	sum := crc16.Checksum(buf, nil)
	buf = append(buf, uint8(sum), uint8(sum>>8))
	return buf, nil
}

// DecodeCommand validates and decodes a command frame. It is the
// counterpart of Encode, used by device emulations.
func DecodeCommand(p []byte) (Command, error) {
	var cmd Command

	if len(p) < hdrLen+crc16.Size {
		return cmd, xerrors.Errorf("wire: command too short (got=%d): %w", len(p), ErrTooShort)
	}
	if p[0] != 0x55 || p[1] != 0xAA {
		return cmd, xerrors.Errorf("wire: invalid magic (got=0x%02x%02x): %w", p[1], p[0], ErrMagic)
	}
	if !Verify(p) {
		return cmd, xerrors.Errorf("wire: command checksum mismatch: %w", ErrCRC)
	}

	n := int(p[5])
	if hdrLen+n+crc16.Size != len(p) {
		return cmd, xerrors.Errorf("wire: declared payload length %d does not match frame length %d: %w",
			n, len(p), ErrLength,
		)
	}

	cmd.Cmd = p[2]
	cmd.Op = Op(p[3])
	cmd.Module = p[4]
	cmd.Data = make([]byte, n)
	copy(cmd.Data, p[hdrLen:hdrLen+n])
	return cmd, nil
}

// Verify recomputes the CRC-16 over p[:len(p)-2] and compares it with the
// little-endian footer.
func Verify(p []byte) bool {
	if len(p) < crc16.Size {
		return false
	}
	want := binary.LittleEndian.Uint16(p[len(p)-crc16.Size:])
	return crc16.Checksum(p[:len(p)-crc16.Size], nil) == want
}

// U16BE returns the big-endian encoding of v.
func U16BE(v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return buf[:]
}

// U32BE returns the big-endian encoding of v.
func U32BE(v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return buf[:]
}
