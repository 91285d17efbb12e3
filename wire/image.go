// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"

	"github.com/fximage/hubx/internal/crc16"
	"golang.org/x/xerrors"
)

// LineHeaderSize is the on-wire size of a line-packet header in header
// mode. In header-less mode the datagram carries the bare pixel payload.
const LineHeaderSize = 16

// Energy flag values carried in a line-packet header.
const (
	EnergyLow  = 0
	EnergyHigh = 1
)

// LineHeader is the header preceding one row of pixels in an image
// datagram:
//
//	offset  size  field
//	0       4     packet ID (u32 LE, monotonic)
//	4       2     line ID (u16 BE)
//	6       4     timestamp µs (u32 LE)
//	10      1     energy flag (0=low, 1=high)
//	11      1     module ID
//	12      2     payload length (u16 BE)
//	14      2     CRC-16 over bytes 0..14, little-endian
type LineHeader struct {
	PacketID  uint32
	LineID    uint16
	Timestamp uint32
	Energy    uint8
	Module    uint8
	Length    uint16
}

// DecodeLineHeader validates and decodes the header of an image datagram.
func DecodeLineHeader(p []byte) (LineHeader, error) {
	var hdr LineHeader

	if len(p) < LineHeaderSize {
		return hdr, xerrors.Errorf("wire: line packet too short (got=%d): %w", len(p), ErrTooShort)
	}

	want := binary.LittleEndian.Uint16(p[14:16])
	if crc16.Checksum(p[:14], nil) != want {
		return hdr, xerrors.Errorf("wire: line header checksum mismatch: %w", ErrCRC)
	}

	hdr.PacketID = binary.LittleEndian.Uint32(p[0:4])
	hdr.LineID = binary.BigEndian.Uint16(p[4:6])
	hdr.Timestamp = binary.LittleEndian.Uint32(p[6:10])
	hdr.Energy = p[10]
	hdr.Module = p[11]
	hdr.Length = binary.BigEndian.Uint16(p[12:14])
	return hdr, nil
}

// EncodeLinePacket serializes a line header followed by its pixel
// payload. hdr.Length is forced to len(payload).
func EncodeLinePacket(hdr LineHeader, payload []byte) []byte {
	buf := make([]byte, LineHeaderSize, LineHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], hdr.PacketID)
	binary.BigEndian.PutUint16(buf[4:6], hdr.LineID)
	binary.LittleEndian.PutUint32(buf[6:10], hdr.Timestamp)
	buf[10] = hdr.Energy
	buf[11] = hdr.Module
	binary.BigEndian.PutUint16(buf[12:14], uint16(len(payload)))
	binary.LittleEndian.PutUint16(buf[14:16], crc16.Checksum(buf[:14], nil))
	return append(buf, payload...)
}
