// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/fximage/hubx/internal/crc16"
	"golang.org/x/xerrors"
)

// DevInfoSize is the on-wire size of a discovery reply record.
const DevInfoSize = 86

// DevInfo is the record a detector sends in reply to a discovery
// broadcast:
//
//	offset  size  field
//	0       6     MAC address
//	6       32    IP address, NUL-padded ASCII
//	38      2     command port (u16 BE)
//	40      2     image port (u16 BE)
//	42      32    serial number, NUL-padded ASCII
//	74      4     pixel count (u32 BE)
//	78      1     module count
//	79      1     card type
//	80      1     pixel size (µm)
//	81      1     pixel depth (bits)
//	82      2     firmware version (u16 BE)
//	84      2     CRC-16 over bytes 0..84, little-endian
type DevInfo struct {
	MAC         [6]byte
	IP          string
	CmdPort     uint16
	ImgPort     uint16
	Serial      string
	PixelCount  uint32
	ModuleCount uint8
	CardType    uint8
	PixelSize   uint8
	PixelDepth  uint8
	Firmware    uint16
}

// DecodeDevInfo validates and decodes a discovery reply.
func DecodeDevInfo(p []byte) (DevInfo, error) {
	var nfo DevInfo

	if len(p) < DevInfoSize {
		return nfo, xerrors.Errorf("wire: device info record too short (got=%d): %w",
			len(p), ErrTooShort,
		)
	}

	want := binary.LittleEndian.Uint16(p[84:86])
	if crc16.Checksum(p[:84], nil) != want {
		return nfo, xerrors.Errorf("wire: device info checksum mismatch: %w", ErrCRC)
	}

	copy(nfo.MAC[:], p[0:6])
	nfo.IP = cstr(p[6:38])
	nfo.CmdPort = binary.BigEndian.Uint16(p[38:40])
	nfo.ImgPort = binary.BigEndian.Uint16(p[40:42])
	nfo.Serial = cstr(p[42:74])
	nfo.PixelCount = binary.BigEndian.Uint32(p[74:78])
	nfo.ModuleCount = p[78]
	nfo.CardType = p[79]
	nfo.PixelSize = p[80]
	nfo.PixelDepth = p[81]
	nfo.Firmware = binary.BigEndian.Uint16(p[82:84])
	return nfo, nil
}

// EncodeDevInfo serializes a discovery reply record.
func EncodeDevInfo(nfo DevInfo) ([]byte, error) {
	if len(nfo.IP) > 31 {
		return nil, xerrors.Errorf("wire: IP address too long (got=%d): %w", len(nfo.IP), ErrLength)
	}
	if len(nfo.Serial) > 31 {
		return nil, xerrors.Errorf("wire: serial number too long (got=%d): %w", len(nfo.Serial), ErrLength)
	}

	buf := make([]byte, DevInfoSize)
	copy(buf[0:6], nfo.MAC[:])
	copy(buf[6:38], nfo.IP)
	binary.BigEndian.PutUint16(buf[38:40], nfo.CmdPort)
	binary.BigEndian.PutUint16(buf[40:42], nfo.ImgPort)
	copy(buf[42:74], nfo.Serial)
	binary.BigEndian.PutUint32(buf[74:78], nfo.PixelCount)
	buf[78] = nfo.ModuleCount
	buf[79] = nfo.CardType
	buf[80] = nfo.PixelSize
	buf[81] = nfo.PixelDepth
	binary.BigEndian.PutUint16(buf[82:84], nfo.Firmware)
	binary.LittleEndian.PutUint16(buf[84:86], crc16.Checksum(buf[:84], nil))
	return buf, nil
}

func cstr(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(p)
}
