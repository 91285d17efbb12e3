// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crc16_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/fximage/hubx/internal/crc16"
)

func TestCRC16(t *testing.T) {
	for _, tc := range []struct {
		raw  []byte
		want uint16
	}{
		{
			raw:  []byte("123456789"),
			want: 0x4B37, // CRC-16/MODBUS check value
		},
		{
			raw:  []byte{0x55, 0xAA, 0x10, 0x00, 0x00, 0x00},
			want: 0xC610,
		},
		{
			raw:  []byte{0x55, 0xAA, 0x20, 0x01, 0x00, 0x04, 0x00, 0x00, 0x05, 0xDC},
			want: 0x2004,
		},
		{
			raw:  nil,
			want: 0xFFFF,
		},
	} {
		t.Run(fmt.Sprintf("0x%x", tc.want), func(t *testing.T) {
			crc := crc16.New(nil)
			if got, want := crc.BlockSize(), 1; got != want {
				t.Fatalf("invalid crc16 block size: got=%d, want=%d", got, want)
			}

			crc.Reset()

			_, err := crc.Write(tc.raw)
			if err != nil {
				t.Fatalf("could not write crc16 hash: %+v", err)
			}

			if got, want := crc.Sum16(), tc.want; got != want {
				t.Fatalf("invalid crc16 checksum: got=0x%x, want=0x%x",
					got, want,
				)
			}

			if got, want := crc16.Checksum(tc.raw, nil), tc.want; got != want {
				t.Fatalf("invalid crc16 one-shot checksum: got=0x%x, want=0x%x",
					got, want,
				)
			}

			asBytes := func(v uint16) []byte {
				buf := make([]byte, crc.Size())
				binary.BigEndian.PutUint16(buf, v)
				return buf
			}

			if got, want := crc.Sum(nil), asBytes(tc.want); !bytes.Equal(got, want) {
				t.Fatalf("invalid crc16 checksum: got=0x%x, want=0x%x",
					got, want,
				)
			}
		})
	}
}

func TestCRC16Incremental(t *testing.T) {
	raw := []byte{0x55, 0xAA, 0x20, 0x01, 0x00, 0x04, 0x00, 0x00, 0x05, 0xDC}

	crc := crc16.New(nil)
	for _, v := range raw {
		_, _ = crc.Write([]byte{v})
	}

	if got, want := crc.Sum16(), crc16.Checksum(raw, nil); got != want {
		t.Fatalf("incremental checksum mismatch: got=0x%x, want=0x%x", got, want)
	}
}
