// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"fmt"
	"reflect"
	"testing"

	"github.com/fximage/hubx/internal/crc16"
	"golang.org/x/xerrors"
)

func checksumOf(p []byte) uint16 { return crc16.Checksum(p, nil) }

func TestEncodeCommand(t *testing.T) {
	for _, tc := range []struct {
		cmd  Command
		want []byte
	}{
		{
			// save-settings execute, empty payload.
			cmd:  Command{Cmd: 0x10, Op: OpExec, Module: 0x00},
			want: []byte{0x55, 0xAA, 0x10, 0x00, 0x00, 0x00, 0x10, 0xC6},
		},
		{
			// integration-time write, 1500 µs.
			cmd:  Command{Cmd: 0x20, Op: OpWrite, Module: 0x00, Data: U32BE(1500)},
			want: []byte{0x55, 0xAA, 0x20, 0x01, 0x00, 0x04, 0x00, 0x00, 0x05, 0xDC, 0x04, 0x20},
		},
		{
			// per-module DM gain read.
			cmd:  Command{Cmd: 0x23, Op: OpRead, Module: 0x02},
			want: nil, // checked structurally below
		},
	} {
		t.Run(fmt.Sprintf("cmd=0x%02x", tc.cmd.Cmd), func(t *testing.T) {
			got, err := Encode(tc.cmd)
			if err != nil {
				t.Fatalf("could not encode command: %+v", err)
			}

			if tc.want != nil && !bytes.Equal(got, tc.want) {
				t.Fatalf("invalid frame:\ngot = % x\nwant= % x", got, tc.want)
			}

			if !Verify(got) {
				t.Fatalf("encoded frame does not verify: % x", got)
			}

			if got, want := got[0], uint8(0x55); got != want {
				t.Errorf("invalid magic lo: got=0x%02x, want=0x%02x", got, want)
			}
			if got, want := got[1], uint8(0xAA); got != want {
				t.Errorf("invalid magic hi: got=0x%02x, want=0x%02x", got, want)
			}
		})
	}
}

func TestEncodeTooLarge(t *testing.T) {
	_, err := Encode(Command{Cmd: 0x20, Op: OpWrite, Data: make([]byte, 256)})
	if !xerrors.Is(err, ErrLength) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrLength)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		resp Response
	}{
		{Response{Cmd: 0x20, Op: OpWrite, Code: 0}},
		{Response{Cmd: 0x20, Op: OpRead, Code: 0, Data: U32BE(1500)}},
		{Response{Cmd: 0x64, Op: OpRead, Code: 0, Data: U16BE(2048)}},
		{Response{Cmd: 0x23, Op: OpWrite, Code: 0x07}}, // device rejection
		{Response{Cmd: 0x62, Op: OpRead, Code: 0, Data: []byte("GCU-1234")}},
	} {
		t.Run(fmt.Sprintf("cmd=0x%02x code=%d", tc.resp.Cmd, tc.resp.Code), func(t *testing.T) {
			raw, err := EncodeResponse(tc.resp)
			if err != nil {
				t.Fatalf("could not encode response: %+v", err)
			}

			got, err := DecodeResponse(raw)
			if err != nil {
				t.Fatalf("could not decode response: %+v", err)
			}

			want := tc.resp
			if want.Data == nil {
				want.Data = []byte{}
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("round-trip mismatch:\ngot = %#v\nwant= %#v", got, want)
			}
		})
	}
}

func TestDecodeResponseErrors(t *testing.T) {
	ok, err := EncodeResponse(Response{Cmd: 0x20, Op: OpWrite, Code: 0})
	if err != nil {
		t.Fatalf("could not encode response: %+v", err)
	}

	for _, tc := range []struct {
		name string
		raw  []byte
		want error
	}{
		{
			name: "too-short",
			raw:  ok[:5],
			want: ErrTooShort,
		},
		{
			name: "bad-magic",
			raw:  append([]byte{0xAA, 0x55}, ok[2:]...),
			want: ErrMagic,
		},
		{
			name: "bad-crc",
			raw: func() []byte {
				raw := append([]byte(nil), ok...)
				raw[len(raw)-1] ^= 0xFF
				return raw
			}(),
			want: ErrCRC,
		},
		{
			name: "bad-length",
			raw: func() []byte {
				raw := append([]byte(nil), ok...)
				raw[5] = 4 // declared payload the frame does not carry
				sum := checksumOf(raw[:len(raw)-2])
				raw[len(raw)-2] = uint8(sum)
				raw[len(raw)-1] = uint8(sum >> 8)
				return raw
			}(),
			want: ErrLength,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeResponse(tc.raw)
			if !xerrors.Is(err, tc.want) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.want)
			}
		})
	}
}

func TestDeviceRejectionIsValidFrame(t *testing.T) {
	raw, err := EncodeResponse(Response{Cmd: 0x22, Op: OpWrite, Code: 3})
	if err != nil {
		t.Fatalf("could not encode response: %+v", err)
	}

	resp, err := DecodeResponse(raw)
	if err != nil {
		t.Fatalf("device rejection must decode cleanly: %+v", err)
	}
	if got, want := resp.Code, uint8(3); got != want {
		t.Fatalf("invalid device error code: got=%d, want=%d", got, want)
	}
}
