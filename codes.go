// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hubx

// Error identifiers reported to command and image sinks.
// The numeric values are part of the public surface and match the
// detector host protocol.
const (
	ErrAdapterOpenFail    uint32 = 1
	ErrAdapterBindFail    uint32 = 2
	ErrAdapterSendFail    uint32 = 3
	ErrAdapterRecvTimeout uint32 = 4
	ErrAdapterRecvErrCmd  uint32 = 5
	ErrAdapterRecvErrCode uint32 = 6
	ErrAdapterNotOpen     uint32 = 8
	ErrAdapterAllocFail   uint32 = 9

	ErrConOpenFail    uint32 = 12
	ErrConBindFail    uint32 = 13
	ErrConSendFail    uint32 = 14
	ErrConRecvTimeout uint32 = 15
	ErrConRecvErrCmd  uint32 = 16
	ErrConRecvErrCode uint32 = 17
	ErrConNotOpen     uint32 = 19
	ErrConAllocFail   uint32 = 20

	ErrGrabOpenFail     uint32 = 21
	ErrGrabRecvFail     uint32 = 23
	ErrGrabNotOpen      uint32 = 25
	ErrGrabBusy         uint32 = 26
	ErrFrameBusy        uint32 = 32
	ErrFrameAllocFail   uint32 = 33
	ErrHeartbeatFail    uint32 = 39
	ErrHeartbeatStart   uint32 = 40
	ErrHeartbeatStopBad uint32 = 41

	ErrLineLengthMismatch uint32 = 101

	// ErrInvalidParam shares its historical identifier with
	// ErrAdapterRecvTimeout in the device protocol.
	ErrInvalidParam uint32 = 4
)

// Event identifiers reported to command sinks.
const (
	EventDeviceCount uint32 = 101
	EventTemperature uint32 = 107
	EventHumidity    uint32 = 108
)
