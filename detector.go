// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hubx

import (
	"fmt"
	"net"
)

// Default detector endpoint ports.
const (
	DefaultCmdPort = 3000
	DefaultImgPort = 4001
)

// Detector describes a network-attached line-scan detector: its identity
// and endpoints as reported by discovery. A Detector is immutable for the
// life of a session; ConfigDetector may reconfigure the remote device
// between sessions.
type Detector struct {
	MAC         [6]byte
	IP          string
	CmdPort     uint16
	ImgPort     uint16
	Serial      string
	PixelCount  uint32
	ModuleCount uint8
	CardType    uint8
	PixelSize   uint8  // µm
	PixelDepth  uint8  // bits per pixel, 8..16
	Firmware    uint16 // GCU firmware version
}

// NewDetector returns a detector with the default command and image
// ports and a 16-bit pixel depth.
func NewDetector(ip string) Detector {
	return Detector{
		IP:         ip,
		CmdPort:    DefaultCmdPort,
		ImgPort:    DefaultImgPort,
		PixelDepth: 16,
	}
}

// CmdAddr returns the detector command endpoint as host:port.
func (det Detector) CmdAddr() string {
	return net.JoinHostPort(det.IP, fmt.Sprint(det.CmdPort))
}

// ImgAddr returns the detector image endpoint as host:port.
func (det Detector) ImgAddr() string {
	return net.JoinHostPort(det.IP, fmt.Sprint(det.ImgPort))
}

// MACString returns the MAC address in the usual aa:bb:cc:dd:ee:ff form.
func (det Detector) MACString() string {
	return net.HardwareAddr(det.MAC[:]).String()
}

func (det Detector) String() string {
	return fmt.Sprintf("detector{mac=%s, ip=%s, cmd=%d, img=%d, sn=%q, pixels=%d, modules=%d}",
		det.MACString(), det.IP, det.CmdPort, det.ImgPort,
		det.Serial, det.PixelCount, det.ModuleCount,
	)
}
