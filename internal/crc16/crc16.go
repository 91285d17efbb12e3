// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package crc16 implements the 16-bit cyclic redundancy check used by the
// detector wire protocol (reflected polynomial 0xA001, initial value
// 0xFFFF, no final xor), also known as CRC-16/MODBUS.
package crc16 // import "github.com/fximage/hubx/internal/crc16"

import (
	"encoding/binary"
	"hash"
)

const (
	// Size of a CRC-16 checksum in bytes.
	Size = 2

	poly   = 0xA001
	init16 = 0xFFFF
)

// Table is a 256-word table representing the polynomial for efficient
// processing.
type Table [256]uint16

var modbusTable = makeTable()

func makeTable() *Table {
	t := new(Table)
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 == 1 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return t
}

// Hash16 is the common interface implemented by all 16-bit hash functions.
type Hash16 interface {
	hash.Hash
	Sum16() uint16
}

// New creates a new Hash16 computing the CRC-16 checksum using the
// polynomial represented by tab. A nil tab selects the detector protocol
// polynomial.
func New(tab *Table) Hash16 {
	if tab == nil {
		tab = modbusTable
	}
	return &digest{crc: init16, tab: tab}
}

// Checksum returns the CRC-16 checksum of data using the polynomial
// represented by tab. A nil tab selects the detector protocol polynomial.
func Checksum(data []byte, tab *Table) uint16 {
	if tab == nil {
		tab = modbusTable
	}
	crc := uint16(init16)
	for _, v := range data {
		crc = tab[byte(crc)^v] ^ (crc >> 8)
	}
	return crc
}

type digest struct {
	crc uint16
	tab *Table
}

func (d *digest) Size() int      { return Size }
func (d *digest) BlockSize() int { return 1 }
func (d *digest) Reset()         { d.crc = init16 }
func (d *digest) Sum16() uint16  { return d.crc }

func (d *digest) Write(p []byte) (int, error) {
	for _, v := range p {
		d.crc = d.tab[byte(d.crc)^v] ^ (d.crc >> 8)
	}
	return len(p), nil
}

func (d *digest) Sum(in []byte) []byte {
	var buf [Size]byte
	binary.BigEndian.PutUint16(buf[:], d.crc)
	return append(in, buf[:]...)
}
