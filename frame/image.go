// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frame assembles line payloads into fixed-height image frames.
package frame // import "github.com/fximage/hubx/frame"

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// Image is a row-major pixel buffer of Width x Height pixels, Depth bits
// each. Pixels wider than 8 bits are stored little-endian, two bytes per
// pixel, as emitted by the detector.
type Image struct {
	Width  int
	Height int
	Depth  int // bits per pixel, 8..16
	Pix    []byte
}

// NewImage allocates a zeroed image buffer.
func NewImage(width, height, depth int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, xerrors.Errorf("frame: invalid geometry %dx%d", width, height)
	}
	if depth < 8 || depth > 16 {
		return nil, xerrors.Errorf("frame: invalid pixel depth %d (want 8..16)", depth)
	}
	return &Image{
		Width:  width,
		Height: height,
		Depth:  depth,
		Pix:    make([]byte, width*height*bytesPerPixel(depth)),
	}, nil
}

func bytesPerPixel(depth int) int { return (depth + 7) / 8 }

// BytesPerPixel returns the storage size of one pixel.
func (img *Image) BytesPerPixel() int { return bytesPerPixel(img.Depth) }

// RowSize returns the storage size of one line.
func (img *Image) RowSize() int { return img.Width * img.BytesPerPixel() }

// Max returns the largest representable pixel value, (1<<Depth)-1.
func (img *Image) Max() uint16 { return uint16(1<<uint(img.Depth)) - 1 }

// At returns the pixel value at (x, y).
func (img *Image) At(x, y int) uint16 {
	if img.BytesPerPixel() == 1 {
		return uint16(img.Pix[y*img.Width+x])
	}
	i := (y*img.Width + x) * 2
	return binary.LittleEndian.Uint16(img.Pix[i : i+2])
}

// Set stores the pixel value at (x, y).
func (img *Image) Set(x, y int, v uint16) {
	if img.BytesPerPixel() == 1 {
		img.Pix[y*img.Width+x] = uint8(v)
		return
	}
	i := (y*img.Width + x) * 2
	binary.LittleEndian.PutUint16(img.Pix[i:i+2], v)
}

// Pixels decodes the whole buffer into a freshly allocated []uint16,
// row-major.
func (img *Image) Pixels() []uint16 {
	out := make([]uint16, img.Width*img.Height)
	switch img.BytesPerPixel() {
	case 1:
		for i, v := range img.Pix {
			out[i] = uint16(v)
		}
	default:
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(img.Pix[2*i : 2*i+2])
		}
	}
	return out
}

// SetPixels encodes px (row-major, len Width*Height) into the buffer.
func (img *Image) SetPixels(px []uint16) error {
	if len(px) != img.Width*img.Height {
		return xerrors.Errorf("frame: invalid pixel count (got=%d, want=%d)",
			len(px), img.Width*img.Height,
		)
	}
	switch img.BytesPerPixel() {
	case 1:
		for i, v := range px {
			img.Pix[i] = uint8(v)
		}
	default:
		for i, v := range px {
			binary.LittleEndian.PutUint16(img.Pix[2*i:2*i+2], v)
		}
	}
	return nil
}

// Clear zeroes the pixel buffer.
func (img *Image) Clear() {
	for i := range img.Pix {
		img.Pix[i] = 0
	}
}

// Clone returns a deep copy of the image.
func (img *Image) Clone() *Image {
	out := &Image{
		Width:  img.Width,
		Height: img.Height,
		Depth:  img.Depth,
		Pix:    make([]byte, len(img.Pix)),
	}
	copy(out.Pix, img.Pix)
	return out
}
