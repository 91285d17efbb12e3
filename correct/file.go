// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package correct

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"golang.org/x/xerrors"
)

// Calibration files are little-endian:
//
//	u32 width
//	u32 height
//	u32 bit_depth
//	u16[width*height] offset
//	f32[width*height] gain
//	u16[width*height] baseline
//
// The multi-detector variant prepends a u32 detector count and a u32 bit
// depth, then for each detector a header (id u32, width u32, height u32,
// x_offset u32, y_offset u32, active u8, normalization f32) followed by
// the three arrays.

// Save writes the engine calibration to path.
func (eng *Engine) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("correct: could not create calibration file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, v := range []interface{}{
		uint32(eng.width), uint32(eng.height), uint32(eng.depth),
		eng.offset, eng.gain, eng.baseline,
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return xerrors.Errorf("correct: could not write calibration data: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return xerrors.Errorf("correct: could not flush calibration file: %w", err)
	}
	return f.Close()
}

// LoadEngine reads a single-detector calibration file and returns a
// calibrated engine of the recorded geometry.
func LoadEngine(path string) (*Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("correct: could not open calibration file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var width, height, depth uint32
	for _, v := range []interface{}{&width, &height, &depth} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, xerrors.Errorf("correct: could not read calibration header: %w", err)
		}
	}

	eng, err := NewEngine(int(width), int(height), int(depth))
	if err != nil {
		return nil, xerrors.Errorf("correct: invalid calibration header: %w", err)
	}

	for _, v := range []interface{}{eng.offset, eng.gain, eng.baseline} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, xerrors.Errorf("correct: could not read calibration data: %w", err)
		}
	}
	eng.calibrated = true
	return eng, nil
}

// Save writes the rig calibration to path.
func (eng *MultiEngine) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("correct: could not create calibration file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeMulti(w, eng); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return xerrors.Errorf("correct: could not flush calibration file: %w", err)
	}
	return f.Close()
}

func writeMulti(w io.Writer, eng *MultiEngine) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(eng.dets))); err != nil {
		return xerrors.Errorf("correct: could not write detector count: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(eng.depth)); err != nil {
		return xerrors.Errorf("correct: could not write bit depth: %w", err)
	}

	for _, det := range eng.dets {
		active := uint8(0)
		if det.Active {
			active = 1
		}
		for _, v := range []interface{}{
			uint32(det.ID), uint32(det.Width), uint32(det.Height),
			uint32(det.XOffset), uint32(det.YOffset),
			active, det.Norm,
			det.offset, det.gain, det.baseline,
		} {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return xerrors.Errorf("correct: could not write detector %d calibration: %w", det.ID, err)
			}
		}
	}
	return nil
}

// LoadMultiEngine reads a multi-detector calibration file.
func LoadMultiEngine(path string) (*MultiEngine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("correct: could not open calibration file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var count, depth uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, xerrors.Errorf("correct: could not read detector count: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &depth); err != nil {
		return nil, xerrors.Errorf("correct: could not read bit depth: %w", err)
	}
	if count == 0 || count > 64 {
		return nil, xerrors.Errorf("correct: implausible detector count %d", count)
	}

	var (
		geoms []Geometry
		dets  []*DetectorCal
	)
	for i := uint32(0); i < count; i++ {
		var (
			id, width, height uint32
			xoff, yoff        uint32
			active            uint8
			norm              float32
		)
		for _, v := range []interface{}{&id, &width, &height, &xoff, &yoff, &active, &norm} {
			if err := binary.Read(r, binary.LittleEndian, v); err != nil {
				return nil, xerrors.Errorf("correct: could not read detector %d header: %w", i, err)
			}
		}

		det := &DetectorCal{
			ID:      int(id),
			Width:   int(width),
			Height:  int(height),
			XOffset: int(xoff),
			YOffset: int(yoff),
			Active:  active != 0,
			Norm:    norm,

			offset:   make([]uint16, width*height),
			gain:     make([]float32, width*height),
			baseline: make([]uint16, width*height),
		}
		for _, v := range []interface{}{det.offset, det.gain, det.baseline} {
			if err := binary.Read(r, binary.LittleEndian, v); err != nil {
				return nil, xerrors.Errorf("correct: could not read detector %d calibration: %w", i, err)
			}
		}

		geoms = append(geoms, Geometry{Width: det.Width, Height: det.Height})
		dets = append(dets, det)
	}

	eng, err := NewMultiEngine(geoms, int(depth))
	if err != nil {
		return nil, xerrors.Errorf("correct: invalid calibration file: %w", err)
	}
	eng.dets = dets
	return eng, nil
}
