// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package correct implements the radiometric correction chain applied to
// detector frames: offset (dark field), gain (bright field), baseline,
// pixel-discontinuity correction, multi-detector stitching and
// dual-energy fusion.
//
// All stages are pure over their input and calibration data. Calibration
// buffers must not be mutated while a correction is in flight; the
// session serializes calibration against acquisition.
package correct // import "github.com/fximage/hubx/correct"

import (
	"math"

	"github.com/fximage/hubx/frame"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/stat"
)

// Gain coefficients outside this range are clamped during calibration.
const (
	GainMin = 0.1
	GainMax = 10.0
)

// DefaultTargetBaseline is the post-correction additive target for
// 12-bit data.
const DefaultTargetBaseline = 2048

// Engine holds the calibration state of one detector and applies the
// offset/gain/baseline chain to frames of a fixed geometry.
type Engine struct {
	width  int
	height int
	depth  int
	max    uint16

	offset   []uint16
	gain     []float32
	baseline []uint16

	enableOffset   bool
	enableGain     bool
	enableBaseline bool
	targetBaseline uint16

	calibrated bool
}

// NewEngine returns an uncalibrated engine for the given frame geometry:
// offsets zero, gains one, baselines zero, target baseline zero. Offset
// and gain stages start enabled, the baseline stage disabled. Hosts
// working with 12-bit data usually set DefaultTargetBaseline.
func NewEngine(width, height, depth int) (*Engine, error) {
	if width <= 0 || height <= 0 {
		return nil, xerrors.Errorf("correct: invalid geometry %dx%d", width, height)
	}
	if depth < 8 || depth > 16 {
		return nil, xerrors.Errorf("correct: invalid pixel depth %d (want 8..16)", depth)
	}

	eng := &Engine{
		width:        width,
		height:       height,
		depth:        depth,
		max:          uint16(1<<uint(depth)) - 1,
		offset:       make([]uint16, width*height),
		gain:         make([]float32, width*height),
		baseline:     make([]uint16, width*height),
		enableOffset: true,
		enableGain:   true,
	}
	for i := range eng.gain {
		eng.gain[i] = 1
	}
	return eng, nil
}

// Geometry returns the frame geometry the engine was built for.
func (eng *Engine) Geometry() (width, height, depth int) {
	return eng.width, eng.height, eng.depth
}

// Calibrated reports whether offset and gain were derived from reference
// frames (as opposed to the uncalibrated defaults).
func (eng *Engine) Calibrated() bool { return eng.calibrated }

// SetMode enables or disables the three correction stages independently.
func (eng *Engine) SetMode(offset, gain, baseline bool) {
	eng.enableOffset = offset
	eng.enableGain = gain
	eng.enableBaseline = baseline
}

// SetTargetBaseline sets the additive target applied after all enabled
// stages.
func (eng *Engine) SetTargetBaseline(v uint16) { eng.targetBaseline = v }

// TargetBaseline returns the configured additive target.
func (eng *Engine) TargetBaseline() uint16 { return eng.targetBaseline }

func (eng *Engine) checkLen(name string, n int) error {
	if n != eng.width*eng.height {
		return xerrors.Errorf("correct: %s geometry mismatch (got=%d, want=%d)",
			name, n, eng.width*eng.height,
		)
	}
	return nil
}

// SetOffset replaces the per-pixel offset table.
func (eng *Engine) SetOffset(offset []uint16) error {
	if err := eng.checkLen("offset", len(offset)); err != nil {
		return err
	}
	copy(eng.offset, offset)
	return nil
}

// SetGain replaces the per-pixel gain table.
func (eng *Engine) SetGain(gain []float32) error {
	if err := eng.checkLen("gain", len(gain)); err != nil {
		return err
	}
	copy(eng.gain, gain)
	return nil
}

// SetBaseline replaces the per-pixel baseline table.
func (eng *Engine) SetBaseline(baseline []uint16) error {
	if err := eng.checkLen("baseline", len(baseline)); err != nil {
		return err
	}
	copy(eng.baseline, baseline)
	return nil
}

// Offset returns the per-pixel offset table (not a copy).
func (eng *Engine) Offset() []uint16 { return eng.offset }

// Gain returns the per-pixel gain table (not a copy).
func (eng *Engine) Gain() []float32 { return eng.gain }

// Baseline returns the per-pixel baseline table (not a copy).
func (eng *Engine) Baseline() []uint16 { return eng.baseline }

// CalibrateOffset derives the offset table from dark-field frames of the
// engine geometry: offset[i] = round(sum_k dark_k[i] / K), accumulated in
// 64 bits.
func (eng *Engine) CalibrateOffset(darks [][]uint16) error {
	if len(darks) == 0 {
		return xerrors.New("correct: no dark frames")
	}

	n := eng.width * eng.height
	acc := make([]uint64, n)
	for k, dark := range darks {
		if err := eng.checkLen("dark frame", len(dark)); err != nil {
			return xerrors.Errorf("correct: dark frame %d: %w", k, err)
		}
		for i, v := range dark {
			acc[i] += uint64(v)
		}
	}

	div := uint64(len(darks))
	for i, v := range acc {
		eng.offset[i] = uint16((v + div/2) / div)
	}
	eng.calibrated = true
	return nil
}

// CalibrateOffsetLines derives the offset table from dark lines of the
// engine width: a per-column mean broadcast to every row.
func (eng *Engine) CalibrateOffsetLines(lines [][]uint16) error {
	if len(lines) == 0 {
		return xerrors.New("correct: no dark lines")
	}

	acc := make([]uint64, eng.width)
	for k, line := range lines {
		if len(line) != eng.width {
			return xerrors.Errorf("correct: dark line %d width mismatch (got=%d, want=%d)",
				k, len(line), eng.width,
			)
		}
		for i, v := range line {
			acc[i] += uint64(v)
		}
	}

	div := uint64(len(lines))
	for x := 0; x < eng.width; x++ {
		mean := uint16((acc[x] + div/2) / div)
		for y := 0; y < eng.height; y++ {
			eng.offset[y*eng.width+x] = mean
		}
	}
	eng.calibrated = true
	return nil
}

// CalibrateGain derives the gain table from one bright-field frame and a
// target value: gain[i] = target / max(bright[i]-offset[i], 1), clamped
// to [GainMin, GainMax].
func (eng *Engine) CalibrateGain(bright []uint16, target uint16) error {
	if err := eng.checkLen("bright frame", len(bright)); err != nil {
		return err
	}
	if target == 0 {
		return xerrors.New("correct: gain target must be nonzero")
	}

	for i, v := range bright {
		diff := int(v) - int(eng.offset[i])
		if diff < 1 {
			diff = 1
		}
		g := float32(target) / float32(diff)
		if g < GainMin {
			g = GainMin
		}
		if g > GainMax {
			g = GainMax
		}
		eng.gain[i] = g
	}
	eng.calibrated = true
	return nil
}

// CalibrateBaseline derives the baseline table from reference frames.
// Each frame is offset- and gain-corrected first, then the corrected
// frames are averaged.
func (eng *Engine) CalibrateBaseline(refs [][]uint16) error {
	if len(refs) == 0 {
		return xerrors.New("correct: no baseline reference frames")
	}

	n := eng.width * eng.height
	acc := make([]uint64, n)
	for k, ref := range refs {
		if err := eng.checkLen("baseline frame", len(ref)); err != nil {
			return xerrors.Errorf("correct: baseline frame %d: %w", k, err)
		}
		for i, v := range ref {
			y := (float64(v) - float64(eng.offset[i])) * float64(eng.gain[i])
			if y < 0 {
				y = 0
			}
			if y > float64(eng.max) {
				y = float64(eng.max)
			}
			acc[i] += uint64(y + 0.5)
		}
	}

	div := uint64(len(refs))
	for i, v := range acc {
		eng.baseline[i] = uint16((v + div/2) / div)
	}
	return nil
}

// Apply runs the enabled correction stages over one frame. in and out
// must both match the engine geometry; they may alias.
func (eng *Engine) Apply(in, out []uint16) error {
	if err := eng.checkLen("input frame", len(in)); err != nil {
		return err
	}
	if err := eng.checkLen("output frame", len(out)); err != nil {
		return err
	}

	for i, v := range in {
		out[i] = eng.correct(float64(v), i)
	}
	return nil
}

// ApplyLine corrects one line against the calibration row line (rows
// outside the geometry fall back to row 0).
func (eng *Engine) ApplyLine(in, out []uint16, line int) error {
	if len(in) != eng.width || len(out) != eng.width {
		return xerrors.Errorf("correct: line width mismatch (got=%d/%d, want=%d)",
			len(in), len(out), eng.width,
		)
	}
	if line < 0 || line >= eng.height {
		line = 0
	}

	base := line * eng.width
	for x, v := range in {
		out[x] = eng.correct(float64(v), base+x)
	}
	return nil
}

// ApplyImage corrects a frame buffer in place.
func (eng *Engine) ApplyImage(img *frame.Image) error {
	if img.Width != eng.width || img.Height != eng.height || img.Depth != eng.depth {
		return xerrors.Errorf("correct: image geometry mismatch (got=%dx%d@%d, want=%dx%d@%d)",
			img.Width, img.Height, img.Depth, eng.width, eng.height, eng.depth,
		)
	}

	px := img.Pixels()
	if err := eng.Apply(px, px); err != nil {
		return err
	}
	return img.SetPixels(px)
}

func (eng *Engine) correct(y float64, i int) uint16 {
	if eng.enableOffset {
		y -= float64(eng.offset[i])
	}
	if eng.enableGain {
		y *= float64(eng.gain[i])
	}
	if eng.enableBaseline {
		y -= float64(eng.baseline[i])
	}
	y += float64(eng.targetBaseline)

	if y < 0 {
		return 0
	}
	if y > float64(eng.max) {
		return eng.max
	}
	return uint16(y + 0.5)
}

// Stats holds summary statistics over a calibration table.
type Stats struct {
	Mean, Std, Min, Max float64
}

func statsOf(xs []float64) Stats {
	mean, std := stat.MeanStdDev(xs, nil)
	min, max := xs[0], xs[0]
	for _, v := range xs {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if math.IsNaN(std) { // single-element tables
		std = 0
	}
	return Stats{Mean: mean, Std: std, Min: min, Max: max}
}

// OffsetStats returns summary statistics over the offset table.
func (eng *Engine) OffsetStats() Stats {
	xs := make([]float64, len(eng.offset))
	for i, v := range eng.offset {
		xs[i] = float64(v)
	}
	return statsOf(xs)
}

// GainStats returns summary statistics over the gain table.
func (eng *Engine) GainStats() Stats {
	xs := make([]float64, len(eng.gain))
	for i, v := range eng.gain {
		xs[i] = float64(v)
	}
	return statsOf(xs)
}

// Validate checks the gain table: no NaN or infinities, and at most
// 0.1% of the entries outside the sane (0, 100] range.
func (eng *Engine) Validate() error {
	invalid := 0
	for _, g := range eng.gain {
		v := float64(g)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return xerrors.New("correct: gain table contains NaN or Inf")
		}
		if v <= 0 || v > 100 {
			invalid++
		}
	}

	if limit := len(eng.gain) / 1000; invalid > limit {
		return xerrors.Errorf("correct: %d gain entries out of range (limit=%d)", invalid, limit)
	}
	return nil
}
