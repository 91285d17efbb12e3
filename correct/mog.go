// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package correct

import (
	"math"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// DetectorCal is the calibration state of one detector in a
// multi-detector rig: its own offset/gain/baseline tables plus its
// placement in the stitched image and a cross-detector normalization
// factor.
type DetectorCal struct {
	ID      int
	Width   int
	Height  int
	XOffset int
	YOffset int
	Active  bool
	Norm    float32

	offset   []uint16
	gain     []float32
	baseline []uint16
}

func (det *DetectorCal) pixels() int { return det.Width * det.Height }

// MultiEngine corrects and stitches frames from a rig of detectors.
type MultiEngine struct {
	dets  []*DetectorCal
	depth int
	max   uint16

	enableOffset   bool
	enableGain     bool
	enableBaseline bool
	enableBlending bool
	targetBaseline uint16
}

// Geometry describes one detector of a rig.
type Geometry struct {
	Width  int
	Height int
}

// NewMultiEngine returns an uncalibrated engine for a rig of detectors
// with the given geometries. All detectors start active with unit
// normalization at placement (0, 0); overlap blending is enabled.
func NewMultiEngine(geoms []Geometry, depth int) (*MultiEngine, error) {
	if len(geoms) == 0 {
		return nil, xerrors.New("correct: empty detector rig")
	}
	if depth < 8 || depth > 16 {
		return nil, xerrors.Errorf("correct: invalid pixel depth %d (want 8..16)", depth)
	}

	eng := &MultiEngine{
		depth:          depth,
		max:            uint16(1<<uint(depth)) - 1,
		enableOffset:   true,
		enableGain:     true,
		enableBlending: true,
	}
	for i, g := range geoms {
		if g.Width <= 0 || g.Height <= 0 {
			return nil, xerrors.Errorf("correct: detector %d: invalid geometry %dx%d", i, g.Width, g.Height)
		}
		det := &DetectorCal{
			ID:     i,
			Width:  g.Width,
			Height: g.Height,
			Active: true,
			Norm:   1,

			offset:   make([]uint16, g.Width*g.Height),
			gain:     make([]float32, g.Width*g.Height),
			baseline: make([]uint16, g.Width*g.Height),
		}
		for j := range det.gain {
			det.gain[j] = 1
		}
		eng.dets = append(eng.dets, det)
	}
	return eng, nil
}

// Detectors returns the number of detectors in the rig.
func (eng *MultiEngine) Detectors() int { return len(eng.dets) }

// Detector returns the calibration state of one detector.
func (eng *MultiEngine) Detector(id int) (*DetectorCal, error) {
	if id < 0 || id >= len(eng.dets) {
		return nil, xerrors.Errorf("correct: invalid detector id %d (rig of %d)", id, len(eng.dets))
	}
	return eng.dets[id], nil
}

// SetMode enables or disables the correction stages independently.
func (eng *MultiEngine) SetMode(offset, gain, baseline bool) {
	eng.enableOffset = offset
	eng.enableGain = gain
	eng.enableBaseline = baseline
}

// SetTargetBaseline sets the post-correction additive target.
func (eng *MultiEngine) SetTargetBaseline(v uint16) { eng.targetBaseline = v }

// SetBlending enables or disables overlap blending during stitching.
func (eng *MultiEngine) SetBlending(enable bool) { eng.enableBlending = enable }

// SetActive marks one detector as (in)active. Inactive detectors are
// skipped by calibration, normalization and stitching.
func (eng *MultiEngine) SetActive(id int, active bool) error {
	det, err := eng.Detector(id)
	if err != nil {
		return err
	}
	det.Active = active
	return nil
}

// SetPosition places one detector in the stitched image.
func (eng *MultiEngine) SetPosition(id, x, y int) error {
	det, err := eng.Detector(id)
	if err != nil {
		return err
	}
	det.XOffset = x
	det.YOffset = y
	return nil
}

// SetNorm sets the cross-detector normalization factor of one detector.
func (eng *MultiEngine) SetNorm(id int, norm float32) error {
	det, err := eng.Detector(id)
	if err != nil {
		return err
	}
	if norm <= 0 || norm > 10 {
		return xerrors.Errorf("correct: invalid normalization factor %g", norm)
	}
	det.Norm = norm
	return nil
}

func (eng *MultiEngine) checkLen(id int, name string, n int) (*DetectorCal, error) {
	det, err := eng.Detector(id)
	if err != nil {
		return nil, err
	}
	if n != det.pixels() {
		return nil, xerrors.Errorf("correct: detector %d: %s geometry mismatch (got=%d, want=%d)",
			id, name, n, det.pixels(),
		)
	}
	return det, nil
}

// SetOffset replaces the offset table of one detector.
func (eng *MultiEngine) SetOffset(id int, offset []uint16) error {
	det, err := eng.checkLen(id, "offset", len(offset))
	if err != nil {
		return err
	}
	copy(det.offset, offset)
	return nil
}

// SetGain replaces the gain table of one detector.
func (eng *MultiEngine) SetGain(id int, gain []float32) error {
	det, err := eng.checkLen(id, "gain", len(gain))
	if err != nil {
		return err
	}
	copy(det.gain, gain)
	return nil
}

// SetBaseline replaces the baseline table of one detector.
func (eng *MultiEngine) SetBaseline(id int, baseline []uint16) error {
	det, err := eng.checkLen(id, "baseline", len(baseline))
	if err != nil {
		return err
	}
	copy(det.baseline, baseline)
	return nil
}

// CalibrateOffset derives the offset tables of all active detectors from
// synchronized dark frames: darks[id] holds the dark frames of detector
// id.
func (eng *MultiEngine) CalibrateOffset(darks [][][]uint16) error {
	if len(darks) != len(eng.dets) {
		return xerrors.Errorf("correct: dark frame sets mismatch rig size (got=%d, want=%d)",
			len(darks), len(eng.dets),
		)
	}

	var grp errgroup.Group
	for id, det := range eng.dets {
		if !det.Active {
			continue
		}
		if len(darks[id]) == 0 {
			return xerrors.Errorf("correct: detector %d: no dark frames", id)
		}

		id, det := id, det
		grp.Go(func() error {
			acc := make([]uint64, det.pixels())
			for k, dark := range darks[id] {
				if len(dark) != det.pixels() {
					return xerrors.Errorf("correct: detector %d: dark frame %d geometry mismatch (got=%d, want=%d)",
						id, k, len(dark), det.pixels(),
					)
				}
				for i, v := range dark {
					acc[i] += uint64(v)
				}
			}

			div := uint64(len(darks[id]))
			for i, v := range acc {
				det.offset[i] = uint16((v + div/2) / div)
			}
			return nil
		})
	}
	return grp.Wait()
}

// CalibrateGain derives the gain tables of all active detectors from
// synchronized bright-field frames.
func (eng *MultiEngine) CalibrateGain(brights [][]uint16, target uint16) error {
	if len(brights) != len(eng.dets) {
		return xerrors.Errorf("correct: bright frames mismatch rig size (got=%d, want=%d)",
			len(brights), len(eng.dets),
		)
	}
	if target == 0 {
		return xerrors.New("correct: gain target must be nonzero")
	}

	var grp errgroup.Group
	for id, det := range eng.dets {
		if !det.Active {
			continue
		}
		if len(brights[id]) != det.pixels() {
			return xerrors.Errorf("correct: detector %d: bright frame geometry mismatch (got=%d, want=%d)",
				id, len(brights[id]), det.pixels(),
			)
		}

		id, det := id, det
		grp.Go(func() error {
			for i, v := range brights[id] {
				diff := int(v) - int(det.offset[i])
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
				det.gain[i] = g
			}
			return nil
		})
	}
	return grp.Wait()
}

// Normalize computes the cross-detector normalization factors: each
// active detector's factor becomes the global mean gain over active
// detectors divided by its own mean gain.
func (eng *MultiEngine) Normalize() error {
	means := make([]float64, len(eng.dets))
	var (
		global float64
		active int
	)
	for id, det := range eng.dets {
		if !det.Active {
			means[id] = 1
			continue
		}
		sum := float64(0)
		for _, g := range det.gain {
			sum += float64(g)
		}
		means[id] = sum / float64(det.pixels())
		global += means[id]
		active++
	}

	if active == 0 {
		return xerrors.New("correct: no active detector")
	}
	global /= float64(active)

	for id, det := range eng.dets {
		if det.Active && means[id] > 0 {
			det.Norm = float32(global / means[id])
		}
	}
	return nil
}

func (eng *MultiEngine) correct(det *DetectorCal, v float64, i int) float64 {
	if eng.enableOffset {
		v -= float64(det.offset[i])
	}
	if eng.enableGain {
		v *= float64(det.gain[i])
	}
	v *= float64(det.Norm)
	if eng.enableBaseline {
		v -= float64(det.baseline[i])
	}
	return v + float64(eng.targetBaseline)
}

// Apply corrects one detector's frame independently of the rig.
func (eng *MultiEngine) Apply(id int, in, out []uint16) error {
	det, err := eng.checkLen(id, "input frame", len(in))
	if err != nil {
		return err
	}
	if len(out) != det.pixels() {
		return xerrors.Errorf("correct: detector %d: output frame geometry mismatch (got=%d, want=%d)",
			id, len(out), det.pixels(),
		)
	}

	for i, v := range in {
		y := eng.correct(det, float64(v), i)
		if y < 0 {
			y = 0
		}
		if y > float64(eng.max) {
			y = float64(eng.max)
		}
		out[i] = uint16(y + 0.5)
	}
	return nil
}

// Stitch corrects the frames of all active detectors and composes them
// into one stitched image of the given size. Where a detector
// horizontally overlaps its predecessor, the overlap columns are blended
// out = new*w + existing*(1-w) with w falling linearly from 1 at the
// overlap start to 0 at its end.
func (eng *MultiEngine) Stitch(inputs [][]uint16, stitchedWidth, stitchedHeight int) ([]uint16, error) {
	if len(inputs) != len(eng.dets) {
		return nil, xerrors.Errorf("correct: input frames mismatch rig size (got=%d, want=%d)",
			len(inputs), len(eng.dets),
		)
	}
	if stitchedWidth <= 0 || stitchedHeight <= 0 {
		return nil, xerrors.Errorf("correct: invalid stitched geometry %dx%d",
			stitchedWidth, stitchedHeight,
		)
	}

	out := make([]uint16, stitchedWidth*stitchedHeight)

	for id, det := range eng.dets {
		if !det.Active || inputs[id] == nil {
			continue
		}
		if len(inputs[id]) != det.pixels() {
			return nil, xerrors.Errorf("correct: detector %d: input frame geometry mismatch (got=%d, want=%d)",
				id, len(inputs[id]), det.pixels(),
			)
		}

		// horizontal overlap with the previous detector: this detector
		// blends into what the previous one already wrote.
		var (
			hasOverlap   bool
			overlapStart int
			overlapWidth int
		)
		if eng.enableBlending && id > 0 {
			prev := eng.dets[id-1]
			prevEnd := prev.XOffset + prev.Width
			if prev.Active && det.XOffset < prevEnd {
				hasOverlap = true
				overlapStart = det.XOffset
				overlapWidth = prevEnd - det.XOffset
			}
		}

		for y := 0; y < det.Height; y++ {
			oy := det.YOffset + y
			if oy < 0 || oy >= stitchedHeight {
				continue
			}
			for x := 0; x < det.Width; x++ {
				ox := det.XOffset + x
				if ox < 0 || ox >= stitchedWidth {
					continue
				}

				in := y*det.Width + x
				oi := oy*stitchedWidth + ox

				v := eng.correct(det, float64(inputs[id][in]), in)

				if hasOverlap && ox >= overlapStart && ox < overlapStart+overlapWidth {
					w := blendWeight(ox, overlapStart, overlapStart+overlapWidth)
					v = v*w + float64(out[oi])*(1-w)
				}

				if v < 0 {
					v = 0
				}
				if v > float64(eng.max) {
					v = float64(eng.max)
				}
				out[oi] = uint16(v + 0.5)
			}
		}
	}
	return out, nil
}

func blendWeight(pos, start, end int) float64 {
	switch {
	case pos < start:
		return 1
	case pos > end:
		return 0
	default:
		t := float64(pos-start) / float64(end-start)
		return 1 - t
	}
}

// Uniformity returns a cross-detector uniformity metric in [0, 1]
// derived from the spread of the per-detector mean gains: 1 is perfect.
func (eng *MultiEngine) Uniformity() float64 {
	var means []float64
	for _, det := range eng.dets {
		if !det.Active {
			continue
		}
		sum := float64(0)
		for _, g := range det.gain {
			sum += float64(g)
		}
		means = append(means, sum/float64(det.pixels()))
	}

	if len(means) < 2 {
		return 1
	}

	var global float64
	for _, m := range means {
		global += m
	}
	global /= float64(len(means))

	var variance float64
	for _, m := range means {
		d := m - global
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(means)))

	u := 1 - std/global
	if u < 0 {
		u = 0
	}
	return u
}
