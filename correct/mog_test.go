// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package correct

import (
	"math"
	"reflect"
	"testing"
)

func constFrame(n int, v uint16) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestMultiEngineSingleDetectorMatchesEngine(t *testing.T) {
	// stitched output of a one-detector rig equals the single-detector
	// correction.
	const (
		w, h  = 8, 4
		depth = 12
	)

	eng, err := NewEngine(w, h, depth)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}
	rig, err := NewMultiEngine([]Geometry{{Width: w, Height: h}}, depth)
	if err != nil {
		t.Fatalf("could not create rig: %+v", err)
	}

	dark := [][]uint16{constFrame(w*h, 100), constFrame(w*h, 102)}
	bright := constFrame(w*h, 2000)

	if err := eng.CalibrateOffset(dark); err != nil {
		t.Fatalf("could not calibrate offset: %+v", err)
	}
	if err := eng.CalibrateGain(bright, 2048); err != nil {
		t.Fatalf("could not calibrate gain: %+v", err)
	}
	if err := rig.CalibrateOffset([][][]uint16{dark}); err != nil {
		t.Fatalf("could not calibrate rig offset: %+v", err)
	}
	if err := rig.CalibrateGain([][]uint16{bright}, 2048); err != nil {
		t.Fatalf("could not calibrate rig gain: %+v", err)
	}

	in := constFrame(w*h, 1500)
	want := make([]uint16, w*h)
	if err := eng.Apply(in, want); err != nil {
		t.Fatalf("could not apply single correction: %+v", err)
	}

	got, err := rig.Stitch([][]uint16{in}, w, h)
	if err != nil {
		t.Fatalf("could not stitch: %+v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("single-detector stitch mismatch:\ngot = %v\nwant= %v", got, want)
	}
}

func TestNormalize(t *testing.T) {
	rig, err := NewMultiEngine([]Geometry{
		{Width: 2, Height: 1},
		{Width: 2, Height: 1},
	}, 16)
	if err != nil {
		t.Fatalf("could not create rig: %+v", err)
	}

	if err := rig.SetGain(0, []float32{1, 1}); err != nil {
		t.Fatalf("could not set gain 0: %+v", err)
	}
	if err := rig.SetGain(1, []float32{3, 3}); err != nil {
		t.Fatalf("could not set gain 1: %+v", err)
	}

	if err := rig.Normalize(); err != nil {
		t.Fatalf("could not normalize: %+v", err)
	}

	// global mean gain is 2: detector 0 scales up by 2, detector 1 down
	// by 2/3.
	det0, _ := rig.Detector(0)
	det1, _ := rig.Detector(1)
	if got, want := det0.Norm, float32(2); math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("invalid norm 0: got=%v, want=%v", got, want)
	}
	if got, want := det1.Norm, float32(2.0/3.0); math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("invalid norm 1: got=%v, want=%v", got, want)
	}
}

func TestNormalizeSkipsInactive(t *testing.T) {
	rig, err := NewMultiEngine([]Geometry{
		{Width: 1, Height: 1},
		{Width: 1, Height: 1},
	}, 16)
	if err != nil {
		t.Fatalf("could not create rig: %+v", err)
	}

	if err := rig.SetGain(1, []float32{5}); err != nil {
		t.Fatalf("could not set gain: %+v", err)
	}
	if err := rig.SetActive(1, false); err != nil {
		t.Fatalf("could not deactivate: %+v", err)
	}

	if err := rig.Normalize(); err != nil {
		t.Fatalf("could not normalize: %+v", err)
	}

	det0, _ := rig.Detector(0)
	det1, _ := rig.Detector(1)
	if got, want := det0.Norm, float32(1); got != want {
		t.Errorf("invalid norm 0: got=%v, want=%v", got, want)
	}
	if got, want := det1.Norm, float32(1); got != want {
		t.Errorf("inactive detector renormalized: got=%v, want=%v", got, want)
	}
}

func TestStitchOverlapBlend(t *testing.T) {
	// detector A covers columns 0..15, B covers 12..27: a 4-column
	// overlap at 12..15. Both produce the constant value 1000 after
	// correction, so every blended sample stays at 1000.
	const (
		w, h  = 16, 2
		depth = 12
	)

	rig, err := NewMultiEngine([]Geometry{
		{Width: w, Height: h},
		{Width: w, Height: h},
	}, depth)
	if err != nil {
		t.Fatalf("could not create rig: %+v", err)
	}
	if err := rig.SetPosition(1, 12, 0); err != nil {
		t.Fatalf("could not place detector 1: %+v", err)
	}

	in := [][]uint16{
		constFrame(w*h, 1000),
		constFrame(w*h, 1000),
	}
	out, err := rig.Stitch(in, 28, h)
	if err != nil {
		t.Fatalf("could not stitch: %+v", err)
	}

	for _, x := range []int{0, 11, 12, 14, 15, 16, 27} {
		if got, want := out[x], uint16(1000); got != want {
			t.Errorf("column %d: got=%d, want=%d", x, got, want)
		}
	}
}

func TestStitchOverlapRamp(t *testing.T) {
	// distinct plateau values expose the blend direction: at the start
	// of the overlap the later detector dominates.
	const (
		w, h  = 8, 1
		depth = 16
	)

	rig, err := NewMultiEngine([]Geometry{
		{Width: w, Height: h},
		{Width: w, Height: h},
	}, depth)
	if err != nil {
		t.Fatalf("could not create rig: %+v", err)
	}
	if err := rig.SetPosition(1, 4, 0); err != nil {
		t.Fatalf("could not place detector 1: %+v", err)
	}

	out, err := rig.Stitch([][]uint16{
		constFrame(w*h, 1000),
		constFrame(w*h, 2000),
	}, 12, h)
	if err != nil {
		t.Fatalf("could not stitch: %+v", err)
	}

	// overlap columns 4..7, blend weight 1-(x-4)/4 for the second pass.
	want := []uint16{1000, 1000, 1000, 1000, 2000, 1750, 1500, 1250, 2000, 2000, 2000, 2000}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("invalid stitched row:\ngot = %v\nwant= %v", out, want)
	}
}

func TestStitchInactiveSkipped(t *testing.T) {
	rig, err := NewMultiEngine([]Geometry{
		{Width: 2, Height: 1},
		{Width: 2, Height: 1},
	}, 16)
	if err != nil {
		t.Fatalf("could not create rig: %+v", err)
	}
	if err := rig.SetPosition(1, 2, 0); err != nil {
		t.Fatalf("could not place detector 1: %+v", err)
	}
	if err := rig.SetActive(0, false); err != nil {
		t.Fatalf("could not deactivate: %+v", err)
	}

	out, err := rig.Stitch([][]uint16{
		constFrame(2, 500),
		constFrame(2, 700),
	}, 4, 1)
	if err != nil {
		t.Fatalf("could not stitch: %+v", err)
	}

	want := []uint16{0, 0, 700, 700}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("invalid stitched row: got=%v, want=%v", out, want)
	}
}

func TestMultiEngineApply(t *testing.T) {
	rig, err := NewMultiEngine([]Geometry{{Width: 2, Height: 1}}, 12)
	if err != nil {
		t.Fatalf("could not create rig: %+v", err)
	}
	if err := rig.SetOffset(0, []uint16{100, 100}); err != nil {
		t.Fatalf("could not set offset: %+v", err)
	}
	if err := rig.SetNorm(0, 2); err != nil {
		t.Fatalf("could not set norm: %+v", err)
	}

	out := make([]uint16, 2)
	if err := rig.Apply(0, []uint16{600, 5000}, out); err != nil {
		t.Fatalf("could not apply: %+v", err)
	}
	if got, want := out, []uint16{1000, 4095}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid corrected frame: got=%v, want=%v", got, want)
	}
}

func TestUniformity(t *testing.T) {
	rig, err := NewMultiEngine([]Geometry{
		{Width: 1, Height: 1},
		{Width: 1, Height: 1},
	}, 16)
	if err != nil {
		t.Fatalf("could not create rig: %+v", err)
	}

	if got, want := rig.Uniformity(), 1.0; got != want {
		t.Fatalf("identical rig uniformity: got=%v, want=%v", got, want)
	}

	if err := rig.SetGain(1, []float32{3}); err != nil {
		t.Fatalf("could not set gain: %+v", err)
	}
	if got := rig.Uniformity(); got >= 1 {
		t.Fatalf("spread rig must lose uniformity: got=%v", got)
	}
}

func TestMultiEngineErrors(t *testing.T) {
	rig, err := NewMultiEngine([]Geometry{{Width: 2, Height: 2}}, 12)
	if err != nil {
		t.Fatalf("could not create rig: %+v", err)
	}

	if _, err := rig.Detector(5); err == nil {
		t.Errorf("expected detector id error")
	}
	if err := rig.SetNorm(0, -1); err == nil {
		t.Errorf("expected normalization range error")
	}
	if err := rig.SetOffset(0, []uint16{1}); err == nil {
		t.Errorf("expected geometry error")
	}
	if _, err := rig.Stitch([][]uint16{nil, nil}, 2, 2); err == nil {
		t.Errorf("expected rig size error")
	}
}
