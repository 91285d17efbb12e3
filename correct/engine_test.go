// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package correct

import (
	"math"
	"reflect"
	"testing"

	"github.com/fximage/hubx/frame"
)

func TestCalibrateOffset(t *testing.T) {
	eng, err := NewEngine(2, 2, 12)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}

	darks := [][]uint16{
		{10, 12, 11, 13},
		{14, 10, 13, 11},
	}
	if err := eng.CalibrateOffset(darks); err != nil {
		t.Fatalf("could not calibrate offset: %+v", err)
	}

	want := []uint16{12, 11, 12, 12}
	if got := eng.Offset(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid offset table: got=%v, want=%v", got, want)
	}
}

func TestCalibrateOffsetExactCopy(t *testing.T) {
	// K identical dark frames must reproduce the frame exactly.
	eng, err := NewEngine(3, 1, 16)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}

	f := []uint16{100, 200, 300}
	if err := eng.CalibrateOffset([][]uint16{f, f, f, f}); err != nil {
		t.Fatalf("could not calibrate offset: %+v", err)
	}
	if got := eng.Offset(); !reflect.DeepEqual(got, f) {
		t.Fatalf("invalid offset table: got=%v, want=%v", got, f)
	}
}

func TestCalibrateOffsetLines(t *testing.T) {
	eng, err := NewEngine(2, 3, 16)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}

	lines := [][]uint16{
		{10, 20},
		{12, 22},
	}
	if err := eng.CalibrateOffsetLines(lines); err != nil {
		t.Fatalf("could not calibrate offset lines: %+v", err)
	}

	want := []uint16{11, 21, 11, 21, 11, 21}
	if got := eng.Offset(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid offset table: got=%v, want=%v", got, want)
	}
}

func TestCalibrateGain(t *testing.T) {
	eng, err := NewEngine(1, 1, 12)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}

	if err := eng.CalibrateGain([]uint16{1000}, 2048); err != nil {
		t.Fatalf("could not calibrate gain: %+v", err)
	}
	if got, want := eng.Gain()[0], float32(2.048); math.Abs(float64(got-want)) > 1e-6 {
		t.Fatalf("invalid gain: got=%v, want=%v", got, want)
	}

	out := make([]uint16, 1)
	if err := eng.Apply([]uint16{1000}, out); err != nil {
		t.Fatalf("could not apply correction: %+v", err)
	}
	if got, want := out[0], uint16(2048); got != want {
		t.Fatalf("invalid corrected value: got=%d, want=%d", got, want)
	}
}

func TestCalibrateGainClamp(t *testing.T) {
	eng, err := NewEngine(3, 1, 16)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}

	// bright-offset of 1 against target 60000 saturates the gain clamp;
	// a dead pixel (bright <= offset) has its difference floored at 1,
	// so it saturates the clamp too.
	if err := eng.SetOffset([]uint16{10, 10, 10}); err != nil {
		t.Fatalf("could not set offset: %+v", err)
	}
	if err := eng.CalibrateGain([]uint16{11, 10, 65535}, 60000); err != nil {
		t.Fatalf("could not calibrate gain: %+v", err)
	}

	gain := eng.Gain()
	if got, want := gain[0], float32(GainMax); got != want {
		t.Errorf("gain not clamped high: got=%v, want=%v", got, want)
	}
	if got, want := gain[1], float32(GainMax); got != want {
		t.Errorf("dead pixel gain: got=%v, want=%v", got, want)
	}
	if gain[2] < GainMin {
		t.Errorf("gain below clamp: got=%v", gain[2])
	}
}

func TestGainIdentity(t *testing.T) {
	// gain-only stage with unit gain, zero offset and no baseline is the
	// identity on every pixel value.
	eng, err := NewEngine(4, 1, 16)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}
	eng.SetMode(false, true, false)

	in := []uint16{0, 1, 32768, 65535}
	out := make([]uint16, len(in))
	if err := eng.Apply(in, out); err != nil {
		t.Fatalf("could not apply correction: %+v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("identity violated: got=%v, want=%v", out, in)
	}
}

func TestCorrectionClamp(t *testing.T) {
	eng, err := NewEngine(2, 1, 12)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}

	if err := eng.SetGain([]float32{10, 1}); err != nil {
		t.Fatalf("could not set gain: %+v", err)
	}
	if err := eng.SetOffset([]uint16{0, 4000}); err != nil {
		t.Fatalf("could not set offset: %+v", err)
	}

	out := make([]uint16, 2)
	if err := eng.Apply([]uint16{4095, 100}, out); err != nil {
		t.Fatalf("could not apply correction: %+v", err)
	}
	if got, want := out[0], uint16(4095); got != want {
		t.Errorf("overflow not clamped: got=%d, want=%d", got, want)
	}
	if got, want := out[1], uint16(0); got != want {
		t.Errorf("underflow not clamped: got=%d, want=%d", got, want)
	}
}

func TestCalibrateBaseline(t *testing.T) {
	eng, err := NewEngine(2, 1, 12)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}

	if err := eng.SetOffset([]uint16{100, 100}); err != nil {
		t.Fatalf("could not set offset: %+v", err)
	}
	if err := eng.CalibrateBaseline([][]uint16{
		{1100, 600},
		{1100, 600},
	}); err != nil {
		t.Fatalf("could not calibrate baseline: %+v", err)
	}

	want := []uint16{1000, 500}
	if got := eng.Baseline(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid baseline table: got=%v, want=%v", got, want)
	}

	// with baseline enabled and a target, the references settle on the
	// target level.
	eng.SetMode(true, true, true)
	eng.SetTargetBaseline(2048)
	out := make([]uint16, 2)
	if err := eng.Apply([]uint16{1100, 600}, out); err != nil {
		t.Fatalf("could not apply correction: %+v", err)
	}
	if got, want := out, []uint16{2048, 2048}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid corrected values: got=%v, want=%v", got, want)
	}
}

func TestApplyLine(t *testing.T) {
	eng, err := NewEngine(2, 2, 16)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}
	if err := eng.SetOffset([]uint16{1, 2, 3, 4}); err != nil {
		t.Fatalf("could not set offset: %+v", err)
	}

	out := make([]uint16, 2)
	if err := eng.ApplyLine([]uint16{10, 10}, out, 1); err != nil {
		t.Fatalf("could not apply line correction: %+v", err)
	}
	if got, want := out, []uint16{7, 6}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid corrected line: got=%v, want=%v", got, want)
	}

	// out-of-range rows fall back to row 0.
	if err := eng.ApplyLine([]uint16{10, 10}, out, 7); err != nil {
		t.Fatalf("could not apply line correction: %+v", err)
	}
	if got, want := out, []uint16{9, 8}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid corrected line: got=%v, want=%v", got, want)
	}
}

func TestApplyImage(t *testing.T) {
	eng, err := NewEngine(2, 1, 16)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}
	if err := eng.SetOffset([]uint16{5, 5}); err != nil {
		t.Fatalf("could not set offset: %+v", err)
	}

	img, err := frame.NewImage(2, 1, 16)
	if err != nil {
		t.Fatalf("could not allocate image: %+v", err)
	}
	img.Set(0, 0, 105)
	img.Set(1, 0, 205)

	if err := eng.ApplyImage(img); err != nil {
		t.Fatalf("could not correct image: %+v", err)
	}
	if got, want := img.At(0, 0), uint16(100); got != want {
		t.Errorf("invalid pixel 0: got=%d, want=%d", got, want)
	}
	if got, want := img.At(1, 0), uint16(200); got != want {
		t.Errorf("invalid pixel 1: got=%d, want=%d", got, want)
	}

	bad, err := frame.NewImage(3, 1, 16)
	if err != nil {
		t.Fatalf("could not allocate image: %+v", err)
	}
	if err := eng.ApplyImage(bad); err == nil {
		t.Fatalf("expected geometry mismatch error")
	}
}

func TestGeometryMismatch(t *testing.T) {
	eng, err := NewEngine(2, 2, 12)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}

	if err := eng.CalibrateOffset([][]uint16{{1, 2, 3}}); err == nil {
		t.Errorf("expected dark frame geometry error")
	}
	if err := eng.CalibrateGain([]uint16{1, 2, 3}, 100); err == nil {
		t.Errorf("expected bright frame geometry error")
	}
	if err := eng.Apply([]uint16{1}, make([]uint16, 4)); err == nil {
		t.Errorf("expected input geometry error")
	}
	if err := eng.SetGain([]float32{1}); err == nil {
		t.Errorf("expected gain geometry error")
	}
}

func TestValidate(t *testing.T) {
	eng, err := NewEngine(10, 10, 16)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}

	if err := eng.Validate(); err != nil {
		t.Fatalf("default tables must validate: %+v", err)
	}

	gain := eng.Gain()
	gain[0] = float32(math.NaN())
	if err := eng.Validate(); err == nil {
		t.Fatalf("expected NaN to fail validation")
	}

	gain[0] = 1
	gain[1] = -2
	if err := eng.Validate(); err == nil {
		t.Fatalf("expected out-of-range ratio to fail validation")
	}
}

func TestSmoothGain(t *testing.T) {
	eng, err := NewEngine(3, 3, 16)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}

	gain := []float32{
		1, 1, 1,
		1, 10, 1,
		1, 1, 1,
	}
	if err := eng.SetGain(gain); err != nil {
		t.Fatalf("could not set gain: %+v", err)
	}
	if err := eng.SmoothGain(3); err != nil {
		t.Fatalf("could not smooth gain: %+v", err)
	}

	got := eng.Gain()
	if want := float32(2); math.Abs(float64(got[4]-want)) > 1e-6 {
		t.Errorf("invalid smoothed center: got=%v, want=%v", got[4], want)
	}
	// borders keep their unsmoothed value.
	for _, i := range []int{0, 1, 2, 3, 5, 6, 7, 8} {
		if got[i] != 1 {
			t.Errorf("border %d modified: got=%v, want=1", i, got[i])
		}
	}

	if err := eng.SmoothGain(4); err == nil {
		t.Fatalf("expected kernel size error")
	}
}

func TestStatistics(t *testing.T) {
	eng, err := NewEngine(2, 2, 16)
	if err != nil {
		t.Fatalf("could not create engine: %+v", err)
	}
	if err := eng.SetOffset([]uint16{10, 20, 30, 40}); err != nil {
		t.Fatalf("could not set offset: %+v", err)
	}

	st := eng.OffsetStats()
	if got, want := st.Mean, 25.0; got != want {
		t.Errorf("invalid offset mean: got=%v, want=%v", got, want)
	}
	if got, want := st.Min, 10.0; got != want {
		t.Errorf("invalid offset min: got=%v, want=%v", got, want)
	}
	if got, want := st.Max, 40.0; got != want {
		t.Errorf("invalid offset max: got=%v, want=%v", got, want)
	}

	gst := eng.GainStats()
	if got, want := gst.Mean, 1.0; got != want {
		t.Errorf("invalid gain mean: got=%v, want=%v", got, want)
	}
	if got, want := gst.Std, 0.0; got != want {
		t.Errorf("invalid gain std: got=%v, want=%v", got, want)
	}
}
