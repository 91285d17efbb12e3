// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package correct

import (
	"math"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/stat"
)

// FusionMode selects how high- and low-energy images are combined.
type FusionMode int

const (
	FuseWeightedAverage FusionMode = iota
	FuseMaterialDecomposition
	FuseAdaptive
	FuseLogarithmic
)

func (m FusionMode) String() string {
	switch m {
	case FuseWeightedAverage:
		return "weighted-average"
	case FuseMaterialDecomposition:
		return "material-decomposition"
	case FuseAdaptive:
		return "adaptive"
	case FuseLogarithmic:
		return "logarithmic"
	}
	return "FusionMode(?)"
}

// Fuser combines co-registered high- and low-energy images of a fixed
// geometry into one fused image.
type Fuser struct {
	width  int
	height int

	wHigh float64
	wLow  float64

	mode   FusionMode
	coeff  float64 // material decomposition coefficient
	window int     // adaptive local-statistics window
}

// NewFuser returns a weighted-average fuser with equal weights, a
// material coefficient of 1 and a 5x5 adaptive window.
func NewFuser(width, height int) (*Fuser, error) {
	if width <= 0 || height <= 0 {
		return nil, xerrors.Errorf("correct: invalid fusion geometry %dx%d", width, height)
	}
	return &Fuser{
		width:  width,
		height: height,
		wHigh:  0.5,
		wLow:   0.5,
		coeff:  1,
		window: 5,
	}, nil
}

// SetMode selects the fusion mode.
func (f *Fuser) SetMode(mode FusionMode) { f.mode = mode }

// SetWeights sets the high- and low-energy weights. The weights are
// normalized so they sum to one; two zero weights fall back to 0.5/0.5.
func (f *Fuser) SetWeights(wHigh, wLow float64) error {
	if wHigh < 0 || wHigh > 1 || wLow < 0 || wLow > 1 {
		return xerrors.Errorf("correct: fusion weights out of range (high=%g, low=%g)", wHigh, wLow)
	}
	sum := wHigh + wLow
	if sum > 0 {
		f.wHigh = wHigh / sum
		f.wLow = wLow / sum
	} else {
		f.wHigh = 0.5
		f.wLow = 0.5
	}
	return nil
}

// Weights returns the current normalized weights.
func (f *Fuser) Weights() (wHigh, wLow float64) { return f.wHigh, f.wLow }

// SetMaterialCoeff sets the material-decomposition coefficient.
func (f *Fuser) SetMaterialCoeff(k float64) { f.coeff = k }

// SetWindow sets the adaptive local-statistics window size (3, 5 or 7).
func (f *Fuser) SetWindow(s int) error {
	switch s {
	case 3, 5, 7:
		f.window = s
		return nil
	}
	return xerrors.Errorf("correct: invalid adaptive window size %d (want 3, 5 or 7)", s)
}

func (f *Fuser) check(high, low []uint16) error {
	n := f.width * f.height
	if len(high) != n || len(low) != n {
		return xerrors.Errorf("correct: fusion geometry mismatch (high=%d, low=%d, want=%d)",
			len(high), len(low), n,
		)
	}
	return nil
}

// Fuse combines the two images with the configured mode and returns the
// fused image, clamped to the given bit depth.
func (f *Fuser) Fuse(high, low []uint16, depth int) ([]uint16, error) {
	switch f.mode {
	case FuseMaterialDecomposition:
		return f.fuseMaterial(high, low, depth)
	case FuseAdaptive:
		return f.fuseAdaptive(high, low, depth)
	case FuseLogarithmic:
		return f.fuseLog(high, low, depth)
	default:
		return f.fuseWeighted(high, low, depth)
	}
}

func clampRound(v float64, max uint16) uint16 {
	if v < 0 {
		return 0
	}
	if v > float64(max) {
		return max
	}
	return uint16(v + 0.5)
}

func maxOf(depth int) uint16 { return uint16(1<<uint(depth)) - 1 }

func (f *Fuser) fuseWeighted(high, low []uint16, depth int) ([]uint16, error) {
	if err := f.check(high, low); err != nil {
		return nil, err
	}

	max := maxOf(depth)
	out := make([]uint16, len(high))
	for i := range high {
		v := f.wHigh*float64(high[i]) + f.wLow*float64(low[i])
		out[i] = clampRound(v, max)
	}
	return out, nil
}

func (f *Fuser) fuseMaterial(high, low []uint16, depth int) ([]uint16, error) {
	if err := f.check(high, low); err != nil {
		return nil, err
	}

	max := maxOf(depth)
	out := make([]uint16, len(high))
	for i := range high {
		h := float64(high[i])
		l := float64(low[i])
		out[i] = clampRound(h+f.coeff*(h-l), max)
	}
	return out, nil
}

func (f *Fuser) fuseLog(high, low []uint16, depth int) ([]uint16, error) {
	if err := f.check(high, low); err != nil {
		return nil, err
	}

	const eps = 1.0 // avoid log(0)
	max := maxOf(depth)
	out := make([]uint16, len(high))
	for i := range high {
		v := math.Exp(f.wHigh*math.Log(float64(high[i])+eps)+
			f.wLow*math.Log(float64(low[i])+eps)) - eps
		out[i] = clampRound(v, max)
	}
	return out, nil
}

func (f *Fuser) fuseAdaptive(high, low []uint16, depth int) ([]uint16, error) {
	if err := f.check(high, low); err != nil {
		return nil, err
	}

	var (
		max  = maxOf(depth)
		half = f.window / 2
		out  = make([]uint16, len(high))
	)

	for y := 0; y < f.height; y++ {
		for x := 0; x < f.width; x++ {
			var (
				meanH, meanL float64
				count        float64
			)
			for wy := -half; wy <= half; wy++ {
				for wx := -half; wx <= half; wx++ {
					ny, nx := y+wy, x+wx
					if ny < 0 || ny >= f.height || nx < 0 || nx >= f.width {
						continue
					}
					i := ny*f.width + nx
					meanH += float64(high[i])
					meanL += float64(low[i])
					count++
				}
			}
			meanH /= count
			meanL /= count

			var varH, varL float64
			for wy := -half; wy <= half; wy++ {
				for wx := -half; wx <= half; wx++ {
					ny, nx := y+wy, x+wx
					if ny < 0 || ny >= f.height || nx < 0 || nx >= f.width {
						continue
					}
					i := ny*f.width + nx
					dh := float64(high[i]) - meanH
					dl := float64(low[i]) - meanL
					varH += dh * dh
					varL += dl * dl
				}
			}
			varH /= count
			varL /= count

			total := varH + varL + 1e-6
			i := y*f.width + x
			v := (varH/total)*float64(high[i]) + (varL/total)*float64(low[i])
			out[i] = clampRound(v, max)
		}
	}
	return out, nil
}

// OptimalWeights derives SNR-based fusion weights from the two images:
// snr = mean^2 / variance, weights proportional to each image's SNR.
func (f *Fuser) OptimalWeights(high, low []uint16) (wHigh, wLow float64, err error) {
	if err := f.check(high, low); err != nil {
		return 0, 0, err
	}

	snr := func(px []uint16) float64 {
		xs := make([]float64, len(px))
		for i, v := range px {
			xs[i] = float64(v)
		}
		mean, variance := stat.MeanVariance(xs, nil)
		if variance <= 0 || math.IsNaN(variance) {
			return 1
		}
		return mean * mean / variance
	}

	snrH := snr(high)
	snrL := snr(low)
	total := snrH + snrL
	return snrH / total, snrL / total, nil
}

// DecomposeMaterials produces the organic and inorganic channel images:
// organic = low - 0.5*high, inorganic = high - 0.3*(high-low), both
// clamped and rounded.
func (f *Fuser) DecomposeMaterials(high, low []uint16, depth int) (organic, inorganic []uint16, err error) {
	if err := f.check(high, low); err != nil {
		return nil, nil, err
	}

	max := maxOf(depth)
	organic = make([]uint16, len(high))
	inorganic = make([]uint16, len(high))
	for i := range high {
		h := float64(high[i])
		l := float64(low[i])
		organic[i] = clampRound(l-0.5*h, max)
		inorganic[i] = clampRound(h-0.3*(h-l), max)
	}
	return organic, inorganic, nil
}
