// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package correct

import "golang.org/x/xerrors"

// SmoothGain convolves the gain table with a k x k mean kernel,
// k in {3, 5, 7}. Border pixels keep their unsmoothed value.
func (eng *Engine) SmoothGain(k int) error {
	switch k {
	case 3, 5, 7:
	default:
		return xerrors.Errorf("correct: invalid smoothing kernel size %d (want 3, 5 or 7)", k)
	}

	var (
		w    = eng.width
		h    = eng.height
		half = k / 2
		out  = make([]float32, len(eng.gain))
	)
	copy(out, eng.gain)

	for y := half; y < h-half; y++ {
		for x := half; x < w-half; x++ {
			sum := float64(0)
			for ky := -half; ky <= half; ky++ {
				for kx := -half; kx <= half; kx++ {
					sum += float64(eng.gain[(y+ky)*w+(x+kx)])
				}
			}
			out[y*w+x] = float32(sum / float64(k*k))
		}
	}

	copy(eng.gain, out)
	return nil
}
