// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package correct

import (
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/stat"
)

// Pixel-discontinuity correction hides the mechanical gaps between
// detector modules (X-cards). Two modes exist: resampling removes the
// gap columns and shrinks the image, filling interpolates across them
// and keeps the width.

func lerp(v0, v1, t float64) float64 { return v0 + t*(v1-v0) }

// bilinear samples px (width x height) at the fractional coordinate
// (x, y), clamping to the image border.
func bilinear(px []uint16, width, height int, x, y float64) float64 {
	if x < 0 {
		x = 0
	}
	if x >= float64(width-1) {
		x = float64(width-1) - 1e-3
	}
	if y < 0 {
		y = 0
	}
	if y >= float64(height-1) {
		y = float64(height-1) - 1e-3
	}

	x0, y0 := int(x), int(y)
	fx, fy := x-float64(x0), y-float64(y0)

	v00 := float64(px[y0*width+x0])
	v10 := float64(px[y0*width+x0+1])
	v01 := float64(px[(y0+1)*width+x0])
	v11 := float64(px[(y0+1)*width+x0+1])

	return lerp(lerp(v00, v10, fx), lerp(v01, v11, fx), fy)
}

// ResampleGaps removes gap regions of the given width starting at each
// position in gaps and returns the resampled image and its new width
// (width - len(gaps)*gapWidth). Output columns are sampled from their
// source coordinate by bilinear interpolation.
func ResampleGaps(px []uint16, width, height int, gaps []int, gapWidth int) ([]uint16, int, error) {
	if len(px) != width*height {
		return nil, 0, xerrors.Errorf("correct: pixel buffer geometry mismatch (got=%d, want=%d)",
			len(px), width*height,
		)
	}

	if len(gaps) == 0 || gapWidth <= 0 {
		out := make([]uint16, len(px))
		copy(out, px)
		return out, width, nil
	}

	outWidth := width - len(gaps)*gapWidth
	if outWidth <= 0 {
		return nil, 0, xerrors.Errorf("correct: gaps wider than image (width=%d, total gap=%d)",
			width, len(gaps)*gapWidth,
		)
	}

	inGap := func(x int) bool {
		for _, g := range gaps {
			if x >= g && x < g+gapWidth {
				return true
			}
		}
		return false
	}

	// source column for every output column, skipping gap regions.
	mapping := make([]float64, 0, outWidth)
	for x := 0; x < width && len(mapping) < outWidth; x++ {
		if !inGap(x) {
			mapping = append(mapping, float64(x))
		}
	}

	out := make([]uint16, outWidth*height)
	for y := 0; y < height; y++ {
		for x := 0; x < outWidth; x++ {
			v := bilinear(px, width, height, mapping[x], float64(y))
			out[y*outWidth+x] = uint16(v + 0.5)
		}
	}
	return out, outWidth, nil
}

// FillGaps interpolates across each gap in place. centers holds the gap
// center columns, widths the matching gap widths; each row of the
// [center-width/2, center+width/2] range is filled linearly between its
// two boundary pixels. Gaps touching the image border are left alone.
func FillGaps(px []uint16, width, height int, centers, widths []int) error {
	if len(px) != width*height {
		return xerrors.Errorf("correct: pixel buffer geometry mismatch (got=%d, want=%d)",
			len(px), width*height,
		)
	}
	if len(centers) != len(widths) {
		return xerrors.Errorf("correct: gap centers/widths length mismatch (%d != %d)",
			len(centers), len(widths),
		)
	}

	for y := 0; y < height; y++ {
		row := px[y*width : (y+1)*width]
		for g := range centers {
			var (
				start = centers[g] - widths[g]/2
				end   = centers[g] + widths[g]/2
			)
			if start-1 < 0 || end+1 >= width {
				continue
			}

			left := float64(row[start-1])
			right := float64(row[end+1])
			span := float64(end - start + 1)
			for x := start; x <= end; x++ {
				t := float64(x-start) / span
				row[x] = uint16(lerp(left, right, t) + 0.5)
			}
		}
	}
	return nil
}

// guard keeps gap detection away from the image borders, where column
// statistics are unreliable.
const detectGuard = 50

// DetectGaps locates candidate gap columns from the image content:
// column variances are smoothed with a length-5 mean filter and local
// minima below half of both neighbours are reported, excluding the
// leftmost and rightmost guard columns. At most maxGaps positions are
// returned.
func DetectGaps(px []uint16, width, height, maxGaps int) ([]int, error) {
	if len(px) != width*height {
		return nil, xerrors.Errorf("correct: pixel buffer geometry mismatch (got=%d, want=%d)",
			len(px), width*height,
		)
	}
	if maxGaps <= 0 {
		return nil, nil
	}

	col := make([]float64, height)
	variance := make([]float64, width)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			col[y] = float64(px[y*width+x])
		}
		_, v := stat.MeanVariance(col, nil)
		variance[x] = v
	}

	smoothed := make([]float64, width)
	copy(smoothed, variance)
	for x := 2; x < width-2; x++ {
		smoothed[x] = (variance[x-2] + variance[x-1] + variance[x] + variance[x+1] + variance[x+2]) / 5
	}

	const threshold = 0.5
	var gaps []int
	for x := detectGuard; x < width-detectGuard; x++ {
		if len(gaps) >= maxGaps {
			break
		}
		if smoothed[x] < threshold*smoothed[x-1] && smoothed[x] < threshold*smoothed[x+1] {
			gaps = append(gaps, x)
		}
	}
	return gaps, nil
}

// ModuleGaps returns the gap start positions for a rig of nCards modules
// of pixelsPerCard columns each, separated by gapWidth columns.
func ModuleGaps(nCards, pixelsPerCard, gapWidth int) []int {
	if nCards <= 1 {
		return nil
	}
	gaps := make([]int, nCards-1)
	for i := range gaps {
		gaps[i] = (i+1)*pixelsPerCard + i*gapWidth
	}
	return gaps
}
