// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package sep

import (
	"math"

	"github.com/mlnoga/gosep/internal"
)

// FilterMode selects how the Kernel is applied to produce the detection
// image consumed by the segmenter.
type FilterMode int

const (
	FilterConv FilterMode = iota
	FilterMatched
)

// Kernel is a small, odd-dimensioned convolution kernel.
type Kernel struct {
	W, H int
	Data []float64 // row-major, length W*H
}

// NewKernel validates and wraps a caller-supplied kernel.
func NewKernel(w, h int, data []float64) (*Kernel, error) {
	if w <= 0 || h <= 0 || w%2 == 0 || h%2 == 0 {
		return nil, newError(CodeIllegalArg, "kernel dimensions %dx%d must be positive and odd", w, h)
	}
	if len(data) != w*h {
		return nil, newError(CodeIllegalArg, "kernel data length %d does not match %dx%d", len(data), w, h)
	}
	return &Kernel{W: w, H: h, Data: data}, nil
}

// Filter produces the detection statistic D' from a background-subtracted
// working image, per §4.2: plain convolution normalized by per-pixel
// sigma, or a noise-aware matched filter. When the image carries no noise
// estimate at all, matched mode degrades to plain convolution with unit
// per-pixel weights.
func Filter(iv *ImageView, working []float64, kernel *Kernel, mode FilterMode) ([]float64, error) {
	width, height := iv.Width, iv.Height
	if len(working) != width*height {
		return nil, newError(CodeIllegalArg, "working buffer length %d does not match %dx%d", len(working), width, height)
	}

	n := width * height
	det := internal.GetArrayOfFloat64FromPool(n)[:n]
	for i := range det {
		det[i] = 0
	}

	if kernel == nil {
		copy(det, working)
		return det, nil
	}

	hw, hh := kernel.W/2, kernel.H/2
	useMatched := mode == FilterMatched && iv.HasNoise()

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x

			if useMatched {
				var t, norm float64
				for ky := -hh; ky <= hh; ky++ {
					ny := y + ky
					if ny < 0 || ny >= height {
						continue
					}
					for kx := -hw; kx <= hw; kx++ {
						nx := x + kx
						if nx < 0 || nx >= width {
							continue
						}
						nidx := ny*width + nx
						if _, ok := iv.sampleAt(nidx); !ok {
							continue
						}
						variance, ok := iv.varianceAt(nidx)
						if !ok || variance <= 0 {
							continue
						}
						k := kernel.Data[(ky+hh)*kernel.W+(kx+hw)]
						t += k * working[nidx] / variance
						norm += k * k / variance
					}
				}
				if norm > 0 {
					det[idx] = t / math.Sqrt(norm)
				}
				continue
			}

			var sum float64
			for ky := -hh; ky <= hh; ky++ {
				ny := y + ky
				if ny < 0 || ny >= height {
					continue
				}
				for kx := -hw; kx <= hw; kx++ {
					nx := x + kx
					if nx < 0 || nx >= width {
						continue
					}
					nidx := ny*width + nx
					sigma := 1.0
					if variance, ok := iv.varianceAt(nidx); ok && variance > 0 {
						sigma = math.Sqrt(variance)
					}
					k := kernel.Data[(ky+hh)*kernel.W+(kx+hw)]
					sum += k * (working[nidx] / sigma)
				}
			}
			det[idx] = sum
		}
	}

	return det, nil
}
