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

// Package fitsimg bridges internal/fits.Image, the on-disk image
// representation, to internal/sep.ImageView, the extraction core's input
// façade.
package fitsimg

import (
	"github.com/mlnoga/gosep/internal/fits"
	"github.com/mlnoga/gosep/internal/sep"
)

// Options configures how a fits.Image is bound into a sep.ImageView:
// an optional scalar noise estimate (when no per-pixel noise array is
// available) and an optional mask threshold.
type Options struct {
	ScalarNoise float64
	Mask        []float32 // optional, same length as img.Data
	MaskThresh  float64
}

// ToImageView builds a sep.ImageView over img's pixel data, in the image's
// native float32 dtype, using img.Gain for Poisson error propagation.
func ToImageView(img *fits.Image, opts Options) (*sep.ImageView, error) {
	width, height := int(img.Naxisn[0]), int(img.Naxisn[1])

	input := sep.ImageInput{
		Sample:      sep.Array{DType: sep.DTypeFloat32, F32: img.Data},
		Width:       width,
		Height:      height,
		ScalarNoise: opts.ScalarNoise,
		Gain:        float64(img.Gain),
	}
	if opts.Mask != nil {
		m := sep.Array{DType: sep.DTypeFloat32, F32: opts.Mask}
		input.Mask = &m
		input.MaskThresh = opts.MaskThresh
	}
	return sep.NewImageView(input)
}
