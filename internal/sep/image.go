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

// NoiseKind selects how a noise array's values are interpreted.
type NoiseKind int

const (
	NoiseStdDev NoiseKind = iota
	NoiseVariance
)

// ImageInput collects everything needed to bind a caller's arrays into an
// ImageView. Noise, ScalarNoise, Mask and Segmap are all optional.
type ImageInput struct {
	Sample        Array
	Width, Height int

	Noise       *Array // optional per-pixel noise array
	NoiseKind   NoiseKind
	ScalarNoise float64 // used when Noise is nil and ScalarNoise > 0

	Mask       *Array // optional mask array
	MaskThresh float64

	Segmap   *Array // optional segmentation map
	SegID    int64  // when Segmap != nil and SegFilter is true, restrict candidacy to this id
	SegFilter bool

	Gain float64 // detector gain in e-/ADU, for Poisson error propagation
}

// ImageView is an immutable, dtype-erased view over a caller's sample,
// noise, mask and segmap arrays. All four element types are dispatched to
// a float64-reading closure once, at construction, so the hot pixel loops
// in the filter, segmenter and deblender never branch on type again.
type ImageView struct {
	Width, Height int

	sample func(i int) float64

	hasNoise    bool
	noise       func(i int) float64
	noiseKind   NoiseKind
	scalarNoise float64

	hasMask    bool
	mask       func(i int) float64
	maskThresh float64

	hasSegmap bool
	segmap    func(i int) float64
	segID     int64
	segFilter bool

	Gain float64
}

// NewImageView validates and binds an ImageInput into an ImageView.
func NewImageView(in ImageInput) (*ImageView, error) {
	if in.Width <= 0 || in.Height <= 0 {
		return nil, newError(CodeIllegalArg, "non-positive image dimensions %dx%d", in.Width, in.Height)
	}
	if in.Sample.len() != in.Width*in.Height {
		return nil, newError(CodeIllegalArg, "sample array length %d does not match %dx%d", in.Sample.len(), in.Width, in.Height)
	}
	sampleFn, err := in.Sample.reader()
	if err != nil {
		return nil, err
	}

	iv := &ImageView{
		Width:       in.Width,
		Height:      in.Height,
		sample:      sampleFn,
		noiseKind:   in.NoiseKind,
		scalarNoise: in.ScalarNoise,
		maskThresh:  in.MaskThresh,
		segID:       in.SegID,
		segFilter:   in.SegFilter,
		Gain:        in.Gain,
	}

	if in.Noise != nil {
		if in.Noise.len() != in.Width*in.Height {
			return nil, newError(CodeIllegalArg, "noise array length %d does not match %dx%d", in.Noise.len(), in.Width, in.Height)
		}
		noiseFn, err := in.Noise.reader()
		if err != nil {
			return nil, err
		}
		iv.hasNoise = true
		iv.noise = noiseFn
	}

	if in.Mask != nil {
		if in.Mask.len() != in.Width*in.Height {
			return nil, newError(CodeIllegalArg, "mask array length %d does not match %dx%d", in.Mask.len(), in.Width, in.Height)
		}
		maskFn, err := in.Mask.reader()
		if err != nil {
			return nil, err
		}
		iv.hasMask = true
		iv.mask = maskFn
	}

	if in.Segmap != nil {
		if in.Segmap.len() != in.Width*in.Height {
			return nil, newError(CodeIllegalArg, "segmap array length %d does not match %dx%d", in.Segmap.len(), in.Width, in.Height)
		}
		segFn, err := in.Segmap.reader()
		if err != nil {
			return nil, err
		}
		iv.hasSegmap = true
		iv.segmap = segFn
	}

	return iv, nil
}

// Pixels returns the total pixel count W*H.
func (iv *ImageView) Pixels() int { return iv.Width * iv.Height }

// sampleAt returns the sample value at flat index i, and whether it should
// participate in background/detection statistics at all: not masked, not
// a sentinel, and (when a segmap filter is active) matching SegID.
//
// Design note: the source's treatment of the segmap filter is under
// documented; this package mirrors observable behavior by treating a
// non-matching segmap id exactly like a masked pixel, rather than, say,
// zeroing the sample or excluding it only from the threshold test.
func (iv *ImageView) sampleAt(i int) (v float64, usable bool) {
	v = iv.sample(i)
	if invalidSentinel(v) {
		return v, false
	}
	if iv.hasMask && iv.mask(i) > iv.maskThresh {
		return v, false
	}
	if iv.hasSegmap && iv.segFilter && int64(iv.segmap(i)) != iv.segID {
		return v, false
	}
	return v, true
}

// varianceAt returns the per-pixel noise variance at flat index i, and
// whether any noise estimate (per-pixel array or scalar) is available.
func (iv *ImageView) varianceAt(i int) (variance float64, ok bool) {
	if !iv.hasNoise {
		if iv.scalarNoise > 0 {
			return iv.scalarNoise * iv.scalarNoise, true
		}
		return 0, false
	}
	n := iv.noise(i)
	if iv.noiseKind == NoiseVariance {
		return n, true
	}
	return n * n, true
}

// HasNoise reports whether a per-pixel or scalar noise estimate is available.
func (iv *ImageView) HasNoise() bool {
	return iv.hasNoise || iv.scalarNoise > 0
}

// Dims returns the image's width and height, satisfying the narrow
// pixelSource interface package aperture reads images through.
func (iv *ImageView) Dims() (width, height int) { return iv.Width, iv.Height }

// ValueAt returns the sample value at (x,y) and whether it is usable for
// photometry (not masked, not a sentinel, and segmap-filter-consistent),
// the x,y counterpart of sampleAt.
func (iv *ImageView) ValueAt(x, y int) (v float64, usable bool) {
	if x < 0 || y < 0 || x >= iv.Width || y >= iv.Height {
		return 0, false
	}
	return iv.sampleAt(y*iv.Width + x)
}

// VarianceAt returns the noise variance at (x,y), the x,y counterpart of
// varianceAt.
func (iv *ImageView) VarianceAt(x, y int) (variance float64, ok bool) {
	if x < 0 || y < 0 || x >= iv.Width || y >= iv.Height {
		return 0, false
	}
	return iv.varianceAt(y*iv.Width + x)
}
