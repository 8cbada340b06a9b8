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

import "github.com/mlnoga/gosep/internal"

// ExtractParams bundles every tunable of the extraction pipeline in §4.
type ExtractParams struct {
	// Thresh is an absolute detection threshold in detection-image units.
	// Takes priority over RelThresh when positive.
	Thresh float64
	// RelThresh is a detection threshold expressed in units of the
	// background's global RMS. Requires the image to carry a noise
	// estimate; see ErrRelthreshNoNoise.
	RelThresh float64

	MinArea int

	FilterKernel *Kernel
	FilterMode   FilterMode

	DeblendNThresh int
	DeblendCont    float64

	Clean      bool
	CleanParam float64

	BackW, BackH       int
	BackFilterW, BackFilterH int
	BackFThresh        float64
}

// DefaultExtractParams returns the conventional defaults used throughout
// the astronomical source-extraction literature this package follows.
func DefaultExtractParams() ExtractParams {
	return ExtractParams{
		RelThresh:      1.5,
		MinArea:        5,
		FilterMode:     FilterMatched,
		DeblendNThresh: 32,
		DeblendCont:    0.005,
		Clean:          true,
		CleanParam:     1.0,
		BackW:          64, BackH: 64,
		BackFilterW: 3, BackFilterH: 3,
		BackFThresh: 0,
	}
}

func resolveThreshold(iv *ImageView, bg *Background, p ExtractParams) (float64, error) {
	if p.Thresh > 0 {
		return p.Thresh, nil
	}
	if p.RelThresh <= 0 {
		return 0, newError(CodeIllegalArg, "either Thresh or RelThresh must be positive")
	}
	if !iv.HasNoise() {
		return 0, ErrRelthreshNoNoise
	}
	return p.RelThresh * float64(bg.GlobalRMS()), nil
}

// Extract runs the full pipeline of §4 over iv: background estimation,
// filtering, raster-scan segmentation, multi-threshold deblending,
// Mahalanobis cleaning and minimum-area filtering, producing a Catalog.
func Extract(iv *ImageView, p ExtractParams) (*Catalog, *Background, error) {
	bg, err := NewBackground(iv, p.BackW, p.BackH, p.BackFilterW, p.BackFilterH, p.BackFThresh)
	if err != nil {
		return nil, nil, err
	}

	threshold, err := resolveThreshold(iv, bg, p)
	if err != nil {
		return nil, nil, err
	}

	width, height := iv.Width, iv.Height
	n := width * height
	working := internal.GetArrayOfFloat64FromPool(n)[:n]
	for i := range working {
		working[i] = 0
	}
	defer internal.PutArrayOfFloat64IntoPool(working)
	for y := 0; y < height; y++ {
		bgRow := bg.At
		for x := 0; x < width; x++ {
			idx := y*width + x
			v, ok := iv.sampleAt(idx)
			if !ok {
				continue
			}
			working[idx] = v - float64(bgRow(x, y))
		}
	}

	det, err := Filter(iv, working, p.FilterKernel, p.FilterMode)
	if err != nil {
		return nil, nil, err
	}
	defer internal.PutArrayOfFloat64IntoPool(det)

	segmented, err := segment(iv, det, working, threshold, threshold)
	if err != nil {
		return nil, nil, err
	}

	var deblended []*rawObject
	for _, obj := range segmented {
		sub, err := deblendObject(obj, det, width, height, threshold, p.DeblendNThresh, p.DeblendCont)
		if err != nil {
			return nil, nil, err
		}
		deblended = append(deblended, sub...)
	}

	if p.Clean {
		deblended = CleanObjects(deblended, p.CleanParam)
	}

	dets := make([]*Detection, 0, len(deblended))
	for _, o := range deblended {
		if o.npix < p.MinArea {
			continue
		}
		dets = append(dets, buildDetection(o, threshold, iv.Gain))
	}

	return NewCatalog(dets), bg, nil
}
