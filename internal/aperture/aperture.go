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

// Package aperture implements fixed-position aperture photometry over an
// already-extracted image: circular, annular and elliptical flux sums,
// Kron and flux radii, and windowed centroiding. It is a secondary
// capability consuming the same image façade as package sep, not part of
// the extraction pipeline's own correctness surface.
package aperture

import "math"

// Flag bits mirror sep.Flags, duplicated here since aperture photometry has
// its own distinct failure modes (apertures falling off the image edge or
// only partially overlapping usable pixels).
type Flag int

const (
	FlagIncomplete Flag = 1 << iota // aperture partially covered by masked, sentinel or off-image pixels
	FlagOffEdge                     // aperture center or extent outside the image entirely
)

// pixelSource is the minimal read surface aperture photometry needs from an
// image. sep.ImageView satisfies it; keeping the interface narrow here
// avoids an import cycle with package sep while still sharing its semantics.
type pixelSource interface {
	Dims() (width, height int)
	ValueAt(x, y int) (v float64, usable bool)
	VarianceAt(x, y int) (variance float64, ok bool)
}

// subpixDefault is used when a caller passes subpix<=0.
const subpixDefault = 5

// SumCircle sums flux in a circular aperture of radius r centered at
// (x,y), subsampling every pixel of the aperture's bounding box subpix x
// subpix times for partial-coverage weighting.
func SumCircle(img pixelSource, x, y, r float64, subpix int) (flux, fluxerr float64, flag Flag) {
	return sumWeighted(img, x, y, r, subpix, func(dx, dy float64) float64 {
		if dx*dx+dy*dy <= r*r {
			return 1
		}
		return 0
	})
}

// SumCircleAnnulus sums flux in an annulus between rin and rout.
func SumCircleAnnulus(img pixelSource, x, y, rin, rout float64, subpix int) (flux, fluxerr float64, flag Flag) {
	return sumWeighted(img, x, y, rout, subpix, func(dx, dy float64) float64 {
		d2 := dx*dx + dy*dy
		if d2 >= rin*rin && d2 <= rout*rout {
			return 1
		}
		return 0
	})
}

// SumEllipse sums flux in an ellipse with semi-axes a,b, position angle
// theta (radians), scaled by scale (e.g. a Kron radius multiple).
func SumEllipse(img pixelSource, x, y, a, b, theta, scale float64, subpix int) (flux, fluxerr float64, flag Flag) {
	ct, st := math.Cos(theta), math.Sin(theta)
	sa, sb := a*scale, b*scale
	rmax := math.Max(sa, sb)
	return sumWeighted(img, x, y, rmax, subpix, func(dx, dy float64) float64 {
		u := dx*ct + dy*st
		v := -dx*st + dy*ct
		if sa <= 0 || sb <= 0 {
			return 0
		}
		if (u*u)/(sa*sa)+(v*v)/(sb*sb) <= 1 {
			return 1
		}
		return 0
	})
}

// sumWeighted is the common subsampled-pixel aperture integrator shared by
// SumCircle/SumCircleAnnulus/SumEllipse. membership reports, in aperture-
// local coordinates (dx,dy) relative to center, whether a subsample point
// falls inside the aperture.
func sumWeighted(img pixelSource, x, y, searchR float64, subpix int, membership func(dx, dy float64) float64) (flux, fluxerr float64, flag Flag) {
	if subpix <= 0 {
		subpix = subpixDefault
	}
	width, height := img.Dims()
	if x < -searchR || y < -searchR || x > float64(width)+searchR || y > float64(height)+searchR {
		return 0, 0, FlagOffEdge
	}

	xmin := int(math.Floor(x - searchR))
	xmax := int(math.Ceil(x + searchR))
	ymin := int(math.Floor(y - searchR))
	ymax := int(math.Ceil(y + searchR))
	// The box is not clipped to the image: ValueAt reports off-image pixels
	// as unusable, so their share of the aperture counts as uncovered.

	var sumFlux, sumVar, totalWeight, coveredWeight float64
	step := 1.0 / float64(subpix)
	half := step / 2

	for py := ymin; py <= ymax; py++ {
		for px := xmin; px <= xmax; px++ {
			v, usable := img.ValueAt(px, py)
			var pixWeight float64
			for sy := 0; sy < subpix; sy++ {
				fy := float64(py) + half + float64(sy)*step
				for sx := 0; sx < subpix; sx++ {
					fx := float64(px) + half + float64(sx)*step
					w := membership(fx-x, fy-y)
					pixWeight += w
					totalWeight += w
				}
			}
			if pixWeight == 0 {
				continue
			}
			if !usable {
				continue
			}
			sumFlux += v * pixWeight
			coveredWeight += pixWeight
			if variance, ok := img.VarianceAt(px, py); ok {
				sumVar += variance * pixWeight
			}
		}
	}

	n := float64(subpix * subpix)
	flux = sumFlux / n
	fluxerr = math.Sqrt(sumVar) / n

	if totalWeight > 0 && coveredWeight < totalWeight*0.999 {
		flag |= FlagIncomplete
	}
	return flux, fluxerr, flag
}

// KronRadius computes the first-moment (Kron) radius of the flux
// distribution within an ellipse of shape a,b,theta out to rmax semi-axis
// units, per Kron (1980): r_k = sum(r*I(r)) / sum(I(r)).
func KronRadius(img pixelSource, x, y, a, b, theta, rmax float64) (kronrad float64, flag Flag) {
	ct, st := math.Cos(theta), math.Sin(theta)
	width, height := img.Dims()
	searchR := rmax * math.Max(a, b)

	xmin := clampInt(int(math.Floor(x-searchR)), 0, width-1)
	xmax := clampInt(int(math.Ceil(x+searchR)), 0, width-1)
	ymin := clampInt(int(math.Floor(y-searchR)), 0, height-1)
	ymax := clampInt(int(math.Ceil(y+searchR)), 0, height-1)

	var sumRI, sumI float64
	for py := ymin; py <= ymax; py++ {
		for px := xmin; px <= xmax; px++ {
			v, usable := img.ValueAt(px, py)
			if !usable || v <= 0 {
				continue
			}
			dx, dy := float64(px)-x, float64(py)-y
			u := dx*ct + dy*st
			w := -dx*st + dy*ct
			r := math.Hypot(u/a, w/b)
			if r > rmax {
				continue
			}
			sumRI += r * v
			sumI += v
		}
	}
	if sumI <= 0 {
		return 0, FlagIncomplete
	}
	return sumRI / sumI, 0
}

// FluxRadius returns, for each requested fraction of fluxTotal, the
// circular radius around (x,y) within which that fraction of flux is
// enclosed, by integrating SumCircle outward until each threshold is met.
func FluxRadius(img pixelSource, x, y, fluxTotal float64, fractions []float64, subpix int) (radii []float64, flag Flag) {
	radii = make([]float64, len(fractions))
	width, height := img.Dims()
	rmax := math.Hypot(float64(width), float64(height))

	const steps = 256
	targets := make([]float64, len(fractions))
	copy(targets, fractions)
	done := make([]bool, len(fractions))

	for i := 1; i <= steps; i++ {
		r := rmax * float64(i) / steps
		flux, _, _ := SumCircle(img, x, y, r, subpix)
		if fluxTotal <= 0 {
			continue
		}
		frac := flux / fluxTotal
		for k, target := range targets {
			if !done[k] && frac >= target {
				radii[k] = r
				done[k] = true
			}
		}
	}
	for k := range done {
		if !done[k] {
			radii[k] = rmax
			flag |= FlagIncomplete
		}
	}
	return radii, flag
}

// WindowedPosition refines a centroid by iterating a Gaussian-windowed
// first moment within a few multiples of sig, converging to a sub-pixel
// position largely insensitive to a crowded field's wings.
func WindowedPosition(img pixelSource, x, y, sig float64) (xw, yw float64, flag Flag) {
	width, height := img.Dims()
	const maxIter = 10
	const convTol = 1e-3
	r := 4 * sig

	cx, cy := x, y
	for iter := 0; iter < maxIter; iter++ {
		xmin := clampInt(int(math.Floor(cx-r)), 0, width-1)
		xmax := clampInt(int(math.Ceil(cx+r)), 0, width-1)
		ymin := clampInt(int(math.Floor(cy-r)), 0, height-1)
		ymax := clampInt(int(math.Ceil(cy+r)), 0, height-1)

		var sumW, sumWX, sumWY float64
		for py := ymin; py <= ymax; py++ {
			for px := xmin; px <= xmax; px++ {
				v, usable := img.ValueAt(px, py)
				if !usable || v <= 0 {
					continue
				}
				dx, dy := float64(px)-cx, float64(py)-cy
				g := math.Exp(-(dx*dx + dy*dy) / (2 * sig * sig))
				w := v * g
				sumW += w
				sumWX += w * float64(px)
				sumWY += w * float64(py)
			}
		}
		if sumW <= 0 {
			return cx, cy, FlagIncomplete
		}
		nx, ny := sumWX/sumW, sumWY/sumW
		if math.Hypot(nx-cx, ny-cy) < convTol {
			return nx, ny, 0
		}
		cx, cy = nx, ny
	}
	return cx, cy, 0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
