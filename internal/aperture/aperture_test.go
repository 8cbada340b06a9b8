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

package aperture

import (
	"math"
	"testing"
)

// fakeImage is a minimal pixelSource backed by a flat float64 buffer, for
// hand-verifiable aperture sums and centroids.
type fakeImage struct {
	w, h int
	data []float64
	varc float64 // constant per-pixel variance
}

func newConstantImage(w, h int, v float64) *fakeImage {
	data := make([]float64, w*h)
	for i := range data {
		data[i] = v
	}
	return &fakeImage{w: w, h: h, data: data, varc: 1}
}

func (f *fakeImage) Dims() (int, int) { return f.w, f.h }

func (f *fakeImage) ValueAt(x, y int) (float64, bool) {
	if x < 0 || y < 0 || x >= f.w || y >= f.h {
		return 0, false
	}
	return f.data[y*f.w+x], true
}

func (f *fakeImage) VarianceAt(x, y int) (float64, bool) {
	if x < 0 || y < 0 || x >= f.w || y >= f.h {
		return 0, false
	}
	return f.varc, true
}

func (f *fakeImage) set(x, y int, v float64) { f.data[y*f.w+x] = v }

// SumCircle over a constant-valued image should approach c*pi*r^2, subject
// to subpixel discretization error at the aperture boundary.
func TestSumCircleConstantImage(t *testing.T) {
	img := newConstantImage(64, 64, 3.0)
	const r = 10.0
	flux, _, flag := SumCircle(img, 32, 32, r, 9)
	if flag != 0 {
		t.Fatalf("flag = %v, want 0", flag)
	}
	want := 3.0 * math.Pi * r * r
	if rel := math.Abs(flux-want) / want; rel > 0.01 {
		t.Errorf("flux = %v, want approximately %v (rel err %v)", flux, want, rel)
	}
}

// SumCircleAnnulus over a constant image should approach c*pi*(rout^2-rin^2).
func TestSumCircleAnnulusConstantImage(t *testing.T) {
	img := newConstantImage(64, 64, 2.0)
	const rin, rout = 5.0, 10.0
	flux, _, flag := SumCircleAnnulus(img, 32, 32, rin, rout, 9)
	if flag != 0 {
		t.Fatalf("flag = %v, want 0", flag)
	}
	want := 2.0 * math.Pi * (rout*rout - rin*rin)
	if rel := math.Abs(flux-want) / want; rel > 0.01 {
		t.Errorf("flux = %v, want approximately %v (rel err %v)", flux, want, rel)
	}
}

// SumEllipse with equal semi-axes reduces to SumCircle.
func TestSumEllipseReducesToCircleWhenAxesEqual(t *testing.T) {
	img := newConstantImage(64, 64, 1.5)
	const r = 8.0
	circleFlux, _, _ := SumCircle(img, 32, 32, r, 9)
	ellipseFlux, _, flag := SumEllipse(img, 32, 32, r, r, 0, 1.0, 9)
	if flag != 0 {
		t.Fatalf("flag = %v, want 0", flag)
	}
	if math.Abs(circleFlux-ellipseFlux) > 1e-9 {
		t.Errorf("ellipse flux = %v, want equal to circle flux %v", ellipseFlux, circleFlux)
	}
}

// An aperture entirely off the image is flagged and contributes no flux.
func TestSumCircleOffEdge(t *testing.T) {
	img := newConstantImage(16, 16, 5.0)
	flux, _, flag := SumCircle(img, 1000, 1000, 3, 5)
	if flag&FlagOffEdge == 0 {
		t.Errorf("flag = %v, want FlagOffEdge set", flag)
	}
	if flux != 0 {
		t.Errorf("flux = %v, want 0", flux)
	}
}

// An aperture straddling the image border is flagged incomplete.
func TestSumCircleIncompleteAtBorder(t *testing.T) {
	img := newConstantImage(16, 16, 5.0)
	_, _, flag := SumCircle(img, 0, 0, 5, 5)
	if flag&FlagIncomplete == 0 {
		t.Errorf("flag = %v, want FlagIncomplete set", flag)
	}
}

// KronRadius on a symmetric Gaussian-like profile lies strictly between 0
// and the search radius, and grows with the profile's width.
func TestKronRadiusGrowsWithProfileWidth(t *testing.T) {
	build := func(sigma float64) *fakeImage {
		img := newConstantImage(64, 64, 0)
		for y := 0; y < 64; y++ {
			for x := 0; x < 64; x++ {
				dx, dy := float64(x-32), float64(y-32)
				img.set(x, y, 10*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)))
			}
		}
		return img
	}

	narrow := build(2.0)
	wide := build(4.0)

	rNarrow, flagN := KronRadius(narrow, 32, 32, 1, 1, 0, 6)
	rWide, flagW := KronRadius(wide, 32, 32, 1, 1, 0, 6)
	if flagN != 0 || flagW != 0 {
		t.Fatalf("unexpected flags: narrow=%v wide=%v", flagN, flagW)
	}
	if rNarrow <= 0 || rWide <= 0 {
		t.Fatalf("Kron radii must be positive: narrow=%v wide=%v", rNarrow, rWide)
	}
	if rWide <= rNarrow {
		t.Errorf("Kron radius did not grow with profile width: narrow=%v wide=%v", rNarrow, rWide)
	}
}

// FluxRadius returns radii that are monotonically non-decreasing with the
// requested enclosed-flux fraction.
func TestFluxRadiusMonotonic(t *testing.T) {
	img := newConstantImage(64, 64, 0)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			dx, dy := float64(x-32), float64(y-32)
			img.set(x, y, 10*math.Exp(-(dx*dx+dy*dy)/(2*3*3)))
		}
	}
	total, _, _ := SumCircle(img, 32, 32, 30, 9)
	radii, flag := FluxRadius(img, 32, 32, total, []float64{0.2, 0.5, 0.8, 0.99}, 5)
	if flag&FlagIncomplete != 0 {
		t.Fatalf("unexpected FlagIncomplete")
	}
	for i := 1; i < len(radii); i++ {
		if radii[i] < radii[i-1] {
			t.Errorf("radii not monotonic: %v", radii)
			break
		}
	}
}

// WindowedPosition converges to the true centroid of a symmetric source.
func TestWindowedPositionConvergesToCentroid(t *testing.T) {
	img := newConstantImage(64, 64, 0)
	const cx, cy, sigma = 32.7, 31.2, 2.5
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			img.set(x, y, 10*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)))
		}
	}

	xw, yw, flag := WindowedPosition(img, 33, 31, sigma)
	if flag != 0 {
		t.Fatalf("flag = %v, want 0", flag)
	}
	if math.Abs(xw-cx) > 0.05 || math.Abs(yw-cy) > 0.05 {
		t.Errorf("windowed position = (%v,%v), want within 0.05px of (%v,%v)", xw, yw, cx, cy)
	}
}
