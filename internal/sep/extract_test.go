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
	"testing"
)

func constantImageView(t *testing.T, w, h int, c float64) *ImageView {
	t.Helper()
	data := make([]float64, w*h)
	for i := range data {
		data[i] = c
	}
	iv, err := NewImageView(ImageInput{
		Sample: Array{DType: DTypeFloat64, F64: data},
		Width:  w, Height: h,
	})
	if err != nil {
		t.Fatalf("NewImageView: %v", err)
	}
	return iv
}

func gaussianImageView(t *testing.T, w, h int, cx, cy, peak, sigma float64) *ImageView {
	t.Helper()
	data := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			data[y*w+x] = peak * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
		}
	}
	iv, err := NewImageView(ImageInput{
		Sample: Array{DType: DTypeFloat64, F64: data},
		Width:  w, Height: h,
	})
	if err != nil {
		t.Fatalf("NewImageView: %v", err)
	}
	return iv
}

// Scenario 1: constant image, no noise.
func TestExtractConstantImage(t *testing.T) {
	iv := constantImageView(t, 64, 64, 0.0)
	p := DefaultExtractParams()
	p.Thresh = 1.0
	p.Clean = false

	cat, bg, err := Extract(iv, p)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if cat.Len() != 0 {
		t.Errorf("got %d objects, want 0", cat.Len())
	}
	if bg.Global() != 0 {
		t.Errorf("bkg_global = %v, want 0", bg.Global())
	}
	if bg.GlobalRMS() != 0 {
		t.Errorf("bkg_globalrms = %v, want 0", bg.GlobalRMS())
	}
}

// Scenario 2: single centered Gaussian.
func TestExtractSingleGaussian(t *testing.T) {
	iv := gaussianImageView(t, 32, 32, 16, 16, 10, 2)
	p := DefaultExtractParams()
	p.Thresh = 3.0
	p.MinArea = 5
	p.Clean = false
	p.FilterKernel = nil
	p.BackW, p.BackH = 16, 16

	cat, _, err := Extract(iv, p)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if cat.Len() != 1 {
		t.Fatalf("got %d objects, want 1", cat.Len())
	}
	if math.Abs(cat.X[0]-16) > 0.05 || math.Abs(cat.Y[0]-16) > 0.05 {
		t.Errorf("barycenter = (%v,%v), want within 0.05px of (16,16)", cat.X[0], cat.Y[0])
	}
	if cat.Tnpix[0] < 5 {
		t.Errorf("tnpix = %d, want >= 5", cat.Tnpix[0])
	}
	if math.Abs(cat.A[0]-2) > 0.3 || math.Abs(cat.B[0]-2) > 0.3 {
		t.Errorf("ellipse a,b = %v,%v, want approximately 2,2", cat.A[0], cat.B[0])
	}
}

// Scenario 3 (heterogeneous noise): the matched filter weighs each kernel
// tap by its local inverse variance and normalizes by the combined weight,
// rather than the plain per-pixel sigma scaling of convolution mode.
func TestFilterMatchedWeighsByInverseVariance(t *testing.T) {
	const w, h = 3, 1
	working := []float64{1, 5, 1}
	noise := []float64{4, 1, 4} // center pixel has the lowest noise

	iv, err := NewImageView(ImageInput{
		Sample: Array{DType: DTypeFloat64, F64: append([]float64(nil), working...)},
		Width:  w, Height: h,
		Noise:     &Array{DType: DTypeFloat64, F64: append([]float64(nil), noise...)},
		NoiseKind: NoiseStdDev,
	})
	if err != nil {
		t.Fatalf("NewImageView: %v", err)
	}
	kernel, err := NewKernel(3, 1, []float64{1, 1, 1})
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}

	matched, err := Filter(iv, working, kernel, FilterMatched)
	if err != nil {
		t.Fatalf("Filter (matched): %v", err)
	}
	conv, err := Filter(iv, working, kernel, FilterConv)
	if err != nil {
		t.Fatalf("Filter (conv): %v", err)
	}

	// t = Sum(k*v/var) = 1/16 + 5/1 + 1/16 = 5.125
	// norm = Sum(k^2/var) = 1/16 + 1/1 + 1/16 = 1.125
	// matched = t/sqrt(norm)
	wantMatched := 5.125 / math.Sqrt(1.125)
	if math.Abs(matched[1]-wantMatched) > 1e-9 {
		t.Errorf("matched[1] = %v, want %v", matched[1], wantMatched)
	}

	// conv = Sum(k*v/sigma) = 1/4 + 5/1 + 1/4 = 5.5
	wantConv := 5.5
	if math.Abs(conv[1]-wantConv) > 1e-9 {
		t.Errorf("conv[1] = %v, want %v", conv[1], wantConv)
	}

	if matched[1] == conv[1] {
		t.Errorf("matched and conv statistics coincide; expected the matched normalization to differ")
	}
}

// Scenario 4: two overlapping sources, deblending sensitivity to deblend_cont.
func TestExtractDeblendOverlappingSources(t *testing.T) {
	const w, h = 32, 32
	build := func() *ImageView {
		data := make([]float64, w*h)
		cy := h / 2
		c1, c2 := w/2-2, w/2+2
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dx1, dy := float64(x-c1), float64(y-cy)
				dx2 := float64(x - c2)
				v := 10*math.Exp(-(dx1*dx1+dy*dy)/(2*2*2)) + 7*math.Exp(-(dx2*dx2+dy*dy)/(2*2*2))
				data[y*w+x] = v
			}
		}
		iv, err := NewImageView(ImageInput{
			Sample: Array{DType: DTypeFloat64, F64: data},
			Width:  w, Height: h,
		})
		if err != nil {
			t.Fatalf("NewImageView: %v", err)
		}
		return iv
	}

	low := DefaultExtractParams()
	low.Thresh = 1.0
	low.MinArea = 1
	low.Clean = false
	low.DeblendCont = 0.005
	low.BackW, low.BackH = 16, 16

	catLow, _, err := Extract(build(), low)
	if err != nil {
		t.Fatalf("Extract (low deblend_cont): %v", err)
	}
	if catLow.Len() != 2 {
		t.Errorf("deblend_cont=0.005 found %d objects, want 2", catLow.Len())
	}

	high := low
	high.DeblendCont = 0.5

	catHigh, _, err := Extract(build(), high)
	if err != nil {
		t.Fatalf("Extract (high deblend_cont): %v", err)
	}
	if catHigh.Len() != 1 {
		t.Errorf("deblend_cont=0.5 found %d objects, want 1", catHigh.Len())
	}
}

// Scenario 5: a source clipped by the image border carries FlagTrunc.
func TestExtractEdgeTruncatedSource(t *testing.T) {
	iv := gaussianImageView(t, 16, 16, 0, 8, 10, 2)
	p := DefaultExtractParams()
	p.Thresh = 1.0
	p.MinArea = 1
	p.Clean = false
	p.BackW, p.BackH = 8, 8

	cat, _, err := Extract(iv, p)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if cat.Len() != 1 {
		t.Fatalf("got %d objects, want 1", cat.Len())
	}
	if cat.Flags[0]&FlagTrunc == 0 {
		t.Errorf("flags = %v, want FlagTrunc set", cat.Flags[0])
	}
}

// Scenario 6: pixel-stack exhaustion aborts with no partial catalog.
func TestExtractPixstackExhaustion(t *testing.T) {
	const w, h = 32, 32
	data := make([]float64, w*h)
	for i := range data {
		data[i] = 10
	}
	iv, err := NewImageView(ImageInput{
		Sample: Array{DType: DTypeFloat64, F64: data},
		Width:  w, Height: h,
	})
	if err != nil {
		t.Fatalf("NewImageView: %v", err)
	}

	orig := Pixstack()
	defer SetPixstack(orig)
	SetPixstack(100)

	p := DefaultExtractParams()
	p.Thresh = 1.0
	p.Clean = false
	p.BackW, p.BackH = 16, 16

	cat, _, err := Extract(iv, p)
	if err == nil {
		t.Fatalf("Extract: got nil error, want PIXSTACK_FULL")
	}
	sepErr, ok := err.(*Error)
	if !ok || sepErr.Code != CodePixstackFull {
		t.Errorf("err = %v, want CodePixstackFull", err)
	}
	if cat != nil {
		t.Errorf("got non-nil catalog on failure")
	}
}

// Determinism: running extraction twice with identical parameters yields
// byte-identical catalogs.
func TestExtractDeterministic(t *testing.T) {
	build := func() *ImageView { return gaussianImageView(t, 48, 48, 24, 24, 10, 2.5) }
	p := DefaultExtractParams()
	p.Thresh = 2.0
	p.MinArea = 3
	p.BackW, p.BackH = 16, 16

	cat1, bg1, err := Extract(build(), p)
	if err != nil {
		t.Fatalf("Extract (1): %v", err)
	}
	cat2, bg2, err := Extract(build(), p)
	if err != nil {
		t.Fatalf("Extract (2): %v", err)
	}
	if cat1.Len() != cat2.Len() {
		t.Fatalf("object counts differ: %d vs %d", cat1.Len(), cat2.Len())
	}
	for i := 0; i < cat1.Len(); i++ {
		if cat1.X[i] != cat2.X[i] || cat1.Y[i] != cat2.Y[i] || cat1.A[i] != cat2.A[i] || cat1.B[i] != cat2.B[i] {
			t.Errorf("object %d differs between runs: (%v) vs (%v)", i, cat1.X[i], cat2.X[i])
		}
	}
	if bg1.Global() != bg2.Global() || bg1.GlobalRMS() != bg2.GlobalRMS() {
		t.Errorf("background differs between runs")
	}
}

// Invariant: bounding box and ellipse ordering hold for every catalog entry.
func TestExtractCatalogInvariants(t *testing.T) {
	iv := gaussianImageView(t, 48, 48, 24, 24, 10, 2.5)
	p := DefaultExtractParams()
	p.Thresh = 2.0
	p.MinArea = 3
	p.BackW, p.BackH = 16, 16

	cat, _, err := Extract(iv, p)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for i := 0; i < cat.Len(); i++ {
		if !(float64(cat.Xmin[i]) <= cat.X[i] && cat.X[i] <= float64(cat.Xmax[i])) {
			t.Errorf("object %d: xmin=%d x=%v xmax=%d out of order", i, cat.Xmin[i], cat.X[i], cat.Xmax[i])
		}
		if !(float64(cat.Ymin[i]) <= cat.Y[i] && cat.Y[i] <= float64(cat.Ymax[i])) {
			t.Errorf("object %d: ymin=%d y=%v ymax=%d out of order", i, cat.Ymin[i], cat.Y[i], cat.Ymax[i])
		}
		if cat.A[i] < cat.B[i] || cat.B[i] < 0 {
			t.Errorf("object %d: a=%v b=%v, want a>=b>=0", i, cat.A[i], cat.B[i])
		}
		if cat.Theta[i] < -math.Pi/2 || cat.Theta[i] > math.Pi/2 {
			t.Errorf("object %d: theta=%v out of [-pi/2,pi/2]", i, cat.Theta[i])
		}
	}
}

// Invariant: every object's pixel-index set is disjoint from every other's,
// and the per-object pixel lists together account for the whole
// concatenated buffer.
func TestExtractPixelSetsDisjoint(t *testing.T) {
	iv := gaussianImageView(t, 48, 48, 24, 24, 10, 2.5)
	p := DefaultExtractParams()
	p.Thresh = 2.0
	p.MinArea = 3
	p.BackW, p.BackH = 16, 16

	cat, _, err := Extract(iv, p)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	seen := make(map[int32]bool)
	total := 0
	for i := 0; i < cat.Len(); i++ {
		pix := cat.PixelsOf(i)
		total += len(pix)
		for _, p := range pix {
			if seen[p] {
				t.Errorf("pixel %d assigned to more than one object", p)
			}
			seen[p] = true
		}
	}
	if total != len(cat.Pix) {
		t.Errorf("sum of per-object pixel counts %d != concatenated buffer length %d", total, len(cat.Pix))
	}
}
