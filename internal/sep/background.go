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
	"github.com/mlnoga/gosep/internal/median"
	"github.com/mlnoga/gosep/internal/qsort"
	"github.com/mlnoga/gosep/internal/stats"
)

// skewTriggerRatio and the mode constants below are standard folklore
// values for the mode estimator of a skewed, source-contaminated tile
// histogram. The trigger threshold in particular is a tunable that has no
// principled derivation; it is preserved verbatim as a named constant for
// parity with observed reference behavior rather than re-derived.
const (
	skewTriggerRatio          = 0.3
	modeSkewLow, modeSkewHigh = 2.5, 1.5

	minTileSamples  = 20   // below this, a tile is considered unpopulated
	clipNSigma      = 3.0  // iterative tile clipping width
	clipEpsilon     = 1e-4 // convergence epsilon for clipped sigma
	clipMaxIters    = 10
)

// Background is the tiled, spline-backed background model of an image.
// It is built once and is read-only thereafter.
type Background struct {
	width, height int
	bw, bh        int // tile size in pixels
	nx, ny        int // tile grid dimensions

	back, sigma   []float32 // nx*ny, row-major (ty*nx+tx)
	dback, dsigma []float32 // natural cubic spline second derivatives, same shape, per column

	global, globalRMS float32
}

// NewBackground builds a tiled background model of an image view. bw,bh
// are the tile size in pixels; fw,fh are the median-filter window size in
// tiles; fthresh gates which tiles the median filter actually replaces.
func NewBackground(iv *ImageView, bw, bh, fw, fh int, fthresh float64) (*Background, error) {
	if iv.Width < bw || iv.Height < bh {
		return nil, newError(CodeIllegalArg, "image %dx%d smaller than tile %dx%d", iv.Width, iv.Height, bw, bh)
	}
	if bw <= 0 || bh <= 0 {
		return nil, newError(CodeIllegalArg, "non-positive tile size %dx%d", bw, bh)
	}

	nx := (iv.Width + bw - 1) / bw
	ny := (iv.Height + bh - 1) / bh

	bg := &Background{
		width: iv.Width, height: iv.Height,
		bw: bw, bh: bh, nx: nx, ny: ny,
		back:  make([]float32, nx*ny),
		sigma: make([]float32, nx*ny),
	}

	populated := make([]bool, nx*ny)
	buf := make([]float32, bw*bh)

	for ty := 0; ty < ny; ty++ {
		yStart, yEnd := ty*bh, (ty+1)*bh
		if yEnd > iv.Height {
			yEnd = iv.Height
		}
		for tx := 0; tx < nx; tx++ {
			xStart, xEnd := tx*bw, (tx+1)*bw
			if xEnd > iv.Width {
				xEnd = iv.Width
			}

			n := 0
			for y := yStart; y < yEnd; y++ {
				row := y * iv.Width
				for x := xStart; x < xEnd; x++ {
					if v, ok := iv.sampleAt(row + x); ok {
						buf[n] = float32(v)
						n++
					}
				}
			}

			idx := ty*nx + tx
			if n < minTileSamples {
				continue // left unpopulated, filled from neighbors below
			}

			mean, sd, _ := stats.SigmaClippedMeanStdDev(buf[:n], clipNSigma, clipEpsilon, clipMaxIters)

			medianBuf := append([]float32(nil), buf[:n]...)
			median := qsort.QSelectMedianFloat32(medianBuf)

			back := mean
			if sd > 0 && absF32(mean-median)/sd > skewTriggerRatio {
				back = modeSkewLow*median - modeSkewHigh*mean
			}

			bg.back[idx] = back
			bg.sigma[idx] = sd
			populated[idx] = true
		}
	}

	globalMedian := gridMedian(bg.back, populated)
	globalRMSMedian := gridMedian(bg.sigma, populated)
	bg.global, bg.globalRMS = globalMedian, globalRMSMedian

	fillUnpopulatedTiles(bg.back, populated, nx, ny, globalMedian)
	fillUnpopulatedTiles(bg.sigma, populated, nx, ny, globalRMSMedian)

	medianFilterTileGrid(bg.back, nx, ny, fw, fh, float32(fthresh), bg.sigma)
	medianFilterTileGrid(bg.sigma, nx, ny, fw, fh, float32(fthresh), bg.sigma)

	bg.dback = splineColumnsSecondDerivs(bg.back, nx, ny)
	bg.dsigma = splineColumnsSecondDerivs(bg.sigma, nx, ny)

	return bg, nil
}

func absF32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// gridMedian returns the median of the populated entries of a tile grid,
// or zero if none are populated.
func gridMedian(grid []float32, populated []bool) float32 {
	buf := make([]float32, 0, len(grid))
	for i, v := range grid {
		if populated[i] {
			buf = append(buf, v)
		}
	}
	if len(buf) == 0 {
		return 0
	}
	return qsort.QSelectMedianFloat32(buf)
}

// fillUnpopulatedTiles replaces every unpopulated tile with the value of
// the nearest populated tile (Chebyshev distance over the tile grid),
// falling back to fallback when no tile at all is populated.
func fillUnpopulatedTiles(grid []float32, populated []bool, nx, ny int, fallback float32) {
	anyPopulated := false
	for _, p := range populated {
		if p {
			anyPopulated = true
			break
		}
	}
	if !anyPopulated {
		for i := range grid {
			grid[i] = fallback
		}
		return
	}

	for ty := 0; ty < ny; ty++ {
		for tx := 0; tx < nx; tx++ {
			idx := ty*nx + tx
			if populated[idx] {
				continue
			}
			best, bestDist := -1, 1<<30
			for oy := 0; oy < ny; oy++ {
				for ox := 0; ox < nx; ox++ {
					oidx := oy*nx + ox
					if !populated[oidx] {
						continue
					}
					dx, dy := ox-tx, oy-ty
					if dx < 0 {
						dx = -dx
					}
					if dy < 0 {
						dy = -dy
					}
					dist := dx
					if dy > dist {
						dist = dy
					}
					if dist < bestDist {
						bestDist, best = dist, oidx
					}
				}
			}
			grid[idx] = grid[best]
		}
	}
}

// medianFilterTileGrid replaces tile (tx,ty) with the median of its fw x fh
// window whenever the tile deviates from that median by more than
// fthresh*sigma, suppressing isolated tiles contaminated by bright sources.
func medianFilterTileGrid(grid []float32, nx, ny, fw, fh int, fthresh float32, sigmaGrid []float32) {
	if fw <= 1 && fh <= 1 {
		return
	}
	orig := append([]float32(nil), grid...)

	// The conventional 3x3 window is the common case; reuse the teacher's
	// dedicated 3x3 median kernel for every tile it can cover (it leaves
	// the outermost row/column untouched, so those still go through the
	// general window loop below).
	var candidate3x3 []float32
	if fw == 3 && fh == 3 && nx >= 3 && ny >= 3 {
		candidate3x3 = make([]float32, len(grid))
		median.MedianFilter3x3(candidate3x3, orig, int32(nx))
	}

	window := make([]float32, 0, fw*fh)

	for ty := 0; ty < ny; ty++ {
		for tx := 0; tx < nx; tx++ {
			idx := ty*nx + tx
			localSigma := sigmaGrid[idx]

			if candidate3x3 != nil && tx > 0 && ty > 0 && tx < nx-1 && ty < ny-1 {
				if absF32(orig[idx]-candidate3x3[idx]) > fthresh*localSigma {
					grid[idx] = candidate3x3[idx]
				}
				continue
			}

			window = window[:0]
			for oy := ty - fh/2; oy <= ty+fh/2; oy++ {
				if oy < 0 || oy >= ny {
					continue
				}
				for ox := tx - fw/2; ox <= tx+fw/2; ox++ {
					if ox < 0 || ox >= nx {
						continue
					}
					window = append(window, orig[oy*nx+ox])
				}
			}
			med := qsort.QSelectMedianFloat32(append([]float32(nil), window...))
			if absF32(orig[idx]-med) > fthresh*localSigma {
				grid[idx] = med
			}
		}
	}
}

// Global returns the background's global level: the median of the
// populated tiles' levels.
func (bg *Background) Global() float32 { return bg.global }

// GlobalRMS returns the background's global RMS: the median of the
// populated tiles' sigmas.
func (bg *Background) GlobalRMS() float32 { return bg.globalRMS }

// Width and Height return the background model's pixel dimensions.
func (bg *Background) Width() int  { return bg.width }
func (bg *Background) Height() int { return bg.height }

// tileCoord maps a pixel coordinate to fractional tile-grid coordinates.
func tileCoord(p, blockSize, nTiles int) (lo int, frac float32) {
	t := (float32(p)+0.5)/float32(blockSize) - 0.5
	if t < 0 {
		t = 0
	}
	if t > float32(nTiles-1) {
		t = float32(nTiles - 1)
	}
	lo = int(t)
	if lo > nTiles-2 {
		lo = nTiles - 2
	}
	if lo < 0 {
		lo = 0
	}
	frac = t - float32(lo)
	return lo, frac
}

// At evaluates the background at a single pixel via bilinear interpolation
// of the raw tile grid (sep's cheap "bkg_pix" point query).
func (bg *Background) At(x, y int) float32 { return bg.evalPix(bg.back, x, y) }

// RMSAt evaluates the background RMS at a single pixel via bilinear
// interpolation of the raw sigma tile grid.
func (bg *Background) RMSAt(x, y int) float32 { return bg.evalPix(bg.sigma, x, y) }

func (bg *Background) evalPix(grid []float32, x, y int) float32 {
	if bg.nx == 1 && bg.ny == 1 {
		return grid[0]
	}
	tx, fx := tileCoord(x, bg.bw, bg.nx)
	ty, fy := tileCoord(y, bg.bh, bg.ny)
	v00 := grid[ty*bg.nx+tx]
	v10 := grid[ty*bg.nx+tx+1]
	v01 := grid[(ty+1)*bg.nx+tx]
	v11 := grid[(ty+1)*bg.nx+tx+1]
	vy0 := v00*(1-fx) + v10*fx
	vy1 := v01*(1-fx) + v11*fx
	return vy0*(1-fy) + vy1*fy
}

// Line fills out (length must be bg.width) with the background evaluated
// across image row y, via a natural cubic spline along each tile column
// followed by linear interpolation across columns.
func (bg *Background) Line(y int, out []float32) {
	bg.evalLine(bg.back, bg.dback, y, out)
}

// RMSLine fills out with the background RMS evaluated across image row y.
func (bg *Background) RMSLine(y int, out []float32) {
	bg.evalLine(bg.sigma, bg.dsigma, y, out)
}

func (bg *Background) evalLine(grid, dgrid []float32, y int, out []float32) {
	ty, fy := tileCoord(y, bg.bh, bg.ny)

	colVals := make([]float32, bg.nx)
	for tx := 0; tx < bg.nx; tx++ {
		if bg.ny == 1 {
			colVals[tx] = grid[tx]
			continue
		}
		colVals[tx] = splineEvalColumn(grid, dgrid, bg.nx, bg.ny, tx, ty, fy)
	}

	for x := 0; x < bg.width; x++ {
		if bg.nx == 1 {
			out[x] = colVals[0]
			continue
		}
		tx, fx := tileCoord(x, bg.bw, bg.nx)
		out[x] = colVals[tx]*(1-fx) + colVals[tx+1]*fx
	}
}

// SubtractArray subtracts the full background image from dest in place.
// dest's dtype may be any of the four supported element types.
func (bg *Background) SubtractArray(dest Array) error {
	if dest.len() != bg.width*bg.height {
		return newError(CodeIllegalArg, "destination length %d does not match background %dx%d", dest.len(), bg.width, bg.height)
	}
	readFn, err := dest.reader()
	if err != nil {
		return err
	}
	writeFn, err := dest.writer()
	if err != nil {
		return err
	}

	row := make([]float32, bg.width)
	for y := 0; y < bg.height; y++ {
		bg.Line(y, row)
		base := y * bg.width
		for x := 0; x < bg.width; x++ {
			writeFn(base+x, readFn(base+x)-float64(row[x]))
		}
	}
	return nil
}
