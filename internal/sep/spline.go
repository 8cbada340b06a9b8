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

// splineColumnsSecondDerivs computes natural cubic spline second
// derivatives for each column of an nx*ny tile grid (row-major, ty*nx+tx),
// treating tile index as unit-spaced x. Returns a grid of the same shape.
func splineColumnsSecondDerivs(grid []float32, nx, ny int) []float32 {
	d2 := make([]float32, nx*ny)
	if ny < 3 {
		return d2 // degenerate: no curvature information along this axis
	}

	col := make([]float32, ny)
	u := make([]float32, ny)
	colD2 := make([]float32, ny)

	for tx := 0; tx < nx; tx++ {
		for ty := 0; ty < ny; ty++ {
			col[ty] = grid[ty*nx+tx]
		}
		naturalCubicSplineSecondDerivs(col, colD2, u)
		for ty := 0; ty < ny; ty++ {
			d2[ty*nx+tx] = colD2[ty]
		}
	}
	return d2
}

// naturalCubicSplineSecondDerivs computes the second derivatives of the
// natural cubic spline interpolating y at unit-spaced points, writing into
// d2. u is scratch space of the same length as y.
func naturalCubicSplineSecondDerivs(y, d2, u []float32) {
	n := len(y)
	d2[0], u[0] = 0, 0
	for i := 1; i < n-1; i++ {
		p := float32(0.5)*d2[i-1] + 2
		d2[i] = (float32(0.5) - 1) / p
		uv := (y[i+1] - y[i]) - (y[i] - y[i-1])
		u[i] = (3*uv - 0.5*u[i-1]) / p
	}
	d2[n-1] = 0
	for k := n - 2; k >= 0; k-- {
		d2[k] = d2[k]*d2[k+1] + u[k]
	}
}

// splineEvalColumn evaluates the natural cubic spline of tile column tx at
// fractional position (ty+fy), ty in [0,ny-2], fy in [0,1].
func splineEvalColumn(grid, d2grid []float32, nx, ny, tx, ty int, fy float32) float32 {
	a, b := 1-fy, fy
	y0 := grid[ty*nx+tx]
	y1 := grid[(ty+1)*nx+tx]
	d0 := d2grid[ty*nx+tx]
	d1 := d2grid[(ty+1)*nx+tx]
	return a*y0 + b*y1 + ((a*a*a-a)*d0+(b*b*b-b)*d1)/6
}
