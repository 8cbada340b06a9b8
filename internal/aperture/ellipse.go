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

import "github.com/mlnoga/gosep/internal/sep"

// EllipseFromMoments and MomentsFromEllipse are re-exported from package
// sep so aperture photometry callers (e.g. SumEllipse fed a catalog row's
// moments, or KronRadius fed an ellipse back from a fit) derive a,b,theta
// the same way the extraction core does, rather than a second independent
// implementation drifting from it.
func EllipseFromMoments(mu20, mu02, mu11 float64) (a, b, theta float64) {
	a, b, theta, _ = sep.EllipseFromMoments(mu20, mu02, mu11)
	return a, b, theta
}

func MomentsFromEllipse(a, b, theta float64) (mu20, mu02, mu11 float64) {
	return sep.MomentsFromEllipse(a, b, theta)
}
