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

import "sort"

// cleanRadiusFactor bounds the neighbor search the k-d tree performs ahead
// of the exact Mahalanobis test: any pair that could possibly pass the test
// is within this many semi-major axes of each other, so narrowing the
// search to this radius cannot drop a pair the naive all-pairs scan would
// have considered.
const cleanRadiusFactor = 8.0

// CleanObjects implements the Mahalanobis-distance cleaning pass of §4.4's
// final paragraph. For every pair of surviving objects (a, b) with a's
// integrated flux greater than b's, b is absorbed into a (pixels appended,
// moments recomputed, b dropped) when b's barycenter lies within 1
// Mahalanobis unit of a's second-moment ellipse, scaled by cleanParam.
// Cleaning repeats until a full pass produces no further absorption, so
// the outcome does not depend on processing order.
func CleanObjects(objs []*rawObject, cleanParam float64) []*rawObject {
	active := make([]bool, len(objs))
	for i, o := range objs {
		active[i] = o.sumV > 0
	}

	for {
		changed := false

		pts := make([]centroidPoint, 0, len(objs))
		for i, o := range objs {
			if !active[i] {
				continue
			}
			pts = append(pts, centroidPoint{X: o.sumXV / o.sumV, Y: o.sumYV / o.sumV, Index: i})
		}
		if len(pts) < 2 {
			break
		}
		tree := buildCentroidKDTree(append([]centroidPoint(nil), pts...))

		byFlux := append([]centroidPoint(nil), pts...)
		sort.Slice(byFlux, func(i, j int) bool {
			return objs[byFlux[i].Index].sumV > objs[byFlux[j].Index].sumV
		})

		for _, p := range byFlux {
			a := p.Index
			if !active[a] {
				continue
			}
			oa := objs[a]
			m := momentsFromSums(oa.sumV, oa.sumXV, oa.sumYV, oa.sumX2V, oa.sumY2V, oa.sumXYV)
			semiMajor, _, _, _ := EllipseFromMoments(m.x2, m.y2, m.xy)
			cxx, cyy, cxy := EllipseCoefficients(m.x2, m.y2, m.xy)

			cands := tree.withinRadius(p, cleanRadiusFactor*semiMajor*cleanParam, nil, 0)
			for _, b := range cands {
				if !active[b] || objs[b].sumV >= oa.sumV {
					continue
				}
				ob := objs[b]
				bx, by := ob.sumXV/ob.sumV, ob.sumYV/ob.sumV
				if mahalanobisDistSq(bx, by, m.x, m.y, cxx, cyy, cxy, cleanParam) <= 1.0 {
					oa.merge(ob)
					active[b] = false
					changed = true
				}
			}
		}

		if !changed {
			break
		}
	}

	result := make([]*rawObject, 0, len(objs))
	for i, o := range objs {
		if active[i] {
			result = append(result, o)
		}
	}
	return result
}
