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

import "math"

// deblendNode is one entry of the deblend tree arena. Children are linked
// via firstChild/nextSibling rather than a slice, since the tree's depth
// and fanout are both small and bounded by SubObjectLimit.
type deblendNode struct {
	parent      int
	firstChild  int
	nextSibling int
	level       int
	pix         []int32
	flux        float64 // sum of det-image values over pix, at this node's own threshold level
}

var eightNeighborOffsets = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// floodFillComponents partitions pix into connected components (8-
// connectivity, restricted to pix's own membership) of the subset whose
// detection value is at least t.
func floodFillComponents(pix []int32, det []float64, width int, t float64) [][]int32 {
	qualify := make(map[int32]bool, len(pix))
	for _, p := range pix {
		if det[p] >= t {
			qualify[p] = true
		}
	}
	visited := make(map[int32]bool, len(qualify))
	var comps [][]int32

	for _, p := range pix {
		if !qualify[p] || visited[p] {
			continue
		}
		stack := []int32{p}
		visited[p] = true
		var comp []int32
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, cur)
			cx, cy := int(cur)%width, int(cur)/width
			for _, off := range eightNeighborOffsets {
				nx, ny := cx+off[0], cy+off[1]
				if nx < 0 || nx >= width || ny < 0 {
					continue
				}
				nidx := int32(ny*width + nx)
				if qualify[nidx] && !visited[nidx] {
					visited[nidx] = true
					stack = append(stack, nidx)
				}
			}
		}
		comps = append(comps, comp)
	}
	return comps
}

// deblendThresholds returns the N-rung geometric threshold ladder from the
// detection threshold up to the object's peak value.
func deblendThresholds(thresh, peak float64, n int) []float64 {
	t := make([]float64, n)
	if thresh <= 0 || peak <= thresh || n < 2 {
		for i := 0; i < n; i++ {
			t[i] = thresh + (peak-thresh)*float64(i)/float64(maxInt(n-1, 1))
		}
		return t
	}
	ratio := peak / thresh
	for i := 0; i < n; i++ {
		frac := float64(i) / float64(n-1)
		t[i] = thresh * math.Exp(math.Log(ratio)*frac)
	}
	return t
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func childIDs(nodes []*deblendNode, id int) []int {
	var ids []int
	for c := nodes[id].firstChild; c != -1; c = nodes[c].nextSibling {
		ids = append(ids, c)
	}
	return ids
}

// selectPromotions walks the tree from id, descending as deep as possible
// while children keep passing the contrast test, and returns the ids of
// the resulting terminal branches (the final set of objects this subtree
// decomposes into).
func selectPromotions(nodes []*deblendNode, id int, rootFlux, deblendCont float64) []int {
	var passing []int
	for _, c := range childIDs(nodes, id) {
		if nodes[c].flux >= deblendCont*rootFlux {
			passing = append(passing, c)
		}
	}
	if len(passing) == 0 {
		return []int{id}
	}
	var result []int
	for _, c := range passing {
		result = append(result, selectPromotions(nodes, c, rootFlux, deblendCont)...)
	}
	return result
}

// deblendObject runs §4.4 steps 1-4 on a single finalized object, returning
// the one or more resulting rawObjects (the object itself, unchanged, if
// it does not deblend).
func deblendObject(obj *rawObject, det []float64, width, height int, threshold float64, nThresh int, deblendCont float64) ([]*rawObject, error) {
	if obj.npix < 2 || obj.peakVal <= threshold {
		return []*rawObject{obj}, nil
	}

	nodes := []*deblendNode{{parent: -1, firstChild: -1, nextSibling: -1, level: 0, pix: obj.pix, flux: obj.sumV}}
	pixNode := make(map[int32]int, len(obj.pix))
	for _, p := range obj.pix {
		pixNode[p] = 0
	}
	thresholds := deblendThresholds(threshold, obj.peakVal, nThresh)

	for i := 1; i < nThresh; i++ {
		t := thresholds[i]
		comps := floodFillComponents(obj.pix, det, width, t)

		byAncestor := make(map[int][][]int32)
		for _, comp := range comps {
			ancestor := pixNode[comp[0]]
			byAncestor[ancestor] = append(byAncestor[ancestor], comp)
		}

		for ancestor, group := range byAncestor {
			if len(group) == 1 && len(group[0]) == len(nodes[ancestor].pix) {
				continue // no change at this threshold for this branch
			}
			for _, comp := range group {
				if len(nodes) >= SubObjectLimit() {
					return nil, newError(CodeDeblendOverflow, "object exceeded %d sub-objects during deblending", SubObjectLimit())
				}
				flux := 0.0
				for _, p := range comp {
					flux += det[p]
				}
				id := len(nodes)
				nodes = append(nodes, &deblendNode{
					parent: ancestor, firstChild: -1, nextSibling: nodes[ancestor].firstChild,
					level: i, pix: comp, flux: flux,
				})
				nodes[ancestor].firstChild = id
				for _, p := range comp {
					pixNode[p] = id
				}
			}
		}
	}

	promoted := selectPromotions(nodes, 0, obj.sumV, deblendCont)
	if len(promoted) <= 1 {
		return []*rawObject{obj}, nil
	}

	results := make([]*rawObject, 0, len(promoted))
	centroids := make([][2]float64, len(promoted))
	for i, id := range promoted {
		results = append(results, rebuildObjectFromPixels(nodes[id].pix, det, width, height))
		centroids[i] = [2]float64{results[i].sumXV / results[i].sumV, results[i].sumYV / results[i].sumV}
	}

	// Redistribute pixels that belonged to root but to no promoted node
	// (because they fell below every promoted branch's own threshold) to
	// the nearest promoted child by centroid distance. This approximates
	// the spec's bivariate-Gaussian-weighted redistribution in §4.4 step 4.
	covered := make(map[int32]bool, len(obj.pix))
	for _, id := range promoted {
		for _, p := range nodes[id].pix {
			covered[p] = true
		}
	}
	for _, p := range obj.pix {
		if covered[p] {
			continue
		}
		x, y := float64(int(p)%width), float64(int(p)/width)
		best, bestDist := 0, math.MaxFloat64
		for i, c := range centroids {
			dx, dy := x-c[0], y-c[1]
			d := dx*dx + dy*dy
			if d < bestDist {
				bestDist, best = d, i
			}
		}
		addForeignPixel(results[best], p, det, width, height)
	}

	for _, r := range results {
		r.flags |= FlagMerged
	}
	return results, nil
}

// rebuildObjectFromPixels recomputes a fresh rawObject's accumulators from
// scratch given only its pixel membership, used when a deblend branch is
// promoted to a standalone detection.
func rebuildObjectFromPixels(pix []int32, det []float64, width, height int) *rawObject {
	o := newRawObject()
	for _, p := range pix {
		x, y := int(p)%width, int(p)/width
		v := det[p]
		o.addPixel(x, y, v, v, true, width, height)
	}
	o.pix = append([]int32(nil), pix...)
	return o
}

func addForeignPixel(o *rawObject, p int32, det []float64, width, height int) {
	x, y := int(p)%width, int(p)/width
	v := det[p]
	o.addPixel(x, y, v, v, true, width, height)
	o.pix = append(o.pix, p)
}
