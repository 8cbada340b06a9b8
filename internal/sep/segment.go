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

// rawObject is the accumulator for a single connected component discovered
// by the raster-scan segmenter, before deblending or cleaning. Moments
// accumulate in float64 regardless of the source dtype, per the
// package-wide determinism convention.
type rawObject struct {
	xmin, xmax, ymin, ymax int
	npix, tnpix            int
	sumV, sumXV, sumYV     float64
	sumX2V, sumY2V, sumXYV float64
	sumVRaw                float64
	peakVal                float64
	peakX, peakY           int
	peakValRaw             float64
	peakXRaw, peakYRaw     int
	flags                  Flags
	pix                    []int32
}

func newRawObject() *rawObject {
	return &rawObject{
		xmin: 1 << 30, ymin: 1 << 30,
		xmax: -1, ymax: -1,
		peakVal:    -1e300,
		peakValRaw: -1e300,
	}
}

// addPixel folds pixel (x,y) with detection value v and raw value vraw
// into the object's running moments and bounding box.
func (o *rawObject) addPixel(x, y int, v, vraw float64, aboveRaw bool, width, height int) {
	o.npix++
	if aboveRaw {
		o.tnpix++
	}
	fx, fy := float64(x), float64(y)
	o.sumV += v
	o.sumXV += fx * v
	o.sumYV += fy * v
	o.sumX2V += fx * fx * v
	o.sumY2V += fy * fy * v
	o.sumXYV += fx * fy * v
	o.sumVRaw += vraw

	if v > o.peakVal {
		o.peakVal, o.peakX, o.peakY = v, x, y
	}
	if vraw > o.peakValRaw {
		o.peakValRaw, o.peakXRaw, o.peakYRaw = vraw, x, y
	}

	if x < o.xmin {
		o.xmin = x
	}
	if x > o.xmax {
		o.xmax = x
	}
	if y < o.ymin {
		o.ymin = y
	}
	if y > o.ymax {
		o.ymax = y
	}
	if x == 0 || y == 0 || x == width-1 || y == height-1 {
		o.flags |= FlagTrunc
	}
}

// merge absorbs other into o, for union-find merges of provisional objects
// discovered to be connected later in the same row.
func (o *rawObject) merge(other *rawObject) {
	if other.xmin < o.xmin {
		o.xmin = other.xmin
	}
	if other.xmax > o.xmax {
		o.xmax = other.xmax
	}
	if other.ymin < o.ymin {
		o.ymin = other.ymin
	}
	if other.ymax > o.ymax {
		o.ymax = other.ymax
	}
	o.npix += other.npix
	o.tnpix += other.tnpix
	o.sumV += other.sumV
	o.sumXV += other.sumXV
	o.sumYV += other.sumYV
	o.sumX2V += other.sumX2V
	o.sumY2V += other.sumY2V
	o.sumXYV += other.sumXYV
	o.sumVRaw += other.sumVRaw
	if other.peakVal > o.peakVal {
		o.peakVal, o.peakX, o.peakY = other.peakVal, other.peakX, other.peakY
	}
	if other.peakValRaw > o.peakValRaw {
		o.peakValRaw, o.peakXRaw, o.peakYRaw = other.peakValRaw, other.peakXRaw, other.peakYRaw
	}
	o.flags |= other.flags
	o.pix = append(o.pix, other.pix...)
	other.pix = nil
}

// unionFind tracks the provisional-object table described in §4.3: a
// capacity-bounded pool of slots with path-compression union-find over
// active slots, and a free-list for reclaiming finalized objects. Union
// keeps no rank: the root of its first argument always survives.
type unionFind struct {
	parent []int32
	obj    []*rawObject
	free   []int32
	live   int
}

func newUnionFind(capacity int) *unionFind {
	return &unionFind{
		parent: make([]int32, capacity),
		obj:    make([]*rawObject, capacity),
	}
}

func (u *unionFind) alloc() (int32, error) {
	var id int32
	if len(u.free) > 0 {
		id = u.free[len(u.free)-1]
		u.free = u.free[:len(u.free)-1]
	} else {
		if u.live >= len(u.parent) {
			return -1, newError(CodeObjectsLimit, "exceeded provisional object limit %d", len(u.parent))
		}
		id = int32(u.live)
		u.live++
	}
	u.parent[id] = id
	u.obj[id] = newRawObject()
	return id, nil
}

func (u *unionFind) find(id int32) int32 {
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[id] != root {
		u.parent[id], id = root, u.parent[id]
	}
	return root
}

// union merges b into a's tree (a survives) and folds b's accumulator
// into a's, returning a's root id.
func (u *unionFind) union(a, b int32) int32 {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return ra
	}
	u.parent[rb] = ra
	u.obj[ra].merge(u.obj[rb])
	u.obj[rb] = nil
	return ra
}

func (u *unionFind) free1(id int32) {
	u.obj[id] = nil
	u.free = append(u.free, id)
}

// segmentResult is a completed, not-yet-deblended connected component
// ready for §4.4 processing.
type segmentResult struct {
	obj *rawObject
}

// segment performs the single top-to-bottom raster scan of §4.3 over the
// detection image det (compared against threshold) and the raw working
// image raw (compared against rawThreshold, for tnpix), returning one
// rawObject per finalized connected component. Pixels where the image is
// masked or sentinel never participate.
func segment(iv *ImageView, det, raw []float64, threshold, rawThreshold float64) ([]*rawObject, error) {
	width, height := iv.Width, iv.Height

	uf := newUnionFind(ObjectLimit())
	pixBudget := Pixstack()
	pixUsed := 0

	prevRow := make([]int32, width)
	currRow := make([]int32, width)
	for i := range prevRow {
		prevRow[i] = -1
	}

	var completed []*rawObject

	finalizeRow := func(row []int32, stillLive map[int32]bool) {
		seen := make(map[int32]bool, len(row))
		for _, id := range row {
			if id < 0 {
				continue
			}
			root := uf.find(id)
			if stillLive[root] || seen[root] {
				continue
			}
			seen[root] = true
			completed = append(completed, uf.obj[root])
			uf.free1(root)
		}
	}

	for y := 0; y < height; y++ {
		for i := range currRow {
			currRow[i] = -1
		}

		for x := 0; x < width; x++ {
			idx := y*width + x
			if _, ok := iv.sampleAt(idx); !ok {
				continue
			}
			d := det[idx]
			if d < threshold {
				continue
			}

			var neighbors [4]int32
			n := 0
			if x > 0 && currRow[x-1] >= 0 {
				neighbors[n] = currRow[x-1]
				n++
			}
			if y > 0 {
				if x > 0 && prevRow[x-1] >= 0 {
					neighbors[n] = prevRow[x-1]
					n++
				}
				if prevRow[x] >= 0 {
					neighbors[n] = prevRow[x]
					n++
				}
				if x < width-1 && prevRow[x+1] >= 0 {
					neighbors[n] = prevRow[x+1]
					n++
				}
			}

			var root int32
			if n == 0 {
				id, err := uf.alloc()
				if err != nil {
					return nil, err
				}
				root = id
			} else {
				root = uf.find(neighbors[0])
				for i := 1; i < n; i++ {
					root = uf.union(root, neighbors[i])
				}
			}

			rawVal := raw[idx]
			aboveRaw := rawVal >= rawThreshold
			uf.obj[root].addPixel(x, y, d, rawVal, aboveRaw, width, height)
			uf.obj[root].pix = append(uf.obj[root].pix, int32(idx))
			pixUsed++
			if pixUsed > pixBudget {
				return nil, newError(CodePixstackFull, "pixel stack capacity %d exhausted", pixBudget)
			}

			currRow[x] = root
		}

		// An object is finalized once no column in the row just completed
		// still references it (following find(), since rows may have been
		// merged into a different root than originally assigned).
		stillLive := make(map[int32]bool)
		for _, id := range currRow {
			if id >= 0 {
				stillLive[uf.find(id)] = true
			}
		}
		finalizeRow(prevRow, stillLive)

		prevRow, currRow = currRow, prevRow
	}
	finalizeRow(prevRow, map[int32]bool{})

	return completed, nil
}
