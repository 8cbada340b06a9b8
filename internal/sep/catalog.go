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
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Detection is one surviving object after segmentation, deblending and
// cleaning: the in-memory working representation from which a Catalog's
// parallel arrays are assembled.
type Detection struct {
	Thresh                 float64
	Npix, Tnpix            int
	Xmin, Xmax, Ymin, Ymax int
	X, Y                   float64 // barycenter
	X2, Y2, XY             float64 // central second moments
	ErrX2, ErrY2, ErrXY    float64 // moment errors
	A, B, Theta            float64 // ellipse semi-axes and position angle
	Cxx, Cyy, Cxy          float64 // ellipse coefficients
	Flux, FluxConv         float64
	Peak, PeakConv         float64
	PeakX, PeakY           int
	PeakXConv, PeakYConv   int
	Flags                  Flags
	Pix                    []int32
}

// buildDetection derives a catalog-ready Detection from a finalized
// rawObject's accumulated moments. Moments stay in float64 throughout,
// per the package-wide determinism convention.
func buildDetection(obj *rawObject, threshold float64, gain float64) *Detection {
	m := momentsFromSums(obj.sumV, obj.sumXV, obj.sumYV, obj.sumX2V, obj.sumY2V, obj.sumXYV)
	a, b, theta, flags := EllipseFromMoments(m.x2, m.y2, m.xy)
	cxx, cyy, cxy := EllipseCoefficients(m.x2, m.y2, m.xy)

	var errX2, errY2, errXY float64
	if obj.npix > 0 && obj.sumV > 0 {
		// Poisson-dominated moment error estimate: variance of a second
		// moment scales as the flux-weighted spread divided by total counts.
		invN := 1.0 / float64(obj.npix)
		if gain > 0 {
			invN += 1.0 / (gain * obj.sumV)
		}
		errX2, errY2, errXY = m.x2*invN, m.y2*invN, m.xy*invN
	}

	return &Detection{
		Thresh: threshold,
		Npix:   obj.npix, Tnpix: obj.tnpix,
		Xmin: obj.xmin, Xmax: obj.xmax, Ymin: obj.ymin, Ymax: obj.ymax,
		X: m.x, Y: m.y,
		X2: m.x2, Y2: m.y2, XY: m.xy,
		ErrX2: errX2, ErrY2: errY2, ErrXY: errXY,
		A: a, B: b, Theta: theta,
		Cxx: cxx, Cyy: cyy, Cxy: cxy,
		Flux:     obj.sumVRaw,
		FluxConv: obj.sumV,
		Peak: obj.peakValRaw, PeakConv: obj.peakVal,
		PeakX: obj.peakXRaw, PeakY: obj.peakYRaw,
		PeakXConv: obj.peakX, PeakYConv: obj.peakY,
		Flags: obj.flags | flags,
		Pix:   obj.pix,
	}
}

// Catalog is a struct of parallel arrays, one entry per surviving object,
// as specified in §3. Index i into every slice refers to the same object.
type Catalog struct {
	Thresh                         []float64
	Npix, Tnpix                    []int
	Xmin, Xmax, Ymin, Ymax         []int
	X, Y                           []float64
	X2, Y2, XY                     []float64
	ErrX2, ErrY2, ErrXY            []float64
	A, B, Theta                    []float64
	Cxx, Cyy, Cxy                  []float64
	Flux, FluxConv                 []float64
	Peak, PeakConv                 []float64
	PeakX, PeakY                   []int
	PeakXConv, PeakYConv           []int
	Flags                          []Flags
	Pix                            []int32 // concatenated per-object pixel-index buffer
	pixOffsets                     []int   // start offset into Pix for each object, len(Catalog)+1
}

// NewCatalog assembles a Catalog from the final set of surviving
// detections, concatenating their pixel-index lists into one buffer.
func NewCatalog(dets []*Detection) *Catalog {
	c := &Catalog{pixOffsets: make([]int, len(dets)+1)}
	for _, d := range dets {
		c.Thresh = append(c.Thresh, d.Thresh)
		c.Npix = append(c.Npix, d.Npix)
		c.Tnpix = append(c.Tnpix, d.Tnpix)
		c.Xmin = append(c.Xmin, d.Xmin)
		c.Xmax = append(c.Xmax, d.Xmax)
		c.Ymin = append(c.Ymin, d.Ymin)
		c.Ymax = append(c.Ymax, d.Ymax)
		c.X = append(c.X, d.X)
		c.Y = append(c.Y, d.Y)
		c.X2 = append(c.X2, d.X2)
		c.Y2 = append(c.Y2, d.Y2)
		c.XY = append(c.XY, d.XY)
		c.ErrX2 = append(c.ErrX2, d.ErrX2)
		c.ErrY2 = append(c.ErrY2, d.ErrY2)
		c.ErrXY = append(c.ErrXY, d.ErrXY)
		c.A = append(c.A, d.A)
		c.B = append(c.B, d.B)
		c.Theta = append(c.Theta, d.Theta)
		c.Cxx = append(c.Cxx, d.Cxx)
		c.Cyy = append(c.Cyy, d.Cyy)
		c.Cxy = append(c.Cxy, d.Cxy)
		c.Flux = append(c.Flux, d.Flux)
		c.FluxConv = append(c.FluxConv, d.FluxConv)
		c.Peak = append(c.Peak, d.Peak)
		c.PeakConv = append(c.PeakConv, d.PeakConv)
		c.PeakX = append(c.PeakX, d.PeakX)
		c.PeakY = append(c.PeakY, d.PeakY)
		c.PeakXConv = append(c.PeakXConv, d.PeakXConv)
		c.PeakYConv = append(c.PeakYConv, d.PeakYConv)
		c.Flags = append(c.Flags, d.Flags)
		c.Pix = append(c.Pix, d.Pix...)
	}
	offset := 0
	for i, d := range dets {
		c.pixOffsets[i] = offset
		offset += len(d.Pix)
	}
	c.pixOffsets[len(dets)] = offset
	return c
}

// Len returns the number of objects in the catalog.
func (c *Catalog) Len() int { return len(c.Npix) }

// PixelsOf returns the pixel-index slice belonging to object i, a view
// into the catalog's concatenated Pix buffer.
func (c *Catalog) PixelsOf(i int) []int32 {
	return c.Pix[c.pixOffsets[i]:c.pixOffsets[i+1]]
}

// WriteCSV writes one row per object, with a header naming each column.
func (c *Catalog) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"x", "y", "a", "b", "theta", "flux", "peak", "npix", "tnpix", "flags"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := 0; i < c.Len(); i++ {
		row := []string{
			strconv.FormatFloat(c.X[i], 'g', -1, 64),
			strconv.FormatFloat(c.Y[i], 'g', -1, 64),
			strconv.FormatFloat(c.A[i], 'g', -1, 64),
			strconv.FormatFloat(c.B[i], 'g', -1, 64),
			strconv.FormatFloat(c.Theta[i], 'g', -1, 64),
			strconv.FormatFloat(c.FluxConv[i], 'g', -1, 64),
			strconv.FormatFloat(c.PeakConv[i], 'g', -1, 64),
			strconv.Itoa(c.Npix[i]),
			strconv.Itoa(c.Tnpix[i]),
			strconv.FormatUint(uint64(c.Flags[i]), 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// catalogRecord is the JSON wire shape for WriteJSON/record-oriented export.
type catalogRecord struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	A     float64 `json:"a"`
	B     float64 `json:"b"`
	Theta float64 `json:"theta"`
	Flux  float64 `json:"flux"`
	Peak  float64 `json:"peak"`
	Npix  int     `json:"npix"`
	Tnpix int     `json:"tnpix"`
	Flags Flags   `json:"flags"`
}

// WriteJSON writes the catalog as a JSON array of per-object records.
func (c *Catalog) WriteJSON(w io.Writer) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()
	enc := json.NewEncoder(bw)
	records := make([]catalogRecord, c.Len())
	for i := range records {
		records[i] = catalogRecord{
			X: c.X[i], Y: c.Y[i],
			A: c.A[i], B: c.B[i], Theta: c.Theta[i],
			Flux: c.FluxConv[i], Peak: c.PeakConv[i],
			Npix: c.Npix[i], Tnpix: c.Tnpix[i],
			Flags: c.Flags[i],
		}
	}
	return enc.Encode(records)
}

func (c *Catalog) String() string {
	return fmt.Sprintf("Catalog with %d objects", c.Len())
}
