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

// Package diagnostics renders a false-color preview of an extraction: the
// input image stretched to a grayscale base, with every cataloged object's
// ellipse drawn in a perceptually distinct color.
package diagnostics

import (
	"bufio"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
	xdraw "golang.org/x/image/draw"

	"github.com/mlnoga/gosep/internal/fits"
	"github.com/mlnoga/gosep/internal/sep"
)

// objectColor picks a perceptually well-separated color for catalog index i
// by rotating hue through HCL space, the way a categorical palette over an
// unbounded number of categories has to.
func objectColor(i int) color.RGBA {
	hue := math.Mod(float64(i)*137.50776, 360) // golden-angle hue rotation
	c := colorful.Hcl(hue, 0.7, 0.65).Clamped()
	r, g, b := c.RGB255()
	return color.RGBA{r, g, b, 255}
}

// stretchToGray converts a FITS image to a grayscale base, reusing the
// min/max/gamma stretch math of WriteMonoJPG.
func stretchToGray(f *fits.Image, min, max, gamma float32) *image.Gray {
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	img := image.NewGray(image.Rectangle{Max: image.Point{X: width, Y: height}})
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			v := f.Data[yoffset+x]
			v = (v - min) * scale
			if math.IsNaN(float64(v)) || v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			if gammaInv != 1.0 {
				v = float32(math.Pow(float64(v), gammaInv))
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v * 255)})
		}
	}
	return img
}

// drawEllipse composites a thin ellipse outline for catalog object i onto
// base, using golang.org/x/image/draw to blend the outline color over the
// stretched grayscale base at each sampled outline point.
func drawEllipse(base draw.Image, cx, cy, a, b, theta float64, col color.RGBA) {
	ct, st := math.Cos(theta), math.Sin(theta)
	const samples = 180
	for i := 0; i < samples; i++ {
		t := 2 * math.Pi * float64(i) / samples
		ux, uy := a*math.Cos(t), b*math.Sin(t)
		x := cx + ux*ct - uy*st
		y := cy + ux*st + uy*ct
		px, py := int(math.Round(x)), int(math.Round(y))
		if px < base.Bounds().Min.X || py < base.Bounds().Min.Y || px >= base.Bounds().Max.X || py >= base.Bounds().Max.Y {
			continue
		}
		dot := image.NewUniform(col)
		xdraw.Draw(base, image.Rect(px, py, px+1, py+1), dot, image.Point{}, xdraw.Over)
	}
}

// Render builds the RGBA preview image for a catalog extracted from img,
// stretching img with (min,max,gamma) and drawing each object's ellipse in
// a distinct color.
func Render(img *fits.Image, cat *sep.Catalog, min, max, gamma float32) *image.RGBA {
	marked := fits.NewImageFromImage(img)
	copy(marked.Data, img.Data)
	for i := 0; i < cat.Len(); i++ {
		marked.FillCircle(float32(cat.PeakX[i]), float32(cat.PeakY[i]), 1, max)
	}

	gray := stretchToGray(marked, min, max, gamma)
	rgba := image.NewRGBA(gray.Bounds())
	draw.Draw(rgba, rgba.Bounds(), gray, image.Point{}, draw.Src)

	for i := 0; i < cat.Len(); i++ {
		a, b := cat.A[i], cat.B[i]
		if a <= 0 {
			continue
		}
		drawEllipse(rgba, cat.X[i], cat.Y[i], a, b, cat.Theta[i], objectColor(i))
	}
	return rgba
}

// WritePNG renders and PNG-encodes the preview to writer.
func WritePNG(writer io.Writer, img *fits.Image, cat *sep.Catalog, min, max, gamma float32) error {
	return png.Encode(writer, Render(img, cat, min, max, gamma))
}

// WritePNGToFile renders and PNG-encodes the preview to fileName.
func WritePNGToFile(fileName string, img *fits.Image, cat *sep.Catalog, min, max, gamma float32) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()
	return WritePNG(w, img, cat, min, max, gamma)
}
