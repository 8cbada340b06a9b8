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

package main

import (
	"flag"
	"os"

	"github.com/mlnoga/gosep/internal"
	"github.com/mlnoga/gosep/internal/diagnostics"
	"github.com/mlnoga/gosep/internal/fits"
	"github.com/mlnoga/gosep/internal/fitsimg"
	"github.com/mlnoga/gosep/internal/restapi"
	"github.com/mlnoga/gosep/internal/sep"
)

const version = "0.1.0"

var in = flag.String("in", "", "input FITS image `file` to extract sources from (required unless -serve)")
var csv = flag.String("csv", "", "save catalog as CSV to `file`, `%auto` replaces input suffix with .csv")
var jsonOut = flag.String("json", "", "save catalog as JSON to `file`, `%auto` replaces input suffix with .json")
var preview = flag.String("preview", "", "save a false-color PNG preview with detected ellipses to `file`")
var previewMin = flag.Float64("preview_min", 0, "preview stretch black point")
var previewMax = flag.Float64("preview_max", 1000, "preview stretch white point")
var previewGamma = flag.Float64("preview_gamma", 2.2, "preview stretch gamma")
var logFile = flag.String("log", "", "also write log output to `file`")

var thresh = flag.Float64("thresh", 0, "absolute detection threshold; 0 uses -relthresh instead")
var relthresh = flag.Float64("relthresh", 1.5, "detection threshold as a multiple of background RMS")
var minarea = flag.Int("minarea", 5, "minimum connected pixel count for a detection")
var deblendNThresh = flag.Int("deblend_nthresh", 32, "number of deblending sub-thresholds")
var deblendCont = flag.Float64("deblend_cont", 0.005, "minimum contrast ratio for deblending")
var clean = flag.Bool("clean", true, "enable Mahalanobis-distance cleaning pass")
var cleanParam = flag.Float64("clean_param", 1.0, "cleaning ellipse scale factor")
var backW = flag.Int("back_w", 64, "background tile width")
var backH = flag.Int("back_h", 64, "background tile height")
var gain = flag.Float64("gain", 0, "override detector gain in e-/ADU, 0 keeps the FITS header value")

var serve = flag.Bool("serve", false, "run the HTTP extraction job server instead of a one-shot extraction")
var port = flag.Int64("port", 8080, "port for -serve")
var chroot = flag.String("chroot", "", "directory to chroot and chdir to when serving HTTP. must be run as root")
var setuid = flag.Int64("setuid", -1, "user id number to setuid to when serving HTTP. must be run as root")

func main() {
	flag.Parse()

	if *logFile != "" {
		if err := internal.LogAlsoToFile(*logFile); err != nil {
			internal.LogFatalf("unable to open log file %s: %v\n", *logFile, err)
		}
	}
	internal.LogPrintf("gosep %s\n", version)

	if *serve {
		if err := restapi.Serve(*port, *chroot, int(*setuid)); err != nil {
			internal.LogFatalf("server error: %v\n", err)
		}
		return
	}

	if *in == "" {
		internal.LogPrint("missing -in, and -serve not given\n")
		flag.Usage()
		os.Exit(2)
	}

	img := fits.NewImage()
	if err := img.ReadFile(*in, true, os.Stdout); err != nil {
		internal.LogFatalf("unable to read %s: %v\n", *in, err)
	}
	if *gain > 0 {
		img.Gain = float32(*gain)
	}
	internal.LogPrintf("%s: %s\n", *in, img.Stats.StringEager())

	iv, err := fitsimg.ToImageView(img, fitsimg.Options{})
	if err != nil {
		internal.LogFatalf("unable to bind image: %v\n", err)
	}

	params := sep.DefaultExtractParams()
	params.Thresh = *thresh
	params.RelThresh = *relthresh
	params.MinArea = *minarea
	params.DeblendNThresh = *deblendNThresh
	params.DeblendCont = *deblendCont
	params.Clean = *clean
	params.CleanParam = *cleanParam
	params.BackW, params.BackH = *backW, *backH

	cat, bg, err := sep.Extract(iv, params)
	if err != nil {
		internal.LogFatalf("extraction failed: %v\n", err)
	}
	internal.LogPrintf("%s: %d objects, background %.3f +- %.3f\n", *in, cat.Len(), bg.Global(), bg.GlobalRMS())

	if err := writeCatalogOutputs(cat, *in); err != nil {
		internal.LogFatalf("unable to write catalog: %v\n", err)
	}

	if *preview != "" {
		name := resolveAutoName(*preview, *in, ".png")
		err := diagnostics.WritePNGToFile(name, img, cat, float32(*previewMin), float32(*previewMax), float32(*previewGamma))
		if err != nil {
			internal.LogFatalf("unable to write preview: %v\n", err)
		}
	}
}

func writeCatalogOutputs(cat *sep.Catalog, inName string) error {
	if *csv != "" {
		name := resolveAutoName(*csv, inName, ".csv")
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := cat.WriteCSV(f); err != nil {
			return err
		}
	}
	if *jsonOut != "" {
		name := resolveAutoName(*jsonOut, inName, ".json")
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		defer f.Close()
		return cat.WriteJSON(f)
	}
	return nil
}
