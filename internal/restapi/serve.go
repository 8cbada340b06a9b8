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

// Package restapi exposes source extraction as an HTTP job: POST a FITS
// image plus extraction parameters, get a JSON catalog back.
package restapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/gosep/internal/fits"
	"github.com/mlnoga/gosep/internal/fitsimg"
	"github.com/mlnoga/gosep/internal/sep"
)

// Serve runs the extraction job server on port, after optionally sandboxing
// the process into chroot and dropping to setuid (setuid<0 skips it).
func Serve(port int64, chroot string, setuid int) error {
	if chroot != "" || setuid >= 0 {
		MakeSandbox(chroot, setuid)
	}

	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/extract", postExtract)
		}
	}
	return r.Run(fmt.Sprintf(":%d", port))
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// extractParamsJSON is the shape of the optional "params" form field of
// POST /api/v1/extract, a multipart form with a FITS file under "image"
// and the JSON-encoded extraction parameters under "params".
type extractParamsJSON struct {
	Thresh         float64 `json:"thresh"`
	RelThresh      float64 `json:"relthresh"`
	MinArea        int     `json:"minarea"`
	DeblendNThresh int     `json:"deblend_nthresh"`
	DeblendCont    float64 `json:"deblend_cont"`
	Clean          bool    `json:"clean"`
	CleanParam     float64 `json:"clean_param"`
	BackW          int     `json:"back_w"`
	BackH          int     `json:"back_h"`
}

func (p extractParamsJSON) toParams(defaults sep.ExtractParams) sep.ExtractParams {
	out := defaults
	if p.Thresh > 0 {
		out.Thresh = p.Thresh
	}
	if p.RelThresh > 0 {
		out.RelThresh = p.RelThresh
	}
	if p.MinArea > 0 {
		out.MinArea = p.MinArea
	}
	if p.DeblendNThresh > 0 {
		out.DeblendNThresh = p.DeblendNThresh
	}
	if p.DeblendCont > 0 {
		out.DeblendCont = p.DeblendCont
	}
	out.Clean = p.Clean
	if p.CleanParam > 0 {
		out.CleanParam = p.CleanParam
	}
	if p.BackW > 0 {
		out.BackW = p.BackW
	}
	if p.BackH > 0 {
		out.BackH = p.BackH
	}
	return out
}

func postExtract(c *gin.Context) {
	defer debug.FreeOSMemory()

	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing image file: " + err.Error()})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	img := fits.NewImage()
	if err := img.Read(file, true, gin.DefaultWriter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to parse FITS image: " + err.Error()})
		return
	}

	params := sep.DefaultExtractParams()
	if raw := c.PostForm("params"); raw != "" {
		var reqParams extractParamsJSON
		if err := json.Unmarshal([]byte(raw), &reqParams); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid params JSON: " + err.Error()})
			return
		}
		params = reqParams.toParams(params)
	}

	iv, err := fitsimg.ToImageView(img, fitsimg.Options{})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cat, bg, err := sep.Extract(iv, params)
	if err != nil {
		code := http.StatusInternalServerError
		if _, ok := err.(*sep.Error); ok {
			code = http.StatusUnprocessableEntity
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}

	c.Header("X-Background-Global", fmt.Sprintf("%g", bg.Global()))
	c.Header("X-Background-RMS", fmt.Sprintf("%g", bg.GlobalRMS()))
	c.Header("Content-Type", "application/json")
	c.Status(http.StatusOK)
	if err := cat.WriteJSON(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
