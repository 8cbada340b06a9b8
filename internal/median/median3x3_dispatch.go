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

package median

import (
	"sync"

	"github.com/klauspost/cpuid/v2"

	"github.com/mlnoga/gosep/internal"
)

// The reference implementation gated this filter on a hand written AVX2
// kernel. That assembly isn't part of this module; MedianFilter3x3 always
// runs the pure Go kernel. The cpuid probe is kept so the decision still
// shows up once in the log, the way the original dispatch did.
var logMedianSIMDDecisionOnce sync.Once

// Applies a 3x3 median filter to input data, a flattened 2D array of the
// given line width, and stores the result in output. Outermost rows and
// columns are copied unchanged.
func MedianFilter3x3(output, data []float32, width int32) {
	logMedianSIMDDecisionOnce.Do(func() {
		internal.LogPrintf("median: AVX2 available: %v, using pure Go 3x3 kernel\n", cpuid.CPU.Has(cpuid.AVX2))
	})
	medianFilter3x3PureGo(output, data, width)
}
