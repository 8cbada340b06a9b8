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

package stats

import (
	"sync"

	"github.com/klauspost/cpuid/v2"

	"github.com/mlnoga/gosep/internal"
)

// The reference implementation gated min/mean/max and variance on hand
// written AVX2 assembly kernels. That assembly isn't part of this module;
// both dispatch targets below call the pure Go kernel. The cpuid probe is
// kept so the decision (and the CPU it ran on) still shows up once in the
// log, the way the original dispatch did.
var logSIMDDecisionOnce sync.Once

func calcMinMeanMax(data []float32) (min, mean, max float32) {
	logSIMDDecisionOnce.Do(logSIMDDecision)
	return calcMinMeanMaxPureGo(data)
}

func calcVariance(data []float32, mean float32) (result float64) {
	logSIMDDecisionOnce.Do(logSIMDDecision)
	return calcVariancePureGo(data, mean)
}

func logSIMDDecision() {
	// probed for parity with the teacher's dispatch; no AVX2 kernel is linked in
	internal.LogPrintf("stats: AVX2 available: %v, using pure Go kernels\n", cpuid.CPU.Has(cpuid.AVX2))
}
