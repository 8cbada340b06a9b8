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
	"sync/atomic"

	"github.com/pbnjay/memory"
)

// Process-wide tuning knobs. These are read at the start of every
// extraction and must not be mutated while one is in flight - the caller's
// responsibility, same as the source this package follows. They are atomic
// only to make concurrent reads from multiple goroutines driving separate,
// non-overlapping extractions race-free; they provide no synchronization
// guarantee across a single extraction's lifetime.
var (
	extractPixstack    int64
	extractObjectLimit int64
	subObjectLimit     int64
)

const (
	defaultPixstack    = 300000
	defaultObjectLimit = 100000
	defaultSubObjectLimit = 1024
)

func init() {
	atomic.StoreInt64(&extractPixstack, defaultPixstack)
	atomic.StoreInt64(&extractObjectLimit, defaultObjectLimit)
	atomic.StoreInt64(&subObjectLimit, defaultSubObjectLimit)

	// On machines with ample RAM, scale the default pixel stack so that a
	// single pathological object can't force a PIXSTACK_FULL well below
	// what the host could actually service.
	if total := memory.TotalMemory(); total > 0 {
		scaled := int64(total / (1024 * 1024 * 8)) // ~1 slot per 8MB RAM
		if scaled > defaultPixstack && scaled < defaultPixstack*100 {
			atomic.StoreInt64(&extractPixstack, scaled)
		}
	}
}

// SetPixstack sets the shared pixel-stack capacity used by the segmenter.
func SetPixstack(n int) { atomic.StoreInt64(&extractPixstack, int64(n)) }

// Pixstack returns the current pixel-stack capacity.
func Pixstack() int { return int(atomic.LoadInt64(&extractPixstack)) }

// SetObjectLimit sets the maximum number of provisional objects the
// segmenter may hold concurrently.
func SetObjectLimit(n int) { atomic.StoreInt64(&extractObjectLimit, int64(n)) }

// ObjectLimit returns the current provisional-object capacity.
func ObjectLimit() int { return int(atomic.LoadInt64(&extractObjectLimit)) }

// SetSubObjectLimit sets the maximum number of sub-objects the deblender
// may consider per parent before aborting with DEBLEND_OVERFLOW.
func SetSubObjectLimit(n int) { atomic.StoreInt64(&subObjectLimit, int64(n)) }

// SubObjectLimit returns the current per-parent sub-object cap.
func SubObjectLimit() int { return int(atomic.LoadInt64(&subObjectLimit)) }
