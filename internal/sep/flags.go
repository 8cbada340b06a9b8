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

// Flags is a bitset of per-object anomaly/provenance markers, carried
// through deblending and cleaning into the final catalog.
type Flags uint32

const (
	FlagMerged   Flags = 1 << iota // object is a deblended child of a larger parent
	FlagTrunc                     // a member pixel touches the image border
	FlagSingular                   // second moments were singular; ellipse falls back to a minimum disk
	FlagApertureIncomplete
	FlagApertureOffEdge
)
