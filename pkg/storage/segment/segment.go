// Copyright 2022 Granary Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package segment reads and writes the columnar segment file:
//
//	header | block pages ... | footer | footer length | magic
//
// Each appended batch becomes one block holding one page per column.
// Pages are lz4 frames around the vector wire encoding, stored raw
// when compression does not shrink them. The footer is JSON and
// carries page locations, per-column zone maps and distinct-count
// sketches, and the packed key bounds of the whole segment.
package segment

import (
	"github.com/granarydb/granary/pkg/container/types"
	"github.com/granarydb/granary/pkg/storage/meta"
)

const (
	// Magic guards both the header and the file trailer.
	Magic   uint64 = 0x4752414e53454701
	Version uint16 = 1

	// HeaderSize is magic + version + reserved bytes.
	HeaderSize = 8 + 2 + 22

	// TrailerSize is the footer length plus the closing magic.
	TrailerSize = 4 + 8
)

// PageInfo locates one column page inside the file.
type PageInfo struct {
	Offset  int64 `json:"offset"`
	Length  int64 `json:"length"`
	RawSize int64 `json:"raw-size"`
	Alg     uint8 `json:"alg"`
}

// BlockInfo describes one appended batch.
type BlockInfo struct {
	Rows  int64      `json:"rows"`
	Pages []PageInfo `json:"pages"`
}

// Footer is the JSON tail of a segment file.
type Footer struct {
	Rows     int64          `json:"rows"`
	Attrs    []string       `json:"attrs"`
	Types    []types.Type   `json:"types"`
	Blocks   []BlockInfo    `json:"blocks"`
	ZoneMaps []meta.ZoneMap `json:"zone-maps"`

	// Sketches are serialized hyperloglog states, one per column,
	// empty for columns whose type cannot be packed.
	Sketches [][]byte `json:"sketches,omitempty"`

	// Bounds are the packed first and last sort keys. Input batches
	// arrive key-ordered, so these are the first and last rows.
	Bounds meta.KeyBounds `json:"bounds"`
}
