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

package meta

import "bytes"

// ZoneMap tracks the packed minimum and maximum of one column over a
// segment. Long values keep only a prefix, flagged so MayContain can
// stay conservative on the open side.
type ZoneMap struct {
	Min          []byte `json:"min,omitempty"`
	Max          []byte `json:"max,omitempty"`
	MinTruncated bool   `json:"min-truncated,omitempty"`
	MaxTruncated bool   `json:"max-truncated,omitempty"`
	HasNull      bool   `json:"has-null,omitempty"`
}

// Inited reports whether at least one non-null value was recorded.
// A packed value always carries a type code byte, so empty means
// never updated.
func (zm *ZoneMap) Inited() bool {
	return len(zm.Min) > 0
}

func (zm *ZoneMap) UpdateNull() {
	zm.HasNull = true
}

func (zm *ZoneMap) Update(packed []byte) {
	if !zm.Inited() {
		zm.Min, zm.MinTruncated = truncateKey(packed)
		zm.Max, zm.MaxTruncated = truncateKey(packed)
		return
	}
	if bytes.Compare(packed, zm.Min) < 0 {
		zm.Min, zm.MinTruncated = truncateKey(packed)
	}
	if !zm.coversHigh(packed) {
		zm.Max, zm.MaxTruncated = truncateKey(packed)
	}
}

// coversHigh reports whether v is known to order at or below the
// recorded maximum. A truncated maximum covers every extension of
// its prefix.
func (zm *ZoneMap) coversHigh(v []byte) bool {
	if bytes.Compare(v, zm.Max) <= 0 {
		return true
	}
	return zm.MaxTruncated && bytes.HasPrefix(v, zm.Max)
}

// MayContain reports whether a value equal to packed could exist in
// the zone. False positives are allowed, false negatives are not.
func (zm *ZoneMap) MayContain(packed []byte) bool {
	if !zm.Inited() {
		return false
	}
	if bytes.Compare(packed, zm.Min) < 0 {
		return false
	}
	return zm.coversHigh(packed)
}

func (zm *ZoneMap) Merge(o ZoneMap) {
	zm.HasNull = zm.HasNull || o.HasNull
	if !o.Inited() {
		return
	}
	if !zm.Inited() {
		zm.Min, zm.MinTruncated = o.Min, o.MinTruncated
		zm.Max, zm.MaxTruncated = o.Max, o.MaxTruncated
		return
	}
	switch cmp := bytes.Compare(o.Min, zm.Min); {
	case cmp < 0:
		zm.Min, zm.MinTruncated = o.Min, o.MinTruncated
	case cmp == 0:
		zm.MinTruncated = zm.MinTruncated && o.MinTruncated
	}
	switch cmp := bytes.Compare(o.Max, zm.Max); {
	case cmp > 0:
		zm.Max, zm.MaxTruncated = o.Max, o.MaxTruncated
	case cmp == 0:
		zm.MaxTruncated = zm.MaxTruncated || o.MaxTruncated
	}
}
