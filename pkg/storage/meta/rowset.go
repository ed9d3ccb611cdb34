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

import (
	"bytes"
	"time"
)

// MaxKeyBoundsLen caps the stored first and last key of a segment.
// Longer packed keys keep only this prefix and set the truncation
// flag, so comparisons stay correct but may refuse to prove order.
const MaxKeyBoundsLen = 128

// KeyBounds records the packed first and last sort key of a segment
// or rowset. A truncated bound is a prefix of the real key.
type KeyBounds struct {
	First          []byte `json:"first,omitempty"`
	Last           []byte `json:"last,omitempty"`
	FirstTruncated bool   `json:"first-truncated,omitempty"`
	LastTruncated  bool   `json:"last-truncated,omitempty"`
}

func NewKeyBounds(first, last []byte) KeyBounds {
	var b KeyBounds
	b.First, b.FirstTruncated = truncateKey(first)
	b.Last, b.LastTruncated = truncateKey(last)
	return b
}

func truncateKey(k []byte) ([]byte, bool) {
	if len(k) > MaxKeyBoundsLen {
		return k[:MaxKeyBoundsLen:MaxKeyBoundsLen], true
	}
	return k, false
}

// Empty reports whether no key statistics were recorded.
func (b KeyBounds) Empty() bool {
	return len(b.First) == 0 && len(b.Last) == 0
}

// StrictlyBelow reports whether every key covered by b orders before
// every key covered by other. With truncated bounds the stored bytes
// are prefixes of the real keys, so the answer errs toward false
// whenever the hidden tail could break the order.
func (b KeyBounds) StrictlyBelow(other KeyBounds) bool {
	if b.Empty() || other.Empty() {
		return false
	}
	return KeyStrictlyBelow(b.Last, b.LastTruncated, other.First, other.FirstTruncated)
}

// KeyStrictlyBelow reports whether a stored last key provably orders
// before a stored first key, honoring truncation. An empty last key
// stands for "no previous bound" and orders before everything.
func KeyStrictlyBelow(last []byte, lastTruncated bool, first []byte, _ bool) bool {
	if bytes.Compare(last, first) >= 0 {
		return false
	}
	if lastTruncated && bytes.HasPrefix(first, last) {
		// the real last key may extend past first
		return false
	}
	return true
}

// Extend widens b to also cover other and returns the union.
func (b KeyBounds) Extend(other KeyBounds) KeyBounds {
	if b.Empty() {
		return other
	}
	if other.Empty() {
		return b
	}
	out := b
	switch cmp := bytes.Compare(other.First, b.First); {
	case cmp < 0:
		out.First, out.FirstTruncated = other.First, other.FirstTruncated
	case cmp == 0:
		// an untruncated bound is exact, keep it
		out.FirstTruncated = b.FirstTruncated && other.FirstTruncated
	}
	switch cmp := bytes.Compare(other.Last, b.Last); {
	case cmp > 0:
		out.Last, out.LastTruncated = other.Last, other.LastTruncated
	case cmp == 0:
		out.LastTruncated = b.LastTruncated || other.LastTruncated
	}
	return out
}

// SegmentMeta is the catalog-visible face of one segment file. The
// heavier per-column statistics stay in the segment footer.
type SegmentMeta struct {
	ID     uint64    `json:"id"`
	Rows   int64     `json:"rows"`
	Size   int64     `json:"size"`
	Bounds KeyBounds `json:"bounds"`
}

type RowsetMeta struct {
	ID       uint64        `json:"id"`
	TabletID uint64        `json:"tablet-id"`
	Version  Version       `json:"version"`
	Rows     int64         `json:"rows"`
	Size     int64         `json:"size"`
	Segments []SegmentMeta `json:"segments,omitempty"`

	// Overlapping marks rowsets whose segments may share key ranges,
	// written by loads that could not keep a global order.
	Overlapping bool `json:"overlapping,omitempty"`

	CreatedAt time.Time `json:"created-at"`
}

func (m *RowsetMeta) Empty() bool {
	return m.Rows == 0
}

// Bounds returns the union of the segment key bounds. It reports
// false when any populated segment lacks key statistics, in which
// case the rowset's key range is unknown.
func (m *RowsetMeta) Bounds() (KeyBounds, bool) {
	var out KeyBounds
	for i := range m.Segments {
		seg := &m.Segments[i]
		if seg.Rows == 0 {
			continue
		}
		if seg.Bounds.Empty() {
			return KeyBounds{}, false
		}
		out = out.Extend(seg.Bounds)
	}
	return out, !out.Empty()
}
