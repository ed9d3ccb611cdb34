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

// Package nulls wraps a roaring bitmap recording the null rows of a vector.
// A nil *Nulls or a nil inner bitmap both mean "no nulls".
package nulls

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
)

type Nulls struct {
	Np *roaring64.Bitmap
}

func (nsp *Nulls) Clone() *Nulls {
	if nsp == nil {
		return nil
	}
	if nsp.Np == nil {
		return &Nulls{Np: nil}
	}
	return &Nulls{
		Np: nsp.Np.Clone(),
	}
}

// Or stores the union of nsp and m in r.
func Or(nsp, m, r *Nulls) {
	if !Any(nsp) && !Any(m) {
		r.Np = nil
		return
	}
	r.Np = roaring64.NewBitmap()
	if nsp != nil && nsp.Np != nil {
		r.Np.Or(nsp.Np)
	}
	if m != nil && m.Np != nil {
		r.Np.Or(m.Np)
	}
}

func Reset(nsp *Nulls) {
	if nsp.Np != nil {
		nsp.Np.Clear()
	}
}

func NewWithSize(_ int) *Nulls {
	return &Nulls{
		Np: roaring64.NewBitmap(),
	}
}

func Build(size int, rows ...uint64) *Nulls {
	nsp := NewWithSize(size)
	Add(nsp, rows...)
	return nsp
}

// Any returns true if any bit in the Nulls is set, otherwise it will return false.
func Any(nsp *Nulls) bool {
	if nsp == nil || nsp.Np == nil {
		return false
	}
	return !nsp.Np.IsEmpty()
}

// Size estimates the memory usage of the Nulls.
func Size(nsp *Nulls) int {
	if nsp == nil || nsp.Np == nil {
		return 0
	}
	return int(nsp.Np.GetSizeInBytes())
}

// Length returns the number of integers contained in the Nulls
func Length(nsp *Nulls) int {
	if nsp == nil || nsp.Np == nil {
		return 0
	}
	return int(nsp.Np.GetCardinality())
}

func String(nsp *Nulls) string {
	if nsp == nil || nsp.Np == nil {
		return "[]"
	}
	return fmt.Sprintf("%v", nsp.Np.ToArray())
}

func TryExpand(nsp *Nulls, _ int) {
	if nsp.Np == nil {
		nsp.Np = roaring64.NewBitmap()
	}
}

// Contains returns true if the integer is contained in the Nulls
func Contains(nsp *Nulls, row uint64) bool {
	return nsp != nil && nsp.Np != nil && nsp.Np.Contains(row)
}

// ContainsAny returns true if any row of [start, end) is null.
func ContainsAny(nsp *Nulls, start, end uint64) bool {
	if nsp == nil || nsp.Np == nil || start >= end {
		return false
	}
	it := nsp.Np.Iterator()
	it.AdvanceIfNeeded(start)
	return it.HasNext() && it.Next() < end
}

func Add(nsp *Nulls, rows ...uint64) {
	if nsp == nil || len(rows) == 0 {
		return
	}
	TryExpand(nsp, int(rows[len(rows)-1])+1)
	nsp.Np.AddMany(rows)
}

// AddRange marks [start, end) as null.
func AddRange(nsp *Nulls, start, end uint64) {
	if start >= end {
		return
	}
	TryExpand(nsp, int(end))
	nsp.Np.AddRange(start, end)
}

func Del(nsp *Nulls, rows ...uint64) {
	if nsp == nil || nsp.Np == nil {
		return
	}
	for _, row := range rows {
		nsp.Np.Remove(row)
	}
}

// Set performs union operation on Nulls nsp,m and store the result in nsp
func Set(nsp, m *Nulls) {
	if m != nil && m.Np != nil {
		if nsp.Np == nil {
			nsp.Np = roaring64.NewBitmap()
		}
		nsp.Np.Or(m.Np)
	}
}

// FilterCount returns the number of rows of sels that are null in nsp.
func FilterCount(nsp *Nulls, sels []int64) int {
	var cnt int
	if nsp == nil || nsp.Np == nil || len(sels) == 0 {
		return cnt
	}
	for _, sel := range sels {
		if nsp.Np.Contains(uint64(sel)) {
			cnt++
		}
	}
	return cnt
}

func RemoveRange(nsp *Nulls, start, end uint64) {
	if nsp.Np != nil {
		nsp.Np.RemoveRange(start, end)
	}
}

// Range adds the rows of nsp within [start, end) to m, shifted down by bias.
func Range(nsp *Nulls, start, end, bias uint64, m *Nulls) *Nulls {
	if nsp == nil || nsp.Np == nil {
		return m
	}
	TryExpand(m, int(end-bias))
	it := nsp.Np.Iterator()
	it.AdvanceIfNeeded(start)
	for it.HasNext() {
		row := it.Next()
		if row >= end {
			break
		}
		m.Np.Add(row - bias)
	}
	return m
}

// Filter rewrites nsp under the row selection sels. With negate false,
// output row i is null iff input row sels[i] was null. With negate true,
// sels lists the rows to drop and the survivors are renumbered; sels must
// be sorted ascending.
func Filter(nsp *Nulls, sels []int64, negate bool) *Nulls {
	if nsp == nil || nsp.Np == nil || len(sels) == 0 {
		return nsp
	}

	if negate {
		if nsp.Np.IsEmpty() {
			return nsp
		}
		oldLen := int(nsp.Np.Maximum()) + 1
		np := roaring64.NewBitmap()
		selIdx, newIdx := 0, 0
		for oldIdx := 0; oldIdx < oldLen; oldIdx++ {
			if selIdx < len(sels) && oldIdx == int(sels[selIdx]) {
				selIdx++
				continue
			}
			if nsp.Np.Contains(uint64(oldIdx)) {
				np.Add(uint64(newIdx))
			}
			newIdx++
		}
		nsp.Np = np
		return nsp
	}

	np := roaring64.NewBitmap()
	for i, sel := range sels {
		if nsp.Np.Contains(uint64(sel)) {
			np.Add(uint64(i))
		}
	}
	nsp.Np = np
	return nsp
}

func (nsp *Nulls) Any() bool {
	if nsp == nil || nsp.Np == nil {
		return false
	}
	return !nsp.Np.IsEmpty()
}

func (nsp *Nulls) Set(row uint64) {
	TryExpand(nsp, int(row)+1)
	nsp.Np.Add(row)
}

func (nsp *Nulls) Contains(row uint64) bool {
	return nsp != nil && nsp.Np != nil && nsp.Np.Contains(row)
}

func (nsp *Nulls) Count() int {
	if nsp == nil || nsp.Np == nil {
		return 0
	}
	return int(nsp.Np.GetCardinality())
}

func (nsp *Nulls) Show() ([]byte, error) {
	if nsp == nil || nsp.Np == nil {
		return nil, nil
	}
	return nsp.Np.MarshalBinary()
}

func (nsp *Nulls) Read(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	nsp.Np = roaring64.NewBitmap()
	return nsp.Np.UnmarshalBinary(data)
}

func (nsp *Nulls) Or(m *Nulls) *Nulls {
	switch {
	case m == nil:
		return nsp
	case m.Np == nil:
		return nsp
	case nsp.Np == nil && m.Np != nil:
		return m
	default:
		nsp.Np.Or(m.Np)
		return nsp
	}
}

func (nsp *Nulls) IsSame(m *Nulls) bool {
	switch {
	case nsp == nil && m == nil:
		return true
	case nsp != nil && m != nil:
		if nsp.Np == nil && m.Np == nil {
			return true
		}
		if nsp.Np != nil && m.Np != nil {
			return nsp.Np.Equals(m.Np)
		}
		return false
	default:
		return false
	}
}

func (nsp *Nulls) ToArray() []uint64 {
	if nsp == nil || nsp.Np == nil {
		return []uint64{}
	}
	return nsp.Np.ToArray()
}
