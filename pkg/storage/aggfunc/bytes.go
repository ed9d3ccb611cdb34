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

package aggfunc

import (
	"bytes"

	"github.com/RoaringBitmap/roaring"
	hll "github.com/axiomhq/hyperloglog"
	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/types"
	"github.com/granarydb/granary/pkg/container/vector"
	"github.com/granarydb/granary/pkg/storage/meta"
)

// Byte folds never keep views into source vectors. The source batch
// is recycled before the group closes, so states own their copies.

type bytesState struct {
	val  []byte
	null bool
	seen bool
}

func (s *bytesState) set(v []byte) {
	s.val = append(s.val[:0], v...)
	s.null = false
	s.seen = true
}

type bytesReplace struct {
	ifNotNull bool
}

func (f *bytesReplace) NewState() State {
	return &bytesState{}
}

func (f *bytesReplace) AddBatchRange(st State, vec *vector.Vector, begin, end int, hasNull bool) error {
	s := st.(*bytesState)
	if s.seen || begin >= end {
		return nil
	}
	if f.ifNotNull {
		if !hasNull {
			s.set(vec.GetBytesAt(begin))
			return nil
		}
		nsp := vec.GetNulls()
		for i := begin; i < end; i++ {
			if !nsp.Contains(uint64(i)) {
				s.set(vec.GetBytesAt(i))
				return nil
			}
		}
		// the range is all null, wait for a later one
		return nil
	}
	s.seen = true
	if hasNull && vec.GetNulls().Contains(uint64(begin)) {
		s.null = true
		return nil
	}
	s.set(vec.GetBytesAt(begin))
	return nil
}

// Merge assumes dst folded the earlier (newer) ranges.
func (f *bytesReplace) Merge(dst, src State) {
	d, s := dst.(*bytesState), src.(*bytesState)
	if d.seen || !s.seen {
		return
	}
	d.val = append(d.val[:0], s.val...)
	d.null, d.seen = s.null, true
}

func (f *bytesReplace) Reset(st State) {
	s := st.(*bytesState)
	s.val = s.val[:0]
	s.null, s.seen = false, false
}

func (f *bytesReplace) InsertResultInto(st State, dst *vector.Vector, mp *mpool.MPool) error {
	s := st.(*bytesState)
	return vector.AppendBytes(dst, s.val, s.null || !s.seen, mp)
}

type bytesMinMax struct {
	isMax bool
}

func (f *bytesMinMax) NewState() State {
	return &bytesState{}
}

func (f *bytesMinMax) AddBatchRange(st State, vec *vector.Vector, begin, end int, hasNull bool) error {
	s := st.(*bytesState)
	nsp := vec.GetNulls()
	for i := begin; i < end; i++ {
		if hasNull && nsp.Contains(uint64(i)) {
			continue
		}
		v := vec.GetBytesAt(i)
		if !s.seen {
			s.set(v)
			continue
		}
		if cmp := bytes.Compare(v, s.val); f.isMax == (cmp > 0) && cmp != 0 {
			s.set(v)
		}
	}
	return nil
}

func (f *bytesMinMax) Merge(dst, src State) {
	d, s := dst.(*bytesState), src.(*bytesState)
	if !s.seen {
		return
	}
	if !d.seen {
		d.set(s.val)
		return
	}
	if cmp := bytes.Compare(s.val, d.val); f.isMax == (cmp > 0) && cmp != 0 {
		d.set(s.val)
	}
}

func (f *bytesMinMax) Reset(st State) {
	s := st.(*bytesState)
	s.val = s.val[:0]
	s.null, s.seen = false, false
}

func (f *bytesMinMax) InsertResultInto(st State, dst *vector.Vector, mp *mpool.MPool) error {
	s := st.(*bytesState)
	return vector.AppendBytes(dst, s.val, !s.seen, mp)
}

// hll_union: the column holds serialized hyperloglog sketches, the
// fold merges them into one.

type hllState struct {
	sk   *hll.Sketch
	seen bool
}

type hllUnion struct{}

func (f *hllUnion) NewState() State {
	return &hllState{sk: hll.New()}
}

func (f *hllUnion) AddBatchRange(st State, vec *vector.Vector, begin, end int, hasNull bool) error {
	s := st.(*hllState)
	nsp := vec.GetNulls()
	for i := begin; i < end; i++ {
		if hasNull && nsp.Contains(uint64(i)) {
			continue
		}
		other := hll.New()
		if err := other.UnmarshalBinary(vec.GetBytesAt(i)); err != nil {
			return moerr.NewBadFileFormatNoCtx("hll_union: corrupt sketch: %v", err)
		}
		if err := s.sk.Merge(other); err != nil {
			return moerr.NewInternalErrorNoCtx("hll_union: merge: %v", err)
		}
		s.seen = true
	}
	return nil
}

func (f *hllUnion) Merge(dst, src State) {
	d, s := dst.(*hllState), src.(*hllState)
	if !s.seen {
		return
	}
	// sketches built by the same constructor always merge
	_ = d.sk.Merge(s.sk)
	d.seen = true
}

func (f *hllUnion) Reset(st State) {
	s := st.(*hllState)
	s.sk = hll.New()
	s.seen = false
}

func (f *hllUnion) InsertResultInto(st State, dst *vector.Vector, mp *mpool.MPool) error {
	s := st.(*hllState)
	if !s.seen {
		return vector.AppendBytes(dst, nil, true, mp)
	}
	buf, err := s.sk.MarshalBinary()
	if err != nil {
		return moerr.NewInternalErrorNoCtx("hll_union: marshal: %v", err)
	}
	return vector.AppendBytes(dst, buf, false, mp)
}

// bitmap_union: the column holds serialized roaring bitmaps, the fold
// ors them into one.

type bitmapState struct {
	bmp  *roaring.Bitmap
	seen bool
}

type bitmapUnion struct{}

func (f *bitmapUnion) NewState() State {
	return &bitmapState{bmp: roaring.New()}
}

func (f *bitmapUnion) AddBatchRange(st State, vec *vector.Vector, begin, end int, hasNull bool) error {
	s := st.(*bitmapState)
	nsp := vec.GetNulls()
	for i := begin; i < end; i++ {
		if hasNull && nsp.Contains(uint64(i)) {
			continue
		}
		other := roaring.New()
		if err := other.UnmarshalBinary(vec.GetBytesAt(i)); err != nil {
			return moerr.NewBadFileFormatNoCtx("bitmap_union: corrupt bitmap: %v", err)
		}
		s.bmp.Or(other)
		s.seen = true
	}
	return nil
}

func (f *bitmapUnion) Merge(dst, src State) {
	d, s := dst.(*bitmapState), src.(*bitmapState)
	if !s.seen {
		return
	}
	d.bmp.Or(s.bmp)
	d.seen = true
}

func (f *bitmapUnion) Reset(st State) {
	s := st.(*bitmapState)
	s.bmp = roaring.New()
	s.seen = false
}

func (f *bitmapUnion) InsertResultInto(st State, dst *vector.Vector, mp *mpool.MPool) error {
	s := st.(*bitmapState)
	if !s.seen {
		return vector.AppendBytes(dst, nil, true, mp)
	}
	buf, err := s.bmp.MarshalBinary()
	if err != nil {
		return moerr.NewInternalErrorNoCtx("bitmap_union: marshal: %v", err)
	}
	return vector.AppendBytes(dst, buf, false, mp)
}

func registerBytes(oid types.T) {
	registerReader(meta.AggReplace, oid, &bytesReplace{})
	registerReader(meta.AggReplaceIfNotNull, oid, &bytesReplace{ifNotNull: true})
	registerReader(meta.AggMin, oid, &bytesMinMax{})
	registerReader(meta.AggMax, oid, &bytesMinMax{isMax: true})
	registerReader(meta.AggHllUnion, oid, &hllUnion{})
	registerReader(meta.AggBitmapUnion, oid, &bitmapUnion{})
}

func init() {
	registerBytes(types.T_char)
	registerBytes(types.T_varchar)
}
