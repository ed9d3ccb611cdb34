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

package rowset

import (
	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/storage/meta"
	"github.com/granarydb/granary/pkg/storage/segment"
)

// Reader walks the blocks of one rowset in storage order: segments by
// id, blocks in file order. The batch returned by NextBlock is owned
// by the reader and valid until the next call or Close.
type Reader struct {
	dir  string
	m    *meta.RowsetMeta
	cols []int
	mp   *mpool.MPool

	segIdx  int
	blkIdx  int
	segRdr  *segment.Reader
	nextRow int64
	baseRow int64
	cur     *batch.Batch
}

func NewReader(dir string, m *meta.RowsetMeta, cols []int, mp *mpool.MPool) *Reader {
	return &Reader{dir: dir, m: m, cols: cols, mp: mp}
}

func (r *Reader) Meta() *meta.RowsetMeta {
	return r.m
}

// NextBlock returns the next block of the rowset, or an expected-EOF
// error after the last one.
func (r *Reader) NextBlock() (*batch.Batch, error) {
	if r.cur != nil {
		r.cur.Clean(r.mp)
		r.cur = nil
	}
	for {
		if r.segRdr == nil {
			if r.segIdx >= len(r.m.Segments) {
				return nil, moerr.GetOkExpectedEOF()
			}
			sr, err := segment.NewReader(SegmentPath(r.dir, r.m.ID, r.m.Segments[r.segIdx].ID))
			if err != nil {
				return nil, err
			}
			r.segRdr = sr
			r.blkIdx = 0
			r.nextRow = 0
		}
		if r.blkIdx >= r.segRdr.NumBlocks() {
			if err := r.segRdr.Close(); err != nil {
				return nil, err
			}
			r.segRdr = nil
			r.segIdx++
			continue
		}
		bat, err := r.segRdr.ReadBlock(r.blkIdx, r.cols, r.mp)
		if err != nil {
			return nil, err
		}
		r.baseRow = r.nextRow
		r.nextRow += r.segRdr.BlockRows(r.blkIdx)
		r.blkIdx++
		r.cur = bat
		return bat, nil
	}
}

// Location reports where the current block starts: the segment id and
// the row offset of the block's first row inside that segment.
func (r *Reader) Location() (segID uint64, startRow int64) {
	return r.m.Segments[r.segIdx].ID, r.baseRow
}

func (r *Reader) Close() {
	if r.cur != nil {
		r.cur.Clean(r.mp)
		r.cur = nil
	}
	if r.segRdr != nil {
		r.segRdr.Close()
		r.segRdr = nil
	}
}
