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

package read

import (
	"container/heap"

	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/container/vector"
	"github.com/granarydb/granary/pkg/sort"
	"github.com/granarydb/granary/pkg/storage/meta"
)

// childCursor walks one rowset reader block by block, exposing a
// current row for the merge heap.
type childCursor struct {
	src      RowsetReader
	order    int
	rowsetID uint64

	bat     *batch.Batch
	row     int
	segID   uint64
	baseRow int64

	// fresh marks a primed first block that NextBlock has not served
	// yet, so sequential reads do not lose it.
	fresh bool
}

func (c *childCursor) pull() error {
	bat, err := c.src.NextBlock()
	if err != nil {
		return err
	}
	c.bat = bat
	c.row = 0
	c.segID, c.baseRow = c.src.Location()
	return nil
}

func (c *childCursor) location() RowLocation {
	return RowLocation{
		RowsetID:  c.rowsetID,
		SegmentID: c.segID,
		RowID:     c.baseRow + int64(c.row),
	}
}

// cursorHeap orders child cursors by their current row's sort key.
// On equal keys the later-registered child wins, and children are
// registered oldest version first, so the newest version of a key
// always surfaces first.
type cursorHeap struct {
	cs     []*childCursor
	keyNum int
}

func (h *cursorHeap) Len() int { return len(h.cs) }

func (h *cursorHeap) Less(i, j int) bool {
	a, b := h.cs[i], h.cs[j]
	if cmp := sort.CompareKeyRows(a.bat, b.bat, a.row, b.row, h.keyNum); cmp != 0 {
		return cmp < 0
	}
	return a.order > b.order
}

func (h *cursorHeap) Swap(i, j int) { h.cs[i], h.cs[j] = h.cs[j], h.cs[i] }

func (h *cursorHeap) Push(x any) { h.cs = append(h.cs, x.(*childCursor)) }

func (h *cursorHeap) Pop() any {
	x := h.cs[len(h.cs)-1]
	h.cs = h.cs[:len(h.cs)-1]
	return x
}

func (h *cursorHeap) top() *childCursor { return h.cs[0] }

// CollectIterator turns the block streams of the captured rowsets
// into one row stream. When the rowsets are key-disjoint it serves
// their blocks back to back; otherwise it runs a loser-tree style
// k-way merge over a cursor heap.
//
// In merge mode rows are staged through one reused window batch of up
// to batchSize rows. Row references handed out by CurrentRow and
// NextRow point into that window and stay valid until the row after
// the window's last one is requested.
type CollectIterator struct {
	reader *BlockReader

	merge    bool
	reverse  bool
	skipSame bool

	keyNum     int
	batchSize  int
	recordLocs bool
	mp         *mpool.MPool

	children []*childCursor
	heap     *cursorHeap
	seqIdx   int
	seqSame  bool

	win     *batch.Batch
	winLocs []RowLocation
	winSame []bool
	winRows int
	pos     int

	// prevKey keeps the sort key of the last row that left the
	// window, so same-key detection survives a window refill. The
	// key is retained, not the batch.
	prevKey  *batch.Batch
	havePrev bool

	blockLocs []RowLocation

	skipped int64
	primed  bool
	eof     bool
	closed  bool
}

func newCollectIterator(r *BlockReader, overlapping, orderByKey, reverse bool) *CollectIterator {
	merge := overlapping || orderByKey || reverse || r.schema.KeysType != meta.DupKeys
	return &CollectIterator{
		reader:     r,
		merge:      merge,
		reverse:    reverse,
		skipSame:   r.schema.KeysType == meta.UniqueKeys,
		keyNum:     r.schema.NumKeyColumns,
		batchSize:  r.batchSize,
		recordLocs: r.recordLocs,
		mp:         r.mp,
	}
}

// AddChild registers a rowset reader and primes its first block. An
// empty rowset surfaces the expected EOF; the child never joins the
// merge and is closed here, as is any child whose first read fails.
func (it *CollectIterator) AddChild(src RowsetReader) error {
	c := &childCursor{
		src:      src,
		order:    len(it.children),
		rowsetID: src.Meta().ID,
	}
	if err := c.pull(); err != nil {
		src.Close()
		return err
	}
	c.fresh = true
	it.children = append(it.children, c)
	return nil
}

// BuildHeap finishes registration. After it returns no more children
// may be added.
func (it *CollectIterator) BuildHeap() error {
	if it.reverse {
		// rowset readers only walk forward
		return moerr.NewNYINoCtx("reverse key order merge")
	}
	if !it.merge {
		return nil
	}
	it.heap = &cursorHeap{
		cs:     append([]*childCursor(nil), it.children...),
		keyNum: it.keyNum,
	}
	heap.Init(it.heap)
	return nil
}

// Empty reports whether the iterator has nothing to serve. Only
// meaningful before the first row or block is consumed.
func (it *CollectIterator) Empty() bool {
	if it.merge {
		return it.heap == nil || it.heap.Len() == 0
	}
	return len(it.children) == 0
}

// CurrentRow returns the row the iterator is positioned at without
// consuming it. The first call positions the iterator.
func (it *CollectIterator) CurrentRow() (RowRef, error) {
	if it.closed {
		return RowRef{}, moerr.NewInvalidStateNoCtx("collect iterator closed")
	}
	if !it.primed {
		it.primed = true
		if it.merge {
			if err := it.refillWindow(); err != nil {
				return RowRef{}, err
			}
		} else if len(it.children) == 0 {
			it.eof = true
		}
	}
	if it.eof {
		return RowRef{}, moerr.GetOkExpectedEOF()
	}
	if it.merge {
		if it.pos >= it.win.RowCount() {
			if err := it.refillWindow(); err != nil {
				return RowRef{}, err
			}
			if it.eof {
				return RowRef{}, moerr.GetOkExpectedEOF()
			}
		}
		return RowRef{Batch: it.win, Row: it.pos, Same: it.winSame[it.pos]}, nil
	}
	c := it.children[it.seqIdx]
	return RowRef{Batch: c.bat, Row: c.row, Same: it.seqSame}, nil
}

// NextRow advances by one row and returns the new current row.
func (it *CollectIterator) NextRow() (RowRef, error) {
	if _, err := it.CurrentRow(); err != nil {
		return RowRef{}, err
	}
	if it.merge {
		it.pos++
		if it.pos >= it.win.RowCount() {
			if err := it.refillWindow(); err != nil {
				return RowRef{}, err
			}
		}
		return it.CurrentRow()
	}
	if err := it.seqAdvance(); err != nil {
		if moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
			it.eof = true
		}
		return RowRef{}, err
	}
	return it.CurrentRow()
}

// CurrentRowLocation returns the origin of the current row. Zero when
// locations are not recorded or the stream ended.
func (it *CollectIterator) CurrentRowLocation() RowLocation {
	if it.eof {
		return RowLocation{}
	}
	if it.merge {
		if it.pos < len(it.winLocs) {
			return it.winLocs[it.pos]
		}
		return RowLocation{}
	}
	if it.seqIdx < len(it.children) {
		return it.children[it.seqIdx].location()
	}
	return RowLocation{}
}

// NextBlock fills dst with the next run of rows. dst must carry the
// reader's projection; its previous content is released first.
func (it *CollectIterator) NextBlock(dst *batch.Batch) error {
	if it.closed {
		return moerr.NewInvalidStateNoCtx("collect iterator closed")
	}
	dst.CleanOnlyData()
	it.blockLocs = it.blockLocs[:0]
	if it.merge {
		return it.mergeNextBlock(dst)
	}
	return it.seqNextBlock(dst)
}

// BlockRowLocations returns the origins of the rows served by the
// last NextBlock, valid until the next call.
func (it *CollectIterator) BlockRowLocations() []RowLocation {
	return it.blockLocs
}

// SkippedRows is the number of rows dropped because their key matched
// an already served row.
func (it *CollectIterator) SkippedRows() int64 {
	return it.skipped
}

func (it *CollectIterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	for _, c := range it.children {
		c.src.Close()
	}
	if it.win != nil {
		it.win.Clean(it.mp)
		it.win = nil
	}
	if it.prevKey != nil {
		it.prevKey.Clean(it.mp)
		it.prevKey = nil
	}
}

func (it *CollectIterator) mergeNextBlock(dst *batch.Batch) error {
	if it.eof {
		return moerr.GetOkExpectedEOF()
	}
	if !it.primed || it.pos >= it.win.RowCount() {
		it.primed = true
		if err := it.refillWindow(); err != nil {
			return err
		}
		if it.eof {
			return moerr.GetOkExpectedEOF()
		}
	}
	rows := it.win.RowCount()
	if it.pos == 0 {
		for j, vec := range dst.Vecs {
			if err := vector.UnionAll(vec, it.win.Vecs[j], it.mp); err != nil {
				return err
			}
		}
	} else {
		for i := it.pos; i < rows; i++ {
			for j, vec := range dst.Vecs {
				if err := vec.UnionOne(it.win.Vecs[j], int64(i), it.mp); err != nil {
					return err
				}
			}
		}
	}
	dst.SetRowCount(rows - it.pos)
	if it.recordLocs {
		it.blockLocs = append(it.blockLocs, it.winLocs[it.pos:]...)
	}
	it.pos = rows
	return nil
}

func (it *CollectIterator) seqNextBlock(dst *batch.Batch) error {
	for {
		if it.seqIdx >= len(it.children) {
			it.eof = true
			return moerr.GetOkExpectedEOF()
		}
		c := it.children[it.seqIdx]
		if c.fresh {
			c.fresh = false
		} else {
			if err := c.pull(); err != nil {
				if moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
					it.seqIdx++
					continue
				}
				return err
			}
		}
		rows := c.bat.RowCount()
		for j, vec := range dst.Vecs {
			if err := vector.UnionAll(vec, c.bat.Vecs[j], it.mp); err != nil {
				return err
			}
		}
		dst.SetRowCount(rows)
		if it.recordLocs {
			for i := 0; i < rows; i++ {
				it.blockLocs = append(it.blockLocs, RowLocation{
					RowsetID:  c.rowsetID,
					SegmentID: c.segID,
					RowID:     c.baseRow + int64(i),
				})
			}
		}
		return nil
	}
}

// seqAdvance moves the sequential cursor one row, crossing block and
// child boundaries as needed.
func (it *CollectIterator) seqAdvance() error {
	c := it.children[it.seqIdx]
	c.fresh = false
	if c.row+1 < c.bat.RowCount() {
		it.seqSame = sort.CompareKeyRows(c.bat, c.bat, c.row, c.row+1, it.keyNum) == 0
		c.row++
		return nil
	}
	if err := it.retainPrevKey(c.bat, c.row); err != nil {
		return err
	}
	err := c.pull()
	if err == nil {
		it.seqSame = it.havePrev &&
			sort.CompareKeyRows(it.prevKey, c.bat, 0, 0, it.keyNum) == 0
		return nil
	}
	if !moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
		return err
	}
	it.seqIdx++
	if it.seqIdx >= len(it.children) {
		return moerr.GetOkExpectedEOF()
	}
	n := it.children[it.seqIdx]
	n.fresh = false
	it.seqSame = it.havePrev &&
		sort.CompareKeyRows(it.prevKey, n.bat, 0, 0, it.keyNum) == 0
	return nil
}

func (it *CollectIterator) refillWindow() error {
	rows, err := it.fillWindow()
	if err != nil {
		return err
	}
	if rows == 0 {
		it.eof = true
	}
	return nil
}

// fillWindow drains the heap into the window until batchSize rows are
// staged or the heap runs dry. Rows equal to the previously staged
// key are flagged Same, and dropped outright when skipSame is set.
func (it *CollectIterator) fillWindow() (int, error) {
	if it.win == nil {
		if err := it.initWindow(); err != nil {
			return 0, err
		}
	} else {
		if n := it.win.RowCount(); n > 0 {
			if err := it.retainPrevKey(it.win, n-1); err != nil {
				return 0, err
			}
		}
		it.win.CleanOnlyData()
	}
	it.winLocs = it.winLocs[:0]
	it.winSame = it.winSame[:0]
	it.winRows = 0
	it.pos = 0
	for it.winRows < it.batchSize && it.heap.Len() > 0 {
		top := it.heap.top()
		same := it.sameAsPrev(top.bat, top.row)
		if it.skipSame && same {
			it.skipped++
			if err := it.advanceChild(top); err != nil {
				return 0, err
			}
			continue
		}
		for j, vec := range it.win.Vecs {
			if err := vec.UnionOne(top.bat.Vecs[j], int64(top.row), it.mp); err != nil {
				return 0, err
			}
		}
		if it.recordLocs {
			it.winLocs = append(it.winLocs, top.location())
		}
		it.winSame = append(it.winSame, same)
		it.winRows++
		if err := it.advanceChild(top); err != nil {
			return 0, err
		}
	}
	it.win.SetRowCount(it.winRows)
	return it.winRows, nil
}

func (it *CollectIterator) sameAsPrev(bat *batch.Batch, row int) bool {
	if it.winRows > 0 {
		return sort.CompareKeyRows(it.win, bat, it.winRows-1, row, it.keyNum) == 0
	}
	if it.havePrev {
		return sort.CompareKeyRows(it.prevKey, bat, 0, row, it.keyNum) == 0
	}
	return false
}

// advanceChild moves the heap top one row forward, pulling the next
// block when the current one is exhausted and dropping the child from
// the heap at EOF.
func (it *CollectIterator) advanceChild(c *childCursor) error {
	c.row++
	if c.row < c.bat.RowCount() {
		heap.Fix(it.heap, 0)
		return nil
	}
	err := c.pull()
	if err == nil {
		heap.Fix(it.heap, 0)
		return nil
	}
	if moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
		heap.Pop(it.heap)
		return nil
	}
	return err
}

func (it *CollectIterator) retainPrevKey(bat *batch.Batch, row int) error {
	if it.prevKey == nil {
		r := it.reader
		it.prevKey = batch.New(true, r.attrs[:it.keyNum])
		for j := 0; j < it.keyNum; j++ {
			it.prevKey.Vecs[j] = vector.NewVec(r.colTypes[j])
		}
	}
	it.prevKey.CleanOnlyData()
	for j := 0; j < it.keyNum; j++ {
		if err := it.prevKey.Vecs[j].UnionOne(bat.Vecs[j], int64(row), it.mp); err != nil {
			return err
		}
	}
	it.prevKey.SetRowCount(1)
	it.havePrev = true
	return nil
}

func (it *CollectIterator) initWindow() error {
	r := it.reader
	it.win = batch.New(true, r.attrs)
	for j, typ := range r.colTypes {
		it.win.Vecs[j] = vector.NewVec(typ)
	}
	for _, vec := range it.win.Vecs {
		if err := vec.PreExtend(it.batchSize, it.mp); err != nil {
			return err
		}
	}
	return nil
}
