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

// Package read turns a tablet's captured rowsets into one ordered
// stream of batches, reduced according to the tablet's keys type.
// Duplicate-keys tablets pass every row through. Unique-keys tablets
// keep the newest row per key and optionally drop rows whose delete
// sign is set. Agg-keys tablets fold rows sharing a key through the
// per-column aggregates.
package read

import (
	"context"

	"go.uber.org/zap"

	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/container/nulls"
	"github.com/granarydb/granary/pkg/container/types"
	"github.com/granarydb/granary/pkg/container/vector"
	"github.com/granarydb/granary/pkg/logutil"
	"github.com/granarydb/granary/pkg/storage/aggfunc"
	"github.com/granarydb/granary/pkg/storage/meta"
)

const defaultBatchSize = 4096

// refPos pairs a source row in a referenced batch with its slot in
// the stored columns.
type refPos struct {
	src int
	dst int
}

// BlockReader produces the merged view of a tablet at a version. The
// caller owns the output batch, allocated with the reader's
// projection, and hands it back on every call; the reader releases
// its previous content before refilling it.
type BlockReader struct {
	src     Source
	schema  *meta.Schema
	typ     ReaderType
	version int64
	mp      *mpool.MPool

	cols     []int
	attrs    []string
	colTypes []types.Type

	batchSize  int
	recordLocs bool

	filterDelete bool
	deleteIdx    int

	iter        *CollectIterator
	overlapping bool
	nextFn      func(context.Context, *batch.Batch) (bool, error)

	cur RowRef
	eof bool

	normalIdx []int
	aggIdx    []int

	aggFns      []aggfunc.AggFunc
	aggStates   []aggfunc.State
	stored      *batch.Batch
	storedIsVar []bool
	storedNull  []bool
	storedRefs  []RowRef
	tempRefMap  map[*batch.Batch][]refPos
	counters    []int
	lastCounter int

	locs        []RowLocation
	delSels     []int64
	mergedRows  int64
	delFiltered int64
}

func NewBlockReader() *BlockReader {
	return &BlockReader{deleteIdx: -1}
}

// Init captures the tablet's rowsets at the requested version, builds
// the merge over them, and picks the production strategy. On failure
// everything captured so far is released.
func (r *BlockReader) Init(ctx context.Context, params ReaderParams) (err error) {
	if params.Tablet == nil {
		return moerr.NewInvalidArgNoCtx("block reader tablet", "nil")
	}
	if params.Mp == nil {
		return moerr.NewInvalidArgNoCtx("block reader mpool", "nil")
	}
	r.src = params.Tablet
	r.schema = params.Tablet.Schema()
	if r.schema == nil {
		return moerr.NewInvalidArgNoCtx("block reader schema", "nil")
	}
	r.typ = params.Type
	r.version = params.Version
	r.mp = params.Mp
	r.batchSize = params.BatchSize
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	r.recordLocs = params.RecordRowLocations

	if err = r.initProjection(params.Columns); err != nil {
		return err
	}
	// without a delete sign in the schema there is nothing to filter
	r.filterDelete = params.FilterDelete && r.schema.DeleteSignIdx() >= 0

	defer func() {
		if err != nil {
			r.Close()
		}
	}()
	if err = r.initCollectIter(ctx); err != nil {
		return err
	}

	direct := false
	switch r.schema.KeysType {
	case meta.DupKeys:
		direct = true
	case meta.UniqueKeys:
		// merge-on-write resolved duplication at ingest, queries may
		// read the segments as they are
		direct = r.typ == ReaderQuery && r.schema.MergeOnWrite
	case meta.AggKeys:
	default:
		return moerr.NewInternalErrorNoCtx(
			"tablet %d: no read strategy for keys type %s",
			r.src.ID(), r.schema.KeysType)
	}
	if direct {
		// direct reads surface every row as stored
		r.iter.skipSame = false
		r.nextFn = r.directNextBlock
		r.eof = r.iter.Empty()
		return nil
	}

	ref, cerr := r.iter.CurrentRow()
	if cerr != nil {
		if !moerr.IsMoErrCode(cerr, moerr.OkExpectedEOF) {
			return cerr
		}
		r.eof = true
	} else {
		r.cur = ref
	}
	if r.schema.KeysType == meta.AggKeys {
		r.nextFn = r.aggKeyNextBlock
		return r.initAggState(ctx)
	}
	r.nextFn = r.uniqueKeyNextBlock
	return nil
}

func (r *BlockReader) initProjection(cols []int) error {
	n := len(r.schema.Columns)
	if cols == nil {
		cols = make([]int, n)
		for i := range cols {
			cols[i] = i
		}
	}
	numKeys := r.schema.NumKeyColumns
	if len(cols) < numKeys {
		return moerr.NewInvalidArgNoCtx("block reader projection width", len(cols))
	}
	seen := make(map[int]bool, len(cols))
	for p, cid := range cols {
		if cid < 0 || cid >= n {
			return moerr.NewInvalidArgNoCtx("block reader projected column", cid)
		}
		if seen[cid] {
			return moerr.NewInvalidArgNoCtx("block reader column projected twice", cid)
		}
		seen[cid] = true
		// merged rows stay comparable only if the key prefix leads
		// the projection in schema order
		if p < numKeys && cid != p {
			return moerr.NewInvalidArgNoCtx("block reader projection key prefix, column", cid)
		}
	}
	r.cols = cols
	r.attrs = make([]string, len(cols))
	r.colTypes = make([]types.Type, len(cols))
	for p, cid := range cols {
		r.attrs[p] = r.schema.Columns[cid].Name
		r.colTypes[p] = r.schema.Columns[cid].Type
	}
	for p := range cols {
		if p < numKeys || r.schema.KeysType != meta.AggKeys {
			r.normalIdx = append(r.normalIdx, p)
		} else {
			r.aggIdx = append(r.aggIdx, p)
		}
	}
	r.deleteIdx = -1
	if sdi := r.schema.DeleteSignIdx(); sdi >= 0 {
		for p, cid := range cols {
			if cid == sdi {
				r.deleteIdx = p
				break
			}
		}
	}
	return nil
}

func (r *BlockReader) initCollectIter(ctx context.Context) error {
	rdrs, err := r.src.CaptureReaders(ctx, r.version, r.cols)
	if err != nil {
		logutil.Warn("capture rowset readers failed",
			zap.Uint64("tablet", r.src.ID()),
			zap.String("reader-type", r.typ.String()),
			zap.Int64("version", r.version),
			zap.Error(err))
		return err
	}
	r.overlapping = rowsetsOverlapping(rdrs)
	r.iter = newCollectIterator(r, r.overlapping, false, false)
	for i, rd := range rdrs {
		if cerr := ctx.Err(); cerr != nil {
			closeReaders(rdrs[i:])
			return moerr.ConvertGoError(ctx, cerr)
		}
		if aerr := r.iter.AddChild(rd); aerr != nil {
			// an empty rowset is a valid capture with nothing to merge
			if moerr.IsMoErrCode(aerr, moerr.OkExpectedEOF) {
				continue
			}
			logutil.Warn("add rowset to merge failed",
				zap.Uint64("tablet", r.src.ID()),
				zap.Uint64("rowset", rd.Meta().ID),
				zap.Error(aerr))
			closeReaders(rdrs[i+1:])
			return aerr
		}
	}
	return r.iter.BuildHeap()
}

func closeReaders(rdrs []RowsetReader) {
	for _, rd := range rdrs {
		rd.Close()
	}
}

// rowsetsOverlapping reports whether the captured rowsets, walked in
// version order, fail the disjoint test: each one internally ordered
// and strictly below its successor's key range. Unknown bounds count
// as overlap, so the answer only ever errs toward merging.
func rowsetsOverlapping(rdrs []RowsetReader) bool {
	var last []byte
	lastTrunc := false
	for _, rd := range rdrs {
		m := rd.Meta()
		if m.Empty() {
			continue
		}
		if m.Overlapping {
			return true
		}
		b, ok := m.Bounds()
		if !ok {
			return true
		}
		if !meta.KeyStrictlyBelow(last, lastTrunc, b.First, b.FirstTruncated) {
			return true
		}
		last, lastTrunc = b.Last, b.LastTruncated
	}
	return false
}

func (r *BlockReader) initAggState(ctx context.Context) error {
	if r.eof {
		return nil
	}
	r.stored = batch.New(true, r.attrs)
	for j, typ := range r.colTypes {
		r.stored.Vecs[j] = vector.NewVec(typ)
	}
	r.storedIsVar = make([]bool, len(r.cols))
	r.storedNull = make([]bool, len(r.cols))
	r.tempRefMap = make(map[*batch.Batch][]refPos)
	for _, p := range r.aggIdx {
		col := r.schema.Columns[r.cols[p]]
		f, err := aggfunc.Lookup(col.Agg, r.colTypes[p])
		if err != nil {
			return moerr.NewInternalError(ctx,
				"tablet %d %s reader at version %d: column %s: %v",
				r.src.ID(), r.typ, r.version, col.Name, err)
		}
		r.aggFns = append(r.aggFns, f)
		r.aggStates = append(r.aggStates, f.NewState())
		if !r.colTypes[p].IsFixedLen() {
			r.storedIsVar[p] = true
			continue
		}
		// fixed width stored columns are overwritten positionally, so
		// they need their full extent up front
		vec := r.stored.Vecs[p]
		if err := vec.PreExtend(r.batchSize, r.mp); err != nil {
			return err
		}
		vec.SetLength(r.batchSize)
	}
	return nil
}

// NextBlockWithAggregation fills bat with the next run of merged
// rows. eof reports that the stream ended; the final batch may carry
// rows and eof at the same time.
func (r *BlockReader) NextBlockWithAggregation(ctx context.Context, bat *batch.Batch) (eof bool, err error) {
	if r.nextFn == nil {
		return false, moerr.NewInvalidStateNoCtx("block reader not initialized")
	}
	eof, err = r.nextFn(ctx, bat)
	if err != nil {
		logutil.Error("block reader next block failed",
			zap.Uint64("tablet", r.src.ID()),
			zap.String("reader-type", r.typ.String()),
			zap.Error(err))
	}
	return eof, err
}

// CurrentBlockRowLocations returns the origin of every row produced
// by the last call, with RowID -1 marking rows the delete filter
// removed. The slice is reused across calls. Aggregating readers
// record nothing: a folded row has no single origin.
func (r *BlockReader) CurrentBlockRowLocations() []RowLocation {
	return r.locs
}

// MergedRows counts input rows that were folded into or superseded by
// another row instead of surfacing in the output.
func (r *BlockReader) MergedRows() int64 {
	n := r.mergedRows
	if r.iter != nil {
		n += r.iter.SkippedRows()
	}
	return n
}

// DeleteFilteredRows counts rows dropped by the delete-sign filter.
func (r *BlockReader) DeleteFilteredRows() int64 {
	return r.delFiltered
}

// Overlapping reports whether the captured rowsets forced a key
// merge.
func (r *BlockReader) Overlapping() bool {
	return r.overlapping
}

func (r *BlockReader) Close() {
	if r.iter != nil {
		r.iter.Close()
		r.iter = nil
	}
	if r.stored != nil {
		r.stored.Clean(r.mp)
		r.stored = nil
	}
}

func (r *BlockReader) directNextBlock(_ context.Context, bat *batch.Batch) (bool, error) {
	if r.eof {
		bat.CleanOnlyData()
		return true, nil
	}
	err := r.iter.NextBlock(bat)
	if r.recordLocs {
		r.locs = r.iter.BlockRowLocations()
	}
	if err != nil {
		if moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
			r.eof = true
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (r *BlockReader) uniqueKeyNextBlock(_ context.Context, bat *batch.Batch) (bool, error) {
	if r.eof {
		bat.CleanOnlyData()
		return true, nil
	}
	bat.CleanOnlyData()
	r.locs = r.locs[:0]
	rows := 0
	for {
		if err := r.insertRowNormal(bat, r.cur); err != nil {
			return false, err
		}
		if r.recordLocs {
			r.locs = append(r.locs, r.iter.CurrentRowLocation())
		}
		rows++
		ref, err := r.iter.NextRow()
		if err != nil {
			if moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
				r.eof = true
				break
			}
			logutil.Warn("block reader advance failed",
				zap.Uint64("tablet", r.src.ID()), zap.Error(err))
			return false, err
		}
		r.cur = ref
		if rows >= r.batchSize {
			break
		}
	}
	bat.SetRowCount(rows)
	if r.filterDelete {
		if err := r.filterDeleteRows(bat); err != nil {
			return false, err
		}
	}
	return r.eof, nil
}

func (r *BlockReader) aggKeyNextBlock(_ context.Context, bat *batch.Batch) (bool, error) {
	if r.eof {
		bat.CleanOnlyData()
		return true, nil
	}
	bat.CleanOnlyData()
	rows := 0
	if err := r.insertRowNormal(bat, r.cur); err != nil {
		return false, err
	}
	rows++
	if err := r.appendAggColumns(bat, r.cur); err != nil {
		return false, err
	}
	for {
		ref, err := r.iter.NextRow()
		if err != nil {
			if moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
				r.eof = true
				break
			}
			logutil.Warn("block reader advance failed",
				zap.Uint64("tablet", r.src.ID()), zap.Error(err))
			return false, err
		}
		r.cur = ref
		if !ref.Same {
			if rows == r.batchSize {
				// the fresh key stays current for the next call
				break
			}
			r.counters = append(r.counters, r.lastCounter)
			r.lastCounter = 0
			if err := r.insertRowNormal(bat, ref); err != nil {
				return false, err
			}
			rows++
		} else {
			r.mergedRows++
		}
		if err := r.appendAggColumns(bat, ref); err != nil {
			return false, err
		}
	}
	// the last inserted key has no successor to close it
	r.counters = append(r.counters, r.lastCounter)
	r.lastCounter = 0
	if err := r.updateAggData(bat); err != nil {
		return false, err
	}
	bat.SetRowCount(rows)
	return r.eof, nil
}

// insertRowNormal copies the key and pass-through columns of ref into
// the output batch.
func (r *BlockReader) insertRowNormal(bat *batch.Batch, ref RowRef) error {
	for _, p := range r.normalIdx {
		if err := bat.Vecs[p].UnionOne(ref.Batch.Vecs[p], int64(ref.Row), r.mp); err != nil {
			return err
		}
	}
	return nil
}

// filterDeleteRows drops rows whose delete sign is nonzero. Survivors
// are compacted in place; the recorded locations are not, removed
// rows keep a RowID of -1 so the list length stays surviving rows
// plus deletes.
func (r *BlockReader) filterDeleteRows(bat *batch.Batch) error {
	n := bat.RowCount()
	if n == 0 {
		return nil
	}
	if r.deleteIdx <= 0 || r.deleteIdx >= bat.VectorCount() {
		logutil.Warn("delete sign column out of range, skip delete filtering",
			zap.Uint64("tablet", r.src.ID()),
			zap.Int("delete-sign-idx", r.deleteIdx))
		return nil
	}
	signs := vector.MustFixedCol[int8](bat.Vecs[r.deleteIdx])
	r.delSels = r.delSels[:0]
	deleted := 0
	for i := 0; i < n; i++ {
		if signs[i] == 0 {
			r.delSels = append(r.delSels, int64(i))
			continue
		}
		if r.recordLocs {
			r.locs[i].RowID = -1
		}
		deleted++
	}
	if deleted == 0 {
		return nil
	}
	bat.Shrink(r.delSels, false)
	r.delFiltered += int64(deleted)
	if r.recordLocs && len(r.locs) != bat.RowCount()+deleted {
		return moerr.NewInternalErrorNoCtx(
			"tablet %d: %d row locations for %d rows and %d deletes",
			r.src.ID(), len(r.locs), bat.RowCount(), deleted)
	}
	return nil
}

// appendAggColumns stages the current row for folding. The stage is
// flushed into the stored columns whenever the referenced row is the
// last of its batch, since that batch may be recycled on the next
// advance, or when batchSize references piled up.
func (r *BlockReader) appendAggColumns(bat *batch.Batch, ref RowRef) error {
	r.storedRefs = append(r.storedRefs, ref)
	r.lastCounter++
	isLast := ref.Row+1 == ref.Batch.RowCount()
	if isLast || len(r.storedRefs) == r.batchSize {
		return r.updateAggData(bat)
	}
	return nil
}

func (r *BlockReader) updateAggData(bat *batch.Batch) error {
	copySize, err := r.copyAggData()
	if err != nil {
		return err
	}
	for _, p := range r.aggIdx {
		r.storedNull[p] = copySize > 0 &&
			nulls.ContainsAny(r.stored.Vecs[p].GetNulls(), 0, uint64(copySize))
	}
	sum := 0
	for _, c := range r.counters {
		if err := r.updateAggValue(bat, sum, sum+c, true); err != nil {
			return err
		}
		sum += c
	}
	// the open key still has rows coming, fold without closing
	if r.lastCounter > 0 {
		if err := r.updateAggValue(bat, sum, sum+r.lastCounter, false); err != nil {
			return err
		}
		r.lastCounter = 0
	}
	r.counters = r.counters[:0]
	return nil
}

// updateAggValue folds stored rows [begin, end) into every running
// aggregate. When isClose is set the finished value is appended to
// the output column and the state reset. An empty range still closes:
// a key whose rows were all folded by earlier flushes owes its result
// row here.
func (r *BlockReader) updateAggValue(bat *batch.Batch, begin, end int, isClose bool) error {
	for i, p := range r.aggIdx {
		f := r.aggFns[i]
		st := r.aggStates[i]
		if begin < end {
			if err := f.AddBatchRange(st, r.stored.Vecs[p], begin, end, r.storedNull[p]); err != nil {
				return err
			}
		}
		if isClose {
			if err := f.InsertResultInto(st, bat.Vecs[p], r.mp); err != nil {
				return err
			}
			f.Reset(st)
		}
	}
	return nil
}

// copyAggData materializes the staged row references into the stored
// columns. Fixed width columns are overwritten positionally, grouped
// by source batch. Variable length columns are rebuilt in reference
// order, their payloads cannot be replaced in place.
func (r *BlockReader) copyAggData() (int, error) {
	copySize := len(r.storedRefs)
	for i := 0; i < copySize; i++ {
		ref := r.storedRefs[i]
		r.tempRefMap[ref.Batch] = append(r.tempRefMap[ref.Batch], refPos{src: ref.Row, dst: i})
	}
	for _, p := range r.aggIdx {
		dst := r.stored.Vecs[p]
		if r.storedIsVar[p] {
			dst.CleanOnlyData()
			for i := 0; i < copySize; i++ {
				ref := r.storedRefs[i]
				if err := dst.UnionOne(ref.Batch.Vecs[p], int64(ref.Row), r.mp); err != nil {
					return 0, err
				}
			}
			continue
		}
		for bat, poss := range r.tempRefMap {
			src := bat.Vecs[p]
			for _, pos := range poss {
				if err := dst.Copy(src, int64(pos.dst), int64(pos.src), r.mp); err != nil {
					return 0, err
				}
			}
		}
	}
	// drop the batch keys too, a held pointer would pin a recycled
	// window
	for bat := range r.tempRefMap {
		delete(r.tempRefMap, bat)
	}
	r.storedRefs = r.storedRefs[:0]
	return copySize, nil
}
