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

package tablet

import (
	"context"

	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/container/vector"
	"github.com/granarydb/granary/pkg/logutil"
	"github.com/granarydb/granary/pkg/sort"
	"github.com/granarydb/granary/pkg/storage/catalog"
	"github.com/granarydb/granary/pkg/storage/meta"
	"github.com/granarydb/granary/pkg/storage/rowset"
	"go.uber.org/zap"
)

// Ingest writes one load as a new rowset under the next version and
// returns that version. The batch is sorted by key in place when it
// is not already ordered; the caller keeps ownership of it. A schema
// with a trailing delete sign accepts loads without that column, the
// writer appends a zero-filled one on the way to disk.
func (t *Tablet) Ingest(ctx context.Context, bat *batch.Batch) (meta.Version, error) {
	var none meta.Version
	if bat == nil || bat.RowCount() == 0 {
		return none, moerr.NewInvalidInput(ctx, "ingest of empty batch into tablet %d", t.tm.ID)
	}
	s := t.tm.Schema
	if err := t.checkIngestColumns(ctx, bat); err != nil {
		return none, err
	}
	if !sort.IsSortedByKey(bat, s.NumKeyColumns) {
		if err := sort.SortByKey(bat, s.NumKeyColumns, t.mp); err != nil {
			return none, err
		}
	}

	t.ingestMu.Lock()
	defer t.ingestMu.Unlock()

	v := t.VisibleVersion() + 1
	ver := meta.Version{Start: v, End: v}
	rowsetID, err := t.cat.NextID(catalog.RowsetSeq(t.tm.ID))
	if err != nil {
		return none, err
	}
	in, sign, err := t.withDeleteSign(bat)
	if err != nil {
		return none, err
	}
	defer func() {
		if sign != nil {
			sign.Free(t.mp)
		}
	}()

	w := rowset.NewWriter(t.dir, t.tm.ID, rowsetID, ver, s, t.opts.SegmentMaxRows)
	if err := t.appendBlocks(w, in); err != nil {
		w.Abort()
		return none, err
	}
	m, err := w.Finish()
	if err != nil {
		w.Abort()
		return none, err
	}
	if err := t.cat.CommitRowset(ctx, m); err != nil {
		logutil.Warn("rowset commit failed",
			zap.Uint64("tablet", t.tm.ID),
			zap.Uint64("rowset", rowsetID),
			zap.Error(err))
		w.Abort()
		return none, err
	}

	t.mu.Lock()
	rerr := t.register(m)
	if rerr == nil {
		t.visible = ver.End
	}
	t.mu.Unlock()
	if rerr != nil && !moerr.IsMoErrCode(rerr, moerr.OkExpectedDup) {
		return none, rerr
	}
	logutil.Info("rowset ingested",
		zap.Uint64("tablet", t.tm.ID),
		zap.Uint64("rowset", m.ID),
		zap.String("version", ver.String()),
		zap.Int64("rows", m.Rows),
		zap.Int("segments", len(m.Segments)))
	return ver, nil
}

func (t *Tablet) checkIngestColumns(ctx context.Context, bat *batch.Batch) error {
	s := t.tm.Schema
	want := len(s.Columns)
	got := bat.VectorCount()
	if ds := s.DeleteSignIdx(); got == want-1 && ds == want-1 {
		want--
	} else if got != want {
		return moerr.NewSchemaMismatched(ctx,
			"tablet %d ingest with %d columns, schema has %d", t.tm.ID, got, len(s.Columns))
	}
	for j := 0; j < want; j++ {
		vec := bat.Vecs[j]
		if vec == nil || vec.GetType().Oid != s.Columns[j].Type.Oid {
			return moerr.NewSchemaMismatched(ctx,
				"tablet %d ingest column %d is not %s", t.tm.ID, j, s.Columns[j].Type.Oid)
		}
	}
	return nil
}

// withDeleteSign returns the batch to persist. When the input misses
// the trailing delete sign column, the result is a shallow wrapper
// sharing the input's vectors plus a zero sign vector, which is also
// returned so the caller can free it. The wrapper itself must not be
// cleaned.
func (t *Tablet) withDeleteSign(bat *batch.Batch) (*batch.Batch, *vector.Vector, error) {
	s := t.tm.Schema
	if bat.VectorCount() == len(s.Columns) {
		return bat, nil, nil
	}
	sign := vector.NewVec(s.Columns[len(s.Columns)-1].Type)
	if err := vector.AppendMultiFixed[int8](sign, 0, false, bat.RowCount(), t.mp); err != nil {
		sign.Free(t.mp)
		return nil, nil, err
	}
	in := batch.New(true, s.Attrs())
	copy(in.Vecs, bat.Vecs)
	in.Vecs[len(in.Vecs)-1] = sign
	in.SetRowCount(bat.RowCount())
	return in, sign, nil
}

// appendBlocks feeds the writer in block-sized slices, so segments
// end up organized the same way regardless of the load's batch size.
func (t *Tablet) appendBlocks(w *rowset.Writer, bat *batch.Batch) error {
	rows := bat.RowCount()
	if rows <= t.opts.BlockMaxRows {
		return w.Append(bat)
	}
	for lo := 0; lo < rows; lo += t.opts.BlockMaxRows {
		hi := lo + t.opts.BlockMaxRows
		if hi > rows {
			hi = rows
		}
		blk, err := cloneWindow(bat, lo, hi, t.mp)
		if err != nil {
			return err
		}
		err = w.Append(blk)
		blk.Clean(t.mp)
		if err != nil {
			return err
		}
	}
	return nil
}

func cloneWindow(bat *batch.Batch, lo, hi int, mp *mpool.MPool) (*batch.Batch, error) {
	out := batch.New(true, bat.Attrs)
	for j, vec := range bat.Vecs {
		w, err := vec.CloneWindow(lo, hi, mp)
		if err != nil {
			out.Clean(mp)
			return nil, err
		}
		out.Vecs[j] = w
	}
	out.SetRowCount(hi - lo)
	return out, nil
}
