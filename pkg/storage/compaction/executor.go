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

package compaction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/container/vector"
	"github.com/granarydb/granary/pkg/logutil"
	"github.com/granarydb/granary/pkg/storage/catalog"
	"github.com/granarydb/granary/pkg/storage/meta"
	"github.com/granarydb/granary/pkg/storage/read"
	"github.com/granarydb/granary/pkg/storage/rowset"
	"github.com/granarydb/granary/pkg/storage/tablet"
)

const (
	defaultBatchSize      = 4096
	defaultSegmentMaxRows = 65536
)

// runSource serves a picked run of rowsets as a read source, so the
// block reader merges exactly those inputs instead of resolving the
// tablet's version chain.
type runSource struct {
	tab *tablet.Tablet
	run []*meta.RowsetMeta
	mp  *mpool.MPool
}

func (s *runSource) ID() uint64           { return s.tab.ID() }
func (s *runSource) Schema() *meta.Schema { return s.tab.Schema() }

func (s *runSource) CaptureReaders(ctx context.Context, version int64, cols []int) ([]read.RowsetReader, error) {
	rdrs := make([]read.RowsetReader, 0, len(s.run))
	for _, m := range s.run {
		rdrs = append(rdrs, rowset.NewReader(s.tab.Dir(), m, cols, s.mp))
	}
	return rdrs, nil
}

// Executor rewrites a run of rowsets into one. It owns the swap
// protocol: write the merged rowset, commit the swap to the catalog,
// update the tablet's index, publish transfer pages, then drop the
// input files.
type Executor struct {
	cat      *catalog.Catalog
	transfer *TransferTable
	mp       *mpool.MPool

	batchSize      int
	segmentMaxRows int
}

func NewExecutor(cat *catalog.Catalog, transfer *TransferTable, mp *mpool.MPool,
	batchSize, segmentMaxRows int) *Executor {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if segmentMaxRows <= 0 {
		segmentMaxRows = defaultSegmentMaxRows
	}
	return &Executor{
		cat:            cat,
		transfer:       transfer,
		mp:             mp,
		batchSize:      batchSize,
		segmentMaxRows: segmentMaxRows,
	}
}

// Merge compacts run, a version-contiguous slice of the tablet's
// rowsets in version order, into one rowset spanning their versions.
// Delete filtering only applies when the run starts the version
// chain. A later run must keep its delete markers, dropping them
// there would resurrect older versions of the key below the run.
func (e *Executor) Merge(ctx context.Context, tab *tablet.Tablet, run []*meta.RowsetMeta) (*meta.RowsetMeta, error) {
	if len(run) < 2 {
		return nil, moerr.NewInvalidInput(ctx, "compaction needs at least two rowsets, got %d", len(run))
	}
	start := time.Now()
	ver := meta.Version{Start: run[0].Version.Start, End: run[len(run)-1].Version.End}

	rowsetID, err := e.cat.NextID(catalog.RowsetSeq(tab.ID()))
	if err != nil {
		return nil, err
	}

	r := read.NewBlockReader()
	err = r.Init(ctx, read.ReaderParams{
		Tablet:             &runSource{tab: tab, run: run, mp: e.mp},
		Version:            ver.End,
		Type:               read.ReaderCompaction,
		BatchSize:          e.batchSize,
		RecordRowLocations: true,
		FilterDelete:       ver.Start == 1,
		Mp:                 e.mp,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	w := rowset.NewWriter(tab.Dir(), tab.ID(), rowsetID, ver, tab.Schema(), e.segmentMaxRows)
	m, locs, err := e.rewrite(ctx, tab, r, w)
	if err != nil {
		w.Abort()
		return nil, err
	}

	removed := make([]uint64, len(run))
	for i, in := range run {
		removed[i] = in.ID
	}
	if err = e.cat.CommitCompaction(ctx, m, removed); err != nil {
		w.Abort()
		return nil, err
	}
	if err = tab.ApplyCompaction(m, removed); err != nil {
		// the catalog swap is durable, only the in-memory index
		// refused it; keep the input files for a reopen to sort out
		return nil, err
	}

	e.publishPages(tab.ID(), m, locs, run)

	// readers opened before the swap hold the inodes alive
	for _, in := range run {
		if rerr := rowset.Remove(tab.Dir(), in); rerr != nil {
			logutil.Warn("remove compacted rowset failed",
				zap.Uint64("tablet", tab.ID()),
				zap.Uint64("rowset", in.ID),
				zap.Error(rerr))
		}
	}

	logutil.Info("rowsets compacted",
		zap.Uint64("tablet", tab.ID()),
		zap.Uint64("rowset", m.ID),
		zap.String("version", ver.String()),
		zap.Int("inputs", len(run)),
		zap.Int64("rows", m.Rows),
		zap.Int64("merged-rows", r.MergedRows()),
		zap.Int64("deleted-rows", r.DeleteFilteredRows()),
		zap.Duration("cost", time.Since(start)))
	return m, nil
}

// rewrite drains the merge into the writer and collects the row
// locations as one flat list in output order. Entries with RowID -1
// are rows the delete filter dropped.
func (e *Executor) rewrite(ctx context.Context, tab *tablet.Tablet,
	r *read.BlockReader, w *rowset.Writer) (*meta.RowsetMeta, []read.RowLocation, error) {
	out := batch.New(true, tab.Schema().Attrs())
	for i, typ := range tab.Schema().Types() {
		out.Vecs[i] = vector.NewVec(typ)
	}
	defer out.Clean(e.mp)

	var locs []read.RowLocation
	for {
		eof, err := r.NextBlockWithAggregation(ctx, out)
		if err != nil {
			return nil, nil, err
		}
		if out.RowCount() > 0 {
			if err := w.Append(out); err != nil {
				return nil, nil, err
			}
		}
		locs = append(locs, r.CurrentBlockRowLocations()...)
		if eof {
			break
		}
	}
	m, err := w.Finish()
	if err != nil {
		return nil, nil, err
	}
	return m, locs, nil
}

// publishPages trains one transfer page per replaced rowset and adds
// them to the table. Aggregating merges record no locations and
// publish nothing, a folded row has no single origin to map from.
func (e *Executor) publishPages(tabletID uint64, out *meta.RowsetMeta,
	locs []read.RowLocation, run []*meta.RowsetMeta) {
	if e.transfer == nil || len(locs) == 0 {
		return
	}
	born := time.Now()
	pages := make(map[uint64]*TransferPage, len(run))
	for _, in := range run {
		pages[in.ID] = NewTransferPage(
			PageID{TabletID: tabletID, RowsetID: in.ID}, out.ID, born)
	}
	var ordinal, segBase int64
	segIdx := 0
	for _, loc := range locs {
		if loc.RowID < 0 {
			continue
		}
		for segIdx < len(out.Segments) && ordinal-segBase >= out.Segments[segIdx].Rows {
			segBase += out.Segments[segIdx].Rows
			segIdx++
		}
		if segIdx >= len(out.Segments) {
			logutil.Error("row locations outran the merged rowset",
				zap.Uint64("tablet", tabletID),
				zap.Uint64("rowset", out.ID),
				zap.Int64("rows", out.Rows))
			return
		}
		if page := pages[loc.RowsetID]; page != nil {
			page.Train(
				RowPos{SegmentID: loc.SegmentID, RowID: loc.RowID},
				RowPos{SegmentID: out.Segments[segIdx].ID, RowID: ordinal - segBase})
		}
		ordinal++
	}
	for _, page := range pages {
		if e.transfer.AddPage(page) {
			logutil.Warn("duplicate transfer page dropped",
				zap.Uint64("tablet", tabletID),
				zap.Uint64("rowset", page.ID().RowsetID))
		}
	}
}
