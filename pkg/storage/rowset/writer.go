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
	"os"
	"time"

	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/storage/meta"
	"github.com/granarydb/granary/pkg/storage/segment"
)

// Writer streams batches into segment files, rolling to a new segment
// once the current one reaches maxRows. Input batches must already be
// in key order; the writer flags the rowset as overlapping if the
// finished segments contradict that.
type Writer struct {
	dir      string
	schema   *meta.Schema
	tabletID uint64
	rowsetID uint64
	version  meta.Version
	maxRows  int64

	cur     *segment.Writer
	curRows int64
	segs    []meta.SegmentMeta
	size    int64
	overlap bool
}

func NewWriter(dir string, tabletID, rowsetID uint64, version meta.Version, schema *meta.Schema, maxRows int) *Writer {
	return &Writer{
		dir:      dir,
		schema:   schema,
		tabletID: tabletID,
		rowsetID: rowsetID,
		version:  version,
		maxRows:  int64(maxRows),
	}
}

func (w *Writer) Append(bat *batch.Batch) error {
	if bat.RowCount() == 0 {
		return nil
	}
	if w.cur != nil && w.curRows >= w.maxRows {
		if err := w.roll(); err != nil {
			return err
		}
	}
	if w.cur == nil {
		path := SegmentPath(w.dir, w.rowsetID, uint64(len(w.segs)))
		sw, err := segment.NewWriter(path, w.schema)
		if err != nil {
			return err
		}
		w.cur = sw
	}
	if err := w.cur.Append(bat); err != nil {
		return err
	}
	w.curRows += int64(bat.RowCount())
	return nil
}

func (w *Writer) roll() error {
	sm, err := w.cur.Finish()
	if err != nil {
		return err
	}
	sm.ID = uint64(len(w.segs))
	if n := len(w.segs); n > 0 && !w.segs[n-1].Bounds.StrictlyBelow(sm.Bounds) {
		w.overlap = true
	}
	w.segs = append(w.segs, sm)
	w.size += sm.Size
	w.cur = nil
	w.curRows = 0
	return nil
}

// Finish closes the open segment and returns the rowset meta. The
// meta is not yet durable, committing it to the catalog is the
// caller's job.
func (w *Writer) Finish() (*meta.RowsetMeta, error) {
	if w.cur != nil {
		if err := w.roll(); err != nil {
			return nil, err
		}
	}
	m := &meta.RowsetMeta{
		ID:          w.rowsetID,
		TabletID:    w.tabletID,
		Version:     w.version,
		Segments:    w.segs,
		Overlapping: w.overlap,
		CreatedAt:   time.Now(),
	}
	for i := range w.segs {
		m.Rows += w.segs[i].Rows
	}
	m.Size = w.size
	return m, nil
}

// Abort drops the open segment and every finished segment file.
func (w *Writer) Abort() {
	if w.cur != nil {
		w.cur.Abort()
		w.cur = nil
	}
	for i := range w.segs {
		_ = os.Remove(SegmentPath(w.dir, w.rowsetID, w.segs[i].ID))
	}
	w.segs = nil
}
