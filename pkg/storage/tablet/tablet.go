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

// Package tablet ties one table shard together: a schema, the set of
// immutable rowsets indexed by version, and the ingest and read entry
// points. Rowset versions form a dense chain starting at 1; a read
// captures the chain up to its version, a compaction replaces a run
// of the chain with one merged rowset.
package tablet

import (
	"context"
	"os"
	"sync"

	"github.com/google/btree"
	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/storage/catalog"
	"github.com/granarydb/granary/pkg/storage/meta"
	"github.com/granarydb/granary/pkg/storage/read"
	"github.com/granarydb/granary/pkg/storage/rowset"
)

const (
	defaultSegmentMaxRows = 65536
	defaultBlockMaxRows   = 4096

	indexDegree = 8
)

// Options tunes the write path of one tablet.
type Options struct {
	// SegmentMaxRows rolls segment files during ingest and compaction.
	SegmentMaxRows int

	// BlockMaxRows splits an ingested batch into blocks, the unit a
	// segment stores and a reader decompresses.
	BlockMaxRows int
}

func (o *Options) fill() {
	if o.SegmentMaxRows <= 0 {
		o.SegmentMaxRows = defaultSegmentMaxRows
	}
	if o.BlockMaxRows <= 0 {
		o.BlockMaxRows = defaultBlockMaxRows
	}
}

// versionNode indexes one rowset by its version start.
type versionNode struct {
	m *meta.RowsetMeta
}

func (n *versionNode) Less(item btree.Item) bool {
	return n.m.Version.Start < item.(*versionNode).m.Version.Start
}

// Tablet is safe for concurrent use: readers capture rowsets under a
// read lock, ingest and compaction swap the index under the write
// lock. Ingests additionally serialize among themselves so version
// numbering stays dense.
type Tablet struct {
	tm   *meta.TabletMeta
	dir  string
	cat  *catalog.Catalog
	mp   *mpool.MPool
	opts Options

	ingestMu sync.Mutex

	mu      sync.RWMutex
	index   *btree.BTree
	visible int64
}

// Open loads the tablet's rowsets from the catalog and rebuilds the
// version index. The data directory is created if missing.
func Open(ctx context.Context, dir string, tm *meta.TabletMeta, cat *catalog.Catalog, mp *mpool.MPool, opts Options) (*Tablet, error) {
	if tm == nil || tm.Schema == nil {
		return nil, moerr.NewInvalidArgNoCtx("tablet meta", tm)
	}
	if err := tm.Schema.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	opts.fill()
	t := &Tablet{
		tm:    tm,
		dir:   dir,
		cat:   cat,
		mp:    mp,
		opts:  opts,
		index: btree.New(indexDegree),
	}
	metas, err := cat.ListRowsets(ctx, tm.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range metas {
		if err := t.register(m); err != nil {
			if moerr.IsMoErrCode(err, moerr.OkExpectedDup) {
				continue
			}
			return nil, err
		}
	}
	t.visible = t.visibleLocked()
	return t, nil
}

func (t *Tablet) ID() uint64 {
	return t.tm.ID
}

func (t *Tablet) Schema() *meta.Schema {
	return t.tm.Schema
}

func (t *Tablet) Meta() *meta.TabletMeta {
	return t.tm
}

// Dir is the directory holding this tablet's segment files.
func (t *Tablet) Dir() string {
	return t.dir
}

// VisibleVersion is the highest version readable without a gap.
func (t *Tablet) VisibleVersion() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.visible
}

// Rowsets returns a snapshot of the registered rowset metas in
// version order.
func (t *Tablet) Rowsets() []*meta.RowsetMeta {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*meta.RowsetMeta, 0, t.index.Len())
	t.index.Ascend(func(item btree.Item) bool {
		out = append(out, item.(*versionNode).m)
		return true
	})
	return out
}

// CaptureReaders resolves the version chain [1, version] and hands
// out one reader per rowset on it, oldest version first. A chain gap
// or a rowset reaching past the requested version is a version miss.
// Ownership of the returned readers passes to the caller.
func (t *Tablet) CaptureReaders(ctx context.Context, version int64, cols []int) ([]read.RowsetReader, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var path []*meta.RowsetMeta
	next := int64(1)
	t.index.Ascend(func(item btree.Item) bool {
		m := item.(*versionNode).m
		if m.Version.Start > version || m.Version.Start != next {
			return false
		}
		if m.Version.End > version {
			return false
		}
		path = append(path, m)
		next = m.Version.End + 1
		return true
	})
	if next != version+1 {
		return nil, moerr.NewVersionMiss(ctx, t.tm.ID, next)
	}
	rdrs := make([]read.RowsetReader, 0, len(path))
	for _, m := range path {
		rdrs = append(rdrs, rowset.NewReader(t.dir, m, cols, t.mp))
	}
	return rdrs, nil
}

// Reader builds a block reader over this tablet. A zero or negative
// version reads the currently visible one. When delete filtering is
// requested with a projection that misses the delete sign column, the
// sign is appended to the projection, so the produced batches carry
// it as an extra trailing column.
func (t *Tablet) Reader(ctx context.Context, params read.ReaderParams) (*read.BlockReader, error) {
	params.Tablet = t
	if params.Mp == nil {
		params.Mp = t.mp
	}
	if params.Version <= 0 {
		params.Version = t.VisibleVersion()
	}
	if params.FilterDelete && params.Columns != nil {
		if ds := t.tm.Schema.DeleteSignIdx(); ds >= 0 && !containsCol(params.Columns, ds) {
			cols := make([]int, 0, len(params.Columns)+1)
			cols = append(cols, params.Columns...)
			params.Columns = append(cols, ds)
		}
	}
	r := read.NewBlockReader()
	if err := r.Init(ctx, params); err != nil {
		return nil, err
	}
	return r, nil
}

// ApplyCompaction swaps a merged run of rowsets for its output in the
// version index. The catalog swap must already be durable.
func (t *Tablet) ApplyCompaction(added *meta.RowsetMeta, removed []uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	gone := make(map[uint64]struct{}, len(removed))
	for _, id := range removed {
		gone[id] = struct{}{}
	}
	var victims []*versionNode
	t.index.Ascend(func(item btree.Item) bool {
		n := item.(*versionNode)
		if _, ok := gone[n.m.ID]; ok {
			victims = append(victims, n)
		}
		return true
	})
	if len(victims) != len(removed) {
		return moerr.NewInternalErrorNoCtx(
			"tablet %d: compaction removes %d rowsets, index holds %d of them",
			t.tm.ID, len(removed), len(victims))
	}
	for _, n := range victims {
		t.index.Delete(n)
	}
	if err := t.register(added); err != nil {
		return err
	}
	t.visible = t.visibleLocked()
	return nil
}

// register inserts one rowset into the index. Re-registering the same
// rowset is an expected duplicate; a different rowset at an occupied
// version start is corruption.
func (t *Tablet) register(m *meta.RowsetMeta) error {
	key := &versionNode{m: m}
	if got := t.index.Get(key); got != nil {
		existing := got.(*versionNode).m
		if existing.ID == m.ID {
			return moerr.GetOkExpectedDup()
		}
		return moerr.NewInternalErrorNoCtx(
			"tablet %d: rowsets %d and %d both start at version %d",
			t.tm.ID, existing.ID, m.ID, m.Version.Start)
	}
	t.index.ReplaceOrInsert(key)
	return nil
}

// visibleLocked walks the chain from version 1 and returns the last
// version before the first gap.
func (t *Tablet) visibleLocked() int64 {
	next := int64(1)
	t.index.Ascend(func(item btree.Item) bool {
		m := item.(*versionNode).m
		if m.Version.Start != next {
			return false
		}
		next = m.Version.End + 1
		return true
	})
	return next - 1
}

func containsCol(cols []int, c int) bool {
	for _, x := range cols {
		if x == c {
			return true
		}
	}
	return false
}
