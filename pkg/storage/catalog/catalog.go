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

// Package catalog persists tablet and rowset metadata in a pebble
// keyspace:
//
//	t/<tablet>           tablet meta
//	r/<tablet>/<rowset>  rowset meta
//	s/<scope>            id sequences
//
// Values are JSON. Rowset swaps commit through one synced batch, so a
// compaction either fully replaces its inputs or leaves them intact.
package catalog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/storage/meta"
)

type Catalog struct {
	db *pebble.DB

	// guards read-modify-write of the id sequences
	seqMu sync.Mutex
}

func Open(dir string) (*Catalog, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func tabletKey(id uint64) []byte {
	k := make([]byte, 2+8)
	copy(k, "t/")
	binary.BigEndian.PutUint64(k[2:], id)
	return k
}

func rowsetPrefix(tabletID uint64) []byte {
	k := make([]byte, 2+8+1)
	copy(k, "r/")
	binary.BigEndian.PutUint64(k[2:], tabletID)
	k[10] = '/'
	return k
}

func rowsetKey(tabletID, rowsetID uint64) []byte {
	k := make([]byte, 2+8+1+8)
	copy(k, rowsetPrefix(tabletID))
	binary.BigEndian.PutUint64(k[11:], rowsetID)
	return k
}

func seqKey(scope string) []byte {
	return append([]byte("s/"), scope...)
}

// upperBound is the smallest key above every key with the prefix.
func upperBound(prefix []byte) []byte {
	u := make([]byte, len(prefix))
	copy(u, prefix)
	for i := len(u) - 1; i >= 0; i-- {
		u[i]++
		if u[i] != 0 {
			return u[:i+1]
		}
	}
	return nil
}

// NextID returns the next value of a named sequence, starting at 1.
func (c *Catalog) NextID(scope string) (uint64, error) {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	key := seqKey(scope)
	var next uint64 = 1
	v, closer, err := c.db.Get(key)
	switch err {
	case nil:
		next = binary.BigEndian.Uint64(v) + 1
		closer.Close()
	case pebble.ErrNotFound:
	default:
		return 0, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := c.db.Set(key, buf[:], pebble.Sync); err != nil {
		return 0, err
	}
	return next, nil
}

func (c *Catalog) CreateTablet(ctx context.Context, tm *meta.TabletMeta) error {
	if tm.ID == 0 {
		return moerr.NewInvalidArg(ctx, "tablet id", tm.ID)
	}
	key := tabletKey(tm.ID)
	if _, closer, err := c.db.Get(key); err == nil {
		closer.Close()
		return moerr.NewInvalidState(ctx, "tablet %d already exists", tm.ID)
	} else if err != pebble.ErrNotFound {
		return err
	}
	body, err := json.Marshal(tm)
	if err != nil {
		return err
	}
	return c.db.Set(key, body, pebble.Sync)
}

func (c *Catalog) GetTablet(ctx context.Context, id uint64) (*meta.TabletMeta, error) {
	v, closer, err := c.db.Get(tabletKey(id))
	if err == pebble.ErrNotFound {
		return nil, moerr.NewTabletNotFound(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	tm := new(meta.TabletMeta)
	if err := json.Unmarshal(v, tm); err != nil {
		return nil, err
	}
	return tm, nil
}

func (c *Catalog) ListTablets(ctx context.Context) ([]*meta.TabletMeta, error) {
	prefix := []byte("t/")
	iter := c.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	var out []*meta.TabletMeta
	for iter.First(); iter.Valid(); iter.Next() {
		tm := new(meta.TabletMeta)
		if err := json.Unmarshal(iter.Value(), tm); err != nil {
			iter.Close()
			return nil, err
		}
		out = append(out, tm)
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return nil, err
	}
	return out, iter.Close()
}

// DropTablet removes the tablet meta, its rowset metas and its
// sequences in one synced batch. Segment file removal is up to the
// caller.
func (c *Catalog) DropTablet(ctx context.Context, id uint64) error {
	if _, err := c.GetTablet(ctx, id); err != nil {
		return err
	}
	bat := c.db.NewBatch()
	defer bat.Close()
	if err := bat.Delete(tabletKey(id), nil); err != nil {
		return err
	}
	prefix := rowsetPrefix(id)
	if err := bat.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
		return err
	}
	if err := bat.Delete(seqKey(RowsetSeq(id)), nil); err != nil {
		return err
	}
	return bat.Commit(pebble.Sync)
}

// CommitRowset makes one rowset durable and visible.
func (c *Catalog) CommitRowset(ctx context.Context, m *meta.RowsetMeta) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.db.Set(rowsetKey(m.TabletID, m.ID), body, pebble.Sync)
}

// ListRowsets returns every rowset of a tablet in id order.
func (c *Catalog) ListRowsets(ctx context.Context, tabletID uint64) ([]*meta.RowsetMeta, error) {
	prefix := rowsetPrefix(tabletID)
	iter := c.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	var out []*meta.RowsetMeta
	for iter.First(); iter.Valid(); iter.Next() {
		m := new(meta.RowsetMeta)
		if err := json.Unmarshal(iter.Value(), m); err != nil {
			iter.Close()
			return nil, err
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return nil, err
	}
	return out, iter.Close()
}

// CommitCompaction atomically publishes the merged rowset and retires
// its inputs.
func (c *Catalog) CommitCompaction(ctx context.Context, added *meta.RowsetMeta, removed []uint64) error {
	body, err := json.Marshal(added)
	if err != nil {
		return err
	}
	bat := c.db.NewBatch()
	defer bat.Close()
	if err := bat.Set(rowsetKey(added.TabletID, added.ID), body, nil); err != nil {
		return err
	}
	for _, rid := range removed {
		if err := bat.Delete(rowsetKey(added.TabletID, rid), nil); err != nil {
			return err
		}
	}
	return bat.Commit(pebble.Sync)
}

// RowsetSeq names the rowset id sequence of one tablet.
func RowsetSeq(tabletID uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], tabletID)
	return "rowset/" + string(buf[:])
}
