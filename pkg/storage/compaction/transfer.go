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
	"sync"
	"time"

	"github.com/granarydb/granary/pkg/common/moerr"
)

// PageID names a source rowset replaced by a compaction.
type PageID struct {
	TabletID uint64
	RowsetID uint64
}

// RowPos is a row's position inside a rowset.
type RowPos struct {
	SegmentID uint64
	RowID     int64
}

// TransferPage remaps one replaced rowset's rows to their positions
// in the merged rowset. A position with no entry belongs to a row the
// merge dropped. Pages are trained once by the executor and read-only
// afterwards.
type TransferPage struct {
	born time.Time
	id   PageID
	dest uint64
	rows map[RowPos]RowPos
}

func NewTransferPage(id PageID, dest uint64, born time.Time) *TransferPage {
	return &TransferPage{
		born: born,
		id:   id,
		dest: dest,
		rows: make(map[RowPos]RowPos),
	}
}

func (page *TransferPage) ID() PageID { return page.id }

// Dest returns the merged rowset's id.
func (page *TransferPage) Dest() uint64 { return page.dest }

func (page *TransferPage) Length() int { return len(page.rows) }

func (page *TransferPage) TTL(now time.Time, ttl time.Duration) bool {
	return now.After(page.born.Add(ttl))
}

func (page *TransferPage) Train(from, to RowPos) {
	page.rows[from] = to
}

// Transfer resolves a source position. ok is false for dropped rows.
func (page *TransferPage) Transfer(from RowPos) (to RowPos, ok bool) {
	to, ok = page.rows[from]
	return
}

// TransferTable keeps recent compactions' pages so readers holding
// positions into replaced rowsets can follow their rows. Pages expire
// after the table's ttl; a reader that outlives it must restart from
// the catalog.
type TransferTable struct {
	sync.RWMutex
	ttl   time.Duration
	pages map[PageID]*TransferPage
}

func NewTransferTable(ttl time.Duration) *TransferTable {
	return &TransferTable{
		ttl:   ttl,
		pages: make(map[PageID]*TransferPage),
	}
}

func (table *TransferTable) Get(id PageID) (page *TransferPage, err error) {
	table.RLock()
	defer table.RUnlock()
	var found bool
	if page, found = table.pages[id]; !found {
		err = moerr.GetOkExpectedEOB()
	}
	return
}

func (table *TransferTable) Len() int {
	table.RLock()
	defer table.RUnlock()
	return len(table.pages)
}

func (table *TransferTable) AddPage(page *TransferPage) (dup bool) {
	table.Lock()
	defer table.Unlock()
	if _, found := table.pages[page.id]; found {
		dup = true
		return
	}
	table.pages[page.id] = page
	return
}

func (table *TransferTable) DeletePage(id PageID) (deleted bool) {
	table.Lock()
	defer table.Unlock()
	if _, found := table.pages[id]; !found {
		return
	}
	delete(table.pages, id)
	deleted = true
	return
}

func (table *TransferTable) prepareTTL(now time.Time) (ids []PageID) {
	table.RLock()
	defer table.RUnlock()
	for id, page := range table.pages {
		if page.TTL(now, table.ttl) {
			ids = append(ids, id)
		}
	}
	return
}

func (table *TransferTable) executeTTL(ids []PageID) {
	if len(ids) == 0 {
		return
	}
	table.Lock()
	defer table.Unlock()
	for _, id := range ids {
		delete(table.pages, id)
	}
}

func (table *TransferTable) RunTTL(now time.Time) {
	table.executeTTL(table.prepareTTL(now))
}

func (table *TransferTable) Close() {
	table.Lock()
	defer table.Unlock()
	table.pages = make(map[PageID]*TransferPage)
}
