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
	"testing"
	"time"

	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/stretchr/testify/assert"
)

func TestTransferPage(t *testing.T) {
	id := PageID{TabletID: 1, RowsetID: 7}
	ttl := time.Millisecond * 10
	now := time.Now()
	page := NewTransferPage(id, 9, now)
	assert.Equal(t, id, page.ID())
	assert.Equal(t, uint64(9), page.Dest())

	for i := 0; i < 10; i++ {
		page.Train(
			RowPos{SegmentID: 0, RowID: int64(i)},
			RowPos{SegmentID: 1, RowID: int64(i + 3)})
	}
	assert.Equal(t, 10, page.Length())

	assert.False(t, page.TTL(now.Add(ttl-time.Duration(1)), ttl))
	assert.True(t, page.TTL(now.Add(ttl+time.Duration(1)), ttl))

	for i := 0; i < 10; i++ {
		to, ok := page.Transfer(RowPos{SegmentID: 0, RowID: int64(i)})
		assert.True(t, ok)
		assert.Equal(t, RowPos{SegmentID: 1, RowID: int64(i + 3)}, to)
	}
	_, ok := page.Transfer(RowPos{SegmentID: 0, RowID: 99})
	assert.False(t, ok)
}

func TestTransferTable(t *testing.T) {
	ttl := time.Minute
	table := NewTransferTable(ttl)
	defer table.Close()

	id1 := PageID{TabletID: 1, RowsetID: 1}
	id2 := PageID{TabletID: 1, RowsetID: 2}

	now := time.Now()
	page1 := NewTransferPage(id1, 9, now)
	for i := 0; i < 10; i++ {
		page1.Train(RowPos{RowID: int64(i)}, RowPos{RowID: int64(i)})
	}

	assert.False(t, table.AddPage(page1))
	assert.True(t, table.AddPage(page1))

	_, err := table.Get(id2)
	assert.True(t, moerr.IsMoErrCode(err, moerr.OkExpectedEOB))
	got, err := table.Get(id1)
	assert.NoError(t, err)
	to, ok := got.Transfer(RowPos{RowID: 4})
	assert.True(t, ok)
	assert.Equal(t, RowPos{RowID: 4}, to)

	table.RunTTL(now.Add(ttl - time.Duration(1)))
	assert.Equal(t, 1, table.Len())
	table.RunTTL(now.Add(ttl + time.Duration(1)))
	assert.Equal(t, 0, table.Len())

	// the id is free again once its page expired
	assert.False(t, table.AddPage(NewTransferPage(id1, 11, now)))
	assert.True(t, table.DeletePage(id1))
	assert.False(t, table.DeletePage(id1))
}
