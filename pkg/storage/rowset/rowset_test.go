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
	"testing"

	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/container/types"
	"github.com/granarydb/granary/pkg/container/vector"
	"github.com/granarydb/granary/pkg/storage/meta"
	"github.com/stretchr/testify/require"
)

func testSchema() *meta.Schema {
	return &meta.Schema{
		Name: "t1",
		Columns: []meta.Column{
			{Name: "id", Type: types.New(types.T_int64, 0, 0)},
			{Name: "val", Type: types.New(types.T_varchar, 0, 0)},
		},
		NumKeyColumns: 1,
		KeysType:      meta.DupKeys,
	}
}

func idBatch(t *testing.T, mp *mpool.MPool, from, to int64) *batch.Batch {
	bat := batch.New(true, []string{"id", "val"})
	bat.Vecs[0] = vector.NewVec(types.New(types.T_int64, 0, 0))
	bat.Vecs[1] = vector.NewVec(types.New(types.T_varchar, 0, 0))
	for id := from; id < to; id++ {
		require.NoError(t, vector.AppendFixed(bat.Vecs[0], id, false, mp))
		require.NoError(t, vector.AppendBytes(bat.Vecs[1], []byte{byte('a' + id%26)}, false, mp))
	}
	bat.SetRowCount(int(to - from))
	return bat
}

func TestRowsetWriteRead(t *testing.T) {
	mp := mpool.MustNewZero()
	dir := t.TempDir()

	w := NewWriter(dir, 1, 7, meta.Version{Start: 2, End: 2}, testSchema(), 4)
	for _, rng := range [][2]int64{{0, 4}, {4, 8}, {8, 10}} {
		bat := idBatch(t, mp, rng[0], rng[1])
		require.NoError(t, w.Append(bat))
		bat.Clean(mp)
	}
	m, err := w.Finish()
	require.NoError(t, err)
	require.Equal(t, uint64(7), m.ID)
	require.Equal(t, int64(10), m.Rows)
	require.Equal(t, 3, len(m.Segments))
	require.False(t, m.Overlapping)
	require.False(t, m.Empty())

	bounds, ok := m.Bounds()
	require.True(t, ok)
	require.False(t, bounds.Empty())

	r := NewReader(dir, m, nil, mp)
	defer r.Close()
	var got []int64
	for {
		bat, err := r.NextBlock()
		if moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, vector.MustFixedCol[int64](bat.Vecs[0])...)
	}
	want := make([]int64, 10)
	for i := range want {
		want[i] = int64(i)
	}
	require.Equal(t, want, got)

	r.Close()
	require.Equal(t, int64(0), mp.CurrNB())
}

func TestRowsetProjectionAndLocation(t *testing.T) {
	mp := mpool.MustNewZero()
	dir := t.TempDir()

	w := NewWriter(dir, 1, 3, meta.Version{Start: 1, End: 1}, testSchema(), 8)
	for _, rng := range [][2]int64{{0, 4}, {4, 8}, {8, 12}} {
		bat := idBatch(t, mp, rng[0], rng[1])
		require.NoError(t, w.Append(bat))
		bat.Clean(mp)
	}
	m, err := w.Finish()
	require.NoError(t, err)
	require.Equal(t, 2, len(m.Segments))

	r := NewReader(dir, m, []int{0}, mp)
	defer r.Close()

	type loc struct {
		seg  uint64
		base int64
	}
	var locs []loc
	for {
		bat, err := r.NextBlock()
		if moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
			break
		}
		require.NoError(t, err)
		require.Equal(t, 1, bat.VectorCount())
		require.Equal(t, []string{"id"}, bat.Attrs)
		seg, base := r.Location()
		locs = append(locs, loc{seg, base})
	}
	require.Equal(t, []loc{{0, 0}, {0, 4}, {1, 0}}, locs)

	r.Close()
	require.Equal(t, int64(0), mp.CurrNB())
}

func TestRowsetOverlapDetected(t *testing.T) {
	mp := mpool.MustNewZero()
	dir := t.TempDir()

	w := NewWriter(dir, 1, 5, meta.Version{Start: 4, End: 4}, testSchema(), 4)
	hi := idBatch(t, mp, 20, 24)
	lo := idBatch(t, mp, 0, 4)
	require.NoError(t, w.Append(hi))
	require.NoError(t, w.Append(lo))
	hi.Clean(mp)
	lo.Clean(mp)

	m, err := w.Finish()
	require.NoError(t, err)
	require.Equal(t, 2, len(m.Segments))
	require.True(t, m.Overlapping)
	require.Equal(t, int64(0), mp.CurrNB())
}

func TestRowsetRemove(t *testing.T) {
	mp := mpool.MustNewZero()
	dir := t.TempDir()

	w := NewWriter(dir, 1, 9, meta.Version{Start: 1, End: 1}, testSchema(), 4)
	bat := idBatch(t, mp, 0, 6)
	require.NoError(t, w.Append(bat))
	bat.Clean(mp)
	m, err := w.Finish()
	require.NoError(t, err)

	for i := range m.Segments {
		_, err := os.Stat(SegmentPath(dir, m.ID, m.Segments[i].ID))
		require.NoError(t, err)
	}
	require.NoError(t, Remove(dir, m))
	for i := range m.Segments {
		_, err := os.Stat(SegmentPath(dir, m.ID, m.Segments[i].ID))
		require.True(t, os.IsNotExist(err))
	}
	// retry is a no-op
	require.NoError(t, Remove(dir, m))
}

func TestRowsetAbort(t *testing.T) {
	mp := mpool.MustNewZero()
	dir := t.TempDir()

	w := NewWriter(dir, 1, 11, meta.Version{Start: 1, End: 1}, testSchema(), 4)
	bat := idBatch(t, mp, 0, 6)
	require.NoError(t, w.Append(bat))
	bat.Clean(mp)
	w.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, int64(0), mp.CurrNB())
}

func TestRowsetEmpty(t *testing.T) {
	mp := mpool.MustNewZero()
	dir := t.TempDir()

	w := NewWriter(dir, 1, 2, meta.Version{Start: 1, End: 1}, testSchema(), 4)
	m, err := w.Finish()
	require.NoError(t, err)
	require.True(t, m.Empty())
	require.Empty(t, m.Segments)

	r := NewReader(dir, m, nil, mp)
	_, err = r.NextBlock()
	require.True(t, moerr.IsMoErrCode(err, moerr.OkExpectedEOF))
	r.Close()
}
