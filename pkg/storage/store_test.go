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

package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/config"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/container/types"
	"github.com/granarydb/granary/pkg/container/vector"
	"github.com/granarydb/granary/pkg/storage/meta"
	"github.com/granarydb/granary/pkg/storage/read"
	"github.com/granarydb/granary/pkg/storage/tablet"
)

func testSchema() *meta.Schema {
	return &meta.Schema{
		Name:          "users",
		NumKeyColumns: 1,
		KeysType:      meta.UniqueKeys,
		Columns: []meta.Column{
			{Name: "k", Type: types.T_int64.ToType()},
			{Name: "v", Type: types.T_int64.ToType()},
			{Name: meta.DeleteSignName, Type: types.T_int8.ToType()},
		},
	}
}

func testConfig(t *testing.T) *config.StoreConfig {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	// keep the periodic scan out of the way, tests kick explicitly
	cfg.Compaction.IntervalSeconds = 3600
	cfg.Compaction.MinRowsets = 2
	return cfg
}

func loadRows(t *testing.T, tab *tablet.Tablet, mp *mpool.MPool, ks, vs []int64) {
	t.Helper()
	bat := batch.New(true, []string{"k", "v"})
	bat.Vecs[0] = vector.NewVec(types.T_int64.ToType())
	bat.Vecs[1] = vector.NewVec(types.T_int64.ToType())
	for i := range ks {
		require.NoError(t, vector.AppendFixed(bat.Vecs[0], ks[i], false, mp))
		require.NoError(t, vector.AppendFixed(bat.Vecs[1], vs[i], false, mp))
	}
	bat.SetRowCount(len(ks))
	_, err := tab.Ingest(context.Background(), bat)
	require.NoError(t, err)
	bat.Clean(mp)
}

func readRows(t *testing.T, tab *tablet.Tablet, mp *mpool.MPool) (ks, vs []int64) {
	t.Helper()
	ctx := context.Background()
	r, err := tab.Reader(ctx, read.ReaderParams{
		Type:         read.ReaderQuery,
		FilterDelete: true,
		Mp:           mp,
	})
	require.NoError(t, err)
	defer r.Close()
	bat := batch.New(true, tab.Schema().Attrs())
	for j, typ := range tab.Schema().Types() {
		bat.Vecs[j] = vector.NewVec(typ)
	}
	defer bat.Clean(mp)
	for {
		eof, err := r.NextBlockWithAggregation(ctx, bat)
		require.NoError(t, err)
		ks = append(ks, append([]int64(nil), vector.MustFixedCol[int64](bat.Vecs[0])...)...)
		vs = append(vs, append([]int64(nil), vector.MustFixedCol[int64](bat.Vecs[1])...)...)
		if eof {
			return ks, vs
		}
	}
}

func TestStoreCreateIngestReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	s, err := Open(ctx, cfg)
	require.NoError(t, err)

	tab, err := s.CreateTablet(ctx, 0, testSchema())
	require.NoError(t, err)
	require.Equal(t, uint64(1), tab.ID())

	loadRows(t, tab, s.Mp(), []int64{3, 1}, []int64{30, 10})
	loadRows(t, tab, s.Mp(), []int64{2}, []int64{20})
	require.Equal(t, int64(2), tab.VisibleVersion())

	ks, vs := readRows(t, tab, s.Mp())
	require.Equal(t, []int64{1, 2, 3}, ks)
	require.Equal(t, []int64{10, 20, 30}, vs)

	mp := s.Mp()
	require.NoError(t, s.Close())
	require.Equal(t, int64(0), mp.CurrNB())

	// everything durable comes back on a fresh open
	s2, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, s2.Close()) }()

	tabs, err := s2.ListTablets(ctx)
	require.NoError(t, err)
	require.Len(t, tabs, 1)

	tab2, err := s2.OpenTablet(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), tab2.VisibleVersion())
	ks, vs = readRows(t, tab2, s2.Mp())
	require.Equal(t, []int64{1, 2, 3}, ks)
	require.Equal(t, []int64{10, 20, 30}, vs)

	// the cached handle is reused
	again, err := s2.OpenTablet(ctx, 1)
	require.NoError(t, err)
	require.Same(t, tab2, again)
}

func TestStoreCreateTabletRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	_, err = s.CreateTablet(ctx, 7, testSchema())
	require.NoError(t, err)
	_, err = s.CreateTablet(ctx, 7, testSchema())
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidState))

	_, err = s.CreateTablet(ctx, 8, nil)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput))
}

func TestStoreOpenTabletMissing(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	_, err = s.OpenTablet(ctx, 99)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrTabletNotFound))
}

func TestStoreDropTablet(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	tab, err := s.CreateTablet(ctx, 0, testSchema())
	require.NoError(t, err)
	loadRows(t, tab, s.Mp(), []int64{1}, []int64{10})
	dir := tab.Dir()

	require.NoError(t, s.DropTablet(ctx, tab.ID()))
	_, err = s.OpenTablet(ctx, tab.ID())
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrTabletNotFound))
	_, serr := os.Stat(dir)
	require.True(t, os.IsNotExist(serr))
}

func TestStoreTriggerCompaction(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t))
	require.NoError(t, err)

	tab, err := s.CreateTablet(ctx, 0, testSchema())
	require.NoError(t, err)
	for i := int64(1); i <= 3; i++ {
		loadRows(t, tab, s.Mp(), []int64{i}, []int64{i * 10})
	}
	require.Len(t, tab.Rowsets(), 3)

	require.NoError(t, s.TriggerCompaction(ctx, tab.ID()))
	require.Eventually(t, func() bool {
		return len(tab.Rowsets()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, meta.Version{Start: 1, End: 3}, tab.Rowsets()[0].Version)
	require.Equal(t, 3, s.TransferTable().Len())

	ks, vs := readRows(t, tab, s.Mp())
	require.Equal(t, []int64{1, 2, 3}, ks)
	require.Equal(t, []int64{10, 20, 30}, vs)

	require.True(t, moerr.IsMoErrCode(
		s.TriggerCompaction(ctx, 12345), moerr.ErrTabletNotFound))

	mp := s.Mp()
	require.NoError(t, s.Close())
	require.Equal(t, int64(0), mp.CurrNB())
}
