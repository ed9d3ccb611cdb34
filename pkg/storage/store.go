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

// Package storage assembles the engine: catalog, tablets, background
// compaction and the shared memory pool, configured from one
// StoreConfig.
package storage

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/config"
	"github.com/granarydb/granary/pkg/logutil"
	"github.com/granarydb/granary/pkg/storage/catalog"
	"github.com/granarydb/granary/pkg/storage/compaction"
	"github.com/granarydb/granary/pkg/storage/meta"
	"github.com/granarydb/granary/pkg/storage/tablet"
)

// tabletSeqScope is the catalog sequence tablet ids are drawn from.
const tabletSeqScope = "tablet"

type Store struct {
	cfg *config.StoreConfig
	cat *catalog.Catalog
	mp  *mpool.MPool

	transfer  *compaction.TransferTable
	scheduler *compaction.Scheduler

	mu      sync.Mutex
	tablets map[uint64]*tablet.Tablet
}

// Open brings the store up under cfg.DataDir and starts background
// compaction. The config must already carry a data dir; zero values
// elsewhere fall back to defaults.
func Open(ctx context.Context, cfg *config.StoreConfig) (*Store, error) {
	if cfg == nil {
		return nil, moerr.NewInvalidArgNoCtx("store config", "nil")
	}
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logutil.SetupLogger(&cfg.Log)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, moerr.ConvertGoError(ctx, err)
	}
	mp, err := mpool.NewMPool("storage", cfg.MemoryCapMB<<20)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(filepath.Join(cfg.DataDir, "meta"))
	if err != nil {
		return nil, err
	}
	transfer := compaction.NewTransferTable(compaction.DefaultPageTTL)
	exec := compaction.NewExecutor(cat, transfer, mp, cfg.BatchSize, cfg.SegmentMaxRows)
	sched, err := compaction.NewScheduler(cfg.Compaction, exec, transfer, cfg.MemoryCapMB<<20)
	if err != nil {
		_ = cat.Close()
		return nil, err
	}

	s := &Store{
		cfg:       cfg,
		cat:       cat,
		mp:        mp,
		transfer:  transfer,
		scheduler: sched,
		tablets:   make(map[uint64]*tablet.Tablet),
	}
	sched.Start()
	logutil.Info("store opened", zap.String("data-dir", cfg.DataDir))
	return s, nil
}

// CreateTablet registers a new tablet under id and opens it. Passing
// id 0 draws the next id from the catalog sequence.
func (s *Store) CreateTablet(ctx context.Context, id uint64, schema *meta.Schema) (*tablet.Tablet, error) {
	if schema == nil {
		return nil, moerr.NewInvalidInput(ctx, "create tablet with nil schema")
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if id == 0 {
		var err error
		if id, err = s.cat.NextID(tabletSeqScope); err != nil {
			return nil, err
		}
	}
	tm := &meta.TabletMeta{ID: id, Schema: schema, CreatedAt: time.Now()}
	if err := s.cat.CreateTablet(ctx, tm); err != nil {
		return nil, err
	}
	return s.mount(ctx, tm)
}

// OpenTablet returns the open tablet for id, loading it from the
// catalog on first use.
func (s *Store) OpenTablet(ctx context.Context, id uint64) (*tablet.Tablet, error) {
	s.mu.Lock()
	if tab, ok := s.tablets[id]; ok {
		s.mu.Unlock()
		return tab, nil
	}
	s.mu.Unlock()
	tm, err := s.cat.GetTablet(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.mount(ctx, tm)
}

func (s *Store) mount(ctx context.Context, tm *meta.TabletMeta) (*tablet.Tablet, error) {
	tab, err := tablet.Open(ctx, s.tabletDir(tm.ID), tm, s.cat, s.mp, tablet.Options{
		SegmentMaxRows: s.cfg.SegmentMaxRows,
		BlockMaxRows:   s.cfg.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if cur, ok := s.tablets[tm.ID]; ok {
		// lost an open race, the first mount wins
		s.mu.Unlock()
		return cur, nil
	}
	s.tablets[tm.ID] = tab
	s.mu.Unlock()
	s.scheduler.Register(tab)
	return tab, nil
}

// DropTablet removes the tablet from the catalog and deletes its
// files. Loads or merges still running against the tablet are the
// caller's race to quiesce first.
func (s *Store) DropTablet(ctx context.Context, id uint64) error {
	s.mu.Lock()
	delete(s.tablets, id)
	s.mu.Unlock()
	s.scheduler.Unregister(id)
	if err := s.cat.DropTablet(ctx, id); err != nil {
		return err
	}
	if err := os.RemoveAll(s.tabletDir(id)); err != nil {
		logutil.Warn("remove tablet dir failed",
			zap.Uint64("tablet", id),
			zap.Error(err))
	}
	return nil
}

func (s *Store) ListTablets(ctx context.Context) ([]*meta.TabletMeta, error) {
	return s.cat.ListTablets(ctx)
}

// TriggerCompaction asks for a compaction check of one tablet ahead
// of the next scheduler tick.
func (s *Store) TriggerCompaction(ctx context.Context, id uint64) error {
	return s.scheduler.TriggerTablet(ctx, id)
}

// TransferTable exposes the row position mappings of recent
// compactions.
func (s *Store) TransferTable() *compaction.TransferTable {
	return s.transfer
}

// Mp is the store's memory pool. Batches handed to Ingest and read
// buffers should come from it.
func (s *Store) Mp() *mpool.MPool {
	return s.mp
}

// Close stops compaction, waits for running merges and shuts the
// catalog. The memory pool is checked for leaks on the way out.
func (s *Store) Close() error {
	s.scheduler.Stop()
	s.transfer.Close()
	err := s.cat.Close()
	mpool.DeleteMPool(s.mp)
	logutil.Info("store closed", zap.String("data-dir", s.cfg.DataDir))
	return err
}

func (s *Store) tabletDir(id uint64) string {
	return filepath.Join(s.cfg.DataDir, "tablets", strconv.FormatUint(id, 10))
}
