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
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	queue "github.com/yireyun/go-queue"
	"go.uber.org/zap"

	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/config"
	"github.com/granarydb/granary/pkg/logutil"
	"github.com/granarydb/granary/pkg/storage/meta"
	"github.com/granarydb/granary/pkg/storage/tablet"
)

// DefaultPageTTL is how long transfer pages outlive the compaction
// that made them.
const DefaultPageTTL = 10 * time.Minute

const defaultKickBacklog = 64

// Scheduler drives background compaction. One loop goroutine owns
// all picking, so the policy needs no locking; merges run on a
// bounded worker pool. Kicked tablets that find the pool full wait
// in a lock-free ring until the next chance.
type Scheduler struct {
	cfg      config.CompactionConfig
	executor *Executor
	policy   Policy
	rc       *resourceController
	transfer *TransferTable

	pool    *ants.Pool
	pending *queue.EsQueue

	mu       sync.Mutex
	tablets  map[uint64]*tablet.Tablet
	inflight map[uint64]struct{}

	kickCh   chan uint64
	stopCh   chan struct{}
	stopOnce sync.Once
	loopWg   sync.WaitGroup
	taskWg   sync.WaitGroup
}

func NewScheduler(cfg config.CompactionConfig, exec *Executor,
	transfer *TransferTable, memLimit int64) (*Scheduler, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v interface{}) {
		logutil.Errorf("panic in compaction worker: %v", v)
	}))
	if err != nil {
		return nil, err
	}
	qsize := cfg.QueueSize
	if qsize <= 0 {
		qsize = 1024
	}
	return &Scheduler{
		cfg:      cfg,
		executor: exec,
		policy:   NewCumulative(cfg.MinRowsets, cfg.MaxMergeMB<<20),
		rc:       newResourceController(memLimit),
		transfer: transfer,
		pool:     pool,
		pending:  queue.NewQueue(uint32(qsize)),
		tablets:  make(map[uint64]*tablet.Tablet),
		inflight: make(map[uint64]struct{}),
		kickCh:   make(chan uint64, defaultKickBacklog),
		stopCh:   make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() {
	s.loopWg.Add(1)
	go s.loop()
}

// Stop ends the loop and waits for running merges to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.loopWg.Wait()
	s.taskWg.Wait()
	s.pool.Release()
}

func (s *Scheduler) Register(tab *tablet.Tablet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tablets[tab.ID()] = tab
}

func (s *Scheduler) Unregister(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tablets, id)
}

// TriggerTablet asks for a compaction check of one tablet ahead of
// the next tick.
func (s *Scheduler) TriggerTablet(ctx context.Context, id uint64) error {
	if s.lookup(id) == nil {
		return moerr.NewTabletNotFound(ctx, id)
	}
	select {
	case s.kickCh <- id:
	default:
		s.deferTablet(id)
	}
	return nil
}

func (s *Scheduler) loop() {
	defer s.loopWg.Done()
	interval := time.Duration(s.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.round()
		case id := <-s.kickCh:
			if tab := s.lookup(id); tab != nil {
				s.rc.refresh()
				s.schedule(tab)
			}
		}
	}
}

// round is one scheduling pass over every registered tablet,
// deferred kicks first.
func (s *Scheduler) round() {
	s.rc.refresh()
	s.transfer.RunTTL(time.Now())
	if s.rc.overloaded(s.cfg.CPUHighWater, s.cfg.MemHighWater) {
		logutil.Warn("compaction round skipped, host overloaded",
			zap.Float64("cpu-percent", s.rc.cpuPercent),
			zap.Int64("rss", s.rc.using))
		return
	}
	seen := make(map[uint64]struct{})
	for {
		v, ok, _ := s.pending.Get()
		if !ok {
			break
		}
		id := v.(uint64)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if tab := s.lookup(id); tab != nil {
			s.schedule(tab)
		}
	}
	for _, tab := range s.snapshot() {
		if _, dup := seen[tab.ID()]; dup {
			continue
		}
		s.schedule(tab)
	}
}

// schedule picks a run for the tablet and hands it to the pool. The
// pick happens here rather than at dequeue time so a run can never go
// stale in a queue while another merge rewrites its members.
func (s *Scheduler) schedule(tab *tablet.Tablet) {
	id := tab.ID()
	s.mu.Lock()
	_, busy := s.inflight[id]
	s.mu.Unlock()
	if busy {
		return
	}
	run := s.pick(tab)
	if len(run) == 0 {
		return
	}
	if s.pool.Free() == 0 {
		s.deferTablet(id)
		return
	}
	s.mu.Lock()
	s.inflight[id] = struct{}{}
	s.mu.Unlock()
	s.taskWg.Add(1)
	err := s.pool.Submit(func() {
		defer s.taskWg.Done()
		defer s.finish(id)
		if _, merr := s.executor.Merge(context.Background(), tab, run); merr != nil {
			logutil.Error("compaction failed",
				zap.Uint64("tablet", id),
				zap.Error(merr))
		}
	})
	if err != nil {
		s.taskWg.Done()
		s.finish(id)
		s.deferTablet(id)
	}
}

func (s *Scheduler) pick(tab *tablet.Tablet) []*meta.RowsetMeta {
	s.policy.ResetForTablet(tab.ID())
	for _, m := range tab.Rowsets() {
		s.policy.OnRowset(m)
	}
	return s.policy.Revise(s.rc.cpuPercent, s.rc.availableMem())
}

func (s *Scheduler) finish(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

func (s *Scheduler) deferTablet(id uint64) {
	if ok, _ := s.pending.Put(id); !ok {
		// the periodic scan rediscovers it
		logutil.Debugf("compaction queue full, tablet %d waits for the next tick", id)
	}
}

func (s *Scheduler) lookup(id uint64) *tablet.Tablet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tablets[id]
}

func (s *Scheduler) snapshot() []*tablet.Tablet {
	s.mu.Lock()
	defer s.mu.Unlock()
	tabs := make([]*tablet.Tablet, 0, len(s.tablets))
	for _, tab := range s.tablets {
		tabs = append(tabs, tab)
	}
	return tabs
}
