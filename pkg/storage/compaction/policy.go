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

// Package compaction merges runs of small rowsets into one, bounding
// the number of sources a read has to merge at query time.
package compaction

import (
	"github.com/granarydb/granary/pkg/logutil"
	"github.com/granarydb/granary/pkg/storage/meta"
)

const (
	// mergeExpansionRate scales compressed input bytes to an estimate
	// of the memory a merge needs.
	mergeExpansionRate = 6

	// bigMergeBytes is the input size above which a merge is skipped
	// while the host cpu runs hot.
	bigMergeBytes = 32 << 20

	hotCPUPercent = 85.0
)

// Policy picks which of a tablet's rowsets to merge next. The
// scheduler feeds it one tablet at a time: reset, then every rowset
// in version order, then one revise call under the current resource
// budget.
type Policy interface {
	ResetForTablet(id uint64)
	OnRowset(m *meta.RowsetMeta)

	// Revise returns the picked rowsets in version order, or nil when
	// nothing is worth merging. cpu is the host percentage in
	// [0, 100], mem the bytes available to a merge.
	Revise(cpu float64, mem int64) []*meta.RowsetMeta
}

// Cumulative picks the longest run of version-contiguous single
// version rowsets. Already compacted rowsets span several versions
// and break runs, so repeated passes stack up merged rowsets instead
// of rewriting them.
type Cumulative struct {
	// MinRowsets is the shortest run worth merging.
	MinRowsets int

	// MaxBytes caps the total input size of one merge. Zero means no
	// cap.
	MaxBytes int64

	tablet uint64
	runs   [][]*meta.RowsetMeta
	cur    []*meta.RowsetMeta
}

func NewCumulative(minRowsets int, maxBytes int64) *Cumulative {
	return &Cumulative{MinRowsets: minRowsets, MaxBytes: maxBytes}
}

func (p *Cumulative) ResetForTablet(id uint64) {
	p.tablet = id
	p.runs = p.runs[:0]
	p.cur = nil
}

func (p *Cumulative) OnRowset(m *meta.RowsetMeta) {
	if !m.Version.Singleton() {
		p.endRun()
		return
	}
	if n := len(p.cur); n > 0 && !p.cur[n-1].Version.Precedes(m.Version) {
		p.endRun()
	}
	p.cur = append(p.cur, m)
}

func (p *Cumulative) endRun() {
	if len(p.cur) > 1 {
		p.runs = append(p.runs, p.cur)
	}
	p.cur = nil
}

func (p *Cumulative) Revise(cpu float64, mem int64) []*meta.RowsetMeta {
	p.endRun()
	var best []*meta.RowsetMeta
	for _, run := range p.runs {
		if len(run) > len(best) {
			best = run
		}
	}
	best, size := p.controlSize(best, mem)
	min := p.MinRowsets
	if min < 2 {
		min = 2
	}
	if len(best) < min {
		return nil
	}
	if cpu > hotCPUPercent && size > bigMergeBytes {
		logutil.Infof("compaction skips big merge on tablet %d for high cpu usage %.0f",
			p.tablet, cpu)
		return nil
	}
	return best
}

// controlSize trims the run's tail until it fits both the configured
// byte cap and the memory budget. Trimming the tail keeps the run
// version-contiguous.
func (p *Cumulative) controlSize(run []*meta.RowsetMeta, mem int64) ([]*meta.RowsetMeta, int64) {
	budget := p.MaxBytes
	if mem > 0 {
		if m := mem / mergeExpansionRate; budget == 0 || m < budget {
			budget = m
		}
	}
	var size int64
	n := 0
	for _, m := range run {
		if budget > 0 && n > 0 && size+m.Size > budget {
			break
		}
		size += m.Size
		n++
	}
	return run[:n], size
}
