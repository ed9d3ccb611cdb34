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

// Package config loads and validates the engine configuration.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/logutil"
)

const (
	defaultBatchSize      = 4096
	defaultSegmentMaxRows = 65536
	defaultMemoryCapMB    = 1024

	defaultCompactionWorkers    = 2
	defaultCompactionQueueSize  = 1024
	defaultCompactionMinRowsets = 5
	defaultCompactionMaxMergeMB = 512
	defaultCompactionIntervalS  = 10
	defaultCPUHighWater         = 0.90
	defaultMemHighWater         = 0.90
)

// StoreConfig is the root of the engine configuration, usually decoded
// from a toml file.
type StoreConfig struct {
	// DataDir holds segment files and the catalog.
	DataDir string `toml:"data-dir"`

	// BatchSize caps the rows of one merged output block.
	BatchSize int `toml:"batch-size"`

	// SegmentMaxRows splits segment files during writes.
	SegmentMaxRows int `toml:"segment-max-rows"`

	// MemoryCapMB bounds the store's memory pool. Zero means unbounded.
	MemoryCapMB int64 `toml:"memory-cap-mb"`

	Compaction CompactionConfig  `toml:"compaction"`
	Log        logutil.LogConfig `toml:"log"`
}

// CompactionConfig tunes the background merge of rowsets.
type CompactionConfig struct {
	// Workers is the size of the compaction goroutine pool.
	Workers int `toml:"workers"`

	// QueueSize bounds the pending-task ring; submissions beyond it
	// are dropped and retried on the next tick.
	QueueSize int `toml:"queue-size"`

	// MinRowsets is the number of contiguous rowsets that makes a
	// tablet eligible for compaction.
	MinRowsets int `toml:"min-rowsets"`

	// MaxMergeMB caps the total input size of one merge.
	MaxMergeMB int64 `toml:"max-merge-mb"`

	// IntervalSeconds is the scheduler tick.
	IntervalSeconds int `toml:"interval-seconds"`

	// CPUHighWater and MemHighWater pause scheduling while host
	// utilization is above them, in [0, 1].
	CPUHighWater float64 `toml:"cpu-high-water"`
	MemHighWater float64 `toml:"mem-high-water"`
}

func Default() *StoreConfig {
	cfg := &StoreConfig{}
	cfg.FillDefaults()
	return cfg
}

// Load decodes the toml file at path, fills defaults and validates.
func Load(path string) (*StoreConfig, error) {
	var cfg StoreConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, moerr.NewInternalErrorNoCtx("decode config %s: %s", path, err)
	}
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *StoreConfig) FillDefaults() {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.SegmentMaxRows == 0 {
		cfg.SegmentMaxRows = defaultSegmentMaxRows
	}
	if cfg.MemoryCapMB == 0 {
		cfg.MemoryCapMB = defaultMemoryCapMB
	}
	if cfg.Compaction.Workers == 0 {
		cfg.Compaction.Workers = defaultCompactionWorkers
	}
	if cfg.Compaction.QueueSize == 0 {
		cfg.Compaction.QueueSize = defaultCompactionQueueSize
	}
	if cfg.Compaction.MinRowsets == 0 {
		cfg.Compaction.MinRowsets = defaultCompactionMinRowsets
	}
	if cfg.Compaction.MaxMergeMB == 0 {
		cfg.Compaction.MaxMergeMB = defaultCompactionMaxMergeMB
	}
	if cfg.Compaction.IntervalSeconds == 0 {
		cfg.Compaction.IntervalSeconds = defaultCompactionIntervalS
	}
	if cfg.Compaction.CPUHighWater == 0 {
		cfg.Compaction.CPUHighWater = defaultCPUHighWater
	}
	if cfg.Compaction.MemHighWater == 0 {
		cfg.Compaction.MemHighWater = defaultMemHighWater
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func (cfg *StoreConfig) Validate() error {
	if cfg.DataDir == "" {
		return moerr.NewInvalidArgNoCtx("config data-dir", "empty")
	}
	if cfg.BatchSize < 1 {
		return moerr.NewInvalidArgNoCtx("config batch-size", cfg.BatchSize)
	}
	if cfg.SegmentMaxRows < 1 {
		return moerr.NewInvalidArgNoCtx("config segment-max-rows", cfg.SegmentMaxRows)
	}
	if cfg.MemoryCapMB < 0 {
		return moerr.NewInvalidArgNoCtx("config memory-cap-mb", cfg.MemoryCapMB)
	}
	if cfg.Compaction.Workers < 1 {
		return moerr.NewInvalidArgNoCtx("config compaction workers", cfg.Compaction.Workers)
	}
	if cfg.Compaction.QueueSize < 1 {
		return moerr.NewInvalidArgNoCtx("config compaction queue-size", cfg.Compaction.QueueSize)
	}
	if cfg.Compaction.MinRowsets < 2 {
		return moerr.NewInvalidArgNoCtx("config compaction min-rowsets", cfg.Compaction.MinRowsets)
	}
	if cfg.Compaction.MaxMergeMB < 1 {
		return moerr.NewInvalidArgNoCtx("config compaction max-merge-mb", cfg.Compaction.MaxMergeMB)
	}
	if cfg.Compaction.CPUHighWater <= 0 || cfg.Compaction.CPUHighWater > 1 {
		return moerr.NewInvalidArgNoCtx("config compaction cpu-high-water", cfg.Compaction.CPUHighWater)
	}
	if cfg.Compaction.MemHighWater <= 0 || cfg.Compaction.MemHighWater > 1 {
		return moerr.NewInvalidArgNoCtx("config compaction mem-high-water", cfg.Compaction.MemHighWater)
	}
	return nil
}

// MemoryCap converts the configured cap to bytes for the memory pool.
func (cfg *StoreConfig) MemoryCap() int64 {
	return cfg.MemoryCapMB << 20
}
