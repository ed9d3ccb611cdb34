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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestFillDefaults(t *testing.T) {
	convey.Convey("zero config gets every default", t, func() {
		cfg := Default()
		convey.So(cfg.BatchSize, convey.ShouldEqual, defaultBatchSize)
		convey.So(cfg.SegmentMaxRows, convey.ShouldEqual, defaultSegmentMaxRows)
		convey.So(cfg.MemoryCapMB, convey.ShouldEqual, defaultMemoryCapMB)
		convey.So(cfg.Compaction.Workers, convey.ShouldEqual, defaultCompactionWorkers)
		convey.So(cfg.Compaction.MinRowsets, convey.ShouldEqual, defaultCompactionMinRowsets)
		convey.So(cfg.Compaction.CPUHighWater, convey.ShouldEqual, defaultCPUHighWater)
		convey.So(cfg.Log.Level, convey.ShouldEqual, "info")
		convey.So(cfg.Log.Format, convey.ShouldEqual, "console")
	})

	convey.Convey("explicit values survive", t, func() {
		cfg := &StoreConfig{BatchSize: 128}
		cfg.FillDefaults()
		convey.So(cfg.BatchSize, convey.ShouldEqual, 128)
		convey.So(cfg.SegmentMaxRows, convey.ShouldEqual, defaultSegmentMaxRows)
	})
}

func TestValidate(t *testing.T) {
	convey.Convey("validation", t, func() {
		cfg := Default()
		cfg.DataDir = "/tmp/granary"
		convey.So(cfg.Validate(), convey.ShouldBeNil)

		convey.Convey("missing data dir", func() {
			bad := Default()
			convey.So(bad.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("bad batch size", func() {
			bad := Default()
			bad.DataDir = "/tmp/granary"
			bad.BatchSize = -1
			convey.So(bad.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("bad high water", func() {
			bad := Default()
			bad.DataDir = "/tmp/granary"
			bad.Compaction.CPUHighWater = 1.5
			convey.So(bad.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("min rowsets of one can never pick a merge", func() {
			bad := Default()
			bad.DataDir = "/tmp/granary"
			bad.Compaction.MinRowsets = 1
			convey.So(bad.Validate(), convey.ShouldNotBeNil)
		})
	})
}

func TestLoad(t *testing.T) {
	convey.Convey("load from toml", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "granary.toml")
		body := `
data-dir = "/var/lib/granary"
batch-size = 2048

[compaction]
workers = 4
cpu-high-water = 0.75

[log]
level = "debug"
format = "json"
`
		convey.So(os.WriteFile(path, []byte(body), 0o644), convey.ShouldBeNil)

		cfg, err := Load(path)
		convey.So(err, convey.ShouldBeNil)
		convey.So(cfg.DataDir, convey.ShouldEqual, "/var/lib/granary")
		convey.So(cfg.BatchSize, convey.ShouldEqual, 2048)
		convey.So(cfg.SegmentMaxRows, convey.ShouldEqual, defaultSegmentMaxRows)
		convey.So(cfg.Compaction.Workers, convey.ShouldEqual, 4)
		convey.So(cfg.Compaction.CPUHighWater, convey.ShouldEqual, 0.75)
		convey.So(cfg.Log.Level, convey.ShouldEqual, "debug")
		convey.So(cfg.MemoryCap(), convey.ShouldEqual, int64(defaultMemoryCapMB)<<20)
	})

	convey.Convey("load failures", t, func() {
		_, err := Load("/does/not/exist.toml")
		convey.So(err, convey.ShouldNotBeNil)

		dir := t.TempDir()
		path := filepath.Join(dir, "bad.toml")
		convey.So(os.WriteFile(path, []byte("batch-size = 1\n"), 0o644), convey.ShouldBeNil)
		_, err = Load(path)
		convey.So(err, convey.ShouldNotBeNil)
	})
}
