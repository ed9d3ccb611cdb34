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

// granary-scan opens a store, runs a merging scan over one tablet and
// reports row and batch counts with the wall time spent.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/config"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/container/vector"
	"github.com/granarydb/granary/pkg/logutil"
	"github.com/granarydb/granary/pkg/storage"
	"github.com/granarydb/granary/pkg/storage/read"
	"github.com/granarydb/granary/pkg/storage/tablet"
)

var (
	configFile = flag.String("config", "", "toml configuration of the store")
	tabletID   = flag.Uint64("tablet", 0, "tablet to scan")
	columns    = flag.String("columns", "", "comma separated column positions, empty scans every column")
	version    = flag.Int64("version", 0, "version to read, 0 reads the visible version")
	keepDel    = flag.Bool("keep-deletes", false, "keep rows whose delete sign is set")
	batchRows  = flag.Int("batch-size", 0, "rows per merged block, 0 takes the store default")
)

func main() {
	flag.Parse()
	if *configFile == "" || *tabletID == 0 {
		fmt.Fprintln(os.Stderr,
			"usage: granary-scan -config <store.toml> -tablet <id> [-columns 0,1] [-version n]")
		os.Exit(2)
	}
	if err := run(context.Background()); err != nil {
		logutil.Fatalf("granary-scan: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	s, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logutil.Errorf("close store: %v", cerr)
		}
	}()

	tab, err := s.OpenTablet(ctx, *tabletID)
	if err != nil {
		return err
	}
	proj, err := parseColumns(*columns)
	if err != nil {
		return err
	}
	ver := *version
	if ver <= 0 {
		ver = tab.VisibleVersion()
	}

	r, err := tab.Reader(ctx, read.ReaderParams{
		Version:      ver,
		Type:         read.ReaderQuery,
		Columns:      proj,
		BatchSize:    *batchRows,
		FilterDelete: !*keepDel,
		Mp:           s.Mp(),
	})
	if err != nil {
		return err
	}
	defer r.Close()

	out, err := outputBatch(tab, proj, !*keepDel)
	if err != nil {
		return err
	}
	defer out.Clean(s.Mp())

	start := time.Now()
	var rows int64
	var batches int
	for {
		eof, rerr := r.NextBlockWithAggregation(ctx, out)
		if rerr != nil {
			return rerr
		}
		if n := out.RowCount(); n > 0 {
			rows += int64(n)
			batches++
		}
		if eof {
			break
		}
	}

	logutil.Info("tablet scanned",
		zap.Uint64("tablet", *tabletID),
		zap.String("table", tab.Schema().Name),
		zap.Int64("version", ver),
		zap.Int64("rows", rows),
		zap.Int("batches", batches),
		zap.Int64("merged-rows", r.MergedRows()),
		zap.Int64("delete-filtered-rows", r.DeleteFilteredRows()),
		zap.Bool("overlapping", r.Overlapping()),
		zap.Duration("cost", time.Since(start)))
	return nil
}

func parseColumns(arg string) ([]int, error) {
	if arg == "" {
		return nil, nil
	}
	parts := strings.Split(arg, ",")
	cols := make([]int, 0, len(parts))
	for _, part := range parts {
		p, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, moerr.NewInvalidInputNoCtx("bad column position %q", part)
		}
		cols = append(cols, p)
	}
	return cols, nil
}

// outputBatch sizes the destination batch to the reader's effective
// projection. Filtering rides the delete sign along as a trailing
// column, so the batch needs a slot for it too.
func outputBatch(tab *tablet.Tablet, proj []int, filterDel bool) (*batch.Batch, error) {
	s := tab.Schema()
	if proj == nil {
		bat := batch.New(true, s.Attrs())
		for i, typ := range s.Types() {
			bat.Vecs[i] = vector.NewVec(typ)
		}
		return bat, nil
	}
	eff := append([]int(nil), proj...)
	if ds := s.DeleteSignIdx(); filterDel && ds >= 0 && !hasColumn(eff, ds) {
		eff = append(eff, ds)
	}
	attrs := make([]string, len(eff))
	for i, p := range eff {
		if p < 0 || p >= len(s.Columns) {
			return nil, moerr.NewInvalidInputNoCtx(
				"column position %d outside schema %s", p, s.Name)
		}
		attrs[i] = s.Columns[p].Name
	}
	bat := batch.New(true, attrs)
	for i, p := range eff {
		bat.Vecs[i] = vector.NewVec(s.Columns[p].Type)
	}
	return bat, nil
}

func hasColumn(cols []int, idx int) bool {
	for _, c := range cols {
		if c == idx {
			return true
		}
	}
	return false
}
