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

// Package rowset groups the segment files produced by one load or one
// compaction under a single version. A rowset is immutable once its
// meta is committed to the catalog.
package rowset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/granarydb/granary/pkg/storage/meta"
)

// SegmentPath names the segment file seg of rowset rs inside a tablet
// directory.
func SegmentPath(dir string, rowsetID, segID uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d_%d.seg", rowsetID, segID))
}

// Remove deletes every segment file of the rowset. Missing files are
// ignored so a crashed removal can be retried.
func Remove(dir string, m *meta.RowsetMeta) error {
	for i := range m.Segments {
		path := SegmentPath(dir, m.ID, m.Segments[i].ID)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
