// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package surplus

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cdxindex/cdxio"
)

// FilterStats summarizes one filtering pass.
type FilterStats struct {
	// Scanned is the number of records read.
	Scanned int64
	// Removed is the number of records removed.
	Removed int64
	// Stale is the number of entries whose key was absent from the
	// input or whose recorded count did not match the run actually
	// removed. A stale entry means the list was computed against a
	// different version of the input.
	Stale int
}

// Filter copies the record stream s to w, removing every record
// whose surt is named by entries. Records that are kept are written
// byte for byte, terminators included, so the output is exactly the
// input minus the removed runs. Run boundaries are determined from
// the input itself, never from the entry counts: the counts are only
// cross-checked after the pass, and a mismatch or an absent key is
// logged as a stale entry, or fails the filter when strict is set.
// Entry order does not matter.
func Filter(ctx context.Context, s cdxio.RecordScanner, entries []Entry, w io.Writer, strict bool) (FilterStats, error) {
	want := make(map[string]int64, len(entries))
	for _, e := range entries {
		want[e.Surt] += e.Count
	}
	var (
		stats   FilterStats
		removed = make(map[string]int64, len(entries))
		bw      = bufio.NewWriterSize(w, 256<<10)
	)
	for s.Scan() {
		rec := s.Record()
		if stats.Scanned++; stats.Scanned%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}
		if _, ok := want[string(rec.Surt)]; ok {
			removed[string(rec.Surt)]++
			stats.Removed++
			continue
		}
		if _, err := bw.Write(rec.Raw); err != nil {
			return stats, err
		}
	}
	if err := s.Err(); err != nil {
		return stats, err
	}
	for _, e := range entries {
		switch n := removed[e.Surt]; {
		case n == 0:
			stats.Stale++
			if strict {
				return stats, errors.E(errors.Invalid, fmt.Sprintf(
					"filter %s: key %q absent from input; %d records expected", s.Name(), e.Surt, e.Count))
			}
			log.Error.Printf("filter %s: stale entry: key %q absent from input; %d records expected",
				s.Name(), e.Surt, e.Count)
		case n != want[e.Surt]:
			stats.Stale++
			if strict {
				return stats, errors.E(errors.Invalid, fmt.Sprintf(
					"filter %s: key %q: removed %d records, entry says %d", s.Name(), e.Surt, n, want[e.Surt]))
			}
			log.Error.Printf("filter %s: stale entry: key %q: removed %d records, entry says %d",
				s.Name(), e.Surt, n, want[e.Surt])
		}
	}
	return stats, bw.Flush()
}
