// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package surplus

import (
	"bytes"
	"context"

	"github.com/grailbio/cdxindex/cdxio"
)

const cancelCheckInterval = 1 << 16

// Detect scans the sorted record stream s and calls emit for each
// key whose run strictly exceeds threshold records, in stream order.
// A threshold of 0 or less means DefaultThreshold. The detector
// keeps state for the current run only, so its memory use is
// independent of both stream and run length.
func Detect(ctx context.Context, s cdxio.RecordScanner, threshold int, emit func(Entry) error) error {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var (
		cur   []byte
		n     int64
		begun bool
		seen  int64
	)
	flush := func() error {
		if begun && n > int64(threshold) {
			return emit(Entry{Surt: string(cur), Count: n})
		}
		return nil
	}
	for s.Scan() {
		rec := s.Record()
		if seen++; seen%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if begun && bytes.Equal(rec.Surt, cur) {
			n++
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		cur = append(cur[:0], rec.Surt...)
		n = 1
		begun = true
	}
	if err := s.Err(); err != nil {
		return err
	}
	return flush()
}

// DetectAll runs Detect and collects the emitted entries.
func DetectAll(ctx context.Context, s cdxio.RecordScanner, threshold int) ([]Entry, error) {
	var entries []Entry
	err := Detect(ctx, s, threshold, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	return entries, err
}
