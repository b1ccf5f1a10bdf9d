// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package mergeio merges sorted CDX/CDXJ index streams into a single
// sorted stream. Inputs are consumed through one cursor each, so the
// merge holds a constant number of records in memory regardless of
// input size.
package mergeio

import (
	"container/heap"
	"context"
	"io"

	"github.com/grailbio/base/log"
	"github.com/grailbio/cdxindex/cdx"
	"github.com/grailbio/cdxindex/cdxio"
)

// cancelCheckInterval is the number of records between context
// checks in the merge loop.
const cancelCheckInterval = 1 << 16

// An Input is a single sorted record stream to be merged.
type Input struct {
	// Name identifies the input in diagnostics.
	Name string
	// R is the input's record stream.
	R io.Reader
	// Trusted marks an input whose order is already known to be
	// good, such as an intermediate output produced by this process.
	// Trusted inputs are exempt from order verification.
	Trusted bool
}

// An OrderPolicy says how the merge treats an input record that
// sorts before its predecessor within the same input.
type OrderPolicy int

const (
	// OrderAbort fails the merge on the first out-of-order record.
	// This is the default: an unsorted input would silently corrupt
	// the merged index.
	OrderAbort OrderPolicy = iota
	// OrderWarn logs out-of-order records and merges them anyway.
	OrderWarn
	// OrderOff disables order verification.
	OrderOff
)

// Options configures a merge. The zero value is the default
// behavior: verify input order, and abort on the first input
// failure.
type Options struct {
	// Order is the input order verification policy.
	Order OrderPolicy
	// DropFailed drops an input that fails mid-stream, logging a
	// warning and merging the remaining inputs, instead of failing
	// the merge. Records already merged from a dropped input remain
	// in the output. Order violations are never dropped; they are
	// governed by Order alone.
	DropFailed bool
	// GroupSize is the maximum number of files merged by one pass of
	// MergeFiles. It defaults to DefaultGroupSize.
	GroupSize int
	// Parallelism is the number of concurrent group merges run by
	// MergeFiles. It defaults to 1, in which case all files are
	// merged in a single pass.
	Parallelism int
}

func newScanner(in Input, policy OrderPolicy) cdxio.RecordScanner {
	if in.Trusted || policy == OrderOff {
		return cdxio.NewScanner(in.R, in.Name)
	}
	s := cdxio.NewVerifyingScanner(in.R, in.Name)
	s.Warn = policy == OrderWarn
	return s
}

// outOfOrder reports whether s stopped on an order violation.
func outOfOrder(s cdxio.RecordScanner) bool {
	v, ok := s.(*cdxio.VerifyingScanner)
	return ok && v.OutOfOrder()
}

// A cursor is the merge's read state for one input: the input's
// scanner, which buffers the input's current record, and the input's
// position in the argument order.
type cursor struct {
	scan  cdxio.RecordScanner
	index int
	name  string
}

// advance moves the cursor to its next record, returning false when
// the input is exhausted. A non-nil error means the input failed and
// yields no further records.
func (c *cursor) advance() (bool, error) {
	if c.scan.Scan() {
		return true, nil
	}
	return false, c.scan.Err()
}

// A cursorHeap is a min-heap of cursors ordered by the collation of
// their current records. Ties between equal keys go to the lower
// input index, which makes the merge stable with respect to the
// argument order.
type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	if c := cdx.Compare(h[i].scan.Record(), h[j].scan.Record()); c != 0 {
		return c < 0
	}
	return h[i].index < h[j].index
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	elem := old[n-1]
	*h = old[:n-1]
	return elem
}

// Merge merges the inputs, each of which must be sorted in index
// collation order, writing every input record exactly once to w, in
// order. Records are copied byte for byte; equal keys retain the
// order of their inputs. Merging no inputs, or only empty inputs,
// produces an empty output. The returned count is the number of
// records written.
func Merge(ctx context.Context, w io.Writer, inputs []Input, opts Options) (int64, error) {
	out := cdxio.NewWriter(w)
	h := make(cursorHeap, 0, len(inputs))
	for i, in := range inputs {
		c := &cursor{scan: newScanner(in, opts.Order), index: i, name: in.Name}
		switch ok, err := c.advance(); {
		case err != nil:
			if !opts.DropFailed || outOfOrder(c.scan) {
				return 0, err
			}
			log.Error.Printf("merge: dropping failed input %s: %v", c.name, err)
		case ok:
			h = append(h, c)
		}
	}
	heap.Init(&h)
	var n int64
	for len(h) > 0 {
		c := h[0]
		if err := out.WriteRecord(c.scan.Record()); err != nil {
			return n, err
		}
		n++
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		switch ok, err := c.advance(); {
		case err != nil:
			if !opts.DropFailed || outOfOrder(c.scan) {
				return n, err
			}
			log.Error.Printf("merge: dropping failed input %s at offset %d: %v", c.name, c.scan.Offset(), err)
			heap.Remove(&h, 0)
		case ok:
			heap.Fix(&h, 0)
		default:
			heap.Remove(&h, 0)
		}
	}
	return n, out.Flush()
}
