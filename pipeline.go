// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cdxindex

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cdxindex/blacklist"
	"github.com/grailbio/cdxindex/cdxio"
	"github.com/grailbio/cdxindex/mergeio"
	"github.com/grailbio/cdxindex/surplus"
	"github.com/grailbio/cdxindex/zipnum"
	"golang.org/x/sync/errgroup"
)

// A Stage is one step of an index maintenance pipeline: it consumes
// an index stream and produces a derived one. Source stages (the
// merge) ignore their input; sink stages (the zipnum writer) write
// nothing to their output.
type Stage interface {
	// Name identifies the stage in logs and errors.
	Name() string
	// Run processes the entire stream, returning only after all
	// output has been written.
	Run(ctx context.Context, in io.Reader, out io.Writer) error
}

type stageFunc struct {
	name string
	run  func(ctx context.Context, in io.Reader, out io.Writer) error
}

// NewStage returns a Stage running the given function.
func NewStage(name string, run func(ctx context.Context, in io.Reader, out io.Writer) error) Stage {
	return stageFunc{name, run}
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	return s.run(ctx, in, out)
}

// RunStages runs a chain of stages concurrently, connecting each
// stage's output to the next stage's input with a pipe. The first
// stage reads from in (which may be nil for a source stage); the
// last stage writes to out. When a stage fails, its pipes are closed
// with the failure so that its neighbors unblock and the rest of the
// chain tears down; RunStages returns the failure.
func RunStages(ctx context.Context, in io.Reader, out io.Writer, stages ...Stage) error {
	g, ctx := errgroup.WithContext(ctx)
	r := in
	for i := range stages {
		var (
			stage    = stages[i]
			sin      = r
			sout     = io.Writer(out)
			pw       *io.PipeWriter
			upstream *io.PipeReader
		)
		if i < len(stages)-1 {
			var pr *io.PipeReader
			pr, pw = io.Pipe()
			sout = pw
			r = pr
		}
		upstream, _ = sin.(*io.PipeReader)
		g.Go(func() error {
			err := stage.Run(ctx, sin, sout)
			if pw != nil {
				pw.CloseWithError(err)
			}
			if upstream != nil {
				upstream.CloseWithError(err)
			}
			if err != nil {
				return errors.E(fmt.Sprintf("stage %s", stage.Name()), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// MergeStage returns a source stage that merges the named sorted
// index files into one sorted stream. A non-nil stage input joins
// the merge as a live, already sorted input.
func MergeStage(paths []string, opts mergeio.Options) Stage {
	return NewStage("merge", func(ctx context.Context, in io.Reader, out io.Writer) error {
		var live []mergeio.Input
		if in != nil {
			live = append(live, mergeio.Input{Name: "live input", R: in})
		}
		n, err := mergeio.MergeFiles(ctx, out, paths, live, opts)
		if err != nil {
			return err
		}
		log.Printf("merge: %d records from %d inputs", n, len(paths)+len(live))
		return nil
	})
}

// BlacklistStage returns a stage that drops lines matching l and
// passes all others through byte for byte.
func BlacklistStage(l *blacklist.List) Stage {
	return NewStage("blacklist", func(ctx context.Context, in io.Reader, out io.Writer) error {
		n, err := l.Filter(ctx, in, "blacklist input", out)
		if err != nil {
			return err
		}
		log.Printf("blacklist: dropped %d records", n)
		return nil
	})
}

// DetectStage returns a stage that reads a sorted index stream and
// writes one "surt count" line for every key whose run exceeds
// threshold records.
func DetectStage(threshold int) Stage {
	return NewStage("surplus-detect", func(ctx context.Context, in io.Reader, out io.Writer) error {
		var (
			s  = cdxio.NewVerifyingScanner(in, "surplus input")
			bw = bufio.NewWriter(out)
			n  int
		)
		err := surplus.Detect(ctx, s, threshold, func(e surplus.Entry) error {
			n++
			_, err := fmt.Fprintln(bw, e.String())
			return err
		})
		if err != nil {
			return err
		}
		log.Printf("surplus: %d excessive keys", n)
		return bw.Flush()
	})
}

// FilterStage returns a stage that removes every record whose surt
// appears in entries, keeping all other bytes intact.
func FilterStage(entries []surplus.Entry, strict bool) Stage {
	return NewStage("surplus-filter", func(ctx context.Context, in io.Reader, out io.Writer) error {
		s := cdxio.NewVerifyingScanner(in, "filter input")
		stats, err := surplus.Filter(ctx, s, entries, out, strict)
		if err != nil {
			return err
		}
		log.Printf("filter: removed %d of %d records, %d stale entries",
			stats.Removed, stats.Scanned, stats.Stale)
		return nil
	})
}

// ZipNumStage returns a sink stage that writes its input stream as a
// ZipNum set under dir.
func ZipNumStage(dir string, opts ...zipnum.WriteOption) Stage {
	return NewStage("zipnum", func(ctx context.Context, in io.Reader, out io.Writer) error {
		w, err := zipnum.NewWriter(ctx, dir, opts...)
		if err != nil {
			return err
		}
		lines := cdxio.NewLineReader(in, "zipnum input")
		for lines.Scan() {
			if err := w.Append(ctx, lines.Bytes()); err != nil {
				w.Discard(ctx)
				return err
			}
		}
		if err := lines.Err(); err != nil {
			w.Discard(ctx)
			return err
		}
		if err := w.Close(ctx); err != nil {
			return err
		}
		log.Printf("zipnum: %d records in %d shards under %s", w.Records(), w.Shards(), dir)
		return nil
	})
}
