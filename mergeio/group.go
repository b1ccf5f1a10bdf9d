// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mergeio

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/cdxindex/cdxio"
)

// DefaultGroupSize is the default maximum number of files merged by
// one pass of MergeFiles.
const DefaultGroupSize = 64

// MergeFiles merges the named sorted index files, together with any
// live inputs, into w. When opts.Parallelism exceeds 1 and more than
// opts.GroupSize files are named, the files are merged in concurrent
// groups whose outputs are spilled to local temporary files; rounds
// of group merges repeat until one pass over the spills remains.
// Grouping does not change the result: merging is associative, and
// every pass preserves input order for equal keys. Live inputs
// cannot be re-read and so join only the final pass.
func MergeFiles(ctx context.Context, w io.Writer, paths []string, live []Input, opts Options) (int64, error) {
	if opts.GroupSize <= 1 {
		opts.GroupSize = DefaultGroupSize
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	trusted := false
	if opts.Parallelism > 1 && len(paths) > opts.GroupSize {
		dir, err := ioutil.TempDir("", "cdxmerge-")
		if err != nil {
			return 0, err
		}
		defer os.RemoveAll(dir)
		for round := 0; len(paths) > opts.GroupSize; round++ {
			groups := group(paths, opts.GroupSize)
			spills := make([]string, len(groups))
			counts := make([]int64, len(groups))
			err := traverse.Limit(opts.Parallelism).Each(len(groups), func(i int) error {
				path := filepath.Join(dir, fmt.Sprintf("round%d-%04d", round, i))
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				n, err := mergeFilesOnce(ctx, f, groups[i], trusted, nil, opts)
				if err != nil {
					f.Close()
					return err
				}
				counts[i] = n
				spills[i] = path
				return f.Close()
			})
			if err != nil {
				return 0, err
			}
			var total int64
			for _, n := range counts {
				total += n
			}
			log.Debug.Printf("merge: round %d: %d files into %d spills, %d records",
				round, len(paths), len(spills), total)
			paths = spills
			trusted = true
		}
	}
	return mergeFilesOnce(ctx, w, paths, trusted, live, opts)
}

// mergeFilesOnce opens the named files and merges them, along with
// any live inputs, in a single pass.
func mergeFilesOnce(ctx context.Context, w io.Writer, paths []string, trusted bool, live []Input, opts Options) (n int64, err error) {
	inputs := make([]Input, 0, len(paths)+len(live))
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()
	for _, path := range paths {
		r, oerr := cdxio.Open(ctx, path)
		if oerr != nil {
			if opts.DropFailed {
				log.Error.Printf("merge: dropping failed input %s: %v", path, oerr)
				continue
			}
			return 0, oerr
		}
		closers = append(closers, r)
		inputs = append(inputs, Input{Name: path, R: r, Trusted: trusted})
	}
	inputs = append(inputs, live...)
	return Merge(ctx, w, inputs, opts)
}

// group splits paths into runs of at most size.
func group(paths []string, size int) [][]string {
	var groups [][]string
	for len(paths) > size {
		groups = append(groups, paths[:size])
		paths = paths[size:]
	}
	return append(groups, paths)
}
