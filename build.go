// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cdxindex

import (
	"context"
	"io/ioutil"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cdxindex/blacklist"
	"github.com/grailbio/cdxindex/cdxio"
	"github.com/grailbio/cdxindex/mergeio"
	"github.com/grailbio/cdxindex/surplus"
	"github.com/grailbio/cdxindex/zipnum"
)

// Artifact names written under a Build's output directory.
const (
	// MasterName is the merged master index.
	MasterName = "master.cdx.gz"
	// IndexName is the master index with excessive keys removed; the
	// artifact replay serves from.
	IndexName = "index.cdx.gz"
	// SurplusName is the cached excessive-key list, tied to the
	// master version it was computed from.
	SurplusName = "surplus.cache"
	// ZipNumName is the directory holding the optional ZipNum set.
	ZipNumName = "zipnum"
)

// A Build is one complete index maintenance run: merge sorted shards
// into a master index, remove pathologically over-represented keys,
// and optionally write a ZipNum deployment set. Artifacts are
// written under Dir and become visible only when complete, so an
// interrupted build leaves no partial artifact behind; rerunning a
// build against an unchanged master reuses the cached excessive-key
// list.
type Build struct {
	// Shards names the sorted input index files.
	Shards []string
	// Dir is the output directory; any URL scheme registered with the
	// file package is accepted.
	Dir string
	// Exclude, when non-nil and non-empty, drops matching records
	// from the merged master.
	Exclude *blacklist.List
	// Threshold is the run length above which a key is excessive.
	// Zero means surplus.DefaultThreshold.
	Threshold int
	// Strict fails the build on a stale excessive-key cache entry
	// instead of warning.
	Strict bool
	// Merge configures the shard merge.
	Merge mergeio.Options
	// ZipNum, when true, writes a ZipNum set of the final index under
	// Dir.
	ZipNum bool
	// ZipNumOptions configures the ZipNum writer.
	ZipNumOptions []zipnum.WriteOption
}

// Run executes the build.
func (b *Build) Run(ctx context.Context) error {
	master := file.Join(b.Dir, MasterName)
	if err := b.merge(ctx, master); err != nil {
		return err
	}
	entries, err := surplus.Entries(ctx, master, file.Join(b.Dir, SurplusName), b.Threshold)
	if err != nil {
		return err
	}
	index := file.Join(b.Dir, IndexName)
	if err := b.filter(ctx, master, index, entries); err != nil {
		return err
	}
	if !b.ZipNum {
		return nil
	}
	return b.zipnum(ctx, index)
}

// merge writes the merged (and, if configured, blacklist-filtered)
// master index.
func (b *Build) merge(ctx context.Context, master string) error {
	out, err := cdxio.Create(ctx, master)
	if err != nil {
		return err
	}
	defer out.Discard()
	stages := []Stage{MergeStage(b.Shards, b.Merge)}
	if b.Exclude != nil && b.Exclude.Len() > 0 {
		stages = append(stages, BlacklistStage(b.Exclude))
	}
	if err := RunStages(ctx, nil, out, stages...); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	log.Printf("build: wrote %s", master)
	return nil
}

// filter writes the final index: the master minus the records named
// by entries.
func (b *Build) filter(ctx context.Context, master, index string, entries []surplus.Entry) error {
	in, err := cdxio.Open(ctx, master)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := cdxio.Create(ctx, index)
	if err != nil {
		return err
	}
	defer out.Discard()
	if err := RunStages(ctx, in, out, FilterStage(entries, b.Strict)); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	log.Printf("build: wrote %s", index)
	return nil
}

// zipnum writes the ZipNum set of the final index.
func (b *Build) zipnum(ctx context.Context, index string) error {
	in, err := cdxio.Open(ctx, index)
	if err != nil {
		return err
	}
	defer in.Close()
	opts := append([]zipnum.WriteOption{zipnum.Base("index")}, b.ZipNumOptions...)
	return RunStages(ctx, in, ioutil.Discard, ZipNumStage(file.Join(b.Dir, ZipNumName), opts...))
}
