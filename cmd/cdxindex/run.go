// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/cdxindex"
	"github.com/grailbio/cdxindex/blacklist"
	"github.com/grailbio/cdxindex/mergeio"
	"github.com/grailbio/cdxindex/surplus"
	"github.com/grailbio/cdxindex/zipnum"
)

func runCmdUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: cdxindex run -o dir input...

Command run executes the complete maintenance pipeline: merge the
named sorted shards (files or directories) into a master index,
detect keys with excessive capture counts, write the final index
with those keys removed, and optionally write a ZipNum set of it.

Everything is written under the -o directory:

	master.cdx.gz   the merged master index
	surplus.cache   excessive keys, keyed by the master version
	index.cdx.gz    the final index, excessive keys removed
	zipnum/         the ZipNum set (with -zipnum)

Artifacts appear only when complete, so an interrupted run never
leaves a partial index where replay might find it.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func runCmd(args []string) {
	var (
		flags       = flag.NewFlagSet("cdxindex run", flag.ExitOnError)
		outDir      = flags.String("o", "", "output directory (required)")
		exclude     = flags.String("exclude", "", "blacklist rules file")
		threshold   = flags.Int("threshold", surplus.DefaultThreshold, "run length above which a key is excessive")
		strict      = flags.Bool("strict", false, "fail on a stale excessive-key cache instead of warning")
		writeZipnum = flags.Bool("zipnum", false, "also write a ZipNum set of the final index")
		chunkSize   = flags.Int("chunk", zipnum.DefaultChunkSize, "zipnum lines per gzip member")
		order       = flags.String("order", "abort", "out-of-order record handling: abort, warn, or off")
		dropFailed  = flags.Bool("drop-failed", false, "drop an input that fails mid-stream instead of aborting")
		parallelism = flags.Int("p", 1, "maximum concurrent group merges")
	)
	flags.Usage = func() { runCmdUsage(flags) }
	must.Nil(flags.Parse(args))
	if *outDir == "" || flags.NArg() == 0 {
		flags.Usage()
	}
	ctx := context.Background()

	var shards []string
	for _, arg := range flags.Args() {
		expanded, err := expand(ctx, arg)
		if err != nil {
			log.Fatal(err)
		}
		shards = append(shards, expanded...)
	}
	var rules *blacklist.List
	if *exclude != "" {
		var err error
		rules, err = blacklist.Load(ctx, *exclude)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("loaded %d exclusion rules from %s", rules.Len(), *exclude)
	}

	b := cdxindex.Build{
		Shards:    shards,
		Dir:       *outDir,
		Exclude:   rules,
		Threshold: *threshold,
		Strict:    *strict,
		Merge: mergeio.Options{
			Order:       parseOrder(*order),
			DropFailed:  *dropFailed,
			Parallelism: *parallelism,
		},
		ZipNum:        *writeZipnum,
		ZipNumOptions: []zipnum.WriteOption{zipnum.ChunkSize(*chunkSize)},
	}
	if err := b.Run(ctx); err != nil {
		log.Fatal(err)
	}
	index := file.Join(*outDir, cdxindex.IndexName)
	info, err := file.Stat(ctx, index)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("index %s ready (%s)", index, data.Size(info.Size()))
}
