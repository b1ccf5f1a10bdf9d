// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/cdxindex/cdxio"
	"github.com/grailbio/cdxindex/zipnum"
)

func zipnumCmdUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: cdxindex zipnum [-o dir] [input]

Command zipnum writes a sorted index stream as a ZipNum set: shard
files of independently decompressible gzip members of -chunk lines
each, a .idx file recording the first key and compressed extent of
every member, and a .loc file mapping shard names to files. Replay
servers binary-search the .idx and fetch single members with range
requests.

The input must already be sorted; standard input is read if no input
is named.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func zipnumCmd(args []string) {
	var (
		flags     = flag.NewFlagSet("cdxindex zipnum", flag.ExitOnError)
		outDir    = flags.String("o", ".", "output directory")
		base      = flags.String("base", "", "artifact base name (default: the output directory's name)")
		chunkSize = flags.Int("chunk", zipnum.DefaultChunkSize, "lines per gzip member")
		shardMiB  = flags.Int64("shard-size", 100, "target shard size in MiB")
		single    = flags.Bool("single", false, "write a single shard regardless of size")
		level     = flags.Int("compress-level", zipnum.DefaultCompressionLevel, "gzip compression level")
		idxFile   = flags.String("idx-file", "", "override the .idx file name")
		locFile   = flags.String("loc-file", "", "override the .loc file name")
	)
	flags.Usage = func() { zipnumCmdUsage(flags) }
	must.Nil(flags.Parse(args))
	if flags.NArg() > 1 {
		flags.Usage()
	}
	ctx := context.Background()

	opts := []zipnum.WriteOption{
		zipnum.ChunkSize(*chunkSize),
		zipnum.ShardSize(*shardMiB << 20),
		zipnum.CompressionLevel(*level),
	}
	if *base != "" {
		opts = append(opts, zipnum.Base(*base))
	}
	if *idxFile != "" {
		opts = append(opts, zipnum.IdxFile(*idxFile))
	}
	if *locFile != "" {
		opts = append(opts, zipnum.LocFile(*locFile))
	}
	if *single {
		opts = append(opts, zipnum.SingleShard)
	}

	input := cdxio.Stdio
	if flags.NArg() == 1 {
		input = flags.Arg(0)
	}
	in, err := cdxio.Open(ctx, input)
	if err != nil {
		log.Fatal(err)
	}
	defer in.Close()
	w, err := zipnum.NewWriter(ctx, *outDir, opts...)
	if err != nil {
		log.Fatal(err)
	}
	lines := cdxio.NewLineReader(in, input)
	for lines.Scan() {
		if err := w.Append(ctx, lines.Bytes()); err != nil {
			w.Discard(ctx)
			log.Fatal(err)
		}
	}
	if err := lines.Err(); err != nil {
		w.Discard(ctx)
		log.Fatal(err)
	}
	if err := w.Close(ctx); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %d records in %d shards under %s", w.Records(), w.Shards(), *outDir)
}
