// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/cdxindex/cdxio"
	"github.com/grailbio/cdxindex/mergeio"
)

func mergeCmdUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: cdxindex merge [-o output] input...

Command merge combines sorted index shards into one sorted index.
Inputs may be index files, directories of index files, or "-" for a
sorted stream on standard input (at most once). The merge keeps
every record: equal keys appear in input order, so a reindexed
capture layers over the shards listed before it.

Records are verified to be in sorted order as they are read; an
out-of-order record, a malformed record, or a failing input aborts
the merge so that a partial master cannot be mistaken for a complete
one. The -order and -drop-failed flags relax this for legacy
producers.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func mergeCmd(args []string) {
	var (
		flags       = flag.NewFlagSet("cdxindex merge", flag.ExitOnError)
		output      = flags.String("o", cdxio.Stdio, "output path; a .gz suffix compresses")
		order       = flags.String("order", "abort", "out-of-order record handling: abort, warn, or off")
		dropFailed  = flags.Bool("drop-failed", false, "drop an input that fails mid-stream instead of aborting")
		parallelism = flags.Int("p", 1, "maximum concurrent group merges")
		groupSize   = flags.Int("group", mergeio.DefaultGroupSize, "maximum inputs merged in one pass")
	)
	flags.Usage = func() { mergeCmdUsage(flags) }
	must.Nil(flags.Parse(args))
	if flags.NArg() == 0 {
		flags.Usage()
	}
	ctx := context.Background()

	var (
		paths []string
		live  []mergeio.Input
	)
	for _, arg := range flags.Args() {
		if arg == cdxio.Stdio {
			if live != nil {
				log.Fatal("at most one input may be standard input")
			}
			live = append(live, mergeio.Input{Name: "stdin", R: os.Stdin})
			continue
		}
		expanded, err := expand(ctx, arg)
		if err != nil {
			log.Fatal(err)
		}
		paths = append(paths, expanded...)
	}

	out, err := cdxio.Create(ctx, *output)
	if err != nil {
		log.Fatal(err)
	}
	defer out.Discard()
	n, err := mergeio.MergeFiles(ctx, out, paths, live, mergeio.Options{
		Order:       parseOrder(*order),
		DropFailed:  *dropFailed,
		GroupSize:   *groupSize,
		Parallelism: *parallelism,
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := out.Close(); err != nil {
		log.Fatal(err)
	}
	log.Printf("merged %d records from %d inputs", n, len(paths)+len(live))
}

func parseOrder(policy string) mergeio.OrderPolicy {
	switch policy {
	case "abort":
		return mergeio.OrderAbort
	case "warn":
		return mergeio.OrderWarn
	case "off":
		return mergeio.OrderOff
	}
	log.Fatalf("unknown order policy %q", policy)
	panic("not reached")
}

// expand returns the index files named by arg: the file itself, or
// the files listed under it when it names a directory or storage
// prefix, sorted by path.
func expand(ctx context.Context, arg string) ([]string, error) {
	if _, err := file.Stat(ctx, arg); err == nil {
		return []string{arg}, nil
	}
	lst := file.List(ctx, arg)
	var paths []string
	for lst.Scan() {
		paths = append(paths, lst.Path())
	}
	if err := lst.Err(); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("%s: no index files", arg))
	}
	sort.Strings(paths)
	return paths, nil
}
