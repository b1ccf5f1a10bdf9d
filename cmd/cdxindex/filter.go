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
	"github.com/grailbio/cdxindex/surplus"
)

func filterCmdUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: cdxindex filter -surplus entries [-o output] master

Command filter copies a sorted master index, removing every record
whose surt appears in the entry list produced by the surplus
command. Kept records are copied byte for byte. Run boundaries are
taken from the master itself; a count that disagrees with the run
actually found, or a key that is absent, marks the entry list as
stale and is logged. With -strict a stale entry fails the command
instead.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func filterCmd(args []string) {
	var (
		flags   = flag.NewFlagSet("cdxindex filter", flag.ExitOnError)
		output  = flags.String("o", cdxio.Stdio, "output path; a .gz suffix compresses")
		entries = flags.String("surplus", "", "excessive-key entry list to remove")
		strict  = flags.Bool("strict", false, "fail on a stale entry instead of warning")
	)
	flags.Usage = func() { filterCmdUsage(flags) }
	must.Nil(flags.Parse(args))
	if flags.NArg() != 1 || *entries == "" {
		flags.Usage()
	}
	ctx := context.Background()

	er, err := cdxio.Open(ctx, *entries)
	if err != nil {
		log.Fatal(err)
	}
	list, err := surplus.ReadEntries(er, *entries)
	if err != nil {
		log.Fatal(err)
	}
	if err := er.Close(); err != nil {
		log.Fatal(err)
	}

	master := flags.Arg(0)
	in, err := cdxio.Open(ctx, master)
	if err != nil {
		log.Fatal(err)
	}
	defer in.Close()
	out, err := cdxio.Create(ctx, *output)
	if err != nil {
		log.Fatal(err)
	}
	defer out.Discard()
	stats, err := surplus.Filter(ctx, cdxio.NewVerifyingScanner(in, master), list, out, *strict)
	if err != nil {
		log.Fatal(err)
	}
	if err := out.Close(); err != nil {
		log.Fatal(err)
	}
	log.Printf("removed %d of %d records, %d stale entries", stats.Removed, stats.Scanned, stats.Stale)
}
