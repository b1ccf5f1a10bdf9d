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

func surplusCmdUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: cdxindex surplus [-o output] [-threshold n] master

Command surplus scans a sorted master index and writes one
"surt count" line for every key with more than -threshold records.
Such keys are usually crawler traps or self-referential calendars;
the filter command removes them.

With -cache, the entry list is also recorded alongside a fingerprint
of the master, and a later run against the same master reuses it
instead of rescanning.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func surplusCmd(args []string) {
	var (
		flags     = flag.NewFlagSet("cdxindex surplus", flag.ExitOnError)
		output    = flags.String("o", cdxio.Stdio, "output path")
		threshold = flags.Int("threshold", surplus.DefaultThreshold, "run length above which a key is excessive")
		cache     = flags.String("cache", "", "cache the entry list at this path, keyed by the master version")
	)
	flags.Usage = func() { surplusCmdUsage(flags) }
	must.Nil(flags.Parse(args))
	if flags.NArg() != 1 {
		flags.Usage()
	}
	ctx := context.Background()

	entries, err := surplus.Entries(ctx, flags.Arg(0), *cache, *threshold)
	if err != nil {
		log.Fatal(err)
	}
	out, err := cdxio.Create(ctx, *output)
	if err != nil {
		log.Fatal(err)
	}
	defer out.Discard()
	if err := surplus.WriteEntries(out, entries); err != nil {
		log.Fatal(err)
	}
	if err := out.Close(); err != nil {
		log.Fatal(err)
	}
	log.Printf("%d excessive keys", len(entries))
}
