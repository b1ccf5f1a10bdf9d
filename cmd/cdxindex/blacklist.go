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
	"github.com/grailbio/cdxindex/blacklist"
	"github.com/grailbio/cdxindex/cdxio"
)

func blacklistCmdUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: cdxindex blacklist -rules file [-o output] [input...]

Command blacklist drops every index line matching any rule in the
rules file; all other lines pass through byte for byte. Rules are
RE2 regular expressions, one per line; blank lines and '#' comments
are ignored. Matching is order independent, so inputs need not be
sorted.

With one input (or none, for standard input), the filtered stream is
written to -o. With several inputs, -out-dir is required and each
input is filtered into a file of the same name there, -p at a time.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func blacklistCmd(args []string) {
	var (
		flags       = flag.NewFlagSet("cdxindex blacklist", flag.ExitOnError)
		rules       = flags.String("rules", "", "exclusion rules file")
		output      = flags.String("o", cdxio.Stdio, "output path for a single input")
		outDir      = flags.String("out-dir", "", "output directory for multiple inputs")
		parallelism = flags.Int("p", 1, "maximum concurrent file filters")
	)
	flags.Usage = func() { blacklistCmdUsage(flags) }
	must.Nil(flags.Parse(args))
	if *rules == "" {
		flags.Usage()
	}
	ctx := context.Background()

	list, err := blacklist.Load(ctx, *rules)
	if err != nil {
		log.Fatal(err)
	}

	if flags.NArg() > 1 {
		if *outDir == "" {
			log.Fatal("several inputs require -out-dir")
		}
		dropped, err := list.FilterFiles(ctx, flags.Args(), *outDir, *parallelism)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("dropped %d records from %d files", dropped, flags.NArg())
		return
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
	out, err := cdxio.Create(ctx, *output)
	if err != nil {
		log.Fatal(err)
	}
	defer out.Discard()
	dropped, err := list.Filter(ctx, in, input, out)
	if err != nil {
		log.Fatal(err)
	}
	if err := out.Close(); err != nil {
		log.Fatal(err)
	}
	log.Printf("dropped %d records", dropped)
}
