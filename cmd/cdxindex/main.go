// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
)

func init() {
	file.RegisterImplementation("s3", s3file.NewImplementation(
		s3file.NewDefaultProvider(session.Options{})))
}

func usage() {
	fmt.Fprintf(os.Stderr, `Cdxindex maintains the sorted CDX/CDXJ URL indexes behind a web
archive replay system.

Usage:

	cdxindex <command> [arguments]

The commands are:

	merge      merge sorted index shards into one sorted index
	surplus    list keys with excessive capture counts
	filter     remove excessive keys from a sorted index
	blacklist  drop records matching a rules file
	zipnum     write a sorted index as a ZipNum set
	run        run the complete maintenance pipeline

Index files and directories may be local paths or s3:// URLs; names
ending in .gz are compressed. "-" names standard input or output.
`)
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("cdxindex: ")
	must.Func = log.Fatal
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	default:
		fmt.Fprintln(os.Stderr, "unknown command", cmd)
		flag.Usage()
	case "merge":
		mergeCmd(args)
	case "surplus":
		surplusCmd(args)
	case "filter":
		filterCmd(args)
	case "blacklist":
		blacklistCmd(args)
	case "zipnum":
		zipnumCmd(args)
	case "run":
		runCmd(args)
	}
}
