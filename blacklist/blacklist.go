// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package blacklist drops index lines that match a set of regular
// expressions. Matching is per line and independent of stream order,
// so the filter may be fused into any stage of a pipeline or run
// across many files in parallel.
package blacklist

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/cdxindex/cdxio"
)

// cancelCheckInterval is the number of lines between context checks
// in filter loops.
const cancelCheckInterval = 1 << 16

// A List is a compiled set of exclusion rules. A line is excluded
// when any rule finds a match anywhere within it, terminator
// excluded.
type List struct {
	rules []*regexp.Regexp
}

// Read compiles a rule set from r, one rule per line. Blank lines and
// lines beginning with '#' are ignored; every other line must be a
// valid regular expression. The name is used in diagnostics only.
func Read(r io.Reader, name string) (*List, error) {
	var (
		l      List
		lines  = bufio.NewScanner(r)
		lineno int
	)
	for lines.Scan() {
		lineno++
		rule := strings.TrimSpace(lines.Text())
		if rule == "" || strings.HasPrefix(rule, "#") {
			continue
		}
		re, err := regexp.Compile(rule)
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s:%d: bad exclusion rule", name, lineno), err)
		}
		l.rules = append(l.rules, re)
	}
	if err := lines.Err(); err != nil {
		return nil, errors.E(fmt.Sprintf("%s: read rules", name), err)
	}
	return &l, nil
}

// Load reads and compiles the rules file at path, which may name any
// storage supported by the file package.
func Load(ctx context.Context, path string) (*List, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx)
	return Read(f.Reader(ctx), path)
}

// Len returns the number of compiled rules.
func (l *List) Len() int { return len(l.rules) }

// Match reports whether any rule matches line.
func (l *List) Match(line []byte) bool {
	for _, re := range l.rules {
		if re.Match(line) {
			return true
		}
	}
	return false
}

// Filter copies r to w, dropping every line that matches the list.
// Kept lines are copied byte for byte, terminators included. Filter
// returns the number of lines dropped. The name is used in
// diagnostics only.
func (l *List) Filter(ctx context.Context, r io.Reader, name string, w io.Writer) (int64, error) {
	var (
		lines   = cdxio.NewLineReader(r, name)
		bw      = bufio.NewWriter(w)
		n       int64
		dropped int64
	)
	for lines.Scan() {
		if n++; n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return dropped, err
			}
		}
		line := lines.Bytes()
		if l.Match(trimEOL(line)) {
			dropped++
			continue
		}
		if _, err := bw.Write(line); err != nil {
			return dropped, errors.E(fmt.Sprintf("%s: write filtered output", name), err)
		}
	}
	if err := lines.Err(); err != nil {
		return dropped, err
	}
	return dropped, bw.Flush()
}

// FilterFiles filters each of the named files into a file of the same
// base name under dir, running up to parallelism filters at once. It
// returns the total number of lines dropped. Inputs ending in .gz are
// decoded, and their outputs encoded, transparently.
func (l *List) FilterFiles(ctx context.Context, paths []string, dir string, parallelism int) (int64, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	dropped := make([]int64, len(paths))
	err := traverse.Limit(parallelism).Each(len(paths), func(i int) (err error) {
		in, err := cdxio.Open(ctx, paths[i])
		if err != nil {
			return err
		}
		defer func() {
			if cerr := in.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		out, err := cdxio.Create(ctx, file.Join(dir, path.Base(paths[i])))
		if err != nil {
			return err
		}
		defer out.Discard()
		n, err := l.Filter(ctx, in, paths[i], out)
		if err != nil {
			return err
		}
		dropped[i] = n
		if err := out.Close(); err != nil {
			return err
		}
		log.Debug.Printf("blacklist: %s: dropped %d lines", paths[i], n)
		return nil
	})
	var total int64
	for _, n := range dropped {
		total += n
	}
	return total, err
}

// trimEOL returns line without its terminator, if any.
func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}
