// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package surplus detects and removes excessive keys: surts whose
// run of records in a sorted master index exceeds a threshold. Such
// runs are usually crawler artifacts (session IDs, calendar pages)
// that bloat the index without adding replayable coverage.
package surplus

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/cdxindex/cdxio"
)

// DefaultThreshold is the run length a key must exceed to be
// considered excessive.
const DefaultThreshold = 1000

// An Entry names one excessive key and the length of its run at the
// time of detection. Entry lists are written one entry per line:
//
//	<surt> <count>
//
// in the order the keys were encountered, with '#' lines reserved
// for headers and comments.
type Entry struct {
	Surt  string
	Count int64
}

func (e Entry) String() string { return fmt.Sprintf("%s %d", e.Surt, e.Count) }

// WriteEntries writes entries to w in the entry list format.
func WriteEntries(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s %d\n", e.Surt, e.Count); err != nil {
			return err
		}
	}
	return nil
}

// ReadEntries reads an entry list from r. Blank lines and lines
// beginning with '#' are skipped. The name is used in diagnostics
// only.
func ReadEntries(r io.Reader, name string) ([]Entry, error) {
	l := cdxio.NewLineReader(r, name)
	var entries []Entry
	for l.Scan() {
		line := bytes.TrimRight(l.Bytes(), "\r\n")
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		e, err := parseEntry(line)
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: offset %d", name, l.Offset()), err)
		}
		entries = append(entries, e)
	}
	if err := l.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseEntry(line []byte) (Entry, error) {
	i := bytes.IndexByte(line, ' ')
	if i < 0 {
		return Entry{}, errors.E(errors.Invalid, fmt.Sprintf("malformed entry %q", line))
	}
	count, err := strconv.ParseInt(string(line[i+1:]), 10, 64)
	if err != nil {
		return Entry{}, errors.E(errors.Invalid, fmt.Sprintf("malformed entry %q", line), err)
	}
	if count < 1 {
		return Entry{}, errors.E(errors.Invalid, fmt.Sprintf("entry %q: count must be positive", line))
	}
	return Entry{Surt: string(line[:i]), Count: count}, nil
}
