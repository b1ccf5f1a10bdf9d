// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cdx defines the record model shared by all stages of the
// index pipeline: parsing of CDX and CDXJ index lines, and the
// collation under which index files are sorted.
//
// An index line has three fields separated by whitespace:
//
//	<surt> <timestamp> <payload>
//
// The surt is the canonicalized, reverse-host form of the captured
// URL; the timestamp is the capture time; the payload is everything
// after the second separator, typically a JSON document in CDXJ files
// or the remaining space-separated columns in legacy CDX files. The
// payload is opaque to the pipeline and is always preserved byte for
// byte.
package cdx

import (
	"bytes"
	"fmt"

	"github.com/grailbio/base/errors"
)

// A Record is a single parsed index line. The field slices alias the
// line from which the record was parsed; callers that reuse the
// underlying buffer must copy fields they retain. Raw holds the
// original line, including its terminator when one was present, so
// that records can be rewritten without altering a single byte.
type Record struct {
	Surt      []byte
	Timestamp []byte
	Payload   []byte
	Raw       []byte
}

// Parse parses a single index line into a Record. The line is split
// on its first two runs of spaces or tabs; a line with fewer than two
// such runs is malformed and produces an error of kind
// errors.Invalid. The trailing LF or CRLF, if present, is excluded
// from the parsed fields but retained in Raw. The returned record
// aliases line.
func Parse(line []byte) (Record, error) {
	body := trimEOL(line)
	i := indexSep(body)
	if i < 0 {
		return Record{}, errors.E(errors.Invalid, fmt.Sprintf("malformed record %s: no timestamp field", clip(body)))
	}
	surt := body[:i]
	rest := body[skipSep(body, i):]
	j := indexSep(rest)
	if j < 0 {
		return Record{}, errors.E(errors.Invalid, fmt.Sprintf("malformed record %s: no payload field", clip(body)))
	}
	return Record{
		Surt:      surt,
		Timestamp: rest[:j],
		Payload:   rest[skipSep(rest, j):],
		Raw:       line,
	}, nil
}

// Compare compares two records in index collation order, returning
// -1, 0, or 1. Records are ordered by the byte-wise comparison of the
// joined key surt||timestamp, not field by field: when one record's
// surt is a proper prefix of the other's, the first record's
// timestamp bytes are compared against the remainder of the longer
// surt, exactly as if the joined keys had been materialized. This is
// the order produced by sorting whole index lines as strings, and it
// must match the order in which every input file was sorted.
func Compare(a, b Record) int {
	return CompareKey(a.Surt, a.Timestamp, b.Surt, b.Timestamp)
}

// CompareKey compares the joined keys aSurt||aTime and bSurt||bTime
// without materializing them.
func CompareKey(aSurt, aTime, bSurt, bTime []byte) int {
	if len(aSurt) == len(bSurt) {
		// Fast path: equal surt lengths cannot cross the field
		// boundary.
		if c := bytes.Compare(aSurt, bSurt); c != 0 {
			return c
		}
		return bytes.Compare(aTime, bTime)
	}
	a, b := aSurt, bSurt
	aNext, bNext := aTime, bTime
	for {
		if len(a) == 0 {
			a, aNext = aNext, nil
		}
		if len(b) == 0 {
			b, bNext = bNext, nil
		}
		if len(a) == 0 || len(b) == 0 {
			break
		}
		n := len(a)
		if len(b) < n {
			n = len(b)
		}
		if c := bytes.Compare(a[:n], b[:n]); c != 0 {
			return c
		}
		a, b = a[n:], b[n:]
	}
	switch an, bn := len(a)+len(aNext), len(b)+len(bNext); {
	case an < bn:
		return -1
	case an > bn:
		return 1
	}
	return 0
}

// Less reports whether a precedes b in index collation order.
func Less(a, b Record) bool { return Compare(a, b) < 0 }

func isSep(c byte) bool { return c == ' ' || c == '\t' }

// indexSep returns the index of the first separator byte in p, or -1.
func indexSep(p []byte) int {
	for i, c := range p {
		if isSep(c) {
			return i
		}
	}
	return -1
}

// skipSep returns the index just past the run of separator bytes
// starting at p[i].
func skipSep(p []byte, i int) int {
	for i < len(p) && isSep(p[i]) {
		i++
	}
	return i
}

func trimEOL(p []byte) []byte {
	if n := len(p); n > 0 && p[n-1] == '\n' {
		p = p[:n-1]
	}
	if n := len(p); n > 0 && p[n-1] == '\r' {
		p = p[:n-1]
	}
	return p
}

// clip formats a line for an error message, truncating long lines.
func clip(p []byte) string {
	const max = 120
	if len(p) <= max {
		return fmt.Sprintf("%q", p)
	}
	return fmt.Sprintf("%q... (%d bytes)", p[:max], len(p))
}
