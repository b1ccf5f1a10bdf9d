// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cdxio provides buffered, offset-tracking readers and
// writers for CDX/CDXJ index streams, and helpers for opening index
// files on any storage supported by the file package.
package cdxio

import (
	"bufio"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cdxindex/cdx"
)

// lineBufferSize is the initial size of a line reader's buffer.
// Lines longer than this are accommodated by growing the buffer.
const lineBufferSize = 64 << 10

// A LineReader reads a byte stream line by line, maintaining the byte
// offsets of the current line. Lines are returned with their
// terminators intact so that streams can be reproduced exactly; the
// final line of a stream may be unterminated. Lines may be of
// arbitrary length.
type LineReader struct {
	name string
	r    *bufio.Reader
	buf  []byte
	off  int64
	end  int64
	err  error
	done bool
}

// NewLineReader returns a LineReader reading from r. The name is used
// in diagnostics only.
func NewLineReader(r io.Reader, name string) *LineReader {
	return &LineReader{name: name, r: bufio.NewReaderSize(r, lineBufferSize)}
}

// Scan advances the reader to the next line, returning false at the
// end of the stream or upon error.
func (l *LineReader) Scan() bool {
	if l.err != nil || l.done {
		return false
	}
	l.buf = l.buf[:0]
	for {
		frag, err := l.r.ReadSlice('\n')
		l.buf = append(l.buf, frag...)
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF {
			l.done = true
		} else if err != nil {
			l.err = errors.E(fmt.Sprintf("%s: read at offset %d", l.name, l.end), err)
			return false
		}
		break
	}
	if len(l.buf) == 0 {
		return false
	}
	l.off = l.end
	l.end += int64(len(l.buf))
	return true
}

// Bytes returns the current line, including its terminator when one
// was present. The returned slice is valid only until the next call
// to Scan.
func (l *LineReader) Bytes() []byte { return l.buf }

// Offset returns the byte offset of the start of the current line.
func (l *LineReader) Offset() int64 { return l.off }

// End returns the byte offset one past the end of the current line.
// Before the first call to Scan, End returns 0; it is the offset at
// which the next line begins.
func (l *LineReader) End() int64 { return l.end }

// Err returns the first error encountered while reading. Err returns
// nil at a clean end of stream.
func (l *LineReader) Err() error { return l.err }

// Name returns the reader's diagnostic name.
func (l *LineReader) Name() string { return l.name }

// A RecordScanner is the record stream interface implemented by
// Scanner and VerifyingScanner and consumed by the pipeline stages.
type RecordScanner interface {
	// Scan advances to the next record, returning false at the end
	// of the stream or upon error.
	Scan() bool
	// Record returns the current record, which is valid only until
	// the next call to Scan.
	Record() cdx.Record
	// Err returns the first error encountered, or nil at a clean end
	// of stream.
	Err() error
	// Offset returns the byte offset of the current record.
	Offset() int64
	// Name returns the stream's diagnostic name.
	Name() string
}

// A Scanner reads index records from a byte stream. The scanned
// record aliases the scanner's internal buffer and is valid only
// until the next call to Scan.
type Scanner struct {
	*LineReader
	rec cdx.Record
	err error
}

// NewScanner returns a Scanner reading records from r. The name is
// used in diagnostics only.
func NewScanner(r io.Reader, name string) *Scanner {
	return &Scanner{LineReader: NewLineReader(r, name)}
}

// Scan advances the scanner to the next record, returning false at
// the end of the stream or upon error. Malformed lines are errors of
// kind errors.Invalid.
func (s *Scanner) Scan() bool {
	if s.err != nil {
		return false
	}
	if !s.LineReader.Scan() {
		return false
	}
	rec, err := cdx.Parse(s.Bytes())
	if err != nil {
		s.err = errors.E(errors.Invalid, fmt.Sprintf("%s: offset %d", s.Name(), s.Offset()), err)
		return false
	}
	s.rec = rec
	return true
}

// Record returns the current record.
func (s *Scanner) Record() cdx.Record { return s.rec }

// Err returns the first error encountered while scanning. Err returns
// nil at a clean end of stream.
func (s *Scanner) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.LineReader.Err()
}

// A VerifyingScanner is a Scanner that additionally checks that
// records appear in nondecreasing collation order. By default an
// out-of-order record stops the scan with an error of kind
// errors.Invalid; with Warn set, violations are logged and the
// records passed through.
type VerifyingScanner struct {
	*Scanner
	// Warn logs order violations instead of failing the scan.
	Warn bool

	prevSurt   []byte
	prevTime   []byte
	seen       bool
	outOfOrder bool
	violations int64
	err        error
}

// NewVerifyingScanner returns a VerifyingScanner reading records
// from r.
func NewVerifyingScanner(r io.Reader, name string) *VerifyingScanner {
	return &VerifyingScanner{Scanner: NewScanner(r, name)}
}

// Scan advances the scanner to the next record, returning false at
// the end of the stream or upon error.
func (s *VerifyingScanner) Scan() bool {
	if s.err != nil {
		return false
	}
	if !s.Scanner.Scan() {
		return false
	}
	rec := s.Scanner.Record()
	if s.seen && cdx.CompareKey(rec.Surt, rec.Timestamp, s.prevSurt, s.prevTime) < 0 {
		if !s.Warn {
			s.outOfOrder = true
			s.err = errors.E(errors.Invalid, fmt.Sprintf(
				"%s: record out of order at offset %d: %q %q sorts before the preceding record",
				s.Name(), s.Offset(), rec.Surt, rec.Timestamp))
			return false
		}
		s.violations++
		log.Error.Printf("%s: record out of order at offset %d: %q %q sorts before the preceding record",
			s.Name(), s.Offset(), rec.Surt, rec.Timestamp)
	}
	s.prevSurt = append(s.prevSurt[:0], rec.Surt...)
	s.prevTime = append(s.prevTime[:0], rec.Timestamp...)
	s.seen = true
	return true
}

// OutOfOrder reports whether the scan stopped because of an
// out-of-order record.
func (s *VerifyingScanner) OutOfOrder() bool { return s.outOfOrder }

// Violations returns the number of order violations passed through in
// Warn mode.
func (s *VerifyingScanner) Violations() int64 { return s.violations }

// Err returns the first error encountered while scanning. Err returns
// nil at a clean end of stream.
func (s *VerifyingScanner) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.Scanner.Err()
}
