// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cdxio

import (
	"bufio"
	"io"

	"github.com/grailbio/cdxindex/cdx"
)

const writeBufferSize = 256 << 10

// A Writer writes index records to an output stream. Records are
// written verbatim except that a missing line terminator is supplied,
// so that an unterminated final line from one input can never splice
// onto the next record. Output is buffered; callers must call Flush
// when done.
type Writer struct {
	w *bufio.Writer
	n int64
}

// NewWriter returns a Writer writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, writeBufferSize)}
}

// WriteRecord writes one record.
func (w *Writer) WriteRecord(rec cdx.Record) error {
	return w.WriteLine(rec.Raw)
}

// WriteLine writes one raw line, supplying a terminator if the line
// lacks one.
func (w *Writer) WriteLine(line []byte) error {
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	w.n++
	if n := len(line); n == 0 || line[n-1] != '\n' {
		return w.w.WriteByte('\n')
	}
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int64 { return w.n }

// Flush flushes buffered output to the underlying writer.
func (w *Writer) Flush() error { return w.w.Flush() }
