// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cdxio

import (
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
)

func TestLineReader(t *testing.T) {
	const text = "com,a)/ 20200101000000 {}\ncom,b)/ 20200101000000 {}\r\ncom,c)/ 20200101000000 {}"
	l := NewLineReader(strings.NewReader(text), "test")
	var (
		lines   []string
		offsets []int64
	)
	for l.Scan() {
		lines = append(lines, string(l.Bytes()))
		offsets = append(offsets, l.Offset())
		if got, want := l.End(), l.Offset()+int64(len(l.Bytes())); got != want {
			t.Errorf("end %v, want %v", got, want)
		}
	}
	if err := l.Err(); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"com,a)/ 20200101000000 {}\n",
		"com,b)/ 20200101000000 {}\r\n",
		"com,c)/ 20200101000000 {}",
	}
	if got := len(lines); got != len(want) {
		t.Fatalf("got %v lines, want %v", got, len(want))
	}
	var off int64
	for i := range want {
		if got := lines[i]; got != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got, want[i])
		}
		if got := offsets[i]; got != off {
			t.Errorf("line %d: offset %v, want %v", i, got, off)
		}
		off += int64(len(want[i]))
	}
	if l.Scan() {
		t.Error("scan after end of stream")
	}
}

func TestLineReaderEmpty(t *testing.T) {
	l := NewLineReader(strings.NewReader(""), "test")
	if l.Scan() {
		t.Error("scan of empty stream")
	}
	if err := l.Err(); err != nil {
		t.Fatal(err)
	}
}

// TestLineReaderLong verifies that lines longer than the reader's
// internal buffer are returned whole.
func TestLineReaderLong(t *testing.T) {
	long := "com,a)/ 20200101000000 " + strings.Repeat("x", 4*lineBufferSize) + "\n"
	l := NewLineReader(strings.NewReader(long+"com,b)/ 20200101000000 {}\n"), "test")
	if !l.Scan() {
		t.Fatal(l.Err())
	}
	if got, want := string(l.Bytes()), long; got != want {
		t.Errorf("got %v bytes, want %v", len(got), len(want))
	}
	if !l.Scan() {
		t.Fatal(l.Err())
	}
	if got, want := l.Offset(), int64(len(long)); got != want {
		t.Errorf("offset %v, want %v", got, want)
	}
}

func TestScanner(t *testing.T) {
	const text = "com,a)/ 20200101000000 {\"a\":1}\ncom,b)/ 20200102000000 {\"b\":2}\n"
	s := NewScanner(strings.NewReader(text), "test")
	var surts []string
	for s.Scan() {
		surts = append(surts, string(s.Record().Surt))
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	if got, want := strings.Join(surts, ","), "com,a)/,com,b)/"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestScannerMalformed(t *testing.T) {
	const text = "com,a)/ 20200101000000 {}\nnotarecord\n"
	s := NewScanner(strings.NewReader(text), "test")
	if !s.Scan() {
		t.Fatal(s.Err())
	}
	if s.Scan() {
		t.Fatal("scanned a malformed record")
	}
	err := s.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("error %v is not Invalid", err)
	}
	if !strings.Contains(err.Error(), "offset 26") {
		t.Errorf("error %v does not locate the malformed record", err)
	}
}

func TestVerifyingScanner(t *testing.T) {
	const sorted = "com,a)/ 20200101000000 {}\ncom,a)/ 20200102000000 {}\ncom,b)/ 20200101000000 {}\n"
	s := NewVerifyingScanner(strings.NewReader(sorted), "test")
	var n int
	for s.Scan() {
		n++
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	if got, want := n, 3; got != want {
		t.Errorf("got %v records, want %v", got, want)
	}
	if s.OutOfOrder() {
		t.Error("sorted input reported out of order")
	}
}

func TestVerifyingScannerOutOfOrder(t *testing.T) {
	const unsorted = "com,b)/ 20200101000000 {}\ncom,a)/ 20200101000000 {}\n"
	s := NewVerifyingScanner(strings.NewReader(unsorted), "test")
	if !s.Scan() {
		t.Fatal(s.Err())
	}
	if s.Scan() {
		t.Fatal("scanned an out-of-order record")
	}
	err := s.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("error %v is not Invalid", err)
	}
	if !s.OutOfOrder() {
		t.Error("OutOfOrder not reported")
	}
}

// TestVerifyingScannerTimestampOrder verifies that ordering is
// checked on the joined key, so that regressions within a single
// surt's run are caught too.
func TestVerifyingScannerTimestampOrder(t *testing.T) {
	const unsorted = "com,a)/ 20200102000000 {}\ncom,a)/ 20200101000000 {}\n"
	s := NewVerifyingScanner(strings.NewReader(unsorted), "test")
	for s.Scan() {
	}
	if s.Err() == nil {
		t.Fatal("expected error")
	}
}

func TestVerifyingScannerWarn(t *testing.T) {
	const unsorted = "com,b)/ 20200101000000 {}\ncom,a)/ 20200101000000 {}\ncom,c)/ 20200101000000 {}\n"
	s := NewVerifyingScanner(strings.NewReader(unsorted), "test")
	s.Warn = true
	var n int
	for s.Scan() {
		n++
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	if got, want := n, 3; got != want {
		t.Errorf("got %v records, want %v", got, want)
	}
	if got, want := s.Violations(), int64(1); got != want {
		t.Errorf("got %v violations, want %v", got, want)
	}
}
