// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cdxio

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriter(t *testing.T) {
	// The middle line is CRLF-terminated and the final line is
	// unterminated; terminated lines must round-trip byte for byte,
	// and the unterminated line must gain a terminator.
	const text = "com,a)/ 20200101000000 {}\ncom,b)/ 20200101000000 {}\r\ncom,c)/ 20200101000000 {}"
	s := NewScanner(strings.NewReader(text), "in")
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for s.Scan() {
		if err := w.WriteRecord(s.Record()); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), text+"\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := w.Count(), int64(3); got != want {
		t.Errorf("count %v, want %v", got, want)
	}
}
