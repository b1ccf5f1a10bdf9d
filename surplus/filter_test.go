// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package surplus

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/cdxindex/cdxio"
)

func filter(t *testing.T, input string, entries []Entry, strict bool) (string, FilterStats, error) {
	t.Helper()
	var buf bytes.Buffer
	s := cdxio.NewScanner(strings.NewReader(input), "test")
	stats, err := Filter(context.Background(), s, entries, &buf, strict)
	return buf.String(), stats, err
}

// TestFilter removes a flagged run and verifies that everything else
// is copied byte for byte, terminators included: one surviving line
// is CRLF-terminated and the final line is unterminated.
func TestFilter(t *testing.T) {
	const (
		input = "com,a)/ 20200101000000 {}\r\n" +
			"com,b)/ 20200101000000 {}\n" +
			"com,b)/ 20200102000000 {}\n" +
			"com,b)/ 20200103000000 {}\n" +
			"com,c)/ 20200101000000 {}"
		want = "com,a)/ 20200101000000 {}\r\n" +
			"com,c)/ 20200101000000 {}"
	)
	got, stats, err := filter(t, input, []Entry{{Surt: "com,b)/", Count: 3}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := stats.Removed, int64(3); got != want {
		t.Errorf("removed %v, want %v", got, want)
	}
	if got, want := stats.Scanned, int64(5); got != want {
		t.Errorf("scanned %v, want %v", got, want)
	}
	if stats.Stale != 0 {
		t.Errorf("stale %v, want 0", stats.Stale)
	}
}

// TestFilterIdentity verifies that filtering with no entries
// reproduces the input exactly.
func TestFilterIdentity(t *testing.T) {
	const input = "com,a)/ 20200101000000 {}\r\ncom,b)/ 20200101000000 {}"
	got, stats, err := filter(t, input, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != input {
		t.Errorf("got %q, want %q", got, input)
	}
	if stats.Removed != 0 {
		t.Errorf("removed %v, want 0", stats.Removed)
	}
}

// TestFilterDetect verifies that filtering the detector's own output
// leaves a stream the detector finds clean, and that the survivors
// are exactly the non-flagged runs.
func TestFilterDetect(t *testing.T) {
	input := runs(2, 4, 1, 5)
	const threshold = 3
	entries := detect(t, input, threshold)
	got, stats, err := filter(t, input, entries, true)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := stats.Removed, int64(9); got != want {
		t.Errorf("removed %v, want %v", got, want)
	}
	if left := detect(t, got, threshold); len(left) != 0 {
		t.Errorf("excessive keys remain after filtering: %v", left)
	}
	want := "com,a)/ 00000000000000 {}\n" +
		"com,a)/ 00000000000001 {}\n" +
		"com,c)/ 00000000000000 {}\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// TestFilterAll verifies that a stream consisting solely of flagged
// runs filters to an empty output.
func TestFilterAll(t *testing.T) {
	got, _, err := filter(t, runs(4), []Entry{{Surt: "com,a)/", Count: 4}}, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

// TestFilterStaleCount verifies that a count mismatch does not
// change what is removed: boundaries come from the input, and the
// mismatch is reported.
func TestFilterStaleCount(t *testing.T) {
	input := runs(2, 4)
	got, stats, err := filter(t, input, []Entry{{Surt: "com,b)/", Count: 400}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if want := runs(2); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := stats.Removed, int64(4); got != want {
		t.Errorf("removed %v, want %v", got, want)
	}
	if got, want := stats.Stale, 1; got != want {
		t.Errorf("stale %v, want %v", got, want)
	}

	// In strict mode the same mismatch fails the filter.
	_, _, err = filter(t, input, []Entry{{Surt: "com,b)/", Count: 400}}, true)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("error %v is not Invalid", err)
	}
}

// TestFilterAbsentKey verifies that an entry whose key is not in the
// input removes nothing and is reported as stale.
func TestFilterAbsentKey(t *testing.T) {
	input := runs(2, 2)
	got, stats, err := filter(t, input, []Entry{{Surt: "com,z)/", Count: 7}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got != input {
		t.Errorf("got %q, want %q", got, input)
	}
	if got, want := stats.Stale, 1; got != want {
		t.Errorf("stale %v, want %v", got, want)
	}

	if _, _, err = filter(t, input, []Entry{{Surt: "com,z)/", Count: 7}}, true); err == nil {
		t.Fatal("expected error")
	}
}

// TestFilterSplitEntries verifies that entries naming the same key
// are summed for the cross-check rather than double-removed.
func TestFilterSplitEntries(t *testing.T) {
	input := runs(4, 1)
	entries := []Entry{{Surt: "com,a)/", Count: 2}, {Surt: "com,a)/", Count: 2}}
	got, stats, err := filter(t, input, entries, true)
	if err != nil {
		t.Fatal(err)
	}
	if want := runs(0, 1); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := stats.Removed, int64(4); got != want {
		t.Errorf("removed %v, want %v", got, want)
	}
}
