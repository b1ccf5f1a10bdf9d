// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package surplus

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
)

func TestCacheRoundTrip(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	master := filepath.Join(dir, "index.cdxj")
	cache := filepath.Join(dir, "index.surplus")
	if err := ioutil.WriteFile(master, []byte(runs(1, 4)), 0666); err != nil {
		t.Fatal(err)
	}
	fp, err := Snapshot(ctx, master)
	if err != nil {
		t.Fatal(err)
	}
	in := []Entry{{Surt: "com,b)/", Count: 4}}
	if err := WriteCache(ctx, cache, fp, 3, in); err != nil {
		t.Fatal(err)
	}
	out, err := ReadCache(ctx, cache, fp, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(out), 1; got != want {
		t.Fatalf("got %v entries, want %v", got, want)
	}
	if got, want := out[0], in[0]; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	// A different threshold or fingerprint makes the cache unusable.
	if _, err := ReadCache(ctx, cache, fp, 4); !errors.Is(errors.Invalid, err) {
		t.Errorf("threshold mismatch: got %v, want Invalid", err)
	}
	if _, err := ReadCache(ctx, cache, fp+1, 3); !errors.Is(errors.Invalid, err) {
		t.Errorf("fingerprint mismatch: got %v, want Invalid", err)
	}
	if _, err := ReadCache(ctx, filepath.Join(dir, "nosuch"), fp, 3); !errors.Is(errors.NotExist, err) {
		t.Errorf("missing cache: got %v, want NotExist", err)
	}
}

func TestReadCacheGarbage(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "index.surplus")
	if err := ioutil.WriteFile(path, []byte("com,a)/ 1200\n"), 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadCache(context.Background(), path, 0, 3); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want Invalid", err)
	}
}

// TestEntriesCaching verifies that Entries reuses a matching cache
// and rebuilds it when the master changes.
func TestEntriesCaching(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	master := filepath.Join(dir, "index.cdxj")
	cache := filepath.Join(dir, "index.surplus")
	if err := ioutil.WriteFile(master, []byte(runs(1, 4)), 0666); err != nil {
		t.Fatal(err)
	}
	entries, err := Entries(ctx, master, cache, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(entries), 1; got != want {
		t.Fatalf("got %v entries, want %v", got, want)
	}

	// Replace the cached entry list, keeping the header. If the
	// cache is consulted, the planted entry comes back.
	b, err := ioutil.ReadFile(cache)
	if err != nil {
		t.Fatal(err)
	}
	header := strings.SplitAfter(string(b), "\n")[0]
	if err := ioutil.WriteFile(cache, []byte(header+"com,planted)/ 999\n"), 0666); err != nil {
		t.Fatal(err)
	}
	entries, err = Entries(ctx, master, cache, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(entries), 1; got != want {
		t.Fatalf("got %v entries, want %v", got, want)
	}
	if got, want := entries[0].Surt, "com,planted)/"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	// Rewriting the master invalidates the cache; detection runs
	// again and the planted entry disappears.
	if err := ioutil.WriteFile(master, []byte(runs(2, 4)), 0666); err != nil {
		t.Fatal(err)
	}
	entries, err = Entries(ctx, master, cache, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(entries), 1; got != want {
		t.Fatalf("got %v entries, want %v", got, want)
	}
	if got, want := entries[0].Surt, "com,b)/"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	// A threshold change also invalidates the cache.
	entries, err = Entries(ctx, master, cache, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(entries), 2; got != want {
		t.Errorf("got %v entries, want %v", got, want)
	}
}
