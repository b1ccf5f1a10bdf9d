// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package surplus

import (
	"bufio"
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cdxindex/cdxio"
	"github.com/spaolacci/murmur3"
)

// cacheVersion is bumped when the cache format changes.
const cacheVersion = 1

// A Fingerprint identifies a version of a master index file by its
// path, size, and modification time. It is not a content hash: it is
// cheap to compute and changes whenever the master is rewritten,
// which suffices because master artifacts are only ever replaced
// whole, never modified in place.
type Fingerprint uint64

// Snapshot returns the fingerprint of the named file.
func Snapshot(ctx context.Context, path string) (Fingerprint, error) {
	info, err := file.Stat(ctx, path)
	if err != nil {
		return 0, err
	}
	h := murmur3.New64()
	fmt.Fprintf(h, "%s\x00%d\x00%d", path, info.Size(), info.ModTime().UnixNano())
	return Fingerprint(h.Sum64()), nil
}

// WriteCache writes an entry list to path, recording the master
// fingerprint and detection threshold it was computed under. The
// cache becomes visible atomically on success.
func WriteCache(ctx context.Context, path string, fp Fingerprint, threshold int, entries []Entry) error {
	w, err := cdxio.Create(ctx, path)
	if err != nil {
		return err
	}
	defer w.Discard()
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "#surplus v%d fingerprint=%016x threshold=%d\n", cacheVersion, uint64(fp), threshold)
	if err := WriteEntries(bw, entries); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return w.Close()
}

// ReadCache reads the entry list cached at path. The cache is usable
// only if it was computed from the same master version (fingerprint)
// and with the same threshold; a cache that does not match is an
// error of kind errors.Invalid, and a missing one is errors.NotExist.
func ReadCache(ctx context.Context, path string, fp Fingerprint, threshold int) ([]Entry, error) {
	r, err := cdxio.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	if err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: unreadable cache header", path), err)
	}
	var (
		version     int
		cachedFP    uint64
		cachedThres int
	)
	if _, err := fmt.Sscanf(header, "#surplus v%d fingerprint=%x threshold=%d", &version, &cachedFP, &cachedThres); err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: unrecognized cache header %q", path, header))
	}
	if version != cacheVersion {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: cache version %d, want %d", path, version, cacheVersion))
	}
	if Fingerprint(cachedFP) != fp {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: cache fingerprint %016x does not match master %016x", path, cachedFP, uint64(fp)))
	}
	if cachedThres != threshold {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: cache threshold %d, want %d", path, cachedThres, threshold))
	}
	return ReadEntries(br, path)
}

// Entries returns the excessive-key entries of the master index at
// masterPath, detected with the given threshold. When cachePath is
// nonempty, a cache matching the master's current version is used if
// present, and is rebuilt otherwise.
func Entries(ctx context.Context, masterPath, cachePath string, threshold int) ([]Entry, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var fp Fingerprint
	if cachePath != "" {
		var err error
		fp, err = Snapshot(ctx, masterPath)
		if err != nil {
			return nil, err
		}
		entries, err := ReadCache(ctx, cachePath, fp, threshold)
		switch {
		case err == nil:
			log.Printf("surplus: %s: %d cached excessive keys", cachePath, len(entries))
			return entries, nil
		case errors.Is(errors.NotExist, err):
		case errors.Is(errors.Invalid, err):
			log.Printf("surplus: rebuilding cache: %v", err)
		default:
			return nil, err
		}
	}
	r, err := cdxio.Open(ctx, masterPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	entries, err := DetectAll(ctx, cdxio.NewVerifyingScanner(r, masterPath), threshold)
	if err != nil {
		return nil, err
	}
	if cachePath != "" {
		if err := WriteCache(ctx, cachePath, fp, threshold, entries); err != nil {
			return nil, err
		}
		log.Printf("surplus: %s: cached %d excessive keys", cachePath, len(entries))
	}
	return entries, nil
}
