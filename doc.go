// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package cdxindex maintains the sorted CDX/CDXJ URL indexes behind a
	web-archive replay system. Per-capture index shards are produced
	externally and arrive already sorted; the packages here combine and
	clean them:

	Package mergeio merges any number of sorted shards into one
	globally sorted master stream, buffering a single record per open
	shard regardless of data volume.

	Package surplus finds keys with pathologically many captures in a
	master index and strips their runs from it byte for byte, leaving
	every other record untouched.

	Package blacklist drops records matching operator-supplied regular
	expressions.

	Package zipnum writes the deployment artifact: shard files of
	independently decompressible gzip members plus a summary index that
	replay servers binary-search.

	Every stage streams. Indexes are far larger than memory, so all
	processing is a single forward pass holding a bounded number of
	records in memory. All correctness rests on one invariant: records
	are ordered by the raw byte value of the SURT and timestamp fields
	joined together. Readers verify the invariant as they go, so an
	unsorted producer fails the batch instead of silently corrupting
	the master. Inputs and outputs may name local files or any URL
	scheme registered with github.com/grailbio/base/file.

	Package cdxindex itself defines the Stage abstraction for fusing
	steps over pipes, and Build, which runs a complete maintenance
	flow: merge, excessive-key detection (cached between runs),
	filtering, and optionally ZipNum output.
*/
package cdxindex
