// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package zipnum writes sorted index streams as ZipNum sets: shard
// files of independently decompressible gzip members of a fixed
// number of lines each, a .idx file recording the first key and the
// compressed extent of every member, and a .loc file mapping shard
// names to file names. Replay servers binary-search the .idx and
// fetch single members with range requests, so they never read a
// whole shard.
package zipnum

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
)

const (
	// DefaultChunkSize is the number of index lines per gzip member.
	DefaultChunkSize = 3000
	// DefaultShardSize is the compressed size at which a shard is
	// rotated, chosen to match typical WARC sizes.
	DefaultShardSize = 100 << 20
	// DefaultCompressionLevel is the gzip level used for members.
	DefaultCompressionLevel = 6

	shardExt = ".cdx.gz"
)

// A WriteOption is a tunable writer parameter.
type WriteOption func(*Writer)

// ChunkSize sets the number of lines per gzip member.
func ChunkSize(n int) WriteOption {
	return func(w *Writer) {
		w.chunkSize = n
	}
}

// ShardSize sets the compressed size, in bytes, at which a shard is
// rotated. A shard may exceed the target by at most one member.
func ShardSize(sz int64) WriteOption {
	return func(w *Writer) {
		w.shardSize = sz
	}
}

// CompressionLevel sets the gzip level used for members.
func CompressionLevel(level int) WriteOption {
	return func(w *Writer) {
		w.level = level
	}
}

// Base sets the base name of the output files. It defaults to the
// last element of the output directory.
func Base(name string) WriteOption {
	return func(w *Writer) {
		w.base = name
	}
}

// IdxFile overrides the name of the .idx file within the output
// directory.
func IdxFile(name string) WriteOption {
	return func(w *Writer) {
		w.idxName = name
	}
}

// LocFile overrides the name of the .loc file within the output
// directory.
func LocFile(name string) WriteOption {
	return func(w *Writer) {
		w.locName = name
	}
}

// SingleShard writes all members to one shard regardless of size.
var SingleShard WriteOption = func(w *Writer) {
	w.shardSize = math.MaxInt64
}

// A Writer builds one ZipNum set. Lines must be appended in index
// collation order; the writer preserves input order, so ordering is
// the caller's contract. Shards become visible as they complete; the
// .idx and .loc files, which readers consult first, are written
// atomically by Close, so an interrupted build never yields a
// consultable but incomplete set.
type Writer struct {
	dir       string
	base      string
	idxName   string
	locName   string
	chunkSize int
	shardSize int64
	level     int

	chunk    bytes.Buffer
	lines    int
	firstKey string

	scratch bytes.Buffer
	gz      *gzip.Writer

	shard   file.File
	shardW  io.Writer
	written int64
	shardNo int
	shards  []string // shard names, in order, without extension

	idx    file.File
	idxW   *bufio.Writer
	record int64
}

// NewWriter returns a Writer that writes a ZipNum set under dir,
// which may be any directory URL supported by the file package.
func NewWriter(ctx context.Context, dir string, opts ...WriteOption) (*Writer, error) {
	w := &Writer{
		dir:       dir,
		chunkSize: DefaultChunkSize,
		shardSize: DefaultShardSize,
		level:     DefaultCompressionLevel,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.base == "" {
		w.base = path.Base(strings.TrimSuffix(dir, "/"))
		if w.base == "." || w.base == "/" || w.base == "" {
			w.base = "zipnum-output"
		}
	}
	if w.idxName == "" {
		w.idxName = w.base + ".idx"
	}
	if w.locName == "" {
		w.locName = w.base + ".loc"
	}
	if w.chunkSize < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("zipnum: chunk size %d", w.chunkSize))
	}
	var err error
	w.gz, err = gzip.NewWriterLevel(&w.scratch, w.level)
	if err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("zipnum: compression level %d", w.level), err)
	}
	idx, err := file.Create(ctx, file.Join(dir, w.idxName))
	if err != nil {
		return nil, err
	}
	w.idx = idx
	w.idxW = bufio.NewWriter(idx.Writer(ctx))
	if err := w.openShard(ctx); err != nil {
		idx.Discard(ctx)
		return nil, err
	}
	return w, nil
}

// Append adds one index line to the set, supplying a line terminator
// if absent.
func (w *Writer) Append(ctx context.Context, line []byte) error {
	if w.lines == 0 {
		w.firstKey = preJSON(line)
	}
	w.chunk.Write(line)
	if n := len(line); n == 0 || line[n-1] != '\n' {
		w.chunk.WriteByte('\n')
	}
	w.lines++
	w.record++
	if w.lines >= w.chunkSize {
		return w.flushChunk(ctx)
	}
	return nil
}

// Records returns the number of lines appended.
func (w *Writer) Records() int64 { return w.record }

// Shards returns the number of shard files started.
func (w *Writer) Shards() int { return len(w.shards) }

// Close flushes the final member, completes the current shard, and
// writes the .idx and .loc files. If the set fits in a single shard,
// the shard file takes the plain <base> name; the .loc file maps the
// name the members were indexed under to whichever file name the
// shard ended up with.
func (w *Writer) Close(ctx context.Context) error {
	if w.lines > 0 {
		if err := w.flushChunk(ctx); err != nil {
			return err
		}
	}
	if err := w.shard.Close(ctx); err != nil {
		return err
	}
	w.shard = nil
	files := make([]string, len(w.shards))
	for i, name := range w.shards {
		files[i] = name + shardExt
	}
	if len(w.shards) == 1 {
		single := w.base + shardExt
		if err := rename(ctx, file.Join(w.dir, files[0]), file.Join(w.dir, single)); err != nil {
			return err
		}
		files[0] = single
	}
	if err := w.idxW.Flush(); err != nil {
		return err
	}
	if err := w.idx.Close(ctx); err != nil {
		return err
	}
	w.idx = nil
	loc, err := file.Create(ctx, file.Join(w.dir, w.locName))
	if err != nil {
		return err
	}
	lw := loc.Writer(ctx)
	for i, name := range w.shards {
		if _, err := fmt.Fprintf(lw, "%s\t%s\n", name, files[i]); err != nil {
			loc.Discard(ctx)
			return err
		}
	}
	return loc.Close(ctx)
}

// Discard abandons the set. Shards already completed are left in
// place, but the .idx and .loc files are never written, so the set
// cannot be consulted.
func (w *Writer) Discard(ctx context.Context) {
	if w.shard != nil {
		if err := w.shard.Discard(ctx); err != nil {
			log.Error.Printf("zipnum: discard shard: %v", err)
		}
		w.shard = nil
	}
	if w.idx != nil {
		if err := w.idx.Discard(ctx); err != nil {
			log.Error.Printf("zipnum: discard idx: %v", err)
		}
		w.idx = nil
	}
}

func (w *Writer) openShard(ctx context.Context) error {
	name := fmt.Sprintf("%s-%02d", w.base, w.shardNo+1)
	f, err := file.Create(ctx, file.Join(w.dir, name+shardExt))
	if err != nil {
		return err
	}
	w.shard = f
	w.shardW = f.Writer(ctx)
	w.written = 0
	w.shards = append(w.shards, name)
	return nil
}

// flushChunk compresses the pending lines as one complete gzip
// member, appends it to the current shard, and records the member in
// the .idx. The shard is rotated once it reaches the target size, so
// a member never spans shards.
func (w *Writer) flushChunk(ctx context.Context) error {
	w.scratch.Reset()
	w.gz.Reset(&w.scratch)
	if _, err := w.gz.Write(w.chunk.Bytes()); err != nil {
		return err
	}
	if err := w.gz.Close(); err != nil {
		return err
	}
	member := w.scratch.Bytes()
	off := w.written
	if _, err := w.shardW.Write(member); err != nil {
		return err
	}
	w.written += int64(len(member))
	_, err := fmt.Fprintf(w.idxW, "%s\t%s\t%d\t%d\t%d\n",
		w.firstKey, w.shards[w.shardNo], off, len(member), w.shardNo+1)
	if err != nil {
		return err
	}
	w.chunk.Reset()
	w.lines = 0
	if w.written >= w.shardSize {
		if err := w.shard.Close(ctx); err != nil {
			return err
		}
		w.shardNo++
		return w.openShard(ctx)
	}
	return nil
}

// preJSON returns a line's index key: everything before the first
// '{', or the whole line if it has none, trimmed of surrounding
// whitespace and line terminators.
func preJSON(line []byte) string {
	if i := bytes.IndexByte(line, '{'); i >= 0 {
		line = line[:i]
	}
	return string(bytes.TrimSpace(line))
}

// rename moves a completed artifact. Scheme-less paths rename in
// place; remote paths are copied and the source removed.
func rename(ctx context.Context, src, dst string) error {
	if !strings.Contains(src, "://") {
		return os.Rename(src, dst)
	}
	sf, err := file.Open(ctx, src)
	if err != nil {
		return err
	}
	df, err := file.Create(ctx, dst)
	if err != nil {
		sf.Close(ctx)
		return err
	}
	if _, err := io.Copy(df.Writer(ctx), sf.Reader(ctx)); err != nil {
		df.Discard(ctx)
		sf.Close(ctx)
		return err
	}
	if err := df.Close(ctx); err != nil {
		sf.Close(ctx)
		return err
	}
	if err := sf.Close(ctx); err != nil {
		return err
	}
	return file.Remove(ctx, src)
}
