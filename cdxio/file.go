// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cdxio

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
)

// Stdio is the name that denotes standard input or standard output.
const Stdio = "-"

// Open opens the named index file for reading. The name Stdio ("-")
// denotes standard input. Names ending in ".gz" are decompressed
// transparently. Any URL scheme registered with the file package is
// accepted, so indexes may be read from S3 as well as local disk.
func Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if name == Stdio {
		return ioutil.NopCloser(os.Stdin), nil
	}
	f, err := file.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	r := &fileReader{ctx: ctx, file: f}
	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(f.Reader(ctx))
		if err != nil {
			f.Close(ctx)
			return nil, errors.E(fmt.Sprintf("open %s", name), err)
		}
		r.gz = gz
		r.Reader = gz
	} else {
		r.Reader = f.Reader(ctx)
	}
	return r, nil
}

type fileReader struct {
	io.Reader
	ctx  context.Context
	file file.File
	gz   *gzip.Reader
}

func (r *fileReader) Close() error {
	if r.gz != nil {
		if err := r.gz.Close(); err != nil {
			r.file.Close(r.ctx)
			return err
		}
	}
	return r.file.Close(r.ctx)
}

// A FileWriter writes one pipeline artifact. The output accumulates
// out of view of readers and becomes visible, complete and under its
// final name, only when Close returns successfully; Discard abandons
// it. Local files are written to a temporary name and renamed on
// Close, so readers of the destination path never observe a partial
// artifact.
type FileWriter struct {
	io.Writer
	name string
	ctx  context.Context
	file file.File
	gz   *gzip.Writer
}

// Create creates the named index file for writing. The name Stdio
// ("-") denotes standard output, which is written through directly
// and cannot be discarded. Names ending in ".gz" are compressed
// transparently.
func Create(ctx context.Context, name string) (*FileWriter, error) {
	if name == Stdio {
		return &FileWriter{Writer: os.Stdout, name: name, ctx: ctx}, nil
	}
	f, err := file.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	w := &FileWriter{name: name, ctx: ctx, file: f}
	if strings.HasSuffix(name, ".gz") {
		w.gz = gzip.NewWriter(f.Writer(ctx))
		w.Writer = w.gz
	} else {
		w.Writer = f.Writer(ctx)
	}
	return w, nil
}

// Name returns the name the artifact will have once closed.
func (w *FileWriter) Name() string { return w.name }

// Close completes the artifact and makes it visible to readers.
func (w *FileWriter) Close() error {
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			w.Discard()
			return errors.E(fmt.Sprintf("close %s", w.name), err)
		}
	}
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	return f.Close(w.ctx)
}

// Discard abandons the artifact. It is a no-op after a successful
// Close, so callers may defer it to guarantee that no partial
// artifact survives an error.
func (w *FileWriter) Discard() {
	if w.file == nil {
		return
	}
	f := w.file
	w.file = nil
	if err := f.Discard(w.ctx); err != nil {
		log.Error.Printf("discard %s: %v", w.name, err)
	}
}
