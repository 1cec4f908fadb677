// Package archive streams a drop's files as a single zip archive.
package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"quickdrop/internal/server/storage"
)

// Source is a set of stored files that can be opened one at a time.
// *storage.Drop satisfies it.
type Source interface {
	Files() []storage.File
	Open(f storage.File) (io.ReadCloser, error)
}

// Result reports what a completed stream emitted.
type Result struct {
	Files int
	Bytes int64
}

// Write emits src as a zip archive to w. Entries are compressed at
// flate.BestSpeed since drops are mostly already-compressed content.
//
// Output is produced incrementally. When an error occurs midway the
// archive written so far is truncated: it has no central directory and
// will be rejected by any zip reader. Result then still counts the bytes
// that reached w.
func Write(ctx context.Context, w io.Writer, src Source) (Result, error) {
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		fw, err := flate.NewWriter(out, flate.BestSpeed)
		if err != nil {
			return nil, err
		}
		return fw, nil
	})

	var res Result
	for _, f := range src.Files() {
		if err := ctx.Err(); err != nil {
			return Result{Files: res.Files, Bytes: cw.n}, err
		}
		if err := addFile(ctx, zw, src, f); err != nil {
			return Result{Files: res.Files, Bytes: cw.n}, err
		}
		res.Files++
	}

	if err := zw.Close(); err != nil {
		return Result{Files: res.Files, Bytes: cw.n}, fmt.Errorf("failed to close zip writer: %w", err)
	}
	res.Bytes = cw.n
	return res, nil
}

func addFile(ctx context.Context, zw *zip.Writer, src Source, f storage.File) error {
	rc, err := src.Open(f)
	if err != nil {
		return err
	}
	defer rc.Close()

	header := &zip.FileHeader{
		Name:     f.Name,
		Method:   zip.Deflate,
		Modified: f.ModTime,
	}
	header.SetMode(0o644)

	entry, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry %s: %w", f.Name, err)
	}

	n, err := io.Copy(entry, &ctxReader{ctx: ctx, r: rc})
	if err != nil {
		return fmt.Errorf("failed to write %s to zip: %w", f.Name, err)
	}
	if n != f.Size {
		return fmt.Errorf("%s: %w: stored %d, read %d", f.Name, storage.ErrSizeMismatch, f.Size, n)
	}
	return nil
}

// NewReader returns the archive of src as a stream. Reading pulls chunks
// as the archive is produced; Close abandons the stream and releases any
// file the producer has open. The returned channel yields the Result once
// the producer finishes.
func NewReader(ctx context.Context, src Source) (io.ReadCloser, <-chan Result) {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	done := make(chan Result, 1)

	go func() {
		res, err := Write(ctx, pw, src)
		pw.CloseWithError(err)
		done <- res
		close(done)
	}()

	return &pipeReader{PipeReader: pr, cancel: cancel}, done
}

type pipeReader struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (p *pipeReader) Close() error {
	p.cancel()
	return p.PipeReader.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ctxReader stops a copy once ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
