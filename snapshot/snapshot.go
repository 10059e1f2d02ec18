// Package snapshot compresses volume images for export.
//
// Images are mostly runs of zero bytes, from free blocks and unused inode
// slots. A snapshot is the raw image run-length encoded with RLE8 and then
// gzipped, which shrinks an empty 64 KiB volume to well under a hundred bytes.
//
// In RLE8, a byte B occurring N >= 2 times in a row is written as B twice
// followed by one byte holding N-2. Runs longer than 257 are split:
//
//	WXXXXXXXXXXXXXXXYZZ
//	W XX 13 Y ZZ 0
package snapshot

import (
	"compress/gzip"
	"io"

	"github.com/dargueta/osfs/errors"
	"github.com/hashicorp/go-multierror"
)

type countingWriter struct {
	output  io.Writer
	written int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.output.Write(p)
	w.written += int64(n)
	return n, err
}

// Writer compresses an image into a snapshot. Nothing is complete until Close
// is called.
type Writer struct {
	counter *countingWriter
	gz      *gzip.Writer
	rle     *rle8Writer
}

func NewWriter(output io.Writer) *Writer {
	counter := &countingWriter{output: output}
	// Images are small enough that the best level costs nothing noticeable.
	gz, _ := gzip.NewWriterLevel(counter, gzip.BestCompression)
	return &Writer{counter: counter, gz: gz, rle: newRLE8Writer(gz)}
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.rle.Write(p)
}

// Close finishes the snapshot. It doesn't close the underlying writer.
func (w *Writer) Close() error {
	var result *multierror.Error
	if err := w.rle.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.gz.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if result != nil {
		return errors.ErrIOFailed.Wrap(result.ErrorOrNil())
	}
	return nil
}

// BytesWritten gives the size of the compressed output so far.
func (w *Writer) BytesWritten() int64 {
	return w.counter.written
}

// Reader expands a snapshot back into the raw image.
type Reader struct {
	gz  *gzip.Reader
	rle *rle8Reader
}

func NewReader(input io.Reader) (*Reader, error) {
	gz, err := gzip.NewReader(input)
	if err != nil {
		return nil, errors.ErrFileSystemCorrupted.Wrap(err)
	}
	return &Reader{gz: gz, rle: newRLE8Reader(gz)}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	return r.rle.Read(p)
}

func (r *Reader) Close() error {
	return r.gz.Close()
}

// Compress reads an image until EOF and writes it to `output` as a snapshot.
// It returns the compressed size.
func Compress(input io.Reader, output io.Writer) (int64, error) {
	writer := NewWriter(output)
	if _, err := io.Copy(writer, input); err != nil {
		return writer.BytesWritten(), errors.ErrIOFailed.Wrap(err)
	}
	err := writer.Close()
	return writer.BytesWritten(), err
}

// Decompress expands a snapshot into `output` and returns the raw size.
func Decompress(input io.Reader, output io.Writer) (int64, error) {
	reader, err := NewReader(input)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	n, err := io.Copy(output, reader)
	if err != nil {
		return n, errors.CastToDriverError(err)
	}
	return n, nil
}
