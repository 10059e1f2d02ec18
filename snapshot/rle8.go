package snapshot

import (
	"bufio"
	"io"

	"github.com/dargueta/osfs/errors"
)

// The longest run one RLE8 group can hold: the byte twice plus 255 repeats.
const maxRunLength = 257

// rle8Writer run-length encodes everything written to it. The last run is only
// written out on Close.
type rle8Writer struct {
	output  *bufio.Writer
	current byte
	count   int
}

func newRLE8Writer(output io.Writer) *rle8Writer {
	return &rle8Writer{output: bufio.NewWriter(output)}
}

func (w *rle8Writer) Write(p []byte) (int, error) {
	for _, b := range p {
		if w.count > 0 && b == w.current && w.count < maxRunLength {
			w.count++
			continue
		}
		if err := w.endRun(); err != nil {
			return 0, err
		}
		w.current = b
		w.count = 1
	}
	return len(p), nil
}

func (w *rle8Writer) endRun() error {
	var err error
	switch {
	case w.count == 1:
		err = w.output.WriteByte(w.current)
	case w.count >= 2:
		_, err = w.output.Write([]byte{w.current, w.current, byte(w.count - 2)})
	}
	w.count = 0
	return err
}

// Close writes out the pending run. It doesn't close the underlying writer.
func (w *rle8Writer) Close() error {
	if err := w.endRun(); err != nil {
		return err
	}
	return w.output.Flush()
}

// rle8Reader expands RLE8 data. Two identical bytes in a row are always
// followed by a count of additional repeats.
type rle8Reader struct {
	input *bufio.Reader
	// last is the previous literal byte, or -1 right after a run.
	last      int
	repeat    byte
	remaining int
}

func newRLE8Reader(input io.Reader) *rle8Reader {
	return &rle8Reader{input: bufio.NewReader(input), last: -1}
}

func (r *rle8Reader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if r.remaining > 0 {
			p[n] = r.repeat
			n++
			r.remaining--
			continue
		}

		b, err := r.input.ReadByte()
		if err == io.EOF && n > 0 {
			return n, nil
		} else if err != nil {
			return n, err
		}

		if int(b) != r.last {
			r.last = int(b)
			p[n] = b
			n++
			continue
		}

		count, err := r.input.ReadByte()
		if err == io.EOF {
			return n, errors.ErrFileSystemCorrupted.WithMessage(
				"snapshot ends in the middle of a run")
		} else if err != nil {
			return n, err
		}
		// The first copy of the byte was already emitted as a literal.
		r.repeat = b
		r.remaining = int(count) + 1
		r.last = -1
	}
	return n, nil
}
