// Package frame wraps a byte source and yields newline-delimited UTF-8
// lines, buffering partial reads and signaling end-of-stream explicitly.
package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// estimatedLineSize sizes the read buffer; actual lines may be larger, in
// which case the buffer grows.
const estimatedLineSize = 64 * 1024

// ByteSource is the minimal contract a Framer needs from a byte source.
type ByteSource interface {
	Read(ctx context.Context, buf []byte) (int, error)
	BytesRead() uint64
}

// ErrEOF is the explicit end-of-stream signal, distinct from I/O or
// UTF-8 decoding errors.
var ErrEOF = errors.New("frame: end of stream")

// Framer produces a lazy sequence of newline-delimited lines from a
// ByteSource.
type Framer struct {
	src      ByteSource
	readBuf  []byte
	pending  []byte
	sourceAtEOF bool

	decompressedBytesRead uint64
}

// New wraps src in a Framer.
func New(src ByteSource) *Framer {
	return &Framer{
		src:     src,
		readBuf: make([]byte, estimatedLineSize),
	}
}

// Next returns the next line (bytes up to but excluding '\n'), with the
// terminating newline stripped. When the underlying source is exhausted
// and no pending data remains, it returns ErrEOF. A trailing
// non-newline-terminated tail is yielded as a final line before ErrEOF.
func (f *Framer) Next(ctx context.Context) (string, error) {
	for {
		if idx := indexByte(f.pending, '\n'); idx >= 0 {
			line := f.pending[:idx]
			f.pending = f.pending[idx+1:]
			return f.decode(line)
		}

		if f.sourceAtEOF {
			if len(f.pending) == 0 {
				return "", ErrEOF
			}
			line := f.pending
			f.pending = nil
			return f.decode(line)
		}

		n, err := f.src.Read(ctx, f.readBuf)
		if n > 0 {
			f.pending = append(f.pending, f.readBuf[:n]...)
			f.decompressedBytesRead += uint64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				f.sourceAtEOF = true
				continue
			}
			return "", err
		}
		if n == 0 {
			f.sourceAtEOF = true
		}
	}
}

func (f *Framer) decode(line []byte) (string, error) {
	if !utf8.Valid(line) {
		return "", fmt.Errorf("frame: invalid UTF-8 in line")
	}
	return string(line), nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// BytesRead returns the count of decompressed bytes consumed so far.
func (f *Framer) BytesRead() uint64 { return f.decompressedBytesRead }

// CompressedBytesRead returns the count of compressed bytes consumed from
// the underlying source so far, used for percent-complete/ETA reporting
// against the server-advertised compressed content length.
func (f *Framer) CompressedBytesRead() uint64 { return f.src.BytesRead() }
