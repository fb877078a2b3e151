// SPDX-License-Identifier: GPL-2.0-or-later

package xdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrBadMagic input does not start with the container magic.
var ErrBadMagic = errors.New("bad magic")

const readSize = 4096

// Reader incrementally decodes chunks from a container stream.
// Truncated trailing bytes end iteration cleanly instead of failing,
// so a file cut short mid-chunk still yields every complete chunk.
type Reader struct {
	in   io.Reader
	buf  []byte
	logf func(format string, a ...interface{})
}

// NewReader verifies the magic marker and returns a chunk reader.
// logf receives framing warnings and may be nil.
func NewReader(in io.Reader, logf func(format string, a ...interface{})) (*Reader, error) {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(in, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if !bytes.Equal(magic, Magic) {
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, magic)
	}

	return &Reader{in: in, logf: logf}, nil
}

// Next returns the next complete chunk, or io.EOF once no complete
// chunk remains. Corrupt framing is logged and decoding continues.
func (r *Reader) Next() (Chunk, error) {
	for {
		chunk, consumed, err := NextChunk(r.buf)
		if consumed > 0 {
			r.buf = r.buf[consumed:]
			if errors.Is(err, ErrCorruptFraming) {
				r.logf("chunk framing: %v", err)
				err = nil
			}
			if err != nil {
				return Chunk{}, err
			}
			return chunk, nil
		}

		if err := r.fill(); err != nil {
			return Chunk{}, err
		}
	}
}

// fill reads more input. io.EOF means the remaining buffered bytes do
// not form a complete chunk and iteration is over.
func (r *Reader) fill() error {
	buf := make([]byte, readSize)
	n, err := r.in.Read(buf)
	if n > 0 {
		r.buf = append(r.buf, buf[:n]...)
		return nil
	}
	if err == nil {
		err = io.EOF
	}
	if !errors.Is(err, io.EOF) {
		return fmt.Errorf("read: %w", err)
	}
	return io.EOF
}
