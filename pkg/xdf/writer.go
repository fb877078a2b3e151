// SPDX-License-Identifier: GPL-2.0-or-later

package xdf

import (
	"errors"
	"fmt"
	"io"
	"os"

	"srec/pkg/stream"
)

// FileHeaderPayload is the content of the FileHeader chunk.
const FileHeaderPayload = "<info><version>1.0</version></info>"

// Writer errors.
var (
	ErrClosed        = errors.New("writer is closed")
	ErrUnknownStream = errors.New("unknown stream id")

	// ErrEncodeAborted wraps batch encoding failures. The chunk was
	// not written but the file itself is still intact.
	ErrEncodeAborted = errors.New("samples chunk aborted")
)

type streamState struct {
	info Info

	firstTime  float64
	lastTime   float64
	count      uint64
	hasSamples bool
}

// Writer serializes chunks to a container file. It owns the file
// handle exclusively and is driven by a single goroutine by contract.
type Writer struct {
	out    io.WriteCloser
	nextID uint32

	streams map[uint32]*streamState
	order   []uint32 // Attach order, for footers.

	closed bool
}

// NewWriter creates the output file and writes the magic marker
// followed by the FileHeader chunk.
func NewWriter(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create container file: %w", err)
	}

	w, err := newWriter(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

// NewWriterTo writes the container to an arbitrary destination.
func NewWriterTo(out io.WriteCloser) (*Writer, error) {
	return newWriter(out)
}

func newWriter(out io.WriteCloser) (*Writer, error) {
	w := &Writer{
		out:     out,
		nextID:  1,
		streams: make(map[uint32]*streamState),
	}

	if _, err := out.Write(Magic); err != nil {
		return nil, fmt.Errorf("write magic: %w", err)
	}
	err := w.writeChunk(TagFileHeader, 0, []byte(FileHeaderPayload))
	if err != nil {
		return nil, fmt.Errorf("write file header: %w", err)
	}
	return w, nil
}

func (w *Writer) writeChunk(tag Tag, streamID uint32, payload []byte) error {
	_, err := w.out.Write(EncodeChunk(tag, streamID, payload))
	return err
}

// AttachSource assigns the next stream id to a source and writes its
// StreamHeader chunk. Must precede any other chunk for the source.
func (w *Writer) AttachSource(src stream.Source) (uint32, error) {
	if w.closed {
		return 0, ErrClosed
	}

	id := w.nextID
	info := InfoFromSource(src)
	if err := w.writeChunk(TagStreamHeader, id, info.Marshal()); err != nil {
		return 0, fmt.Errorf("write stream header: %w", err)
	}

	w.nextID++
	w.streams[id] = &streamState{info: info}
	w.order = append(w.order, id)
	return id, nil
}

// WriteClockOffset appends a ClockOffset chunk for a stream.
func (w *Writer) WriteClockOffset(id uint32, off ClockOffset) error {
	if w.closed {
		return ErrClosed
	}
	if _, exists := w.streams[id]; !exists {
		return fmt.Errorf("%w: %d", ErrUnknownStream, id)
	}
	if err := w.writeChunk(TagClockOffset, id, EncodeClockOffset(off)); err != nil {
		return fmt.Errorf("write clock offset: %w", err)
	}
	return nil
}

// WriteSamples encodes and appends one Samples chunk. Malformed
// samples within the batch are skipped, their count is returned.
// A batch-level packing failure aborts only this chunk.
func (w *Writer) WriteSamples(id uint32, batch stream.Batch) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	state, exists := w.streams[id]
	if !exists {
		return 0, fmt.Errorf("%w: %d", ErrUnknownStream, id)
	}
	if batch.Empty() {
		return 0, nil
	}

	payload, dropped, err := EncodeSamples(
		state.info.Format, state.info.ChannelCount, batch)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncodeAborted, err)
	}

	if err := w.writeChunk(TagSamples, id, payload); err != nil {
		return dropped, fmt.Errorf("write samples: %w", err)
	}

	written := batch.Len() - dropped
	if written > 0 {
		if !state.hasSamples {
			state.firstTime = batch.Timestamps[0]
			state.hasSamples = true
		}
		state.lastTime = batch.Timestamps[batch.Len()-1]
		state.count += uint64(written)
	}
	return dropped, nil
}

// WriteBoundary appends a file-global Boundary chunk.
func (w *Writer) WriteBoundary() error {
	if w.closed {
		return ErrClosed
	}
	if err := w.writeChunk(TagBoundary, 0, BoundaryMarker[:]); err != nil {
		return fmt.Errorf("write boundary: %w", err)
	}
	return nil
}

// SampleCount returns the number of samples written for a stream.
func (w *Writer) SampleCount(id uint32) uint64 {
	if state, exists := w.streams[id]; exists {
		return state.count
	}
	return 0
}

// Close writes a StreamFooter for every attached stream and closes
// the file. Calling Close on a closed writer is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var footerErr error
	for _, id := range w.order {
		state := w.streams[id]
		footer := Footer{
			Info:           state.info,
			FirstTimestamp: state.firstTime,
			LastTimestamp:  state.lastTime,
			SampleCount:    state.count,
		}
		err := w.writeChunk(TagStreamFooter, id, footer.Marshal())
		if err != nil && footerErr == nil {
			footerErr = fmt.Errorf("write stream footer: %w", err)
		}
	}

	if err := w.out.Close(); err != nil {
		return fmt.Errorf("close container file: %w", err)
	}
	return footerErr
}
