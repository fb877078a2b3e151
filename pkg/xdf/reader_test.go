// SPDX-License-Identifier: GPL-2.0-or-later

package xdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"srec/pkg/stream"

	"github.com/stretchr/testify/require"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func testContainer(t *testing.T) []byte {
	buf := &bytes.Buffer{}
	w, err := newWriter(nopCloser{buf})
	require.NoError(t, err)

	eeg, markers := testSources()

	eegID, err := w.AttachSource(eeg)
	require.NoError(t, err)
	markerID, err := w.AttachSource(markers)
	require.NoError(t, err)

	err = w.WriteClockOffset(eegID, ClockOffset{CollectionTime: 1, Offset: 2})
	require.NoError(t, err)

	_, err = w.WriteSamples(eegID, stream.Batch{
		Timestamps: []float64{1, 2},
		Floats:     [][]float64{{1, 2}, {3, 4}},
	})
	require.NoError(t, err)

	_, err = w.WriteSamples(markerID, stream.Batch{
		Timestamps: []float64{3},
		Strings:    []string{"go"},
	})
	require.NoError(t, err)

	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readAll(t *testing.T, data []byte) []Chunk {
	r, err := NewReader(bytes.NewReader(data), nil)
	require.NoError(t, err)

	var chunks []Chunk
	for {
		chunk, err := r.Next()
		if errors.Is(err, io.EOF) {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
}

func TestReaderBadMagic(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("GIF:....")), nil)
	require.ErrorIs(t, err, ErrBadMagic)

	_, err = NewReader(bytes.NewReader([]byte("XD")), nil)
	require.Error(t, err)
}

func TestReaderTruncation(t *testing.T) {
	data := testContainer(t)
	full := readAll(t, data)
	require.Len(t, full, 8)

	// Every truncation yields only complete chunks and no error.
	for cut := len(Magic); cut <= len(data); cut++ {
		chunks := readAll(t, data[:cut])
		require.LessOrEqual(t, len(chunks), len(full))
		for i, chunk := range chunks {
			require.Equal(t, full[i].Tag, chunk.Tag)
			require.Equal(t, full[i].StreamID, chunk.StreamID)
			require.Equal(t, full[i].Payload, chunk.Payload)
		}
	}
}

func TestReaderCorruptFramingWarns(t *testing.T) {
	data := []byte("XDF:")
	chunk := EncodeChunk(TagBoundary, 0, BoundaryMarker[:])
	chunk[0] = 9 // Corrupt length-of-length.
	data = append(data, chunk...)
	data = append(data, EncodeChunk(TagBoundary, 0, BoundaryMarker[:])...)

	var warnings []string
	logf := func(format string, a ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, a...))
	}

	r, err := NewReader(bytes.NewReader(data), logf)
	require.NoError(t, err)

	first, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, TagBoundary, first.Tag)

	second, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, TagBoundary, second.Tag)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)

	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "length-of-length")
}
