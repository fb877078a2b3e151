// SPDX-License-Identifier: GPL-2.0-or-later

package xdf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeChunk(t *testing.T) {
	t.Run("boundary", func(t *testing.T) {
		actual := EncodeChunk(TagBoundary, 0, BoundaryMarker[:])
		expected := []byte{
			4, 0, 0, 0, // Length of length.
			16, 0, 0, 0, // Payload length.
			5, 0, // Tag.
			0x12, 0x34, 0x56, 0x78, 0x90, 0xab, 0xcd, 0xef, // Marker.
			0xfe, 0xdc, 0xba, 0x09, 0x87, 0x65, 0x43, 0x21,
		}
		require.Equal(t, expected, actual)
	})

	t.Run("streamScoped", func(t *testing.T) {
		actual := EncodeChunk(TagSamples, 7, []byte{0x41, 0x42})
		expected := []byte{
			4, 0, 0, 0, // Length of length.
			6, 0, 0, 0, // Payload length, includes stream id.
			3, 0, // Tag.
			7, 0, 0, 0, // Stream id.
			0x41, 0x42, // Payload.
		}
		require.Equal(t, expected, actual)
	})
}

func TestNextChunk(t *testing.T) {
	cases := []struct {
		name     string
		tag      Tag
		streamID uint32
		payload  []byte
	}{
		{"fileHeader", TagFileHeader, 0, []byte(FileHeaderPayload)},
		{"streamHeader", TagStreamHeader, 1, []byte("<info></info>")},
		{"samples", TagSamples, 2, []byte{8, 0}},
		{"clockOffset", TagClockOffset, 3, make([]byte, 16)},
		{"boundary", TagBoundary, 0, BoundaryMarker[:]},
		{"streamFooter", TagStreamFooter, 4, []byte("<info></info>")},
		{"emptyPayload", TagSamples, 5, []byte{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			framed := EncodeChunk(tc.tag, tc.streamID, tc.payload)

			chunk, consumed, err := NextChunk(framed)
			require.NoError(t, err)
			require.Equal(t, len(framed), consumed)
			require.Equal(t, tc.tag, chunk.Tag)
			require.Equal(t, tc.streamID, chunk.StreamID)
			require.Equal(t, []byte(tc.payload), chunk.Payload)
		})
	}
}

func TestNextChunkIncomplete(t *testing.T) {
	framed := EncodeChunk(TagBoundary, 0, BoundaryMarker[:])

	// Every strict prefix is "no complete chunk", never an error.
	for i := 0; i < len(framed); i++ {
		_, consumed, err := NextChunk(framed[:i])
		require.NoError(t, err)
		require.Zero(t, consumed)
	}
}

func TestNextChunkCorruptFraming(t *testing.T) {
	framed := EncodeChunk(TagBoundary, 0, BoundaryMarker[:])
	framed[0] = 8 // Length-of-length is not 4.

	chunk, consumed, err := NextChunk(framed)
	require.ErrorIs(t, err, ErrCorruptFraming)

	// Decoding still proceeded on a best-effort basis.
	require.Equal(t, len(framed), consumed)
	require.Equal(t, TagBoundary, chunk.Tag)
	require.Equal(t, BoundaryMarker[:], chunk.Payload)
}

func TestNextChunkShortStreamChunk(t *testing.T) {
	framed := []byte{
		4, 0, 0, 0, // Length of length.
		2, 0, 0, 0, // Payload length, too short for a stream id.
		3, 0, // Samples tag.
		1, 2,
	}
	_, consumed, err := NextChunk(framed)
	require.ErrorIs(t, err, ErrShortChunk)
	require.Equal(t, len(framed), consumed)
}

func TestTagString(t *testing.T) {
	require.Equal(t, "FileHeader", TagFileHeader.String())
	require.Equal(t, "Samples", TagSamples.String())
	require.Equal(t, "Unknown(99)", Tag(99).String())
}
