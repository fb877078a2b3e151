// SPDX-License-Identifier: GPL-2.0-or-later

package xdf

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic identifies the container format at file offset 0.
var Magic = []byte("XDF:")

// Tag chunk kind.
type Tag uint16

// Chunk kinds.
const (
	TagFileHeader   Tag = 1
	TagStreamHeader Tag = 2
	TagSamples      Tag = 3
	TagClockOffset  Tag = 4
	TagBoundary     Tag = 5
	TagStreamFooter Tag = 6
)

func (t Tag) String() string {
	switch t {
	case TagFileHeader:
		return "FileHeader"
	case TagStreamHeader:
		return "StreamHeader"
	case TagSamples:
		return "Samples"
	case TagClockOffset:
		return "ClockOffset"
	case TagBoundary:
		return "Boundary"
	case TagStreamFooter:
		return "StreamFooter"
	}
	return fmt.Sprintf("Unknown(%d)", uint16(t))
}

// streamScoped reports whether payloads of this kind
// begin with a stream id.
func (t Tag) streamScoped() bool {
	switch t {
	case TagStreamHeader, TagSamples, TagClockOffset, TagStreamFooter:
		return true
	}
	return false
}

// lengthOfLength + payloadLength + tag.
const frameHeaderSize = 4 + 4 + 2

// BoundaryMarker is the fixed payload of Boundary chunks.
var BoundaryMarker = [16]byte{
	0x12, 0x34, 0x56, 0x78, 0x90, 0xab, 0xcd, 0xef,
	0xfe, 0xdc, 0xba, 0x09, 0x87, 0x65, 0x43, 0x21,
}

// Chunk is one decoded unit of the container file.
type Chunk struct {
	Tag      Tag
	StreamID uint32 // Zero for file-scoped kinds.
	Payload  []byte // Without the stream id prefix.
}

// EncodeChunk frames a payload as a single chunk. The stream id is
// only written for stream-scoped kinds.
func EncodeChunk(tag Tag, streamID uint32, payload []byte) []byte {
	scoped := tag.streamScoped()
	payloadLen := len(payload)
	if scoped {
		payloadLen += 4
	}

	out := make([]byte, frameHeaderSize+payloadLen)
	binary.LittleEndian.PutUint32(out[0:4], 4)
	binary.LittleEndian.PutUint32(out[4:8], uint32(payloadLen))
	binary.LittleEndian.PutUint16(out[8:10], uint16(tag))

	pos := frameHeaderSize
	if scoped {
		binary.LittleEndian.PutUint32(out[pos:pos+4], streamID)
		pos += 4
	}
	copy(out[pos:], payload)
	return out
}

// ErrCorruptFraming length-of-length field is not 4.
var ErrCorruptFraming = errors.New("length-of-length is not 4")

// ErrShortChunk stream-scoped chunk too short to hold a stream id.
var ErrShortChunk = errors.New("chunk too short for stream id")

// NextChunk decodes the first complete chunk in buf. A consumed count
// of zero means buf does not yet contain a complete chunk. A decoded
// chunk may be returned together with ErrCorruptFraming, in which case
// the length field was still read as 4 bytes on a best-effort basis.
func NextChunk(buf []byte) (Chunk, int, error) {
	if len(buf) < frameHeaderSize {
		return Chunk{}, 0, nil
	}

	var warn error
	if lol := binary.LittleEndian.Uint32(buf[0:4]); lol != 4 {
		warn = fmt.Errorf("%w: %d", ErrCorruptFraming, lol)
	}

	payloadLen := int(binary.LittleEndian.Uint32(buf[4:8]))
	tag := Tag(binary.LittleEndian.Uint16(buf[8:10]))

	consumed := frameHeaderSize + payloadLen
	if len(buf) < consumed {
		return Chunk{}, 0, nil
	}

	payload := buf[frameHeaderSize:consumed]
	chunk := Chunk{Tag: tag}
	if tag.streamScoped() {
		if payloadLen < 4 {
			return Chunk{}, consumed, fmt.Errorf(
				"%w: %v payload is %d bytes", ErrShortChunk, tag, payloadLen)
		}
		chunk.StreamID = binary.LittleEndian.Uint32(payload[0:4])
		payload = payload[4:]
	}
	chunk.Payload = payload

	return chunk, consumed, warn
}
