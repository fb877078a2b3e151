// SPDX-License-Identifier: GPL-2.0-or-later

package xdf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"srec/pkg/stream"
)

const (
	timestampWidth  = 8 // Bytes per timestamp, the m field.
	stringLenPrefix = 4 // Bytes per string length prefix, the n field.
)

// Samples payload errors.
var (
	ErrUndefinedFormat = errors.New("undefined channel format")
	ErrZeroChannels    = errors.New("channel count is zero")
	ErrCountMismatch   = errors.New("value and timestamp counts differ")
	ErrShortPayload    = errors.New("payload too short")
)

// EncodeSamples packs a batch into a Samples chunk payload. Samples
// whose channel count does not match the declared count are dropped
// individually, the dropped count is returned. A count mismatch
// between values and timestamps aborts the whole chunk.
func EncodeSamples( //nolint:funlen
	format stream.ValueType,
	channels int,
	batch stream.Batch,
) ([]byte, int, error) {
	if !format.IsNumeric() && format != stream.TypeString {
		return nil, 0, ErrUndefinedFormat
	}
	if channels == 0 {
		return nil, 0, ErrZeroChannels
	}

	count := batch.Len()
	dropped := 0

	var values []byte
	var keep []int // Indices of samples that survive validation.

	if format == stream.TypeString {
		if len(batch.Strings) != count {
			return nil, 0, fmt.Errorf("%w: %d strings, %d timestamps",
				ErrCountMismatch, len(batch.Strings), count)
		}
		for i, s := range batch.Strings {
			keep = append(keep, i)
			var lenBuf [4]byte
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
			values = append(values, lenBuf[:]...)
			values = append(values, s...)
		}
	} else {
		rows, err := numericRows(format, batch)
		if err != nil {
			return nil, 0, err
		}
		if len(rows) != count {
			return nil, 0, fmt.Errorf("%w: %d rows, %d timestamps",
				ErrCountMismatch, len(rows), count)
		}
		width := format.Size()
		for i, row := range rows {
			if len(row) != channels {
				dropped++
				continue
			}
			keep = append(keep, i)
			for _, v := range row {
				values = packValue(values, format, width, v)
			}
		}
	}

	out := make([]byte, 0, 2+len(keep)*timestampWidth+len(values))
	out = append(out, timestampWidth)
	for _, i := range keep {
		var tsBuf [8]byte
		binary.LittleEndian.PutUint64(tsBuf[:],
			math.Float64bits(batch.Timestamps[i]))
		out = append(out, tsBuf[:]...)
	}
	if format == stream.TypeString {
		out = append(out, stringLenPrefix)
	} else {
		out = append(out, 0)
	}
	out = append(out, values...)

	return out, dropped, nil
}

// numericRows returns batch rows as uint64 bit patterns, one per value.
func numericRows(format stream.ValueType, batch stream.Batch) ([][]uint64, error) {
	switch format {
	case stream.TypeFloat32, stream.TypeFloat64:
		rows := make([][]uint64, len(batch.Floats))
		for i, row := range batch.Floats {
			bits := make([]uint64, len(row))
			for j, v := range row {
				if format == stream.TypeFloat32 {
					bits[j] = uint64(math.Float32bits(float32(v)))
				} else {
					bits[j] = math.Float64bits(v)
				}
			}
			rows[i] = bits
		}
		return rows, nil
	case stream.TypeInt8, stream.TypeInt16, stream.TypeInt32, stream.TypeInt64:
		rows := make([][]uint64, len(batch.Ints))
		for i, row := range batch.Ints {
			bits := make([]uint64, len(row))
			for j, v := range row {
				bits[j] = uint64(v)
			}
			rows[i] = bits
		}
		return rows, nil
	}
	return nil, ErrUndefinedFormat
}

func packValue(out []byte, format stream.ValueType, width int, bits uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], bits)
	if format == stream.TypeFloat32 {
		// Float32 bit patterns occupy the low four bytes already.
		return append(out, buf[:4]...)
	}
	return append(out, buf[:width]...)
}

// Samples is the decoded content of a Samples chunk.
type Samples struct {
	Timestamps []float64

	Floats  [][]float64
	Ints    [][]int64
	Strings []string
}

// Len returns the number of decoded samples.
func (s Samples) Len() int {
	return len(s.Timestamps)
}

// DecodeSamples unpacks a Samples chunk payload. The sample count is
// implicit in the layout and derived from the payload size.
func DecodeSamples( //nolint:funlen
	payload []byte,
	format stream.ValueType,
	channels int,
) (Samples, error) {
	if len(payload) < 2 {
		return Samples{}, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(payload))
	}
	if payload[0] != timestampWidth {
		return Samples{}, fmt.Errorf(
			"unsupported timestamp width: %d", payload[0])
	}

	var count int
	if format == stream.TypeString {
		var err error
		count, err = stringSampleCount(payload)
		if err != nil {
			return Samples{}, err
		}
	} else {
		if !format.IsNumeric() {
			return Samples{}, ErrUndefinedFormat
		}
		if channels == 0 {
			return Samples{}, ErrZeroChannels
		}
		sampleSize := timestampWidth + channels*format.Size()
		if (len(payload)-2)%sampleSize != 0 {
			return Samples{}, fmt.Errorf(
				"payload size %d does not fit %d-channel %v samples",
				len(payload), channels, format)
		}
		count = (len(payload) - 2) / sampleSize
	}

	out := Samples{Timestamps: make([]float64, count)}
	pos := 1
	for i := 0; i < count; i++ {
		bits := binary.LittleEndian.Uint64(payload[pos : pos+8])
		out.Timestamps[i] = math.Float64frombits(bits)
		pos += 8
	}
	pos++ // The n field, validated below.

	n := payload[1+count*timestampWidth]
	if format == stream.TypeString {
		if n != stringLenPrefix {
			return Samples{}, fmt.Errorf("unsupported length prefix: %d", n)
		}
		out.Strings = make([]string, count)
		for i := 0; i < count; i++ {
			size := int(binary.LittleEndian.Uint32(payload[pos : pos+4]))
			pos += 4
			out.Strings[i] = string(payload[pos : pos+size])
			pos += size
		}
		return out, nil
	}

	if n != 0 {
		return Samples{}, fmt.Errorf("unexpected length prefix: %d", n)
	}
	width := format.Size()
	isFloat := format == stream.TypeFloat32 || format == stream.TypeFloat64
	if isFloat {
		out.Floats = make([][]float64, count)
	} else {
		out.Ints = make([][]int64, count)
	}
	for i := 0; i < count; i++ {
		floats := make([]float64, 0, channels)
		ints := make([]int64, 0, channels)
		for j := 0; j < channels; j++ {
			switch format {
			case stream.TypeFloat32:
				bits := binary.LittleEndian.Uint32(payload[pos : pos+4])
				floats = append(floats, float64(math.Float32frombits(bits)))
			case stream.TypeFloat64:
				bits := binary.LittleEndian.Uint64(payload[pos : pos+8])
				floats = append(floats, math.Float64frombits(bits))
			case stream.TypeInt8:
				ints = append(ints, int64(int8(payload[pos])))
			case stream.TypeInt16:
				v := binary.LittleEndian.Uint16(payload[pos : pos+2])
				ints = append(ints, int64(int16(v)))
			case stream.TypeInt32:
				v := binary.LittleEndian.Uint32(payload[pos : pos+4])
				ints = append(ints, int64(int32(v)))
			case stream.TypeInt64:
				v := binary.LittleEndian.Uint64(payload[pos : pos+8])
				ints = append(ints, int64(v))
			}
			pos += width
		}
		if isFloat {
			out.Floats[i] = floats
		} else {
			out.Ints[i] = ints
		}
	}
	return out, nil
}

// stringSampleCount finds the sample count of a string-typed payload.
// The count is not stored, so candidates are tried until one parses
// the payload exactly.
func stringSampleCount(payload []byte) (int, error) {
	maxCount := (len(payload) - 2) / (timestampWidth + stringLenPrefix)
	for count := 0; count <= maxCount; count++ {
		pos := 1 + count*timestampWidth
		if pos >= len(payload) || payload[pos] != stringLenPrefix {
			continue
		}
		pos++
		parsed := 0
		for parsed < count && pos+4 <= len(payload) {
			size := int(binary.LittleEndian.Uint32(payload[pos : pos+4]))
			pos += 4 + size
			if pos > len(payload) {
				break
			}
			parsed++
		}
		if parsed == count && pos == len(payload) {
			return count, nil
		}
	}
	return 0, errors.New("string payload does not parse exactly")
}

// ClockOffset is one measured difference between a source clock and
// the recorder wall clock. Valid from its collection time until
// superseded by a later record.
type ClockOffset struct {
	CollectionTime float64 // Wall clock at measurement.
	Offset         float64 // sourceTime - wallTime.
}

// EncodeClockOffset packs a ClockOffset chunk payload.
func EncodeClockOffset(off ClockOffset) []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[0:8], math.Float64bits(off.CollectionTime))
	binary.LittleEndian.PutUint64(out[8:16], math.Float64bits(off.Offset))
	return out
}

// DecodeClockOffset unpacks a ClockOffset chunk payload.
func DecodeClockOffset(payload []byte) (ClockOffset, error) {
	if len(payload) != 16 {
		return ClockOffset{}, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(payload))
	}
	return ClockOffset{
		CollectionTime: math.Float64frombits(binary.LittleEndian.Uint64(payload[0:8])),
		Offset:         math.Float64frombits(binary.LittleEndian.Uint64(payload[8:16])),
	}, nil
}
