// SPDX-License-Identifier: GPL-2.0-or-later

// Package xdf reads and writes recordings in a chunked container format.
package xdf

// Container format for storing multi-source time-series recordings.
// Requirements.
//   1. The file must remain a parseable prefix if writing is interrupted.
//   2. Chunks from different sources may interleave in any order.
//   3. Per-source clock offsets must be recoverable for later alignment.
//
//
// <name>.xdf: "XDF:" magic followed by a sequence of chunks.
//
// chunk {
//   lengthOfLength uint32  // Always 4, little-endian.
//   payloadLength  uint32  // Little-endian.
//   tag            uint16  // Little-endian chunk kind.
//   payload        []byte
// }
//
// StreamHeader, Samples, ClockOffset and StreamFooter payloads start
// with the stream id (uint32 little-endian) the writer assigned at
// attach time. Ids start at 1 and increase monotonically.
//
// FileHeader payload:   UTF-8 XML, <info><version>1.0</version></info>
// StreamHeader payload: streamID, UTF-8 XML description of the source.
// Samples payload:      streamID, then
//   m          uint8     // Timestamp width, always 8.
//   timestamps []float64 // Little-endian, one per sample.
//   n          uint8     // 0: fixed-width values, 4: length-prefixed.
//   values     []byte    // count*channels numeric values, or count
//                        // uint32-length-prefixed UTF-8 strings.
// ClockOffset payload:  streamID, collection time float64, offset float64.
// Boundary payload:     fixed 16-byte marker, not tied to a stream.
// StreamFooter payload: streamID, UTF-8 XML summary of the stream.
