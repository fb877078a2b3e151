// SPDX-License-Identifier: GPL-2.0-or-later

// Package stream defines source descriptors and the transport
// interface the recorder pulls samples through.
package stream

import (
	"time"
)

// ValueType channel value type.
type ValueType uint8

// Channel value types.
const (
	TypeUndefined ValueType = iota
	TypeFloat32
	TypeFloat64
	TypeString
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
)

func (t ValueType) String() string {
	switch t {
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "double64"
	case TypeString:
		return "string"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	}
	return "undefined"
}

// ParseValueType parses a channel format name. Unknown names map to
// TypeUndefined.
func ParseValueType(name string) ValueType {
	switch name {
	case "float32":
		return TypeFloat32
	case "double64":
		return TypeFloat64
	case "string":
		return TypeString
	case "int8":
		return TypeInt8
	case "int16":
		return TypeInt16
	case "int32":
		return TypeInt32
	case "int64":
		return TypeInt64
	}
	return TypeUndefined
}

// Size returns the packed byte width of a single value,
// zero for string and undefined types.
func (t ValueType) Size() int {
	switch t {
	case TypeInt8:
		return 1
	case TypeInt16:
		return 2
	case TypeFloat32, TypeInt32:
		return 4
	case TypeFloat64, TypeInt64:
		return 8
	}
	return 0
}

// IsNumeric reports whether values are fixed-width numbers.
func (t ValueType) IsNumeric() bool {
	return t.Size() != 0
}

// MetaNode is one node of a source's descriptive metadata tree.
// A node carries either a value or children, sometimes both.
type MetaNode struct {
	Name     string
	Value    string
	Children []MetaNode
}

// Source is a discrete, independently-timed data producer.
// Immutable once attached to a session.
type Source struct {
	UID          string // Opaque discovery identity.
	Name         string
	Type         string
	ChannelCount int
	SampleRate   float64 // Zero or negative means irregular rate.
	Format       ValueType
	Metadata     []MetaNode
}

// Batch is an ordered run of samples from one source.
// Exactly one of Floats, Ints or Strings is populated,
// matching the source's declared format.
type Batch struct {
	Timestamps []float64 // Source clock domain, one per sample.

	Floats  [][]float64 // Float32 and Float64 formats.
	Ints    [][]int64   // Integer formats.
	Strings []string    // String format, single channel.
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.Timestamps)
}

// Empty reports whether the batch holds no samples.
func (b Batch) Empty() bool {
	return len(b.Timestamps) == 0
}

// Inlet is an open connection to a single source.
type Inlet interface {
	// PullBatch returns up to max samples. An empty batch with a nil
	// error means nothing arrived within the timeout.
	PullBatch(timeout time.Duration, max int) (Batch, error)

	// WasClockReset reports whether the source clock jumped since the
	// last pull. Polled by the acquisition worker.
	WasClockReset() bool

	Close() error
}

// Transport resolves sources and opens inlets. Discovery and the wire
// protocol live behind this interface, outside the recorder.
type Transport interface {
	Discover(timeout time.Duration) ([]Source, error)
	Connect(src Source) (Inlet, error)

	// Now returns the recorder wall clock in float seconds. Clock
	// offsets are measured against this clock.
	Now() float64
}
