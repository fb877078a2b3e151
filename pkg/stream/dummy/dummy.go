// SPDX-License-Identifier: GPL-2.0-or-later

// Package dummy provides a synthetic transport with generated
// sources, used for testing the pipeline without real hardware.
package dummy

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"srec/pkg/stream"
)

// ErrClosed inlet is closed.
var ErrClosed = errors.New("inlet is closed")

// Transport serves three generated sources: a sine-wave EEG source, a
// counter source and an irregular marker source.
type Transport struct {
	start time.Time
}

// NewTransport returns a dummy transport.
func NewTransport() *Transport {
	return &Transport{start: time.Now()}
}

// Now returns the recorder clock in seconds.
func (t *Transport) Now() float64 {
	return time.Since(t.start).Seconds()
}

// Discover returns the generated sources. The timeout is ignored,
// nothing has to be waited for.
func (t *Transport) Discover(timeout time.Duration) ([]stream.Source, error) {
	return []stream.Source{
		{
			UID:          "float123",
			Name:         "DummyFloat",
			Type:         "EEG",
			ChannelCount: 8,
			SampleRate:   100,
			Format:       stream.TypeFloat32,
			Metadata:     eegMetadata(8),
		},
		{
			UID:          "int123",
			Name:         "DummyInt",
			Type:         "IntData",
			ChannelCount: 4,
			SampleRate:   10,
			Format:       stream.TypeInt32,
		},
		{
			UID:          "str123",
			Name:         "DummyStr",
			Type:         "Markers",
			ChannelCount: 1,
			SampleRate:   0,
			Format:       stream.TypeString,
		},
	}, nil
}

func eegMetadata(channels int) []stream.MetaNode {
	nodes := make([]stream.MetaNode, 0, channels)
	for i := 0; i < channels; i++ {
		nodes = append(nodes, stream.MetaNode{
			Name: "channel",
			Children: []stream.MetaNode{
				{Name: "label", Value: fmt.Sprintf("Ch%d", i+1)},
				{Name: "unit", Value: "microvolts"},
			},
		})
	}
	return []stream.MetaNode{{Name: "channels", Children: nodes}}
}

// Connect returns an inlet generating samples for src. Sample
// timestamps follow the transport clock.
func (t *Transport) Connect(src stream.Source) (stream.Inlet, error) {
	interval := 0.0
	if src.SampleRate > 0 {
		interval = 1 / src.SampleRate
	}

	var gen generator
	switch src.Format {
	case stream.TypeFloat32:
		gen = genSine(src.ChannelCount)
	case stream.TypeInt32:
		gen = genCounter(src.ChannelCount)
	case stream.TypeString:
		interval = 1 // One marker per second.
		gen = genMarker()
	default:
		return nil, fmt.Errorf("unsupported source format: %v", src.Format)
	}

	now := t.Now()
	return &inlet{
		now:      t.Now,
		interval: interval,
		next:     now + interval,
		gen:      gen,
	}, nil
}

// generator appends one sample with the given timestamp to the batch.
type generator func(counter uint64, ts float64, batch *stream.Batch)

func genSine(channels int) generator {
	return func(counter uint64, ts float64, batch *stream.Batch) {
		row := make([]float64, channels)
		for ch := range row {
			freq := float64(ch + 1)
			row[ch] = math.Sin(2 * math.Pi * freq * ts)
		}
		batch.Timestamps = append(batch.Timestamps, ts)
		batch.Floats = append(batch.Floats, row)
	}
}

func genCounter(channels int) generator {
	return func(counter uint64, ts float64, batch *stream.Batch) {
		row := make([]int64, channels)
		for ch := range row {
			row[ch] = int64(counter) + int64(ch)
		}
		batch.Timestamps = append(batch.Timestamps, ts)
		batch.Ints = append(batch.Ints, row)
	}
}

func genMarker() generator {
	return func(counter uint64, ts float64, batch *stream.Batch) {
		batch.Timestamps = append(batch.Timestamps, ts)
		batch.Strings = append(batch.Strings, fmt.Sprintf("marker %d", counter))
	}
}

type inlet struct {
	now      func() float64
	interval float64
	gen      generator

	mu      sync.Mutex
	next    float64 // Timestamp of the next sample due.
	counter uint64
	closed  bool
}

// PullBatch returns every sample due since the last pull, waiting up
// to timeout for the first one.
func (i *inlet) PullBatch(timeout time.Duration, max int) (stream.Batch, error) {
	deadline := time.Now().Add(timeout)
	for {
		i.mu.Lock()
		if i.closed {
			i.mu.Unlock()
			return stream.Batch{}, ErrClosed
		}

		var batch stream.Batch
		now := i.now()
		for i.next <= now && batch.Len() < max {
			i.gen(i.counter, i.next, &batch)
			i.counter++
			i.next += i.interval
		}
		untilNext := i.next - now
		i.mu.Unlock()

		if !batch.Empty() {
			return batch, nil
		}

		wait := time.Duration(untilNext * float64(time.Second))
		if remaining := time.Until(deadline); wait > remaining {
			wait = remaining
		}
		if wait <= 0 {
			return stream.Batch{}, nil
		}
		time.Sleep(wait)
	}
}

// WasClockReset always reports false, the generated clock is
// monotonic.
func (i *inlet) WasClockReset() bool { return false }

func (i *inlet) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}
