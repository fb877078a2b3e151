// SPDX-License-Identifier: GPL-2.0-or-later

// Package record implements the recording pipeline: one acquisition
// worker per source feeding a per-source buffer, drained by a single
// writer goroutine into the container file.
package record

import (
	"sync"

	"srec/pkg/stream"
	"srec/pkg/xdf"
)

// buffer is a per-source FIFO of sample batches. Pushes never block
// and queued batches are only removed by drain, so a stalled writer
// grows memory instead of losing samples. The lock is held only for
// the push or drain itself, never across file I/O.
type buffer struct {
	mu      sync.Mutex
	offsets []xdf.ClockOffset
	batches []stream.Batch

	wake chan struct{} // Shared with the drain loop, capacity 1.
}

func newBuffer(wake chan struct{}) *buffer {
	return &buffer{wake: wake}
}

func (b *buffer) pushBatch(batch stream.Batch) {
	b.mu.Lock()
	b.batches = append(b.batches, batch)
	b.mu.Unlock()
	b.signal()
}

// pushOffset queues a clock offset record. Offsets queued in a drain
// interval are written before that interval's batches, keeping every
// offset ahead of the samples it applies to.
func (b *buffer) pushOffset(off xdf.ClockOffset) {
	b.mu.Lock()
	b.offsets = append(b.offsets, off)
	b.mu.Unlock()
	b.signal()
}

func (b *buffer) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// drain atomically removes and returns everything queued,
// preserving insertion order.
func (b *buffer) drain() ([]xdf.ClockOffset, []stream.Batch) {
	b.mu.Lock()
	defer b.mu.Unlock()

	offsets := b.offsets
	batches := b.batches
	b.offsets = nil
	b.batches = nil
	return offsets, batches
}

func (b *buffer) empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.offsets) == 0 && len(b.batches) == 0
}
