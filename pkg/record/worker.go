// SPDX-License-Identifier: GPL-2.0-or-later

package record

import (
	"context"
	"math"
	"time"

	"srec/pkg/log"
	"srec/pkg/stream"
)

const (
	// Batch size for sources without a nominal rate.
	irregularBatchSize = 100

	// Upper bound on samples per pull, limits per-call latency.
	maxBatchSize = 500

	pollTimeout = 50 * time.Millisecond
)

// batchSize computes the pull size for a source: roughly one second
// of samples at the nominal rate, clamped.
func batchSize(nominalRate float64) int {
	if nominalRate <= 0 {
		return irregularBatchSize
	}
	size := int(math.Round(nominalRate))
	if size < 1 {
		size = 1
	}
	if size > maxBatchSize {
		size = maxBatchSize
	}
	return size
}

type logFunc func(level log.Level, format string, a ...interface{})

// worker pulls batches from one source's inlet and queues them. One
// worker per attached source, no state shared between workers.
type worker struct {
	source stream.Source
	inlet  stream.Inlet
	buf    *buffer

	now   func() float64
	logf  logFunc
	onErr func(uid string, err error)

	maxBatch    int
	pollTimeout time.Duration

	// Set once the initial clock offset has been captured, or again
	// pending after a detected clock reset.
	gotFirst     bool
	resetPending bool

	done chan struct{}
}

func newWorker(
	source stream.Source,
	inlet stream.Inlet,
	buf *buffer,
	now func() float64,
	logf logFunc,
	onErr func(uid string, err error),
) *worker {
	return &worker{
		source: source,
		inlet:  inlet,
		buf:    buf,

		now:   now,
		logf:  logf,
		onErr: onErr,

		maxBatch:    batchSize(source.SampleRate),
		pollTimeout: pollTimeout,

		done: make(chan struct{}),
	}
}

func (w *worker) start(ctx context.Context) {
	go w.run(ctx)
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	w.logf(log.LevelInfo, "acquisition started")

	for {
		batch, err := w.inlet.PullBatch(w.pollTimeout, w.maxBatch)
		if err != nil {
			// Transport failure isolates to this worker.
			w.logf(log.LevelError, "pull batch: %v", err)
			w.onErr(w.source.UID, err)
			return
		}

		if w.inlet.WasClockReset() {
			w.logf(log.LevelWarning, "clock reset detected")
			w.resetPending = true
		}

		if !batch.Empty() {
			w.queue(batch)
		}

		// Checked after the pull so a batch delivered while stopping
		// is still flushed into the buffer.
		if ctx.Err() != nil {
			w.logf(log.LevelInfo, "acquisition stopped")
			return
		}
	}
}

// queue captures a clock offset when required, then pushes the batch.
func (w *worker) queue(batch stream.Batch) {
	if !w.gotFirst || w.resetPending {
		w.buf.pushOffset(captureOffset(batch.Timestamps[0], w.now()))
		w.gotFirst = true
		w.resetPending = false
	}
	w.buf.pushBatch(batch)
}

// wait blocks until the worker has stopped or the timeout expires.
// Reports whether the worker stopped in time.
func (w *worker) wait(timeout time.Duration) bool {
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
