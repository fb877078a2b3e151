// SPDX-License-Identifier: GPL-2.0-or-later

package record

import (
	"testing"

	"github.com/stretchr/testify/require"

	"srec/pkg/stream"
	"srec/pkg/xdf"
)

func TestBuffer(t *testing.T) {
	t.Run("drainOrder", func(t *testing.T) {
		wake := make(chan struct{}, 1)
		buf := newBuffer(wake)
		require.True(t, buf.empty())

		batch1 := stream.Batch{Timestamps: []float64{1}}
		batch2 := stream.Batch{Timestamps: []float64{2}}
		off := xdf.ClockOffset{CollectionTime: 3, Offset: -1}

		buf.pushBatch(batch1)
		buf.pushOffset(off)
		buf.pushBatch(batch2)
		require.False(t, buf.empty())

		offsets, batches := buf.drain()
		require.Equal(t, []xdf.ClockOffset{off}, offsets)
		require.Equal(t, []stream.Batch{batch1, batch2}, batches)
		require.True(t, buf.empty())

		offsets, batches = buf.drain()
		require.Empty(t, offsets)
		require.Empty(t, batches)
	})
	t.Run("wake", func(t *testing.T) {
		wake := make(chan struct{}, 1)
		buf := newBuffer(wake)

		// Signal never blocks, even when nobody listens.
		buf.pushBatch(stream.Batch{Timestamps: []float64{1}})
		buf.pushBatch(stream.Batch{Timestamps: []float64{2}})
		buf.pushOffset(xdf.ClockOffset{})

		require.Len(t, wake, 1)
	})
}

func TestBatchSize(t *testing.T) {
	cases := []struct {
		rate     float64
		expected int
	}{
		{100, 100},
		{512.5, 500},
		{0.2, 1},
		{0, irregularBatchSize},
		{-1, irregularBatchSize},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expected, batchSize(tc.rate))
	}
}

func TestCaptureOffset(t *testing.T) {
	off := captureOffset(105.25, 100)
	require.Equal(t, xdf.ClockOffset{CollectionTime: 100, Offset: 5.25}, off)
}
