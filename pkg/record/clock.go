// SPDX-License-Identifier: GPL-2.0-or-later

package record

import "srec/pkg/xdf"

// captureOffset measures the alignment between a source clock and the
// recorder wall clock. Called once when a source's first sample is
// observed and again after a detected clock reset. Each record is
// valid from its collection time until superseded by a later one.
func captureOffset(firstSampleTime, wallNow float64) xdf.ClockOffset {
	return xdf.ClockOffset{
		CollectionTime: wallNow,
		Offset:         firstSampleTime - wallNow,
	}
}
