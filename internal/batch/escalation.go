/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package batch

import "time"

// blockWindow counts Blocked outcomes inside a sliding time window.
type blockWindow struct {
	threshold int
	window    time.Duration
	hits      []time.Time
}

func newBlockWindow(threshold int, window time.Duration) *blockWindow {
	return &blockWindow{threshold: threshold, window: window}
}

// record adds a block at t and reports whether the threshold was reached.
// Reaching it clears the window so the next escalation needs a fresh run of
// blocks.
func (w *blockWindow) record(t time.Time) bool {
	cutoff := t.Add(-w.window)
	kept := w.hits[:0]
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	w.hits = append(kept, t)

	if len(w.hits) >= w.threshold {
		w.hits = w.hits[:0]
		return true
	}
	return false
}
