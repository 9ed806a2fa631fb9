package ingest

import (
	"time"

	"devicegw/internal/roster"
)

// Classify is a pure function of punch time and school timing: a punch at
// or before open time plus the late threshold is present, anything after
// is late. No hidden state; callers re-read timing for every batch.
func Classify(punchedAt time.Time, timing roster.Timing) Status {
	midnight := time.Date(punchedAt.Year(), punchedAt.Month(), punchedAt.Day(), 0, 0, 0, 0, punchedAt.Location())
	boundary := midnight.Add(timing.OpenTime + timing.LateThreshold)
	if punchedAt.After(boundary) {
		return StatusLate
	}
	return StatusPresent
}
