package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"devicegw/internal/roster"
)

func TestClassifyBoundary(t *testing.T) {
	timing := roster.Timing{
		SchoolID:      "school-1",
		OpenTime:      8 * time.Hour,
		LateThreshold: 15 * time.Minute,
	}
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	boundary := day.Add(8*time.Hour + 15*time.Minute)

	tests := []struct {
		name string
		at   time.Time
		want Status
	}{
		{"one second before boundary", boundary.Add(-time.Second), StatusPresent},
		{"exactly at boundary", boundary, StatusPresent},
		{"one second after boundary", boundary.Add(time.Second), StatusLate},
		{"well before open", day.Add(7 * time.Hour), StatusPresent},
		{"end of day", day.Add(17 * time.Hour), StatusLate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.at, timing))
		})
	}
}

func TestClassifyUsesPunchDay(t *testing.T) {
	timing := roster.Timing{OpenTime: 8 * time.Hour, LateThreshold: 10 * time.Minute}

	// same clock time on different days classifies identically
	a := Classify(time.Date(2026, 3, 2, 8, 5, 0, 0, time.Local), timing)
	b := Classify(time.Date(2026, 6, 17, 8, 5, 0, 0, time.Local), timing)
	assert.Equal(t, StatusPresent, a)
	assert.Equal(t, a, b)
}
