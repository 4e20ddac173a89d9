// Package inventory computes coverage bounds and missing-run intervals over
// the init times recorded for one station and model.
package inventory

import (
	"errors"
	"time"
)

// ErrInsufficientData is returned when a non-empty series is required but the
// archive holds no runs.
var ErrInsufficientData = errors.New("no runs in archive for this station and model")

// Period is one contiguous block of expected-but-absent runs, inclusive on
// both ends.
type Period struct {
	Start time.Time
	End   time.Time
}

// Inventory is the derived coverage summary. It is computed on demand and
// never persisted.
type Inventory struct {
	First        time.Time
	Last         time.Time
	Missing      []Period
	AutoDownload bool
}

// Analyze walks the ascending init times once, marking every run the cadence
// predicts but the series lacks. A cadence that is zero or negative is a
// programming error and panics.
func Analyze(initTimes []time.Time, cadence time.Duration, autoDownload bool) (Inventory, error) {
	if cadence <= 0 {
		panic("inventory: cadence must be positive")
	}
	if len(initTimes) == 0 {
		return Inventory{}, ErrInsufficientData
	}

	first := initTimes[0]
	expected := first

	var missing []Period
	for _, t := range initTimes[1:] {
		expected = expected.Add(cadence)
		if expected.Before(t) {
			gapStart := expected
			for expected.Before(t) {
				expected = expected.Add(cadence)
			}
			missing = append(missing, Period{Start: gapStart, End: t.Add(-cadence)})
		}
	}

	return Inventory{
		First:        first,
		Last:         expected,
		Missing:      missing,
		AutoDownload: autoDownload,
	}, nil
}
