package models

import (
	"fmt"
	"strings"
	"time"
)

// Model identifies a numerical weather prediction source.
type Model int

const (
	GFS Model = iota
	NAM
	NAM4KM
)

// AllModels lists every supported model.
var AllModels = []Model{GFS, NAM, NAM4KM}

// String returns the canonical lowercase spelling used in file names and the
// index.
func (m Model) String() string {
	switch m {
	case GFS:
		return "gfs"
	case NAM:
		return "nam"
	case NAM4KM:
		return "nam4km"
	}
	return fmt.Sprintf("model(%d)", int(m))
}

// HoursBetweenRuns is the model's fixed run cadence. Every supported model
// currently runs on a 6 hour cycle.
func (m Model) HoursBetweenRuns() int {
	return 6
}

// Cadence is the run cadence as a duration.
func (m Model) Cadence() time.Duration {
	return time.Duration(m.HoursBetweenRuns()) * time.Hour
}

// modelAliases maps every accepted spelling, historical ones included, to a
// canonical value. Lookups are lowercased first.
var modelAliases = map[string]Model{
	"gfs":     GFS,
	"gfs3":    GFS,
	"nam":     NAM,
	"namm":    NAM,
	"nam4km":  NAM4KM,
	"nam-4km": NAM4KM,
	"nam4":    NAM4KM,
}

// ModelParseError reports a spelling that matches no known model.
type ModelParseError struct {
	Input string
}

func (e *ModelParseError) Error() string {
	return fmt.Sprintf("unknown model %q", e.Input)
}

// ParseModel resolves a model name, accepting historical aliases in any case.
func ParseModel(s string) (Model, error) {
	if m, ok := modelAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return m, nil
	}
	return 0, &ModelParseError{Input: s}
}
