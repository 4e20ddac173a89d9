package models

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// StationNumber is the stable numeric identity of a physical site. Zero is
// an invalid sentinel.
type StationNumber uint32

func (n StationNumber) Valid() bool { return n != 0 }

func (n StationNumber) String() string { return fmt.Sprintf("%d", uint32(n)) }

// Site is one row of site metadata, keyed by station number. A site is
// created implicitly on the first file ingested for an unseen station, or
// explicitly via AddSite.
type Site struct {
	StationNum   StationNumber
	Name         sql.NullString
	Notes        sql.NullString
	State        StateProv // StateProvNone when unknown
	AutoDownload bool
	TzOffsetSecs sql.NullInt64 // seconds east of UTC
}

// Validate reports every field problem at once rather than stopping at the
// first.
func (s Site) Validate() error {
	var result *multierror.Error
	if !s.StationNum.Valid() {
		result = multierror.Append(result, fmt.Errorf("station number 0 is invalid"))
	}
	if s.State != StateProvNone && !s.State.Valid() {
		result = multierror.Append(result, fmt.Errorf("unknown state/province %q", string(s.State)))
	}
	if s.TzOffsetSecs.Valid {
		const maxOffset = 14 * 60 * 60
		if s.TzOffsetSecs.Int64 < -maxOffset || s.TzOffsetSecs.Int64 > maxOffset {
			result = multierror.Append(result, fmt.Errorf("timezone offset %d out of range", s.TzOffsetSecs.Int64))
		}
	}
	return result.ErrorOrNil()
}

// Coords is a latitude/longitude pair. Descriptive only, never normalized.
type Coords struct {
	Lat float64
	Lon float64
}

// SoundingFile is one row of file metadata. The (StationNum, Model, InitTime)
// triple is the composite key; FileName maps 1:1 to a blob on disk. The id,
// coordinate and elevation columns are a snapshot taken at ingest time, so
// historical rows keep the identity they were filed under even after the
// site's current id moves.
type SoundingFile struct {
	StationNum StationNumber
	Model      Model
	InitTime   time.Time
	EndTime    time.Time
	FileName   string
	ID         sql.NullString // site id snapshot, uppercase
	Lat        sql.NullFloat64
	Lon        sql.NullFloat64
	ElevationM sql.NullFloat64
}

// Coords returns the snapshot coordinates, if both were recorded.
func (f SoundingFile) Coords() (Coords, bool) {
	if !f.Lat.Valid || !f.Lon.Valid {
		return Coords{}, false
	}
	return Coords{Lat: f.Lat.Float64, Lon: f.Lon.Float64}, true
}
