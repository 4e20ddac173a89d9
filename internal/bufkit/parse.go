// Package bufkit recovers station identity and timing from raw sounding
// text. The archive treats the payload as opaque except for what this parser
// exposes: one record per forecast hour, each with a valid time, the station
// number, and optionally a site id, coordinates and elevation.
package bufkit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rnleach/bufkit-data/internal/models"
)

// Record is the metadata of one forecast-hour section. Location fields are
// nil when the section does not carry them.
type Record struct {
	ValidTime  time.Time
	StationNum models.StationNumber
	ID         string // uppercase, empty when the section carries no STID value
	Lat        *float64
	Lon        *float64
	ElevationM *float64
}

// ParseError reports a payload the parser could not make sense of.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed sounding text: %s", e.Msg)
}

const validTimeLayout = "060102/1504"

// keys the parser cares about inside a section header. Everything else in
// the payload is ignored.
var headerKeys = map[string]struct{}{
	"STID": {}, "STNM": {}, "TIME": {},
	"SLAT": {}, "SLON": {}, "SELV": {},
}

// Parse scans text for forecast-hour sections and returns their metadata in
// file order. Sections are introduced by an STID token; key/value pairs are
// whitespace separated with '=' between key and value. A key immediately
// followed by another key has an empty value, which happens for STID at sites
// without an assigned id.
func Parse(text string) ([]Record, error) {
	tokens := strings.Fields(text)

	var records []Record
	var cur map[string]string

	flush := func() error {
		if cur == nil {
			return nil
		}
		rec, err := buildRecord(cur)
		if err != nil {
			return err
		}
		records = append(records, rec)
		cur = nil
		return nil
	}

	for i := 0; i < len(tokens); i++ {
		key := tokens[i]
		if _, ok := headerKeys[key]; !ok {
			continue
		}
		if i+1 >= len(tokens) || tokens[i+1] != "=" {
			continue
		}
		if key == "STID" {
			if err := flush(); err != nil {
				return nil, err
			}
			cur = make(map[string]string)
		}
		if cur == nil {
			continue
		}

		value := ""
		if i+2 < len(tokens) {
			next := tokens[i+2]
			if _, isKey := headerKeys[next]; !isKey {
				value = next
				i += 2
			} else {
				i++
			}
		}
		cur[key] = value
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, &ParseError{Msg: "no sounding sections found"}
	}
	return records, nil
}

func buildRecord(fields map[string]string) (Record, error) {
	var rec Record

	timeStr, ok := fields["TIME"]
	if !ok || timeStr == "" {
		return Record{}, &ParseError{Msg: "section missing TIME"}
	}
	validTime, err := time.ParseInLocation(validTimeLayout, timeStr, time.UTC)
	if err != nil {
		return Record{}, &ParseError{Msg: fmt.Sprintf("bad TIME value %q", timeStr)}
	}
	rec.ValidTime = validTime

	stnm, ok := fields["STNM"]
	if !ok || stnm == "" {
		return Record{}, &ParseError{Msg: "section missing STNM"}
	}
	num, err := strconv.ParseUint(stnm, 10, 32)
	if err != nil || num == 0 {
		return Record{}, &ParseError{Msg: fmt.Sprintf("bad STNM value %q", stnm)}
	}
	rec.StationNum = models.StationNumber(num)

	rec.ID = strings.ToUpper(fields["STID"])

	for key, dst := range map[string]**float64{
		"SLAT": &rec.Lat,
		"SLON": &rec.Lon,
		"SELV": &rec.ElevationM,
	} {
		if v, ok := fields[key]; ok && v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return Record{}, &ParseError{Msg: fmt.Sprintf("bad %s value %q", key, v)}
			}
			*dst = &parsed
		}
	}

	return rec, nil
}
