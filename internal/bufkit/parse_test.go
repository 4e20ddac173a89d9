package bufkit

import (
	"errors"
	"testing"
	"time"
)

const sampleSounding = `
STID = KMSO STNM = 727730 TIME = 230401/0000
SLAT = 46.92 SLON = -114.08 SELV = 972.0
STIM = 0

PRES TMPC TMWC DWPC THTE DRCT SKNT OMEG
925.0 10.2 8.1 6.5 310.2 180.0 12.0 0.0
850.0 5.6 4.0 2.2 308.9 200.0 18.0 -0.1

STID = KMSO STNM = 727730 TIME = 230401/0600
SLAT = 46.92 SLON = -114.08 SELV = 972.0
STIM = 6

PRES TMPC TMWC DWPC THTE DRCT SKNT OMEG
925.0 9.8 7.5 6.0 309.8 190.0 10.0 0.0
`

func TestParse(t *testing.T) {
	recs, err := Parse(sampleSounding)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}

	first := recs[0]
	if first.ID != "KMSO" {
		t.Errorf("ID = %q, want KMSO", first.ID)
	}
	if first.StationNum != 727730 {
		t.Errorf("StationNum = %d, want 727730", first.StationNum)
	}
	wantTime := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	if !first.ValidTime.Equal(wantTime) {
		t.Errorf("ValidTime = %v, want %v", first.ValidTime, wantTime)
	}
	if first.Lat == nil || *first.Lat != 46.92 {
		t.Errorf("Lat = %v, want 46.92", first.Lat)
	}
	if first.Lon == nil || *first.Lon != -114.08 {
		t.Errorf("Lon = %v, want -114.08", first.Lon)
	}
	if first.ElevationM == nil || *first.ElevationM != 972.0 {
		t.Errorf("ElevationM = %v, want 972", first.ElevationM)
	}

	second := recs[1]
	if !second.ValidTime.Equal(wantTime.Add(6 * time.Hour)) {
		t.Errorf("second ValidTime = %v", second.ValidTime)
	}
}

func TestParse_NoID(t *testing.T) {
	text := `
STID = STNM = 727730 TIME = 230401/0000
SLAT = 46.92 SLON = -114.08 SELV = 972.0
`
	recs, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if recs[0].ID != "" {
		t.Errorf("ID = %q, want empty", recs[0].ID)
	}
	if recs[0].StationNum != 727730 {
		t.Errorf("StationNum = %d, want 727730", recs[0].StationNum)
	}
}

func TestParse_LowercaseIDUppercased(t *testing.T) {
	recs, err := Parse("STID = kmso STNM = 727730 TIME = 230401/0000")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if recs[0].ID != "KMSO" {
		t.Errorf("ID = %q, want KMSO", recs[0].ID)
	}
}

func TestParse_Garbage(t *testing.T) {
	var parseErr *ParseError
	for _, text := range []string{
		"",
		"this is not a sounding",
		"STID = KMSO STNM = 727730", // no TIME
		"STID = KMSO STNM = zero TIME = 230401/0000",
		"STID = KMSO STNM = 727730 TIME = yesterday",
	} {
		_, err := Parse(text)
		if !errors.As(err, &parseErr) {
			t.Errorf("Parse(%q) err = %v, want *ParseError", text, err)
		}
	}
}
