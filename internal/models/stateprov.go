package models

import (
	"fmt"
	"strings"
)

// StateProv is a US state/territory or Canadian province postal code.
// StateProvNone marks an unknown or unset state.
type StateProv string

const StateProvNone StateProv = ""

// stateProvs is the closed set of accepted codes. Serialization always uses
// these uppercase spellings.
var stateProvs = map[StateProv]struct{}{
	// US states and territories
	"AL": {}, "AK": {}, "AZ": {}, "AR": {}, "CA": {}, "CO": {}, "CT": {},
	"DE": {}, "FL": {}, "GA": {}, "HI": {}, "ID": {}, "IL": {}, "IN": {},
	"IA": {}, "KS": {}, "KY": {}, "LA": {}, "ME": {}, "MD": {}, "MA": {},
	"MI": {}, "MN": {}, "MS": {}, "MO": {}, "MT": {}, "NE": {}, "NV": {},
	"NH": {}, "NJ": {}, "NM": {}, "NY": {}, "NC": {}, "ND": {}, "OH": {},
	"OK": {}, "OR": {}, "PA": {}, "RI": {}, "SC": {}, "SD": {}, "TN": {},
	"TX": {}, "UT": {}, "VT": {}, "VA": {}, "WA": {}, "WV": {}, "WI": {},
	"WY": {}, "DC": {}, "PR": {}, "VI": {}, "GU": {}, "AS": {}, "MP": {},
	// Canadian provinces and territories
	"AB": {}, "BC": {}, "MB": {}, "NB": {}, "NL": {}, "NS": {}, "NT": {},
	"NU": {}, "ON": {}, "PE": {}, "QC": {}, "SK": {}, "YT": {},
}

func (sp StateProv) Valid() bool {
	_, ok := stateProvs[sp]
	return ok
}

func (sp StateProv) String() string { return string(sp) }

// StateProvParseError reports a code outside the closed set.
type StateProvParseError struct {
	Input string
}

func (e *StateProvParseError) Error() string {
	return fmt.Sprintf("unknown state/province %q", e.Input)
}

// ParseStateProv resolves a postal code in any case. The empty string parses
// to StateProvNone.
func ParseStateProv(s string) (StateProv, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(s))
	if trimmed == "" {
		return StateProvNone, nil
	}
	sp := StateProv(trimmed)
	if !sp.Valid() {
		return StateProvNone, &StateProvParseError{Input: s}
	}
	return sp, nil
}
