// Package geo normalizes the geographic keys used to join loans to counties.
package geo

import (
	"fmt"
	"strings"
	"unicode"
)

var stateFIPS = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06", "CO": "08", "CT": "09",
	"DE": "10", "DC": "11", "FL": "12", "GA": "13", "HI": "15", "ID": "16", "IL": "17",
	"IN": "18", "IA": "19", "KS": "20", "KY": "21", "LA": "22", "ME": "23", "MD": "24",
	"MA": "25", "MI": "26", "MN": "27", "MS": "28", "MO": "29", "MT": "30", "NE": "31",
	"NV": "32", "NH": "33", "NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38",
	"OH": "39", "OK": "40", "OR": "41", "PA": "42", "RI": "44", "SC": "45", "SD": "46",
	"TN": "47", "TX": "48", "UT": "49", "VT": "50", "VA": "51", "WA": "53", "WV": "54",
	"WI": "55", "WY": "56", "AS": "60", "GU": "66", "MP": "69", "PR": "72", "VI": "78",
}

var fipsState = func() map[string]string {
	m := make(map[string]string, len(stateFIPS))
	for usps, fips := range stateFIPS {
		m[fips] = usps
	}
	return m
}()

// StateFIPS returns the 2-digit FIPS code for a USPS state abbreviation.
func StateFIPS(usps string) (string, bool) {
	code, ok := stateFIPS[strings.ToUpper(strings.TrimSpace(usps))]
	return code, ok
}

// StateUSPS returns the USPS abbreviation for a state FIPS code.
func StateUSPS(fips string) (string, bool) {
	code, ok := fipsState[NormalizeFIPSState(fips)]
	return code, ok
}

// NormalizeFIPSState normalizes a state FIPS code to 2 digits with zero-padding.
func NormalizeFIPSState(code string) string {
	code = digitsOnly(code)
	if code == "" {
		return ""
	}
	if len(code) == 1 {
		return "0" + code
	}
	return code
}

// NormalizeFIPSCounty normalizes a county FIPS code to its last 3 digits with zero-padding.
func NormalizeFIPSCounty(code string) string {
	code = digitsOnly(code)
	if code == "" {
		return ""
	}
	for len(code) < 3 {
		code = "0" + code
	}
	return code[len(code)-3:]
}

// CombineFIPS combines state and county FIPS codes into a 5-digit GEOID.
func CombineFIPS(state, county string) string {
	s := NormalizeFIPSState(state)
	c := NormalizeFIPSCounty(county)
	if len(s) != 2 || c == "" {
		return ""
	}
	return s + c
}

// FormatFIPS formats a numeric FIPS code with proper zero-padding.
func FormatFIPS(code int, digits int) string {
	return fmt.Sprintf("%0*d", digits, code)
}

// NormalizeGEOID returns a 5-digit county GEOID, or "" when code cannot be one.
// Spreadsheet sources often drop the leading zero, so 4-digit codes are padded.
func NormalizeGEOID(code string) string {
	code = digitsOnly(code)
	switch len(code) {
	case 4:
		return "0" + code
	case 5:
		return code
	default:
		return ""
	}
}

func digitsOnly(s string) string {
	s = strings.TrimSpace(s)
	// Numeric cells exported as floats ("1001.0").
	if i := strings.IndexByte(s, '.'); i > 0 && strings.Trim(s[i+1:], "0") == "" {
		s = s[:i]
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return ""
		}
	}
	return s
}
