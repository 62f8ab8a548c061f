package geo

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// countySuffixes are the legal-area words stripped before matching, longest first.
var countySuffixes = []string{"CENSUS AREA", "CITY AND BOROUGH", "COUNTY", "PARISH", "BOROUGH", "MUNICIPALITY"}

// NormalizeCountyName folds a county name into its join form: accents removed,
// upper-cased, legal-area suffixes and punctuation dropped, whitespace collapsed.
// "Doña Ana County" and "DONA ANA" both become "DONA ANA".
func NormalizeCountyName(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	s := strings.ToUpper(folded)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '\'', '-':
			return ' '
		default:
			return r
		}
	}, s)

	words := strings.Fields(s)
	out := words[:0]
	for i := 0; i < len(words); i++ {
		if n := suffixAt(words, i); n > 0 {
			i += n - 1
			continue
		}
		out = append(out, words[i])
	}
	return strings.Join(out, " ")
}

// suffixAt reports how many words of a legal-area suffix start at words[i].
func suffixAt(words []string, i int) int {
	for _, suffix := range countySuffixes {
		parts := strings.Fields(suffix)
		if i+len(parts) > len(words) {
			continue
		}
		match := true
		for j, p := range parts {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return len(parts)
		}
	}
	return 0
}

// CountyKey is the (state, normalized county name) join key used when a loan
// carries no county code.
type CountyKey struct {
	State string
	Name  string
}

// NewCountyKey builds a CountyKey from a USPS state code and a raw county name.
func NewCountyKey(state, county string) CountyKey {
	return CountyKey{
		State: strings.ToUpper(strings.TrimSpace(state)),
		Name:  NormalizeCountyName(county),
	}
}

// Valid reports whether both parts of the key are present.
func (k CountyKey) Valid() bool {
	return k.State != "" && k.Name != ""
}
