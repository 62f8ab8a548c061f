package ingest

import (
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// ErrMissingColumns is returned when a source lacks a required column.
var ErrMissingColumns = eris.New("ingest: missing required columns")

// Schema maps canonical field names to the upstream header spellings that
// may carry them. The first alias present in a header wins.
type Schema struct {
	Name     string
	Aliases  map[string][]string
	Required []string
	// AnyOf lists field groups of which at least one must be present.
	AnyOf [][]string
}

// Binding records where each canonical field sits in a header.
type Binding map[string]int

// Has reports whether field is bound.
func (b Binding) Has(field string) bool {
	_, ok := b[field]
	return ok
}

// Get returns the trimmed cell for field, or "" when unbound or short.
func (b Binding) Get(row []string, field string) string {
	i, ok := b[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// HeaderKey folds a header cell to lowercase alphanumerics, so
// "CurrentApprovalAmount", "current_approval_amount" and
// "Current Approval Amount" compare equal.
func HeaderKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Bind resolves the schema against header.
func (s Schema) Bind(header []string) (Binding, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		k := HeaderKey(h)
		if _, dup := pos[k]; !dup {
			pos[k] = i
		}
	}

	b := make(Binding, len(s.Aliases))
	for field, aliases := range s.Aliases {
		for _, a := range aliases {
			if i, ok := pos[HeaderKey(a)]; ok {
				b[field] = i
				break
			}
		}
	}

	var missing []string
	for _, f := range s.Required {
		if !b.Has(f) {
			missing = append(missing, f)
		}
	}
	for _, group := range s.AnyOf {
		found := false
		for _, f := range group {
			if b.Has(f) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, strings.Join(group, "|"))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, eris.Wrapf(ErrMissingColumns, "%s: %s", s.Name, strings.Join(missing, ", "))
	}
	return b, nil
}

// Canonical field names shared by the schemas below.
const (
	FieldEntityID     = "entity_id"
	FieldStateFIPS    = "state_fips"
	FieldCountyFIPS   = "county_fips"
	FieldName         = "name"
	FieldRegionCode   = "region_code"
	FieldPopulation   = "population"
	FieldPoverty      = "poverty_rate"
	FieldUnemployment = "unemployment_rate"

	FieldActivityCount    = "activity_count"
	FieldActivityTotal    = "activity_total"
	FieldActivityForgiven = "activity_forgiven_total"

	FieldLoanNumber      = "loan_number"
	FieldCountyName      = "county_name"
	FieldCurrentAmount   = "current_amount"
	FieldInitialAmount   = "initial_amount"
	FieldForgivenAmount  = "forgiven_amount"
	FieldLender          = "lender"
	FieldServicingLender = "servicing_lender"
	FieldJobs            = "jobs_reported"
)

// ReferenceSchema reads a county reference set: Census gazetteer CSVs,
// TIGER county shapefile attributes, or a prepared spreadsheet.
var ReferenceSchema = Schema{
	Name: "reference",
	Aliases: map[string][]string{
		FieldEntityID:     {"entity_id", "geoid", "fips", "county_fips_code", "countyfips5"},
		FieldStateFIPS:    {"statefp", "state_fips", "statefips"},
		FieldCountyFIPS:   {"countyfp", "county_fips", "countyfips"},
		FieldName:         {"name", "county_name", "namelsad", "county"},
		FieldRegionCode:   {"region_code", "stusps", "state_abbr", "usps", "state"},
		FieldPopulation:   {"population", "pop", "total_population"},
		FieldPoverty:      {"poverty_rate", "poverty_pct", "poverty"},
		FieldUnemployment: {"unemployment_rate", "unemployment_pct", "unemployment"},
	},
	Required: []string{FieldName},
	AnyOf:    [][]string{{FieldEntityID, FieldCountyFIPS}},
}

// DemographicsSchema reads a per-county demographics table keyed by GEOID.
var DemographicsSchema = Schema{
	Name: "demographics",
	Aliases: map[string][]string{
		FieldEntityID:     {"entity_id", "geoid", "fips"},
		FieldPopulation:   {"population", "pop", "total_population", "b01003_001e"},
		FieldPoverty:      {"poverty_rate", "poverty_pct", "poverty"},
		FieldUnemployment: {"unemployment_rate", "unemployment_pct", "unemployment"},
	},
	Required: []string{FieldEntityID},
	AnyOf:    [][]string{{FieldPopulation, FieldPoverty, FieldUnemployment}},
}

// LoanSchema reads SBA PPP public loan files.
var LoanSchema = Schema{
	Name: "loans",
	Aliases: map[string][]string{
		FieldLoanNumber:      {"loannumber", "loan_number"},
		FieldEntityID:        {"geoid", "entity_id", "county_fips"},
		FieldRegionCode:      {"borrowerstate", "projectstate", "state"},
		FieldCountyName:      {"projectcountyname", "county_name", "county"},
		FieldCurrentAmount:   {"currentapprovalamount", "loan_amount", "amount"},
		FieldInitialAmount:   {"initialapprovalamount"},
		FieldForgivenAmount:  {"forgivenessamount", "forgiven_amount"},
		FieldLender:          {"originatinglender", "lender"},
		FieldServicingLender: {"servicinglendername"},
		FieldJobs:            {"jobsreported", "jobs_reported"},
	},
	AnyOf: [][]string{
		{FieldCurrentAmount, FieldInitialAmount},
		{FieldEntityID, FieldCountyName},
	},
}

// EntitySchema reads a prepared entity table, the same shape the store keeps.
var EntitySchema = Schema{
	Name: "entities",
	Aliases: map[string][]string{
		FieldEntityID:         {"entity_id", "geoid"},
		FieldName:             {"name"},
		FieldRegionCode:       {"region_code", "stusps", "state"},
		FieldPopulation:       {"population"},
		FieldPoverty:          {"poverty_rate"},
		FieldUnemployment:     {"unemployment_rate"},
		FieldActivityCount:    {"activity_count", "loans"},
		FieldActivityTotal:    {"activity_total", "loan_total"},
		FieldActivityForgiven: {"activity_forgiven_total", "forgiven_total"},
	},
	Required: []string{FieldEntityID, FieldActivityCount, FieldActivityTotal},
}
