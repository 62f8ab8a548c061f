package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Capability reports whether the input table can feed a scoring run.
type Capability struct {
	Table          string   `json:"table"`
	Available      bool     `json:"available"`
	MissingColumns []string `json:"missing_columns,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	// HasForgiven is set when the optional activity_forgiven_total column exists.
	HasForgiven bool `json:"has_forgiven"`
}

// Err returns nil when the input is usable, otherwise an error wrapping
// ErrInputUnavailable with the reason.
func (c Capability) Err() error {
	if c.Available {
		return nil
	}
	return eris.Wrapf(ErrInputUnavailable, "%s: %s", c.Table, c.Reason)
}

// RequiredInputColumns must exist on the input table. activity_forgiven_total
// is optional.
var RequiredInputColumns = []string{
	"entity_id", "name", "region_code",
	"population", "poverty_rate", "unemployment_rate",
	"activity_count", "activity_total",
}

// checkColumns evaluates the columns actually present on table.
func checkColumns(table string, present []string) Capability {
	c := Capability{Table: table}
	if len(present) == 0 {
		c.Reason = "table does not exist"
		return c
	}
	have := make(map[string]bool, len(present))
	for _, col := range present {
		have[strings.ToLower(col)] = true
	}
	for _, req := range RequiredInputColumns {
		if !have[req] {
			c.MissingColumns = append(c.MissingColumns, req)
		}
	}
	if len(c.MissingColumns) > 0 {
		sort.Strings(c.MissingColumns)
		c.Reason = fmt.Sprintf("missing columns %s", strings.Join(c.MissingColumns, ", "))
		return c
	}
	c.Available = true
	c.HasForgiven = have["activity_forgiven_total"]
	return c
}
