package api

// Column documents one field of the published score table.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Dictionary lists the score table columns in storage order.
var Dictionary = []Column{
	{"entity_id", "string", "Five-digit county FIPS code."},
	{"name", "string", "County name as published in the reference table."},
	{"region_code", "string", "Two-letter state postal code."},
	{"population", "number", "Resident population. Null when unknown."},
	{"poverty_rate", "number", "Share of residents below the poverty line, in percent."},
	{"unemployment_rate", "number", "Unemployment rate, in percent."},
	{"activity_count", "integer", "Number of loans attributed to the county."},
	{"activity_total", "number", "Sum of current approval amounts, in dollars."},
	{"per_capita_amount", "number", "activity_total divided by population."},
	{"count_per_1000", "number", "Loans per thousand residents."},
	{"average_activity_size", "number", "activity_total divided by activity_count."},
	{"risk_score", "number", "Weighted composite of z-scores, clamped to [-3, 5]."},
	{"risk_rank", "integer", "1 is the highest risk. Null when unscored."},
	{"risk_percentile_rank", "number", "Percentile of risk_rank among scored counties; 100 is the highest risk."},
	{"risk_tier", "string", "LOW, BASELINE, ELEVATED, HIGH or SEVERE."},
	{"hidden_signal_score", "number", "Lending intensity above what local hardship explains."},
	{"hidden_signal_tier", "string", "NEUTRAL, MILD, INTERESTING, WATCH, ANOMALOUS or CRITICAL."},
	{"outlier_score", "integer", "Number of outlier rules fired, 0 to 3."},
	{"outlier_tier", "string", "NORMAL, MILD, HIGH or SEVERE."},
	{"ppp_population_flag", "boolean", "per_capita_outlier_z above 2.5."},
	{"affluent_ppp_flag", "boolean", "Heavy lending in a low-poverty county."},
	{"unemployment_ppp_flag", "boolean", "Heavy lending where unemployment stayed low."},
	{"peer_outlier_flag", "boolean", "Per-capita lending far above the county's peer group."},
	{"outlier_flag", "boolean", "Summary flag for the scoring basis in use."},
	{"per_capita_global_z", "number", "Per-capita z-score against all counties."},
	{"per_capita_peer_z", "number", "Per-capita z-score within the peer group."},
	{"per_capita_outlier_z", "number", "Per-capita z-score against all other counties, excluding this one. Drives ppp_population_flag."},
	{"peer_group", "string", "Population, poverty and unemployment bins."},
	{"outlier_basis", "string", "GLOBAL or PEER."},
	{"run_id", "string", "Run that produced the row."},
}
