package store

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/county-risk/internal/lender"
	"github.com/sells-group/county-risk/internal/model"
)

// EntityColumns is the input table layout.
var EntityColumns = []string{
	"entity_id", "name", "region_code",
	"population", "poverty_rate", "unemployment_rate",
	"activity_count", "activity_total", "activity_forgiven_total",
}

// ScoreColumns is the published output table layout.
var ScoreColumns = []string{
	"entity_id", "name", "region_code",
	"population", "poverty_rate", "unemployment_rate",
	"activity_count", "activity_total",
	"per_capita_amount", "count_per_1000", "average_activity_size",
	"risk_score", "risk_rank", "risk_percentile_rank", "risk_tier",
	"hidden_signal_score", "hidden_signal_tier",
	"outlier_score", "outlier_tier",
	"ppp_population_flag", "affluent_ppp_flag", "unemployment_ppp_flag",
	"peer_outlier_flag", "outlier_flag",
	"per_capita_global_z", "per_capita_peer_z", "per_capita_outlier_z",
	"peer_group", "outlier_basis", "run_id",
}

// LenderColumns is the lender_profiles layout.
var LenderColumns = []string{
	"lender_name", "loan_count", "total_approved", "avg_loan",
	"total_jobs", "influence_rank", "influence_percentile",
}

// CountyLenderColumns is the county_lender_signals layout.
var CountyLenderColumns = []string{
	"entity_id", "lender_name", "loan_count", "total_approved", "lender_rank", "loan_share",
}

// RunColumns is the score_runs layout.
var RunColumns = []string{"id", "mode", "status", "entities", "scored", "started_at", "finished_at", "meta"}

// entitySelect returns the input projection, substituting NULL for the
// optional forgiven total when the table lacks it.
func entitySelect(c Capability) []string {
	if c.HasForgiven {
		return EntityColumns
	}
	cols := append([]string(nil), EntityColumns[:len(EntityColumns)-1]...)
	return append(cols, "NULL")
}

type scannable interface {
	Scan(dest ...any) error
}

func entityValues(e model.Entity) []any {
	return []any{
		e.EntityID, e.Name, e.RegionCode,
		nullFloat(e.Population), nullFloat(e.PovertyRate), nullFloat(e.UnemploymentRate),
		e.ActivityCount, e.ActivityTotal, nullFloat(e.ActivityForgivenTotal),
	}
}

func scanEntity(row scannable) (model.Entity, error) {
	var e model.Entity
	var name, region sql.NullString
	var pop, pov, unemp, count, total, forgiven sql.NullFloat64
	if err := row.Scan(&e.EntityID, &name, &region, &pop, &pov, &unemp, &count, &total, &forgiven); err != nil {
		return e, eris.Wrap(err, "store: scan entity")
	}
	e.Name = name.String
	e.RegionCode = region.String
	e.Population = floatPtr(pop)
	e.PovertyRate = floatPtr(pov)
	e.UnemploymentRate = floatPtr(unemp)
	// Activity nulls are zero activity.
	e.ActivityCount = int64(count.Float64)
	e.ActivityTotal = total.Float64
	e.ActivityForgivenTotal = floatPtr(forgiven)
	return e, nil
}

func scoreValues(s model.ScoredEntity) []any {
	var rank any
	if s.RiskRank != nil {
		rank = int64(*s.RiskRank)
	}
	return []any{
		s.EntityID, s.Name, s.RegionCode,
		nullFloat(s.Population), nullFloat(s.PovertyRate), nullFloat(s.UnemploymentRate),
		s.ActivityCount, s.ActivityTotal,
		nullFloat(s.PerCapitaAmount), nullFloat(s.CountPer1000), nullFloat(s.AverageActivitySize),
		nullFloat(s.RiskScore), rank, nullFloat(s.RiskPercentileRank), nullString(string(s.RiskTier)),
		nullFloat(s.HiddenSignalScore), nullString(string(s.HiddenSignalTier)),
		int64(s.OutlierScore), string(s.OutlierTier),
		s.PPPPopulationFlag, s.AffluentPPPFlag, s.UnemploymentPPPFlag,
		s.PeerOutlierFlag, s.OutlierFlag,
		nullFloat(s.PerCapitaGlobalZ), nullFloat(s.PerCapitaPeerZ), nullFloat(s.PerCapitaOutlierZ),
		nullString(s.PeerGroup), string(s.OutlierBasis), s.RunID,
	}
}

func scanScore(row scannable) (*model.ScoredEntity, error) {
	var s model.ScoredEntity
	var name, region, riskTier, hiddenTier, peerGroup sql.NullString
	var pop, pov, unemp sql.NullFloat64
	var perCapita, per1000, avgSize sql.NullFloat64
	var risk, pct, hidden, globalZ, peerZ, outlierZ sql.NullFloat64
	var rank sql.NullInt64
	var outlierTier, basis string

	err := row.Scan(
		&s.EntityID, &name, &region,
		&pop, &pov, &unemp,
		&s.ActivityCount, &s.ActivityTotal,
		&perCapita, &per1000, &avgSize,
		&risk, &rank, &pct, &riskTier,
		&hidden, &hiddenTier,
		&s.OutlierScore, &outlierTier,
		&s.PPPPopulationFlag, &s.AffluentPPPFlag, &s.UnemploymentPPPFlag,
		&s.PeerOutlierFlag, &s.OutlierFlag,
		&globalZ, &peerZ, &outlierZ,
		&peerGroup, &basis, &s.RunID,
	)
	if err != nil {
		return nil, err
	}

	s.Name = name.String
	s.RegionCode = region.String
	s.Population = floatPtr(pop)
	s.PovertyRate = floatPtr(pov)
	s.UnemploymentRate = floatPtr(unemp)
	s.PerCapitaAmount = floatPtr(perCapita)
	s.CountPer1000 = floatPtr(per1000)
	s.AverageActivitySize = floatPtr(avgSize)
	s.RiskScore = floatPtr(risk)
	if rank.Valid {
		r := int(rank.Int64)
		s.RiskRank = &r
	}
	s.RiskPercentileRank = floatPtr(pct)
	s.RiskTier = model.RiskTier(riskTier.String)
	s.HiddenSignalScore = floatPtr(hidden)
	s.HiddenSignalTier = model.HiddenTier(hiddenTier.String)
	s.OutlierTier = model.OutlierTier(outlierTier)
	s.PerCapitaGlobalZ = floatPtr(globalZ)
	s.PerCapitaPeerZ = floatPtr(peerZ)
	s.PerCapitaOutlierZ = floatPtr(outlierZ)
	s.PeerGroup = peerGroup.String
	s.OutlierBasis = model.Basis(basis)
	return &s, nil
}

func lenderValues(p lender.Profile) []any {
	return []any{p.LenderName, p.LoanCount, p.TotalApproved, p.AvgLoan, p.TotalJobs, int64(p.InfluenceRank), p.InfluencePercentile}
}

func scanLender(row scannable) (lender.Profile, error) {
	var p lender.Profile
	err := row.Scan(&p.LenderName, &p.LoanCount, &p.TotalApproved, &p.AvgLoan, &p.TotalJobs, &p.InfluenceRank, &p.InfluencePercentile)
	return p, eris.Wrap(err, "store: scan lender")
}

func countyLenderValues(c lender.CountySignal) []any {
	return []any{c.EntityID, c.LenderName, c.LoanCount, c.TotalApproved, int64(c.LenderRank), c.LoanShare}
}

func scanCountyLender(row scannable) (lender.CountySignal, error) {
	var c lender.CountySignal
	err := row.Scan(&c.EntityID, &c.LenderName, &c.LoanCount, &c.TotalApproved, &c.LenderRank, &c.LoanShare)
	return c, eris.Wrap(err, "store: scan county lender")
}

func scanRun(row scannable) (model.Run, error) {
	var r model.Run
	var mode, status string
	var meta []byte
	if err := row.Scan(&r.ID, &mode, &status, &r.Entities, &r.Scored, &r.StartedAt, &r.FinishedAt, &meta); err != nil {
		return r, eris.Wrap(err, "store: scan run")
	}
	r.Mode = model.Mode(mode)
	r.Status = model.RunStatus(status)
	if len(meta) > 0 {
		r.Meta = append([]byte(nil), meta...)
	}
	return r, nil
}

// placeholders returns n bind parameters, $1.. for Postgres or ? for SQLite.
func placeholders(n int, dollar bool) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		if dollar {
			b.WriteString("$")
			b.WriteString(strconv.Itoa(i))
		} else {
			b.WriteString("?")
		}
	}
	return b.String()
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
