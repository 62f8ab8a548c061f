package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/county-risk/internal/lender"
	"github.com/sells-group/county-risk/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Writers are
// serialized in-process; each write is a single transaction.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS county_agg (
	entity_id               TEXT PRIMARY KEY,
	name                    TEXT,
	region_code             TEXT,
	population              REAL,
	poverty_rate            REAL,
	unemployment_rate       REAL,
	activity_count          INTEGER NOT NULL DEFAULT 0,
	activity_total          REAL NOT NULL DEFAULT 0,
	activity_forgiven_total REAL
);

CREATE TABLE IF NOT EXISTS county_scores (
	entity_id             TEXT PRIMARY KEY,
	name                  TEXT,
	region_code           TEXT,
	population            REAL,
	poverty_rate          REAL,
	unemployment_rate     REAL,
	activity_count        INTEGER NOT NULL,
	activity_total        REAL NOT NULL,
	per_capita_amount     REAL,
	count_per_1000        REAL,
	average_activity_size REAL,
	risk_score            REAL,
	risk_rank             INTEGER,
	risk_percentile_rank  REAL,
	risk_tier             TEXT,
	hidden_signal_score   REAL,
	hidden_signal_tier    TEXT,
	outlier_score         INTEGER NOT NULL,
	outlier_tier          TEXT NOT NULL,
	ppp_population_flag   INTEGER NOT NULL,
	affluent_ppp_flag     INTEGER NOT NULL,
	unemployment_ppp_flag INTEGER NOT NULL,
	peer_outlier_flag     INTEGER NOT NULL,
	outlier_flag          INTEGER NOT NULL,
	per_capita_global_z   REAL,
	per_capita_peer_z     REAL,
	per_capita_outlier_z  REAL,
	peer_group            TEXT,
	outlier_basis         TEXT NOT NULL,
	run_id                TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS score_runs (
	id          TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	status      TEXT NOT NULL,
	entities    INTEGER NOT NULL,
	scored      INTEGER NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	meta        TEXT
);

CREATE TABLE IF NOT EXISTS lender_profiles (
	lender_name          TEXT PRIMARY KEY,
	loan_count           INTEGER NOT NULL,
	total_approved       REAL NOT NULL,
	avg_loan             REAL NOT NULL,
	total_jobs           INTEGER NOT NULL,
	influence_rank       INTEGER NOT NULL,
	influence_percentile REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS county_lender_signals (
	entity_id      TEXT NOT NULL,
	lender_name    TEXT NOT NULL,
	loan_count     INTEGER NOT NULL,
	total_approved REAL NOT NULL,
	lender_rank    INTEGER NOT NULL,
	loan_share     REAL NOT NULL,
	PRIMARY KEY (entity_id, lender_name)
);

CREATE INDEX IF NOT EXISTS idx_county_scores_rank ON county_scores(risk_rank);
CREATE INDEX IF NOT EXISTS idx_county_scores_tier ON county_scores(risk_tier);
CREATE INDEX IF NOT EXISTS idx_score_runs_started ON score_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_lender_profiles_rank ON lender_profiles(influence_rank);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) InputCapability(ctx context.Context) (Capability, error) {
	return sqliteCapability(ctx, s.db)
}

func sqliteCapability(ctx context.Context, q sqliteQuerier) (Capability, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, TableEntities)
	if err != nil {
		return Capability{}, eris.Wrap(err, "sqlite: inspect input table")
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return Capability{}, eris.Wrap(err, "sqlite: scan column")
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return Capability{}, eris.Wrap(err, "sqlite: inspect input table iterate")
	}
	return checkColumns(TableEntities, cols), nil
}

func (s *SQLiteStore) LoadEntities(ctx context.Context) ([]model.Entity, error) {
	return sqliteLoadEntities(ctx, s.db)
}

func sqliteLoadEntities(ctx context.Context, q sqliteQuerier) ([]model.Entity, error) {
	capab, err := sqliteCapability(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := capab.Err(); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY entity_id`, strings.Join(entitySelect(capab), ", "), TableEntities))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load entities iterate")
}

func (s *SQLiteStore) ReplaceAggregates(ctx context.Context, agg Aggregates) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin aggregates")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := sqliteReplace(ctx, tx, TableEntities, EntityColumns, len(agg.Entities), func(i int) []any {
		return entityValues(agg.Entities[i])
	}); err != nil {
		return err
	}
	if err := sqliteReplace(ctx, tx, TableLenders, LenderColumns, len(agg.Lenders), func(i int) []any {
		return lenderValues(agg.Lenders[i])
	}); err != nil {
		return err
	}
	if err := sqliteReplace(ctx, tx, TableCountyLenders, CountyLenderColumns, len(agg.CountyLenders), func(i int) []any {
		return countyLenderValues(agg.CountyLenders[i])
	}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit aggregates")
}

// ScoreExclusive reads the entity snapshot, runs fn and publishes its result
// in one transaction while holding the writer lock.
func (s *SQLiteStore) ScoreExclusive(ctx context.Context, fn ScoreFunc) (*Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin score run")
	}
	defer tx.Rollback() //nolint:errcheck

	entities, err := sqliteLoadEntities(ctx, tx)
	if err != nil {
		return nil, err
	}
	pub, err := fn(ctx, entities)
	if err != nil {
		return nil, err
	}
	if err := sqlitePublish(ctx, tx, pub); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit score run")
	}
	return pub, nil
}

func (s *SQLiteStore) Publish(ctx context.Context, pub *Publication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin publish")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := sqlitePublish(ctx, tx, pub); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit publish")
}

func sqlitePublish(ctx context.Context, tx *sql.Tx, pub *Publication) error {
	if pub == nil || len(pub.Scores) == 0 {
		return eris.New("sqlite: refusing to publish an empty score table")
	}
	if err := sqliteReplace(ctx, tx, TableScores, ScoreColumns, len(pub.Scores), func(i int) []any {
		return scoreValues(pub.Scores[i])
	}); err != nil {
		return err
	}

	r := pub.Run
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, TableRuns, strings.Join(RunColumns, ", "), placeholders(len(RunColumns), false)),
		r.ID, string(r.Mode), string(r.Status), r.Entities, r.Scored, r.StartedAt.UTC(), r.FinishedAt.UTC(), nullString(string(r.Meta)),
	)
	return eris.Wrapf(err, "sqlite: insert run %s", r.ID)
}

func sqliteReplace(ctx context.Context, tx *sql.Tx, table string, columns []string, n int, row func(int) []any) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return eris.Wrapf(err, "sqlite: clear %s", table)
	}
	if n == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, strings.Join(columns, ", "), placeholders(len(columns), false)))
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare insert %s", table)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s row %d", table, i)
		}
	}
	return nil
}

func (s *SQLiteStore) ListScores(ctx context.Context, filter ScoreFilter) ([]model.ScoredEntity, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE 1=1`, strings.Join(ScoreColumns, ", "), TableScores)
	var args []any

	if filter.RiskTier != "" {
		query += ` AND risk_tier = ?`
		args = append(args, string(filter.RiskTier))
	}
	if filter.Basis != "" {
		query += ` AND outlier_basis = ?`
		args = append(args, string(filter.Basis))
	}
	if filter.RegionCode != "" {
		query += ` AND region_code = ?`
		args = append(args, filter.RegionCode)
	}
	if filter.OutlierOnly {
		query += ` AND outlier_flag = 1`
	}
	query += ` ORDER BY risk_rank IS NULL, risk_rank, entity_id LIMIT ?`
	args = append(args, limitOr(filter.Limit, 100))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scores")
	}
	defer rows.Close()

	var out []model.ScoredEntity
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score")
		}
		out = append(out, *sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list scores iterate")
}

func (s *SQLiteStore) GetScore(ctx context.Context, entityID string) (*model.ScoredEntity, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE entity_id = ?`, strings.Join(ScoreColumns, ", "), TableScores),
		entityID,
	)
	sc, err := scanScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "score %s", entityID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get score %s", entityID)
	}
	return sc, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE 1=1`, strings.Join(RunColumns, ", "), TableRuns)
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.StartedAfter.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.StartedAfter.UTC())
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit, 20))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ListLenders(ctx context.Context, limit int) ([]lender.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY influence_rank LIMIT ?`, strings.Join(LenderColumns, ", "), TableLenders),
		limitOr(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list lenders")
	}
	defer rows.Close()

	var out []lender.Profile
	for rows.Next() {
		p, err := scanLender(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list lenders iterate")
}

func (s *SQLiteStore) ListCountyLenders(ctx context.Context, entityID string) ([]lender.CountySignal, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE entity_id = ? ORDER BY lender_rank`, strings.Join(CountyLenderColumns, ", "), TableCountyLenders),
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list county lenders")
	}
	defer rows.Close()

	var out []lender.CountySignal
	for rows.Next() {
		c, err := scanCountyLender(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list county lenders iterate")
}
