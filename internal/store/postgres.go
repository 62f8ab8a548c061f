package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/county-risk/internal/db"
	"github.com/sells-group/county-risk/internal/lender"
	"github.com/sells-group/county-risk/internal/model"
)

// scoreLockKey is the advisory lock that serializes publishing writers
// across processes.
const scoreLockKey int64 = 0x636f756e7479

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS county_agg (
	entity_id               TEXT PRIMARY KEY,
	name                    TEXT,
	region_code             TEXT,
	population              DOUBLE PRECISION,
	poverty_rate            DOUBLE PRECISION,
	unemployment_rate       DOUBLE PRECISION,
	activity_count          BIGINT NOT NULL DEFAULT 0,
	activity_total          DOUBLE PRECISION NOT NULL DEFAULT 0,
	activity_forgiven_total DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS county_scores (
	entity_id             TEXT PRIMARY KEY,
	name                  TEXT,
	region_code           TEXT,
	population            DOUBLE PRECISION,
	poverty_rate          DOUBLE PRECISION,
	unemployment_rate     DOUBLE PRECISION,
	activity_count        BIGINT NOT NULL,
	activity_total        DOUBLE PRECISION NOT NULL,
	per_capita_amount     DOUBLE PRECISION,
	count_per_1000        DOUBLE PRECISION,
	average_activity_size DOUBLE PRECISION,
	risk_score            DOUBLE PRECISION,
	risk_rank             BIGINT,
	risk_percentile_rank  DOUBLE PRECISION,
	risk_tier             TEXT,
	hidden_signal_score   DOUBLE PRECISION,
	hidden_signal_tier    TEXT,
	outlier_score         BIGINT NOT NULL,
	outlier_tier          TEXT NOT NULL,
	ppp_population_flag   BOOLEAN NOT NULL,
	affluent_ppp_flag     BOOLEAN NOT NULL,
	unemployment_ppp_flag BOOLEAN NOT NULL,
	peer_outlier_flag     BOOLEAN NOT NULL,
	outlier_flag          BOOLEAN NOT NULL,
	per_capita_global_z   DOUBLE PRECISION,
	per_capita_peer_z     DOUBLE PRECISION,
	per_capita_outlier_z  DOUBLE PRECISION,
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
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	meta        JSONB
);

CREATE TABLE IF NOT EXISTS lender_profiles (
	lender_name          TEXT PRIMARY KEY,
	loan_count           BIGINT NOT NULL,
	total_approved       DOUBLE PRECISION NOT NULL,
	avg_loan             DOUBLE PRECISION NOT NULL,
	total_jobs           BIGINT NOT NULL,
	influence_rank       BIGINT NOT NULL,
	influence_percentile DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS county_lender_signals (
	entity_id      TEXT NOT NULL,
	lender_name    TEXT NOT NULL,
	loan_count     BIGINT NOT NULL,
	total_approved DOUBLE PRECISION NOT NULL,
	lender_rank    BIGINT NOT NULL,
	loan_share     DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (entity_id, lender_name)
);

CREATE INDEX IF NOT EXISTS idx_county_scores_rank ON county_scores(risk_rank);
CREATE INDEX IF NOT EXISTS idx_county_scores_tier ON county_scores(risk_tier);
CREATE INDEX IF NOT EXISTS idx_score_runs_started ON score_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_lender_profiles_rank ON lender_profiles(influence_rank);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// pgQuerier is satisfied by both db.Pool and pgx.Tx.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) InputCapability(ctx context.Context) (Capability, error) {
	return pgCapability(ctx, s.pool)
}

func pgCapability(ctx context.Context, q pgQuerier) (Capability, error) {
	rows, err := q.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`,
		TableEntities,
	)
	if err != nil {
		return Capability{}, eris.Wrap(err, "postgres: inspect input table")
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return Capability{}, eris.Wrap(err, "postgres: scan column")
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return Capability{}, eris.Wrap(err, "postgres: inspect input table iterate")
	}
	return checkColumns(TableEntities, cols), nil
}

func (s *PostgresStore) LoadEntities(ctx context.Context) ([]model.Entity, error) {
	return pgLoadEntities(ctx, s.pool)
}

func pgLoadEntities(ctx context.Context, q pgQuerier) ([]model.Entity, error) {
	capab, err := pgCapability(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := capab.Err(); err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY entity_id`, strings.Join(entitySelect(capab), ", "), TableEntities))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load entities")
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
	return out, eris.Wrap(rows.Err(), "postgres: load entities iterate")
}

func (s *PostgresStore) ReplaceAggregates(ctx context.Context, agg Aggregates) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin aggregates")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, scoreLockKey); err != nil {
		return eris.Wrap(err, "postgres: acquire writer lock")
	}

	entities := make([][]any, len(agg.Entities))
	for i, e := range agg.Entities {
		entities[i] = entityValues(e)
	}
	if _, err := db.ReplaceAll(ctx, tx, TableEntities, EntityColumns, entities); err != nil {
		return err
	}

	lenders := make([][]any, len(agg.Lenders))
	for i, p := range agg.Lenders {
		lenders[i] = lenderValues(p)
	}
	if _, err := db.ReplaceAll(ctx, tx, TableLenders, LenderColumns, lenders); err != nil {
		return err
	}

	signals := make([][]any, len(agg.CountyLenders))
	for i, c := range agg.CountyLenders {
		signals[i] = countyLenderValues(c)
	}
	if _, err := db.ReplaceAll(ctx, tx, TableCountyLenders, CountyLenderColumns, signals); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit aggregates")
}

// ScoreExclusive takes the transaction-scoped writer lock, reads the entity
// snapshot, runs fn and publishes its result before committing.
func (s *PostgresStore) ScoreExclusive(ctx context.Context, fn ScoreFunc) (*Publication, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin score run")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, scoreLockKey); err != nil {
		return nil, eris.Wrap(err, "postgres: acquire writer lock")
	}

	entities, err := pgLoadEntities(ctx, tx)
	if err != nil {
		return nil, err
	}
	pub, err := fn(ctx, entities)
	if err != nil {
		return nil, err
	}
	if err := pgPublish(ctx, tx, pub); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit score run")
	}
	return pub, nil
}

func (s *PostgresStore) Publish(ctx context.Context, pub *Publication) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin publish")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, scoreLockKey); err != nil {
		return eris.Wrap(err, "postgres: acquire writer lock")
	}
	if err := pgPublish(ctx, tx, pub); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit publish")
}

func pgPublish(ctx context.Context, tx pgx.Tx, pub *Publication) error {
	if pub == nil || len(pub.Scores) == 0 {
		return eris.New("postgres: refusing to publish an empty score table")
	}
	rows := make([][]any, len(pub.Scores))
	for i, sc := range pub.Scores {
		rows[i] = scoreValues(sc)
	}
	if _, err := db.ReplaceAll(ctx, tx, TableScores, ScoreColumns, rows); err != nil {
		return err
	}

	r := pub.Run
	_, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, TableRuns, strings.Join(RunColumns, ", "), placeholders(len(RunColumns), true)),
		r.ID, string(r.Mode), string(r.Status), r.Entities, r.Scored, r.StartedAt.UTC(), r.FinishedAt.UTC(), nullString(string(r.Meta)),
	)
	return eris.Wrapf(err, "postgres: insert run %s", r.ID)
}

func (s *PostgresStore) ListScores(ctx context.Context, filter ScoreFilter) ([]model.ScoredEntity, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE true`, strings.Join(ScoreColumns, ", "), TableScores)
	var args []any
	argIdx := 1

	if filter.RiskTier != "" {
		query += fmt.Sprintf(` AND risk_tier = $%d`, argIdx)
		args = append(args, string(filter.RiskTier))
		argIdx++
	}
	if filter.Basis != "" {
		query += fmt.Sprintf(` AND outlier_basis = $%d`, argIdx)
		args = append(args, string(filter.Basis))
		argIdx++
	}
	if filter.RegionCode != "" {
		query += fmt.Sprintf(` AND region_code = $%d`, argIdx)
		args = append(args, filter.RegionCode)
		argIdx++
	}
	if filter.OutlierOnly {
		query += ` AND outlier_flag`
	}
	query += fmt.Sprintf(` ORDER BY risk_rank ASC NULLS LAST, entity_id LIMIT $%d`, argIdx)
	args = append(args, limitOr(filter.Limit, 100))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scores")
	}
	defer rows.Close()

	var out []model.ScoredEntity
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan score")
		}
		out = append(out, *sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list scores iterate")
}

func (s *PostgresStore) GetScore(ctx context.Context, entityID string) (*model.ScoredEntity, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE entity_id = $1`, strings.Join(ScoreColumns, ", "), TableScores),
		entityID,
	)
	sc, err := scanScore(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "score %s", entityID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get score %s", entityID)
	}
	return sc, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE true`, strings.Join(RunColumns, ", "), TableRuns)
	var args []any
	argIdx := 1
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.StartedAfter.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.StartedAfter.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOr(filter.Limit, 20))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
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
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) ListLenders(ctx context.Context, limit int) ([]lender.Profile, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY influence_rank LIMIT $1`, strings.Join(LenderColumns, ", "), TableLenders),
		limitOr(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list lenders")
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
	return out, eris.Wrap(rows.Err(), "postgres: list lenders iterate")
}

func (s *PostgresStore) ListCountyLenders(ctx context.Context, entityID string) ([]lender.CountySignal, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE entity_id = $1 ORDER BY lender_rank`, strings.Join(CountyLenderColumns, ", "), TableCountyLenders),
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list county lenders")
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
	return out, eris.Wrap(rows.Err(), "postgres: list county lenders iterate")
}
