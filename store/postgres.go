package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"volume-recon-go/record"
)

// Postgres is the durable Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// PostgresConfig configures the pool.
type PostgresConfig struct {
	DSN      string
	MinConns int
	MaxConns int
}

// ConnectPostgres creates the pool, pings it and returns the store.
func ConnectPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// InitSchema creates the tables idempotently.
func (p *Postgres) InitSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS volume_aggregates (
	pair          TEXT             NOT NULL,
	window_start  TIMESTAMPTZ      NOT NULL,
	window_end    TIMESTAMPTZ      NOT NULL,
	rule_version  TEXT             NOT NULL,
	volume        DOUBLE PRECISION NOT NULL,
	computed_at   TIMESTAMPTZ      NOT NULL,
	PRIMARY KEY (pair, window_start, rule_version)
);
CREATE TABLE IF NOT EXISTS quality_checks (
	id         TEXT        PRIMARY KEY,
	kind       TEXT        NOT NULL,
	severity   TEXT        NOT NULL,
	scope      TEXT        NOT NULL,
	rec_count  INTEGER     NOT NULL,
	message    TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS recon_reports (
	id            TEXT             PRIMARY KEY,
	pair          TEXT             NOT NULL,
	window_start  TIMESTAMPTZ      NOT NULL,
	window_end    TIMESTAMPTZ      NOT NULL,
	internal_vol  DOUBLE PRECISION NOT NULL,
	external_vol  DOUBLE PRECISION NOT NULL,
	variance      DOUBLE PRECISION NOT NULL,
	verdict       TEXT             NOT NULL,
	rule_version  TEXT             NOT NULL,
	note          TEXT             NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recon_reports_pair_window
	ON recon_reports (pair, window_start);
`
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Reset drops all tables. Development only.
func (p *Postgres) Reset(ctx context.Context) error {
	_, err := p.pool.Exec(ctx,
		`DROP TABLE IF EXISTS volume_aggregates, quality_checks, recon_reports`)
	if err != nil {
		return fmt.Errorf("reset schema: %w", err)
	}
	return nil
}

// PutAggregate upserts the aggregate; republishing a key deterministically
// replaces the old value, never accumulates.
func (p *Postgres) PutAggregate(ctx context.Context, agg record.VolumeAggregate) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO volume_aggregates (pair, window_start, window_end, rule_version, volume, computed_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (pair, window_start, rule_version)
DO UPDATE SET window_end = EXCLUDED.window_end,
              volume = EXCLUDED.volume,
              computed_at = EXCLUDED.computed_at`,
		agg.Pair, agg.Window.Start, agg.Window.End, string(agg.RuleVersion), agg.Volume, agg.ComputedAt)
	if err != nil {
		return fmt.Errorf("put aggregate %s: %w", agg.Key(), err)
	}
	return nil
}

func (p *Postgres) GetAggregate(ctx context.Context, pair string, w record.Window, v record.RuleVersion) (record.VolumeAggregate, bool, error) {
	agg := record.VolumeAggregate{Pair: pair, Window: w, RuleVersion: v}
	err := p.pool.QueryRow(ctx, `
SELECT volume, computed_at FROM volume_aggregates
WHERE pair = $1 AND window_start = $2 AND rule_version = $3`,
		pair, w.Start, string(v)).Scan(&agg.Volume, &agg.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return agg, false, nil
		}
		return agg, false, fmt.Errorf("get aggregate: %w", err)
	}
	return agg, true, nil
}

func (p *Postgres) AppendResults(ctx context.Context, results []record.QualityCheckResult) error {
	for _, res := range results {
		_, err := p.pool.Exec(ctx, `
INSERT INTO quality_checks (id, kind, severity, scope, rec_count, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`,
			res.ID, string(res.Kind), string(res.Severity), res.Scope.Key(), res.Count, res.Message, res.Timestamp)
		if err != nil {
			return fmt.Errorf("append quality check: %w", err)
		}
	}
	return nil
}

func (p *Postgres) AppendReport(ctx context.Context, rep record.ReconciliationReport) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO recon_reports
	(id, pair, window_start, window_end, internal_vol, external_vol, variance, verdict, rule_version, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING`,
		rep.ID, rep.Pair, rep.Window.Start, rep.Window.End,
		rep.Internal, rep.External, rep.Variance, string(rep.Verdict),
		string(rep.RuleVersion), rep.Note, rep.CreatedAt)
	if err != nil {
		return fmt.Errorf("append report: %w", err)
	}
	return nil
}

func (p *Postgres) ReportsByWindow(ctx context.Context, pair string, from, to time.Time) ([]record.ReconciliationReport, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, pair, window_start, window_end, internal_vol, external_vol, variance, verdict, rule_version, note, created_at
FROM recon_reports
WHERE ($1 = '' OR pair = $1) AND window_start >= $2 AND window_start < $3
ORDER BY window_start ASC`,
		pair, from, to)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var out []record.ReconciliationReport
	for rows.Next() {
		var rep record.ReconciliationReport
		var verdict, ruleVersion string
		if err := rows.Scan(&rep.ID, &rep.Pair, &rep.Window.Start, &rep.Window.End,
			&rep.Internal, &rep.External, &rep.Variance, &verdict, &ruleVersion,
			&rep.Note, &rep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		rep.Verdict = record.Verdict(verdict)
		rep.RuleVersion = record.RuleVersion(ruleVersion)
		out = append(out, rep)
	}
	return out, rows.Err()
}
