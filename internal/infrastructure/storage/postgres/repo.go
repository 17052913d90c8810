package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
	"targetwatch/internal/infrastructure/storage"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS alert_transitions (
  seq BIGSERIAL PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  ticker TEXT NOT NULL,
  op TEXT NOT NULL,
  kind TEXT NOT NULL,
  threshold DOUBLE PRECISION NOT NULL,
  active BOOLEAN NOT NULL,
  outcome TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  started_at TIMESTAMPTZ NOT NULL,
  duration_ms BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transitions_ticker ON alert_transitions(ticker);
`)
	return err
}

func (r *Repo) RecordTransition(ctx context.Context, rec *domain.TransitionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_transitions(id, ticker, op, kind, threshold, active, outcome, reason, started_at, duration_ms)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.Ticker, string(rec.Op), string(rec.Kind), rec.Threshold, rec.Active,
		string(rec.Outcome), rec.Reason, rec.StartedAt, rec.Duration.Milliseconds())
	return err
}

func (r *Repo) ListTransitions(ctx context.Context, ticker string, limit int) ([]domain.TransitionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ticker, op, kind, threshold, active, outcome, reason, started_at, duration_ms
		FROM alert_transitions
		WHERE ($1 = '' OR ticker = $1)
		ORDER BY seq DESC
		LIMIT $2
	`, domain.NormalizeTicker(ticker), storage.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TransitionRecord
	for rows.Next() {
		var (
			rec               domain.TransitionRecord
			op, kind, outcome string
			durationMs        int64
		)
		if err := rows.Scan(&rec.ID, &rec.Ticker, &op, &kind, &rec.Threshold, &rec.Active,
			&outcome, &rec.Reason, &rec.StartedAt, &durationMs); err != nil {
			return nil, err
		}
		rec.Op = domain.TransitionOp(op)
		rec.Kind = domain.AlertKind(kind)
		rec.Outcome = domain.TransitionOutcome(outcome)
		rec.Duration = storage.Millis(durationMs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

var (
	_ port.TransitionJournal = (*Repo)(nil)
	_ port.TransitionHistory = (*Repo)(nil)
)
