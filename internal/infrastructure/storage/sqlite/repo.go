package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
	"targetwatch/internal/infrastructure/storage"
)

type Repo struct {
	db *sql.DB
}

var (
	_ port.TransitionJournal = (*Repo)(nil)
	_ port.TransitionHistory = (*Repo)(nil)
)

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) GetDB() *sql.DB {
	return r.db
}

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS alert_transitions (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  ticker TEXT NOT NULL,
  op TEXT NOT NULL,
  kind TEXT NOT NULL,
  threshold REAL NOT NULL,
  active INTEGER NOT NULL,
  outcome TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  started_ms INTEGER NOT NULL,
  duration_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_ticker ON alert_transitions(ticker);
CREATE INDEX IF NOT EXISTS idx_transitions_started ON alert_transitions(started_ms);
`)
	return err
}

// RecordTransition 写入一条迁移记录
func (r *Repo) RecordTransition(ctx context.Context, rec *domain.TransitionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_transitions(
			id, ticker, op, kind, threshold, active, outcome, reason,
			started_ms, duration_ms, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Ticker, string(rec.Op), string(rec.Kind), rec.Threshold, rec.Active,
		string(rec.Outcome), rec.Reason, rec.StartedAt.UnixMilli(), rec.Duration.Milliseconds(),
		time.Now().UnixMilli())
	return err
}

// ListTransitions 按写入顺序倒序；ticker 为空时返回全部
func (r *Repo) ListTransitions(ctx context.Context, ticker string, limit int) ([]domain.TransitionRecord, error) {
	ticker = domain.NormalizeTicker(ticker)
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ticker, op, kind, threshold, active, outcome, reason, started_ms, duration_ms
		FROM alert_transitions
		WHERE (? = '' OR ticker = ?)
		ORDER BY seq DESC
		LIMIT ?
	`, ticker, ticker, storage.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TransitionRecord
	for rows.Next() {
		var (
			rec                   domain.TransitionRecord
			op, kind, outcome     string
			startedMs, durationMs int64
		)
		if err := rows.Scan(&rec.ID, &rec.Ticker, &op, &kind, &rec.Threshold, &rec.Active,
			&outcome, &rec.Reason, &startedMs, &durationMs); err != nil {
			return nil, err
		}
		rec.Op = domain.TransitionOp(op)
		rec.Kind = domain.AlertKind(kind)
		rec.Outcome = domain.TransitionOutcome(outcome)
		rec.StartedAt = time.UnixMilli(startedMs)
		rec.Duration = storage.Millis(durationMs)
		out = append(out, rec)
	}
	return out, rows.Err()
}
