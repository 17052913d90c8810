package storage

import (
	"context"
	"sync"
	"time"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
)

// DefaultHistoryLimit 历史查询默认条数
const DefaultHistoryLimit = 50

// ClampLimit normalizes a history limit to (0, 500].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > 500:
		return 500
	}
	return limit
}

// NoopJournal 未配置任何存储时使用
type NoopJournal struct{}

func (NoopJournal) RecordTransition(context.Context, *domain.TransitionRecord) error { return nil }
func (NoopJournal) Close() error                                                      { return nil }

var _ port.TransitionJournal = NoopJournal{}

// InMemoryJournal keeps transitions in process; used when only history is needed.
type InMemoryJournal struct {
	mu      sync.RWMutex
	records []domain.TransitionRecord
}

func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{records: make([]domain.TransitionRecord, 0)}
}

func (j *InMemoryJournal) RecordTransition(_ context.Context, rec *domain.TransitionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, *rec)
	return nil
}

// ListTransitions 最新在前
func (j *InMemoryJournal) ListTransitions(_ context.Context, ticker string, limit int) ([]domain.TransitionRecord, error) {
	limit = ClampLimit(limit)
	ticker = domain.NormalizeTicker(ticker)

	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]domain.TransitionRecord, 0)
	for i := len(j.records) - 1; i >= 0 && len(out) < limit; i-- {
		if ticker != "" && j.records[i].Ticker != ticker {
			continue
		}
		out = append(out, j.records[i])
	}
	return out, nil
}

func (j *InMemoryJournal) Close() error { return nil }

var (
	_ port.TransitionJournal = (*InMemoryJournal)(nil)
	_ port.TransitionHistory = (*InMemoryJournal)(nil)
)

// Millis converts a stored millisecond count back to a duration.
func Millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
