package composite

import (
	"context"
	"errors"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
)

// ErrNoHistory 没有任何子仓储支持历史查询
var ErrNoHistory = errors.New("no journal supports history queries")

type Repo struct {
	repos []port.TransitionJournal
}

var (
	_ port.TransitionJournal = (*Repo)(nil)
	_ port.TransitionHistory = (*Repo)(nil)
)

func New(repos ...port.TransitionJournal) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.TransitionJournal, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) Len() int { return len(r.repos) }

func (r *Repo) RecordTransition(ctx context.Context, rec *domain.TransitionRecord) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.RecordTransition(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ListTransitions 使用第一个支持历史查询的子仓储
func (r *Repo) ListTransitions(ctx context.Context, ticker string, limit int) ([]domain.TransitionRecord, error) {
	for _, repo := range r.repos {
		if h, ok := repo.(port.TransitionHistory); ok {
			return h.ListTransitions(ctx, ticker, limit)
		}
	}
	return nil, ErrNoHistory
}

func (r *Repo) Close() error {
	var firstErr error
	for i := len(r.repos) - 1; i >= 0; i-- {
		if err := r.repos[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
