package port

import (
	"context"

	"targetwatch/internal/domain"
)

// TransitionJournal 迁移审计日志
type TransitionJournal interface {
	RecordTransition(ctx context.Context, rec *domain.TransitionRecord) error

	// Connection management
	Close() error
}

// TransitionHistory is implemented by journals that can be queried back.
type TransitionHistory interface {
	ListTransitions(ctx context.Context, ticker string, limit int) ([]domain.TransitionRecord, error)
}
