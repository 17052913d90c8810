package port

import (
	"context"
	"errors"
	"fmt"

	"targetwatch/internal/domain"
)

// ErrStoreUnavailable 传输层失败（无响应、超时）
var ErrStoreUnavailable = errors.New("alert store unavailable")

// StatusError 远端返回非成功状态码（请求被拒绝）
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("alert store http %d: %s", e.Code, e.Body)
}

// AlertFilter 列表查询条件，零值字段表示不过滤
type AlertFilter struct {
	Active   *bool
	Ticker   string
	Kind     domain.AlertKind
	Trailing *bool
}

// ActiveTargets is the filter the refresh protocol uses for one ticker.
func ActiveTargets(ticker string) AlertFilter {
	active, trailing := true, false
	return AlertFilter{Active: &active, Ticker: domain.NormalizeTicker(ticker), Trailing: &trailing}
}

// AlertStore 远端提醒集合。activate/deactivate 以 (ticker, kind, threshold, trailing) 为幂等键
type AlertStore interface {
	List(ctx context.Context, filter AlertFilter) ([]domain.AlertRecord, error)
	// Activate upserts an active record; the returned Active flag is authoritative.
	Activate(ctx context.Context, key domain.AlertKey) (domain.AlertRecord, error)
	// Deactivate succeeds as a no-op when nothing active matched key.
	Deactivate(ctx context.Context, key domain.AlertKey) (domain.AlertRecord, error)
}
