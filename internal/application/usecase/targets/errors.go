package targets

import (
	"errors"
	"fmt"

	"targetwatch/internal/domain"
)

var (
	// ErrBusy 同一 ticker 已有迁移在进行中
	ErrBusy = errors.New("already updating")
	// ErrUnknownTicker ticker 不在当前可见集合中
	ErrUnknownTicker = errors.New("ticker is not visible")
	// ErrUnknownSlot 百分比不是已配置的标准槽位
	ErrUnknownSlot = errors.New("not a configured standard target")
	// ErrInvalidValue 自定义目标值不是有限数
	ErrInvalidValue = errors.New("enter a valid number for your custom alert")
	// ErrInvalidMode 自定义模式不是 pct/abs
	ErrInvalidMode = errors.New("custom alert mode must be pct or abs")
	// ErrStandardCollision 自定义百分比与标准槽位冲突，应使用标准开关
	ErrStandardCollision = errors.New("custom target collides with a standard target")
	// ErrClosed 引擎已关闭
	ErrClosed = errors.New("target engine closed")
	// ErrRefreshSuperseded 刷新期间 ticker 集合已变化，结果被丢弃
	ErrRefreshSuperseded = errors.New("refresh superseded by a newer ticker set")
)

// TransitionError is returned when the alert store rejected or never answered a transition.
// Local state for the ticker is unchanged.
type TransitionError struct {
	Op     domain.TransitionOp
	Ticker string
	Reason string
	Err    error
}

func (e *TransitionError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// RefreshError lists the tickers whose list query failed; their slots kept the previous state.
type RefreshError struct {
	Tickers []string
	Err     error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("unable to load alert statuses for %v: %v", e.Tickers, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }
