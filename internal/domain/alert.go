package domain

import (
	"fmt"
	"time"
)

// AlertKind 远端提醒类型
type AlertKind string

const (
	KindTargetPct  AlertKind = "target_pct"
	KindTargetAbs  AlertKind = "target_abs"
	KindPriceCross AlertKind = "price_cross"
	KindStop       AlertKind = "stop"
)

// IsTarget reports whether the kind is one of the two target kinds folded into slots.
func (k AlertKind) IsTarget() bool {
	return k == KindTargetPct || k == KindTargetAbs
}

// CustomMode 自定义目标的表达方式：百分比或绝对价差
type CustomMode string

const (
	ModePct CustomMode = "pct"
	ModeAbs CustomMode = "abs"
)

// Valid reports whether m is pct or abs.
func (m CustomMode) Valid() bool {
	return m == ModePct || m == ModeAbs
}

// Kind 将自定义模式映射为远端提醒类型
func (m CustomMode) Kind() AlertKind {
	if m == ModeAbs {
		return KindTargetAbs
	}
	return KindTargetPct
}

// ModeForKind maps a remote target kind back to a custom mode.
func ModeForKind(k AlertKind) CustomMode {
	if k == KindTargetAbs {
		return ModeAbs
	}
	return ModePct
}

// AlertRecord 远端提醒记录（权威数据源）
type AlertRecord struct {
	ID              int64
	Ticker          string
	Kind            AlertKind
	Threshold       float64
	Trailing        bool
	Active          bool
	CreatedAt       time.Time
	LastTriggeredAt *time.Time
}

// Key returns the identity tuple of the record.
func (r AlertRecord) Key() AlertKey {
	return AlertKey{Ticker: NormalizeTicker(r.Ticker), Kind: r.Kind, Threshold: r.Threshold, Trailing: r.Trailing}
}

// Newer 比较两条记录：id 更大者更新，id 相同时比较创建时间
func (r AlertRecord) Newer(other AlertRecord) bool {
	if r.ID != other.ID {
		return r.ID > other.ID
	}
	return r.CreatedAt.After(other.CreatedAt)
}

// AlertKey activate/deactivate 的幂等键 (ticker, kind, threshold, trailing)
type AlertKey struct {
	Ticker    string
	Kind      AlertKind
	Threshold float64
	Trailing  bool
}

func (k AlertKey) String() string {
	return fmt.Sprintf("%s/%s/%g/trailing=%t", k.Ticker, k.Kind, k.Threshold, k.Trailing)
}

// TargetKey builds the non-trailing key the engine uses for every slot.
func TargetKey(ticker string, kind AlertKind, threshold float64) AlertKey {
	return AlertKey{Ticker: NormalizeTicker(ticker), Kind: kind, Threshold: threshold}
}
