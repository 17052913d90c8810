package domain

import (
	"strings"
	"time"
)

// Side 持仓方向
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// PositionStatus 持仓生命周期
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// Position 经纪账户持仓（由外部 position API 拥有，这里只读）
type Position struct {
	ID           int64          `json:"id"`
	Ticker       string         `json:"ticker"`
	Side         Side           `json:"side"`
	Quantity     float64        `json:"qty"`
	EntryPrice   float64        `json:"entry_price"`
	ExitPrice    *float64       `json:"exit_price,omitempty"`
	CurrentPrice *float64       `json:"current_price,omitempty"` // 未知时为 nil
	Status       PositionStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
	Notes        string         `json:"notes,omitempty"`
}

// IsClosed 判断持仓是否已平仓；status 缺失时根据平仓价/平仓时间推断
func (p Position) IsClosed() bool {
	switch p.Status {
	case StatusClosed:
		return true
	case StatusOpen:
		return false
	}
	return p.ExitPrice != nil || p.ClosedAt != nil
}

// NormalizeTicker trims and upper-cases a ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// NormalizeTickers 去重并保持首次出现的顺序
func NormalizeTickers(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := NormalizeTicker(s)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// OpenTickers returns the distinct tickers of open positions, in input order.
func OpenTickers(positions []Position) []string {
	tickers := make([]string, 0, len(positions))
	for _, p := range positions {
		if p.IsClosed() {
			continue
		}
		tickers = append(tickers, p.Ticker)
	}
	return NormalizeTickers(tickers)
}
