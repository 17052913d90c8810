package service

import (
	"math"

	"github.com/shopspring/decimal"

	"targetwatch/internal/domain"
)

var (
	decOne     = decimal.NewFromInt(1)
	decHundred = decimal.NewFromInt(100)
)

// TargetPrice 某个百分比偏移对应的目标价
type TargetPrice struct {
	Offset float64 `json:"offset"`
	Price  float64 `json:"price"`
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// pctTarget entry × (1 ± offset/100), sign by side.
func pctTarget(entry decimal.Decimal, side domain.Side, offset float64) float64 {
	frac := decimal.NewFromFloat(offset).Div(decHundred)
	mult := decOne.Add(frac)
	if side == domain.SideShort {
		mult = decOne.Sub(frac)
	}
	return entry.Mul(mult).InexactFloat64()
}

// DeriveTargets 计算每个百分比偏移的目标价；long 向上，short 向下
func DeriveTargets(entryPrice float64, side domain.Side, offsets []float64) []TargetPrice {
	if !finite(entryPrice) {
		return nil
	}
	entry := decimal.NewFromFloat(entryPrice)
	out := make([]TargetPrice, 0, len(offsets))
	for _, off := range offsets {
		if !finite(off) {
			continue
		}
		out = append(out, TargetPrice{Offset: off, Price: pctTarget(entry, side, off)})
	}
	return out
}

// DeriveCustomTarget 计算自定义目标价。value 为空或非有限数时返回 false
func DeriveCustomTarget(entryPrice float64, side domain.Side, mode domain.CustomMode, value *float64) (float64, bool) {
	if value == nil || !finite(*value) || !finite(entryPrice) {
		return 0, false
	}
	entry := decimal.NewFromFloat(entryPrice)
	switch mode {
	case domain.ModePct:
		return pctTarget(entry, side, *value), true
	case domain.ModeAbs:
		delta := decimal.NewFromFloat(*value)
		if side == domain.SideShort {
			return entry.Sub(delta).InexactFloat64(), true
		}
		return entry.Add(delta).InexactFloat64(), true
	}
	return 0, false
}

// CostBasis entry price × quantity.
func CostBasis(p domain.Position) float64 {
	if !finite(p.EntryPrice) || !finite(p.Quantity) {
		return 0
	}
	return decimal.NewFromFloat(p.EntryPrice).Mul(decimal.NewFromFloat(p.Quantity)).InexactFloat64()
}

// markPrice is the exit price for closed positions and the current price for open ones.
func markPrice(p domain.Position) (float64, bool) {
	px := p.CurrentPrice
	if p.IsClosed() {
		px = p.ExitPrice
	}
	if px == nil || !finite(*px) {
		return 0, false
	}
	return *px, true
}

// MarketValue 平仓价值或当前市值；价格未知时返回 false
func MarketValue(p domain.Position) (float64, bool) {
	px, ok := markPrice(p)
	if !ok || !finite(p.Quantity) {
		return 0, false
	}
	return decimal.NewFromFloat(px).Mul(decimal.NewFromFloat(p.Quantity)).InexactFloat64(), true
}

func pnl(side domain.Side, entry, mark, qty float64) float64 {
	e := decimal.NewFromFloat(entry)
	m := decimal.NewFromFloat(mark)
	diff := m.Sub(e)
	if side == domain.SideShort {
		diff = e.Sub(m)
	}
	return diff.Mul(decimal.NewFromFloat(qty)).InexactFloat64()
}

// RealizedPnL 已平仓持仓的实现盈亏
func RealizedPnL(p domain.Position) (float64, bool) {
	if !p.IsClosed() || !finite(p.EntryPrice) || !finite(p.Quantity) {
		return 0, false
	}
	exit, ok := markPrice(p)
	if !ok {
		return 0, false
	}
	return pnl(p.Side, p.EntryPrice, exit, p.Quantity), true
}

// UnrealizedPnL 未平仓持仓的浮动盈亏；当前价未知时返回 false 而不是 0
func UnrealizedPnL(p domain.Position) (float64, bool) {
	if p.IsClosed() || !finite(p.EntryPrice) || !finite(p.Quantity) {
		return 0, false
	}
	cur, ok := markPrice(p)
	if !ok {
		return 0, false
	}
	return pnl(p.Side, p.EntryPrice, cur, p.Quantity), true
}

// PnLSummary aggregates P&L with the number of positions that contributed to each total.
type PnLSummary struct {
	RealizedTotal   float64 `json:"realized_total"`
	RealizedCount   int     `json:"realized_count"`
	UnrealizedTotal float64 `json:"unrealized_total"`
	UnrealizedCount int     `json:"unrealized_count"`
	OpenPositions   int     `json:"open_positions"`
	ClosedPositions int     `json:"closed_positions"`
}

// Realized 没有任何贡献持仓时返回 false（未知，而非 0）
func (s PnLSummary) Realized() (float64, bool) {
	return s.RealizedTotal, s.RealizedCount > 0
}

// Unrealized mirrors Realized for open positions.
func (s PnLSummary) Unrealized() (float64, bool) {
	return s.UnrealizedTotal, s.UnrealizedCount > 0
}

// SummarizePnL 汇总所有持仓的盈亏
func SummarizePnL(positions []domain.Position) PnLSummary {
	var (
		s          PnLSummary
		realized   = decimal.Zero
		unrealized = decimal.Zero
	)
	for _, p := range positions {
		if p.IsClosed() {
			s.ClosedPositions++
			if v, ok := RealizedPnL(p); ok {
				realized = realized.Add(decimal.NewFromFloat(v))
				s.RealizedCount++
			}
			continue
		}
		s.OpenPositions++
		if v, ok := UnrealizedPnL(p); ok {
			unrealized = unrealized.Add(decimal.NewFromFloat(v))
			s.UnrealizedCount++
		}
	}
	s.RealizedTotal = realized.InexactFloat64()
	s.UnrealizedTotal = unrealized.InexactFloat64()
	return s
}
