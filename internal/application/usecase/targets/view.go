package targets

import (
	"time"

	"targetwatch/internal/domain"
	"targetwatch/internal/domain/service"
)

// SlotReader 呈现层读取槽位的最小接口
type SlotReader interface {
	Slot(ticker string) (domain.SlotView, bool)
	Percentages() []float64
}

// TargetCell 一个标准目标单元格
type TargetCell struct {
	Pct     float64 `json:"pct"`
	Price   float64 `json:"price"`
	Key     string  `json:"key"`
	Active  bool    `json:"active"`
	Pending bool    `json:"pending"`
}

// CustomCell 自定义目标单元格
type CustomCell struct {
	Mode           domain.CustomMode `json:"mode"`
	Value          *float64          `json:"value"`
	Active         bool              `json:"active"`
	Pending        bool              `json:"pending"`
	BoundKind      domain.AlertKind  `json:"bound_kind,omitempty"`
	BoundThreshold *float64          `json:"bound_threshold,omitempty"`
	TargetPrice    *float64          `json:"target_price,omitempty"`
}

// TargetRow 一个持仓的目标行；多个持仓可共享同一 ticker 的槽位
type TargetRow struct {
	PositionID   int64        `json:"position_id"`
	Ticker       string       `json:"ticker"`
	Side         domain.Side  `json:"side"`
	Quantity     float64      `json:"qty"`
	EntryPrice   float64      `json:"entry_price"`
	CurrentPrice *float64     `json:"current_price,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Targets      []TargetCell `json:"targets"`
	Custom       CustomCell   `json:"custom"`
	Updating     bool         `json:"updating"`
}

// BuildRows 把未平仓持仓与派生目标价、槽位状态拼接为行
func BuildRows(positions []domain.Position, slots SlotReader) []TargetRow {
	pcts := slots.Percentages()
	rows := make([]TargetRow, 0, len(positions))
	for _, p := range positions {
		if p.IsClosed() {
			continue
		}
		t := domain.NormalizeTicker(p.Ticker)
		view, ok := slots.Slot(t)
		if !ok {
			view = viewOf(NewSlot(t, pcts), pcts, nil)
		}

		row := TargetRow{
			PositionID:   p.ID,
			Ticker:       t,
			Side:         p.Side,
			Quantity:     p.Quantity,
			EntryPrice:   p.EntryPrice,
			CurrentPrice: p.CurrentPrice,
			CreatedAt:    p.CreatedAt,
			Updating:     view.Updating,
		}

		prices := service.DeriveTargets(p.EntryPrice, p.Side, pcts)
		priceOf := make(map[float64]float64, len(prices))
		for _, tp := range prices {
			priceOf[tp.Offset] = tp.Price
		}
		for _, sv := range view.Standard {
			row.Targets = append(row.Targets, TargetCell{
				Pct:     sv.Pct,
				Price:   priceOf[sv.Pct],
				Key:     sv.Key,
				Active:  sv.Active,
				Pending: sv.Pending,
			})
		}

		c := view.Custom
		row.Custom = CustomCell{
			Mode:           c.Mode,
			Value:          c.Value,
			Active:         c.Active,
			Pending:        c.Pending,
			BoundKind:      c.BoundKind,
			BoundThreshold: c.BoundThreshold,
		}
		if price, ok := service.DeriveCustomTarget(p.EntryPrice, p.Side, c.Mode, c.Value); ok {
			row.Custom.TargetPrice = &price
		}
		rows = append(rows, row)
	}
	return rows
}
