package targets

import (
	"math"
	"strconv"

	"targetwatch/internal/domain"
)

// customEpsilon 自定义阈值比较容差
const customEpsilon = 1e-6

// StandardSlotKey returns "<TICKER>-<pct>", the key of one standard slot.
func StandardSlotKey(ticker string, pct float64) string {
	return domain.NormalizeTicker(ticker) + "-" + strconv.FormatFloat(pct, 'f', -1, 64)
}

// NormalizePercentages 过滤非有限值并去重，保持配置顺序
func NormalizePercentages(in []float64) []float64 {
	out := make([]float64, 0, len(in))
	seen := map[float64]struct{}{}
	for _, p := range in {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func isStandard(pcts []float64, v float64) bool {
	for _, p := range pcts {
		if p == v {
			return true
		}
	}
	return false
}

// NewSlot 默认槽位：所有标准槽位未激活，自定义槽位为空
func NewSlot(ticker string, pcts []float64) domain.Slot {
	s := domain.Slot{
		Ticker:   domain.NormalizeTicker(ticker),
		Standard: make(map[float64]bool, len(pcts)),
		Custom:   domain.DefaultCustomSlot(),
	}
	for _, p := range pcts {
		s.Standard[p] = false
	}
	return s
}

// Fold 将远端记录折叠为单个 ticker 的槽位状态。
// 标准槽位：active、非 trailing、target_pct 且阈值精确等于某个配置百分比。
// 自定义槽位：其余 active、非 trailing 的 target_pct/target_abs 中最新的一条。
func Fold(ticker string, pcts []float64, records []domain.AlertRecord) domain.Slot {
	slot := NewSlot(ticker, pcts)

	var (
		best  domain.AlertRecord
		found bool
	)
	for _, r := range records {
		if domain.NormalizeTicker(r.Ticker) != slot.Ticker {
			continue
		}
		if !r.Active || r.Trailing || !r.Kind.IsTarget() {
			continue
		}
		if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
			continue
		}
		if r.Kind == domain.KindTargetPct && isStandard(pcts, r.Threshold) {
			slot.Standard[r.Threshold] = true
			continue
		}
		if !found || r.Newer(best) {
			best, found = r, true
		}
	}

	if found {
		v := best.Threshold
		slot.Custom = domain.CustomSlot{
			Mode:   domain.ModeForKind(best.Kind),
			Value:  &v,
			Active: true,
			Bound:  &domain.CustomBinding{Kind: best.Kind, Threshold: best.Threshold},
		}
	}
	return slot
}

// FoldAll folds records for every ticker; tickers without records get default slots.
func FoldAll(tickers []string, pcts []float64, records []domain.AlertRecord) map[string]domain.Slot {
	byTicker := make(map[string][]domain.AlertRecord)
	for _, r := range records {
		t := domain.NormalizeTicker(r.Ticker)
		byTicker[t] = append(byTicker[t], r)
	}
	out := make(map[string]domain.Slot, len(tickers))
	for _, t := range domain.NormalizeTickers(tickers) {
		out[t] = Fold(t, pcts, byTicker[t])
	}
	return out
}

// bindingDiffers 自定义绑定与目标 (kind, threshold) 是否不同
func bindingDiffers(b *domain.CustomBinding, kind domain.AlertKind, threshold float64) bool {
	if b == nil {
		return false
	}
	return b.Kind != kind || math.Abs(b.Threshold-threshold) > customEpsilon
}

// viewOf 构建只读快照
func viewOf(s domain.Slot, pcts []float64, flight *Flight) domain.SlotView {
	v := domain.SlotView{
		Ticker:   s.Ticker,
		Standard: make([]domain.StandardView, 0, len(pcts)),
		Updating: flight != nil,
	}
	for _, p := range pcts {
		v.Standard = append(v.Standard, domain.StandardView{
			Pct:     p,
			Key:     StandardSlotKey(s.Ticker, p),
			Active:  s.Standard[p],
			Pending: flight != nil && flight.Op == domain.OpToggleStandard && flight.Pct == p,
		})
	}
	c := s.Clone().Custom
	v.Custom = domain.CustomView{
		Mode:    c.Mode,
		Value:   c.Value,
		Active:  c.Active,
		Pending: flight != nil && flight.Custom(),
	}
	if c.Bound != nil {
		th := c.Bound.Threshold
		v.Custom.BoundKind = c.Bound.Kind
		v.Custom.BoundThreshold = &th
	}
	return v
}
