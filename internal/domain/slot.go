package domain

// CustomBinding 当前绑定到自定义槽位的远端提醒 (boundKind, boundThreshold)
type CustomBinding struct {
	Kind      AlertKind
	Threshold float64
}

// Key returns the remote identity of the bound alert for ticker.
func (b CustomBinding) Key(ticker string) AlertKey {
	return TargetKey(ticker, b.Kind, b.Threshold)
}

// CustomSlot 每个 ticker 唯一的自定义目标槽位
type CustomSlot struct {
	Mode   CustomMode
	Value  *float64 // nil 表示未填写
	Active bool
	Bound  *CustomBinding
}

// DefaultCustomSlot is the empty, inactive, unbound custom slot.
func DefaultCustomSlot() CustomSlot {
	return CustomSlot{Mode: ModePct}
}

// Slot 一个 ticker 的全部提醒槽位：标准百分比槽位 + 一个自定义槽位
type Slot struct {
	Ticker   string
	Standard map[float64]bool
	Custom   CustomSlot
}

// Clone 深拷贝，避免调用方修改引擎内部状态
func (s Slot) Clone() Slot {
	out := Slot{Ticker: s.Ticker, Standard: make(map[float64]bool, len(s.Standard)), Custom: s.Custom}
	for k, v := range s.Standard {
		out.Standard[k] = v
	}
	if s.Custom.Value != nil {
		v := *s.Custom.Value
		out.Custom.Value = &v
	}
	if s.Custom.Bound != nil {
		b := *s.Custom.Bound
		out.Custom.Bound = &b
	}
	return out
}

// StandardView is the read-only state of one standard slot.
type StandardView struct {
	Pct     float64 `json:"pct"`
	Key     string  `json:"key"`
	Active  bool    `json:"active"`
	Pending bool    `json:"pending"`
}

// CustomView is the read-only state of the custom slot.
type CustomView struct {
	Mode           CustomMode `json:"mode"`
	Value          *float64   `json:"value"`
	Active         bool       `json:"active"`
	Pending        bool       `json:"pending"`
	BoundKind      AlertKind  `json:"bound_kind,omitempty"`
	BoundThreshold *float64   `json:"bound_threshold,omitempty"`
}

// SlotView 呈现层读取的槽位快照（含进行中标记）
type SlotView struct {
	Ticker   string         `json:"ticker"`
	Standard []StandardView `json:"standard"`
	Custom   CustomView     `json:"custom"`
	Updating bool           `json:"updating"`
}

// StandardActive looks up the active flag of a standard slot by percentage.
func (v SlotView) StandardActive(pct float64) (active, ok bool) {
	for _, s := range v.Standard {
		if s.Pct == pct {
			return s.Active, true
		}
	}
	return false, false
}
