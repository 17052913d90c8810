package targets

import (
	"fmt"
	"sync"
	"time"

	"targetwatch/internal/domain"
)

// Flight 某个 ticker 正在进行的迁移
type Flight struct {
	Ticker    string
	Op        domain.TransitionOp
	Pct       float64 // 仅 toggle_standard 有效
	StartedAt time.Time
}

// Custom reports whether the flight targets the custom slot.
func (f Flight) Custom() bool {
	return f.Op == domain.OpSetCustom || f.Op == domain.OpDisableCustom
}

// TickerGuard 每个 ticker 同时最多一个迁移，防止交错的 deactivate/activate
type TickerGuard struct {
	mu      sync.RWMutex
	flights map[string]*Flight
	now     func() time.Time
}

// NewTickerGuard 创建迁移守卫
func NewTickerGuard() *TickerGuard {
	return &TickerGuard{
		flights: make(map[string]*Flight),
		now:     time.Now,
	}
}

// Acquire 登记一次迁移；同一 ticker 已在迁移中时拒绝
func (g *TickerGuard) Acquire(ticker string, op domain.TransitionOp, pct float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cur, exists := g.flights[ticker]; exists {
		return fmt.Errorf("%w: %s %s (%.1fs ago)",
			ErrBusy, ticker, cur.Op, g.now().Sub(cur.StartedAt).Seconds())
	}
	g.flights[ticker] = &Flight{
		Ticker:    ticker,
		Op:        op,
		Pct:       pct,
		StartedAt: g.now(),
	}
	return nil
}

// Release 结束迁移
func (g *TickerGuard) Release(ticker string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.flights, ticker)
}

// Pending returns the in-flight transition of ticker, if any.
func (g *TickerGuard) Pending(ticker string) (Flight, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	f, ok := g.flights[ticker]
	if !ok {
		return Flight{}, false
	}
	return *f, true
}

// Busy reports whether ticker has a transition in flight.
func (g *TickerGuard) Busy(ticker string) bool {
	_, ok := g.Pending(ticker)
	return ok
}

// GuardStats 守卫统计
type GuardStats struct {
	InFlight int                         `json:"in_flight"`
	ByOp     map[domain.TransitionOp]int `json:"by_op"`
	Oldest   time.Duration               `json:"oldest"`
}

// Stats 获取统计信息
func (g *TickerGuard) Stats() GuardStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := GuardStats{
		InFlight: len(g.flights),
		ByOp:     make(map[domain.TransitionOp]int),
	}
	now := g.now()
	for _, f := range g.flights {
		stats.ByOp[f.Op]++
		if age := now.Sub(f.StartedAt); age > stats.Oldest {
			stats.Oldest = age
		}
	}
	return stats
}
