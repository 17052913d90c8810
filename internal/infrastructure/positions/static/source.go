package static

import (
	"context"
	"sync"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
)

// Source 配置文件中声明的持仓，离线/演示模式使用
type Source struct {
	mu        sync.RWMutex
	positions []domain.Position
}

var _ port.PositionSource = (*Source)(nil)

// New 创建静态持仓源
func New(positions []domain.Position) *Source {
	s := &Source{}
	s.Replace(positions)
	return s
}

// Replace swaps the whole position list.
func (s *Source) Replace(positions []domain.Position) {
	cp := make([]domain.Position, 0, len(positions))
	for i, p := range positions {
		p.Ticker = domain.NormalizeTicker(p.Ticker)
		if p.ID == 0 {
			p.ID = int64(i + 1)
		}
		if p.Status == "" {
			p.Status = domain.StatusOpen
		}
		cp = append(cp, p)
	}
	s.mu.Lock()
	s.positions = cp
	s.mu.Unlock()
}

func (s *Source) ListPositions(ctx context.Context) ([]domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Position(nil), s.positions...), nil
}
