package httpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
)

// Source 外部持仓服务 REST 客户端（只读）
type Source struct {
	baseURL string
	client  *http.Client
}

var _ port.PositionSource = (*Source)(nil)

type positionDTO struct {
	ID           int64      `json:"id"`
	Ticker       string     `json:"ticker"`
	Side         string     `json:"side"`
	Qty          float64    `json:"qty"`
	EntryPrice   float64    `json:"entry_price"`
	ExitPrice    *float64   `json:"exit_price"`
	CurrentPrice *float64   `json:"current_price"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at"`
	Notes        *string    `json:"notes"`
}

// New 创建持仓源
func New(baseURL string, timeout time.Duration) *Source {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Source{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// ListPositions GET /positions
func (s *Source) ListPositions(ctx context.Context) ([]domain.Position, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/positions", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("positions request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("positions http %d: %s", resp.StatusCode, string(body))
	}

	var dtos []positionDTO
	if err := json.Unmarshal(body, &dtos); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	out := make([]domain.Position, 0, len(dtos))
	for _, d := range dtos {
		p := domain.Position{
			ID:           d.ID,
			Ticker:       domain.NormalizeTicker(d.Ticker),
			Side:         domain.Side(strings.ToLower(d.Side)),
			Quantity:     d.Qty,
			EntryPrice:   d.EntryPrice,
			ExitPrice:    d.ExitPrice,
			CurrentPrice: d.CurrentPrice,
			Status:       domain.PositionStatus(strings.ToLower(d.Status)),
			CreatedAt:    d.CreatedAt,
			ClosedAt:     d.ClosedAt,
		}
		if d.Notes != nil {
			p.Notes = *d.Notes
		}
		out = append(out, p)
	}
	return out, nil
}
