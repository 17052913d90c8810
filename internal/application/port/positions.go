package port

import (
	"context"

	"targetwatch/internal/domain"
)

// PositionSource 外部持仓 CRUD 服务的只读视图
type PositionSource interface {
	ListPositions(ctx context.Context) ([]domain.Position, error)
}
