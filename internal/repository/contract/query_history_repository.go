package contract

import (
	"context"

	"deepsearch-be/internal/entity"
	"deepsearch-be/internal/repository/specification"
)

type QueryHistoryRepository interface {
	Create(ctx context.Context, history *entity.QueryHistory) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.QueryHistory, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.QueryHistory, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
