package implementation

import (
	"context"
	"errors"

	"deepsearch-be/internal/entity"
	"deepsearch-be/internal/mapper"
	"deepsearch-be/internal/model"
	"deepsearch-be/internal/repository/contract"
	"deepsearch-be/internal/repository/specification"

	"gorm.io/gorm"
)

type QueryHistoryRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.QueryHistoryMapper
}

func NewQueryHistoryRepository(db *gorm.DB) contract.QueryHistoryRepository {
	return &QueryHistoryRepositoryImpl{
		db:     db,
		mapper: mapper.NewQueryHistoryMapper(),
	}
}

func (r *QueryHistoryRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *QueryHistoryRepositoryImpl) Create(ctx context.Context, history *entity.QueryHistory) error {
	m := r.mapper.ToModel(history)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*history = *r.mapper.ToEntity(m)
	return nil
}

func (r *QueryHistoryRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.QueryHistory, error) {
	var m model.QueryHistory
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *QueryHistoryRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.QueryHistory, error) {
	var models []*model.QueryHistory
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}

func (r *QueryHistoryRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.QueryHistory{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
