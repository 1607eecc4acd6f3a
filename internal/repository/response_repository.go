package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"questionnaire/internal/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type ResponseRepository struct {
	db *gorm.DB
}

func NewResponseRepository(db *gorm.DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

// Create inserts a single row. The store assigns id and timestamp.
func (r *ResponseRepository) Create(ctx context.Context, response *model.Response) error {
	if err := r.db.WithContext(ctx).Create(response).Error; err != nil {
		return fmt.Errorf("create response failed: %w", err)
	}
	return nil
}

func (r *ResponseRepository) GetByID(ctx context.Context, id uint) (*model.Response, error) {
	var response model.Response
	if err := r.db.WithContext(ctx).First(&response, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query response by id failed: %w", err)
	}
	return &response, nil
}

// List returns rows newest first.
func (r *ResponseRepository) List(ctx context.Context, limit, offset int) ([]model.Response, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var responses []model.Response
	if err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Offset(offset).Find(&responses).Error; err != nil {
		return nil, fmt.Errorf("list responses failed: %w", err)
	}
	return responses, nil
}

func (r *ResponseRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Response{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count responses failed: %w", err)
	}
	return total, nil
}
