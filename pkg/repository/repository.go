package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"elevate-engine/pkg/db/option"
)

// Repository is the generic gorm-backed store shared by every service.
// Query structs use gorm's struct conditions (zero fields are ignored);
// anything beyond equality goes through option.QueryOption.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID string, resource any) error
	BatchCreate(ctx context.Context, resources []*T) error
	Count(ctx context.Context, query *T) (int64, error)
}

type store[T any] struct {
	db *gorm.DB
}

// ProvideStore returns a Repository bound to the given database handle.
func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

// WithTrx returns a Repository that runs inside the given transaction.
func (s *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return s
	}
	return &store[T]{db: tx}
}

func (s *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	var results []*T
	db := option.Apply(s.db.WithContext(ctx).Where(query), opts...)
	if err := db.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// FindOne returns (nil, nil) when no row matches.
func (s *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	var result T
	db := option.Apply(s.db.WithContext(ctx).Where(query), opts...)
	if err := db.First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (s *store[T]) Create(ctx context.Context, resource *T) error {
	return s.db.WithContext(ctx).Create(resource).Error
}

func (s *store[T]) Update(ctx context.Context, resourceID string, resource any) error {
	var model T
	return s.db.WithContext(ctx).Model(&model).Where("id = ?", resourceID).Updates(resource).Error
}

func (s *store[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if len(resources) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(resources).Error
}

func (s *store[T]) Count(ctx context.Context, query *T) (int64, error) {
	var model T
	var count int64
	if err := s.db.WithContext(ctx).Model(&model).Where(query).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
