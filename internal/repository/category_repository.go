package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"planner/internal/model"
)

// CategoryRepository manages task categories.
type CategoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// GetOrCreate returns the user's category with the given name, creating it on
// first use. An empty name yields no category.
func (r *CategoryRepository) GetOrCreate(ctx context.Context, userID uint, name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	category := model.Category{UserID: userID, Name: name}
	if err := r.db.WithContext(ctx).
		Where(model.Category{UserID: userID, Name: name}).
		FirstOrCreate(&category).Error; err != nil {
		return nil, fmt.Errorf("get or create category: %w", err)
	}
	return &category, nil
}

func (r *CategoryRepository) ListByUser(ctx context.Context, userID uint) ([]model.Category, error) {
	var categories []model.Category
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("name ASC").Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// NamesByUser maps category ids to names for rendering.
func (r *CategoryRepository) NamesByUser(ctx context.Context, userID uint) (map[uint]string, error) {
	categories, err := r.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(categories))
	for _, cat := range categories {
		names[cat.ID] = cat.Name
	}
	return names, nil
}
