package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/classifieds/internal/listing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CountActiveByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Listing{}).
		Where("user_id = ? AND status = ?", strings.TrimSpace(userID), domain.StatusActive).
		Count(&count).Error
	return count, err
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, listing *domain.Listing) error {
	return db.WithContext(ctx).Create(listing).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Listing, error) {
	var listing domain.Listing
	err := db.WithContext(ctx).Where("id = ?", id).Take(&listing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &listing, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.Listing, error) {
	var items []domain.Listing
	err := db.WithContext(ctx).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *repo) Archive(ctx context.Context, db *gorm.DB, id snowflake.ID, archivedAt time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Listing{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.StatusArchived,
			"updated_at": archivedAt.UTC(),
		}).Error
}

func (r *repo) CountImages(ctx context.Context, db *gorm.DB, listingID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Image{}).
		Where("listing_id = ?", listingID).
		Count(&count).Error
	return count, err
}

func (r *repo) InsertImage(ctx context.Context, db *gorm.DB, image *domain.Image) error {
	return db.WithContext(ctx).Create(image).Error
}
