package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	CountActiveByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	Insert(ctx context.Context, db *gorm.DB, listing *Listing) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Listing, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string, limit int) ([]Listing, error)
	Archive(ctx context.Context, db *gorm.DB, id snowflake.ID, archivedAt time.Time) error
	CountImages(ctx context.Context, db *gorm.DB, listingID snowflake.ID) (int64, error)
	InsertImage(ctx context.Context, db *gorm.DB, image *Image) error
}
