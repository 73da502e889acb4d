package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository returns nil, nil when no row matches.
type Repository interface {
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Subscription, error)
	FindByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID string) (*Subscription, error)
	FindByProviderRefForUpdate(ctx context.Context, db *gorm.DB, subscriptionRef string) (*Subscription, error)
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, patch Patch, updatedAt time.Time) error
}
