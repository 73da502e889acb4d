package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, false, "user_id = ?", strings.TrimSpace(userID))
}

func (r *repo) FindByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, true, "user_id = ?", strings.TrimSpace(userID))
}

func (r *repo) FindByProviderRefForUpdate(ctx context.Context, db *gorm.DB, subscriptionRef string) (*subscriptiondomain.Subscription, error) {
	ref := strings.TrimSpace(subscriptionRef)
	if ref == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, true, "billing_subscription_ref = ?", ref)
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, patch subscriptiondomain.Patch, updatedAt time.Time) error {
	if patch.Empty() {
		return nil
	}
	cols := patch.Columns()
	cols["updated_at"] = updatedAt.UTC()
	return db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", id).
		Updates(cols).Error
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, forUpdate bool, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	stmt := db.WithContext(ctx)
	if forUpdate && supportsRowLocks(db) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var subscription subscriptiondomain.Subscription
	err := stmt.Where(query, args...).Order("id ASC").Take(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

// sqlite serializes writers on the database file and has no row locks.
func supportsRowLocks(db *gorm.DB) bool {
	return db.Dialector.Name() != "sqlite"
}
