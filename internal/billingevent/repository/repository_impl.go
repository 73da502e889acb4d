package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/classifieds/internal/billingevent/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

var eventKey = []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, record *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: eventKey, DoNothing: true}).
		Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, userID string, processedAt time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.EventRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at": processedAt.UTC(),
			"user_id":      userID,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   "",
		}).Error
}

// RecordFailure runs outside the failed transaction so the attempt survives the rollback.
func (r *repo) RecordFailure(ctx context.Context, db *gorm.DB, record *domain.EventRecord, reason string) error {
	failed := *record
	failed.ProcessedAt = nil
	failed.Attempts = 1
	failed.LastError = reason
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: eventKey,
			DoUpdates: clause.Assignments(map[string]any{
				"attempts":   gorm.Expr("billing_events.attempts + 1"),
				"last_error": reason,
			}),
		}).
		Create(&failed).Error
}
