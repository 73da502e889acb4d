package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is the append-only log of provider events seen by the processor.
// A row with ProcessedAt set has been fully applied and is never applied again.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:ux_billing_events_provider_event,priority:1"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex:ux_billing_events_provider_event,priority:2"`
	EventType       string         `gorm:"type:text;not null"`
	UserID          string         `gorm:"type:text;not null;default:'';index"`
	SubscriptionRef string         `gorm:"type:text;not null;default:''"`
	Payload         datatypes.JSON `gorm:"not null"`
	OccurredAt      time.Time      `gorm:"not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:""`
	Attempts        int            `gorm:"not null;default:0"`
	LastError       string         `gorm:"type:text;not null;default:''"`
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "billing_events" }
