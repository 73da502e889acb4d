package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Listing is a classified ad owned by a user.
type Listing struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID        string       `gorm:"type:text;not null;index:ix_listings_user_status,priority:1" json:"user_id"`
	Title         string       `gorm:"type:text;not null" json:"title"`
	Description   string       `gorm:"type:text;not null;default:''" json:"description"`
	PriceCents    int64        `gorm:"not null;default:0" json:"price_cents"`
	Status        Status       `gorm:"type:text;not null;index:ix_listings_user_status,priority:2" json:"status"`
	FeaturedUntil *time.Time   `gorm:"" json:"featured_until,omitempty"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`
}

func (Listing) TableName() string { return "listings" }

type Image struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	ListingID snowflake.ID `gorm:"not null;index" json:"listing_id"`
	URL       string       `gorm:"type:text;not null" json:"url"`
	Position  int          `gorm:"not null;default:0" json:"position"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (Image) TableName() string { return "listing_images" }
