package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/classifieds/internal/tier"
)

type CreateRequest struct {
	UserID       string
	Title        string
	Description  string
	PriceCents   int64
	FeaturedDays int
	// FeaturedLimit is the caller's featuredDuration entitlement.
	FeaturedLimit tier.Limit
}

type AddImageRequest struct {
	UserID    string
	ListingID snowflake.ID
	URL       string
	// Ceiling is the caller's imagesPerListing entitlement.
	Ceiling tier.Limit
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Listing, error)
	List(ctx context.Context, userID string, limit int) ([]Listing, error)
	Archive(ctx context.Context, userID string, id snowflake.ID) error
	AddImage(ctx context.Context, req AddImageRequest) (*Image, error)
}

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidTitle       = errors.New("invalid_title")
	ErrInvalidPrice       = errors.New("invalid_price")
	ErrInvalidImageURL    = errors.New("invalid_image_url")
	ErrNotFound           = errors.New("listing_not_found")
	ErrFeaturedNotAllowed = errors.New("featured_duration_not_allowed")
	ErrImageLimitReached  = errors.New("image_limit_reached")
	ErrListingNotActive   = errors.New("listing_not_active")
)
