package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/classifieds/internal/clock"
	"github.com/smallbiznis/classifieds/internal/listing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxTitleLength   = 200
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("listing.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Create stores a listing. The active-listing limit is enforced upstream by
// the entitlement gate; featured duration is checked here against the
// caller's entitlement.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Listing, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > maxTitleLength {
		return nil, domain.ErrInvalidTitle
	}
	if req.PriceCents < 0 {
		return nil, domain.ErrInvalidPrice
	}

	now := s.clock.Now()
	listing := &domain.Listing{
		ID:          s.genID.Generate(),
		UserID:      userID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		PriceCents:  req.PriceCents,
		Status:      domain.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if req.FeaturedDays > 0 {
		if !featuredAllowed(req.FeaturedDays, req.FeaturedLimit.Value(), req.FeaturedLimit.IsUnlimited()) {
			return nil, domain.ErrFeaturedNotAllowed
		}
		until := now.Add(time.Duration(req.FeaturedDays) * 24 * time.Hour)
		listing.FeaturedUntil = &until
	}

	if err := s.repo.Insert(ctx, s.db, listing); err != nil {
		return nil, err
	}

	s.log.Info("listing created",
		zap.String("user_id", userID),
		zap.String("listing_id", listing.ID.String()),
		zap.Bool("featured", listing.FeaturedUntil != nil),
	)
	return listing, nil
}

func featuredAllowed(days int, limit int64, unlimited bool) bool {
	if unlimited {
		return true
	}
	return int64(days) <= limit
}

func (s *Service) List(ctx context.Context, userID string, limit int) ([]domain.Listing, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListByUser(ctx, s.db, userID, limit)
}

func (s *Service) Archive(ctx context.Context, userID string, id snowflake.ID) error {
	listing, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	if listing.Status == domain.StatusArchived {
		return nil
	}
	return s.repo.Archive(ctx, s.db, listing.ID, s.clock.Now())
}

// AddImage enforces the per-listing image ceiling carried on the request.
func (s *Service) AddImage(ctx context.Context, req domain.AddImageRequest) (*domain.Image, error) {
	listing, err := s.owned(ctx, req.UserID, req.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != domain.StatusActive {
		return nil, domain.ErrListingNotActive
	}
	imageURL := strings.TrimSpace(req.URL)
	if parsed, err := url.Parse(imageURL); err != nil || imageURL == "" || parsed.Scheme == "" {
		return nil, domain.ErrInvalidImageURL
	}

	var image *domain.Image
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := s.repo.CountImages(ctx, tx, listing.ID)
		if err != nil {
			return err
		}
		if !req.Ceiling.Allows(count) {
			return domain.ErrImageLimitReached
		}
		image = &domain.Image{
			ID:        s.genID.Generate(),
			ListingID: listing.ID,
			URL:       imageURL,
			Position:  int(count),
			CreatedAt: s.clock.Now(),
		}
		return s.repo.InsertImage(ctx, tx, image)
	})
	if err != nil {
		return nil, err
	}
	return image, nil
}

func (s *Service) owned(ctx context.Context, userID string, id snowflake.ID) (*domain.Listing, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	listing, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if listing == nil || listing.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return listing, nil
}
