package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/classifieds/internal/entitlement/domain"
	listingdomain "github.com/smallbiznis/classifieds/internal/listing/domain"
	"github.com/smallbiznis/classifieds/internal/tier"
)

type createListingRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	PriceCents   int64  `json:"price_cents"`
	FeaturedDays int    `json:"featured_days"`
}

// CreateListing runs after RequireListingCapacity.
func (s *Server) CreateListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, badRequest())
		return
	}

	ctx := c.Request.Context()
	userID := userIDFrom(c)

	var featured tier.Limit
	if req.FeaturedDays > 0 {
		limit, err := s.entitlementSvc.FeatureLimit(ctx, userID, tier.FeatureFeaturedDuration)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		featured = limit
	}

	listing, err := s.listingSvc.Create(ctx, listingdomain.CreateRequest{
		UserID:        userID,
		Title:         req.Title,
		Description:   req.Description,
		PriceCents:    req.PriceCents,
		FeaturedDays:  req.FeaturedDays,
		FeaturedLimit: featured,
	})
	if err != nil {
		AbortWithError(c, s.planDenial(err, tier.FeatureFeaturedDuration, featured))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": listing})
}

func (s *Server) ListListings(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			AbortWithError(c, fieldError("limit", "invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	items, err := s.listingSvc.List(c.Request.Context(), userIDFrom(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) ArchiveListing(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	if err := s.listingSvc.Archive(c.Request.Context(), userIDFrom(c), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type addImageRequest struct {
	URL string `json:"url"`
}

// AddListingImage enforces the ceiling injected by InjectImageCeiling.
func (s *Server) AddListingImage(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req addImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, badRequest())
		return
	}

	ceiling, ok := imageCeilingFrom(c)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	image, err := s.listingSvc.AddImage(c.Request.Context(), listingdomain.AddImageRequest{
		UserID:    userIDFrom(c),
		ListingID: id,
		URL:       req.URL,
		Ceiling:   ceiling,
	})
	if err != nil {
		AbortWithError(c, s.planDenial(err, tier.FeatureImagesPerListing, ceiling))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": image})
}

// planDenial turns a plan-limit error from the listing service into an upgrade prompt.
func (s *Server) planDenial(err error, feature tier.Feature, limit tier.Limit) error {
	var message string
	switch {
	case errors.Is(err, listingdomain.ErrImageLimitReached):
		message = "your plan allows " + limit.String() + " images per listing"
	case errors.Is(err, listingdomain.ErrFeaturedNotAllowed):
		message = "your plan allows featuring a listing for " + limit.String() + " days"
	default:
		return err
	}
	return &entitlementdomain.DenialError{
		Err:        err,
		Feature:    feature,
		Limit:      limit,
		Message:    message,
		UpgradeURL: strings.TrimSpace(s.cfg.Entitlement.UpgradeURL),
	}
}
