package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/classifieds/internal/tier"
)

type Service interface {
	Resolve(ctx context.Context, userID string) (*Entitlement, error)
	// CheckListingCapacity returns a *DenialError wrapping ErrListingLimitReached
	// when one more active listing does not fit.
	CheckListingCapacity(ctx context.Context, userID string) error
	ImageCeiling(ctx context.Context, userID string) (tier.Limit, error)
	FeatureLimit(ctx context.Context, userID string, feature tier.Feature) (tier.Limit, error)
	CheckAPIAccess(ctx context.Context, userID string) error
}

var (
	ErrInvalidUser            = errors.New("invalid_user")
	ErrListingLimitReached    = errors.New("listing_limit_reached")
	ErrAPIAccessDenied        = errors.New("api_access_denied")
	ErrEntitlementUnavailable = errors.New("entitlement_unavailable")
)

// DenialError carries what the caller needs to render an upgrade prompt.
type DenialError struct {
	Err        error
	Feature    tier.Feature
	Tier       tier.Tier
	Limit      tier.Limit
	Used       int64
	Message    string
	UpgradeURL string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, e.Message)
}

func (e *DenialError) Unwrap() error { return e.Err }
