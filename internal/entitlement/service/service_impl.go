package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/classifieds/internal/clock"
	"github.com/smallbiznis/classifieds/internal/config"
	"github.com/smallbiznis/classifieds/internal/entitlement/domain"
	listingdomain "github.com/smallbiznis/classifieds/internal/listing/domain"
	obsmetrics "github.com/smallbiznis/classifieds/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
	"github.com/smallbiznis/classifieds/internal/tier"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	decisionAllow = "allow"
	decisionDeny  = "deny"

	apiAccessMessage = "a paid subscription with API access is required"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Config           config.Config
	Clock            clock.Clock
	Evaluator        *tier.Evaluator
	SubscriptionRepo subscriptiondomain.Repository
	ListingRepo      listingdomain.Repository
	ObsMetrics       *obsmetrics.Metrics        `optional:"true"`
	BillingMetrics   *obsmetrics.BillingMetrics `optional:"true"`
}

// Service answers gate questions. It only reads and never locks rows.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	evaluator   *tier.Evaluator
	subRepo     subscriptiondomain.Repository
	listingRepo listingdomain.Repository
	grace       time.Duration
	upgradeURL  string
	metrics     *obsmetrics.Metrics
	billing     *obsmetrics.BillingMetrics
}

func NewService(p Params) domain.Service {
	graceDays := p.Config.Entitlement.PastDueGraceDays
	if graceDays < 0 {
		graceDays = 0
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("entitlement.service"),
		clock:       p.Clock,
		evaluator:   p.Evaluator,
		subRepo:     p.SubscriptionRepo,
		listingRepo: p.ListingRepo,
		grace:       time.Duration(graceDays) * 24 * time.Hour,
		upgradeURL:  strings.TrimSpace(p.Config.Entitlement.UpgradeURL),
		metrics:     p.ObsMetrics,
		billing:     p.BillingMetrics,
	}
}

func (s *Service) Resolve(ctx context.Context, userID string) (*domain.Entitlement, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}

	sub, err := s.subRepo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		s.log.Error("subscription lookup failed", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrEntitlementUnavailable, err)
	}

	effective, grace := domain.EffectiveTier(sub, s.clock.Now(), s.grace)
	limits, err := s.evaluator.Entitlements(effective)
	if err != nil {
		s.log.Error("tier catalog is missing a tier", zap.String("tier", string(effective)), zap.Error(err))
		return nil, err
	}

	ent := &domain.Entitlement{
		UserID:         userID,
		SubscribedTier: tier.Free,
		EffectiveTier:  effective,
		InGracePeriod:  grace,
		Limits:         limits,
		UpgradeURL:     s.upgradeURL,
	}
	if sub != nil {
		ent.SubscribedTier = sub.Tier
		ent.Status = sub.Status
		ent.CurrentPeriodEnd = sub.CurrentPeriodEnd
		ent.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	}
	return ent, nil
}

func (s *Service) CheckListingCapacity(ctx context.Context, userID string) error {
	ent, err := s.Resolve(ctx, userID)
	if err != nil {
		return err
	}
	limit := ent.Limit(tier.FeatureListings)
	if limit.IsUnlimited() {
		s.record(ctx, tier.FeatureListings, ent.EffectiveTier, decisionAllow)
		return nil
	}

	used, err := s.listingRepo.CountActiveByUser(ctx, s.db, ent.UserID)
	if err != nil {
		s.log.Error("listing count failed", zap.String("user_id", ent.UserID), zap.Error(err))
		return fmt.Errorf("%w: %v", domain.ErrEntitlementUnavailable, err)
	}
	if limit.Allows(used) {
		s.record(ctx, tier.FeatureListings, ent.EffectiveTier, decisionAllow)
		return nil
	}

	s.record(ctx, tier.FeatureListings, ent.EffectiveTier, decisionDeny)
	return &domain.DenialError{
		Err:        domain.ErrListingLimitReached,
		Feature:    tier.FeatureListings,
		Tier:       ent.EffectiveTier,
		Limit:      limit,
		Used:       used,
		Message:    fmt.Sprintf("the %s plan allows %d active listings", ent.EffectiveTier, limit.Value()),
		UpgradeURL: s.upgradeURL,
	}
}

func (s *Service) ImageCeiling(ctx context.Context, userID string) (tier.Limit, error) {
	return s.FeatureLimit(ctx, userID, tier.FeatureImagesPerListing)
}

func (s *Service) FeatureLimit(ctx context.Context, userID string, feature tier.Feature) (tier.Limit, error) {
	ent, err := s.Resolve(ctx, userID)
	if err != nil {
		return tier.Limit{}, err
	}
	return ent.Limit(feature), nil
}

func (s *Service) CheckAPIAccess(ctx context.Context, userID string) error {
	ent, err := s.Resolve(ctx, userID)
	if err != nil {
		return err
	}
	if ent.Limit(tier.FeatureAPIAccess).Enabled() {
		s.record(ctx, tier.FeatureAPIAccess, ent.EffectiveTier, decisionAllow)
		return nil
	}
	s.record(ctx, tier.FeatureAPIAccess, ent.EffectiveTier, decisionDeny)
	return &domain.DenialError{
		Err:        domain.ErrAPIAccessDenied,
		Feature:    tier.FeatureAPIAccess,
		Tier:       ent.EffectiveTier,
		Limit:      ent.Limit(tier.FeatureAPIAccess),
		Message:    apiAccessMessage,
		UpgradeURL: s.upgradeURL,
	}
}

func (s *Service) record(ctx context.Context, feature tier.Feature, t tier.Tier, decision string) {
	s.metrics.RecordEntitlementCheck(ctx, string(feature), string(t), decision)
	if decision == decisionDeny {
		s.billing.IncEntitlementDenied(string(feature), string(t))
	}
}
