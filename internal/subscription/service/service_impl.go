package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	billingeventdomain "github.com/smallbiznis/classifieds/internal/billingevent/domain"
	"github.com/smallbiznis/classifieds/internal/clock"
	"github.com/smallbiznis/classifieds/internal/config"
	obsmetrics "github.com/smallbiznis/classifieds/internal/observability/metrics"
	billingdomain "github.com/smallbiznis/classifieds/internal/providers/billing/domain"
	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
	"github.com/smallbiznis/classifieds/internal/tier"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	Clock      clock.Clock
	Repo       subscriptiondomain.Repository
	Catalog    *tier.Catalog
	Provider   billingdomain.Provider
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service requests subscription changes from the billing provider. Local
// state only changes when the resulting webhooks are processed.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      config.Config
	clock    clock.Clock
	repo     subscriptiondomain.Repository
	catalog  *tier.Catalog
	provider billingdomain.Provider
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("subscription.service"),
		cfg:      p.Config,
		clock:    p.Clock,
		repo:     p.Repo,
		catalog:  p.Catalog,
		provider: p.Provider,
		metrics:  p.ObsMetrics,
	}
}

func (s *Service) Get(ctx context.Context, userID string) (*subscriptiondomain.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	return s.repo.FindByUserID(ctx, s.db, userID)
}

func (s *Service) CreateCheckout(ctx context.Context, req subscriptiondomain.CheckoutRequest) (subscriptiondomain.CheckoutResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return subscriptiondomain.CheckoutResponse{}, subscriptiondomain.ErrInvalidUser
	}
	target, priceRef, err := s.purchasable(req.Tier)
	if err != nil {
		return subscriptiondomain.CheckoutResponse{}, err
	}

	current, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return subscriptiondomain.CheckoutResponse{}, err
	}
	if hasLivePaidSubscription(current) {
		return subscriptiondomain.CheckoutResponse{}, subscriptiondomain.ErrAlreadySubscribed
	}

	now := s.clock.Now()
	sessionReq := billingdomain.CheckoutSessionRequest{
		CustomerEmail:     strings.TrimSpace(req.Email),
		PriceRef:          priceRef,
		SuccessURL:        firstNonEmpty(req.SuccessURL, s.cfg.Stripe.SuccessURL),
		CancelURL:         firstNonEmpty(req.CancelURL, s.cfg.Stripe.CancelURL),
		ClientReferenceID: userID,
		Metadata:          subscriptionMetadata(req.Metadata, userID, target),
		// Repeated clicks within the same minute reuse the provider session.
		IdempotencyKey: fmt.Sprintf("checkout:%s:%s:%d", userID, target, now.Truncate(time.Minute).Unix()),
	}
	if current != nil {
		sessionReq.CustomerRef = current.BillingCustomerRef
	}

	session, err := s.provider.CreateCheckoutSession(ctx, sessionReq)
	if err != nil {
		s.metrics.RecordLifecycleRequest(ctx, "checkout", target.String(), "provider_error")
		s.log.Error("create checkout session", zap.String("user_id", userID), zap.String("tier", target.String()), zap.Error(err))
		return subscriptiondomain.CheckoutResponse{}, providerFailure(err)
	}

	s.metrics.RecordLifecycleRequest(ctx, "checkout", target.String(), "ok")
	s.log.Info("checkout session created",
		zap.String("user_id", userID),
		zap.String("tier", target.String()),
		zap.String("session_id", session.ID),
	)
	return subscriptiondomain.CheckoutResponse{
		SessionID:   session.ID,
		RedirectURL: session.URL,
		Pending: subscriptiondomain.PendingChange{
			Kind:          subscriptiondomain.PendingCheckout,
			RequestedTier: target,
			RequestedAt:   now,
		},
	}, nil
}

func (s *Service) ChangeTier(ctx context.Context, req subscriptiondomain.ChangeTierRequest) (subscriptiondomain.PendingChange, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return subscriptiondomain.PendingChange{}, subscriptiondomain.ErrInvalidUser
	}
	target, priceRef, err := s.purchasable(req.Tier)
	if err != nil {
		return subscriptiondomain.PendingChange{}, err
	}

	current, err := s.billedSubscription(ctx, userID)
	if err != nil {
		return subscriptiondomain.PendingChange{}, err
	}
	if current.Tier == target {
		return subscriptiondomain.PendingChange{}, subscriptiondomain.ErrTierUnchanged
	}

	err = s.provider.UpdateSubscription(ctx, billingdomain.UpdateSubscriptionRequest{
		SubscriptionRef: current.BillingSubscriptionRef,
		PriceRef:        priceRef,
		Metadata:        subscriptionMetadata(nil, userID, target),
	})
	if err != nil {
		s.metrics.RecordLifecycleRequest(ctx, "change_tier", target.String(), "provider_error")
		s.log.Error("update subscription", zap.String("user_id", userID), zap.String("tier", target.String()), zap.Error(err))
		return subscriptiondomain.PendingChange{}, providerFailure(err)
	}

	s.metrics.RecordLifecycleRequest(ctx, "change_tier", target.String(), "ok")
	s.log.Info("tier change requested",
		zap.String("user_id", userID),
		zap.String("from", current.Tier.String()),
		zap.String("to", target.String()),
	)
	return subscriptiondomain.PendingChange{
		Kind:          subscriptiondomain.PendingTierChange,
		RequestedTier: target,
		RequestedAt:   s.clock.Now(),
	}, nil
}

func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.CancelRequest) (subscriptiondomain.PendingChange, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return subscriptiondomain.PendingChange{}, subscriptiondomain.ErrInvalidUser
	}

	current, err := s.billedSubscription(ctx, userID)
	if err != nil {
		return subscriptiondomain.PendingChange{}, err
	}

	err = s.provider.CancelSubscription(ctx, billingdomain.CancelSubscriptionRequest{
		SubscriptionRef: current.BillingSubscriptionRef,
		AtPeriodEnd:     req.AtPeriodEnd,
	})
	if err != nil {
		s.metrics.RecordLifecycleRequest(ctx, "cancel", current.Tier.String(), "provider_error")
		s.log.Error("cancel subscription", zap.String("user_id", userID), zap.Error(err))
		return subscriptiondomain.PendingChange{}, providerFailure(err)
	}

	s.metrics.RecordLifecycleRequest(ctx, "cancel", current.Tier.String(), "ok")
	s.log.Info("cancellation requested", zap.String("user_id", userID), zap.Bool("at_period_end", req.AtPeriodEnd))
	return subscriptiondomain.PendingChange{
		Kind:        subscriptiondomain.PendingCancel,
		AtPeriodEnd: req.AtPeriodEnd,
		RequestedAt: s.clock.Now(),
	}, nil
}

func (s *Service) purchasable(requested tier.Tier) (tier.Tier, string, error) {
	t, ok := tier.ParseTier(string(requested))
	if !ok {
		return "", "", subscriptiondomain.ErrInvalidTier
	}
	if !t.IsPaid() {
		return "", "", subscriptiondomain.ErrTierNotPurchasable
	}
	priceRef, ok := s.catalog.PriceFor(t)
	if !ok {
		return "", "", subscriptiondomain.ErrTierNotPurchasable
	}
	return t, priceRef, nil
}

func (s *Service) billedSubscription(ctx context.Context, userID string) (*subscriptiondomain.Subscription, error) {
	current, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if !current.HasBillingRelationship() {
		return nil, subscriptiondomain.ErrNoBillingRelationship
	}
	if current.Status == subscriptiondomain.StatusCanceled {
		return nil, subscriptiondomain.ErrSubscriptionCanceled
	}
	return current, nil
}

func hasLivePaidSubscription(sub *subscriptiondomain.Subscription) bool {
	if sub == nil || !sub.Tier.IsPaid() {
		return false
	}
	switch sub.Status {
	case subscriptiondomain.StatusActive, subscriptiondomain.StatusTrialing, subscriptiondomain.StatusPastDue:
		return true
	default:
		return false
	}
}

func subscriptionMetadata(extra map[string]string, userID string, t tier.Tier) map[string]string {
	meta := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		meta[k] = v
	}
	meta[billingeventdomain.MetadataUserID] = userID
	meta[billingeventdomain.MetadataTier] = t.String()
	return meta
}

func providerFailure(err error) error {
	if errors.Is(err, subscriptiondomain.ErrBillingProviderFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", subscriptiondomain.ErrBillingProviderFailure, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
