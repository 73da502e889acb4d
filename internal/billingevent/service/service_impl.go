package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/classifieds/internal/billingevent/domain"
	"github.com/smallbiznis/classifieds/internal/clock"
	obsmetrics "github.com/smallbiznis/classifieds/internal/observability/metrics"
	billingdomain "github.com/smallbiznis/classifieds/internal/providers/billing/domain"
	"github.com/smallbiznis/classifieds/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
	"github.com/smallbiznis/classifieds/internal/tier"
	"github.com/smallbiznis/classifieds/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Repo             domain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	Provider         billingdomain.Provider
	Locker           *ratelimit.WebhookLocker `optional:"true"`
	ObsMetrics       *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	subRepo  subscriptiondomain.Repository
	provider billingdomain.Provider
	locker   *ratelimit.WebhookLocker
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("billingevent.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		subRepo:  p.SubscriptionRepo,
		provider: p.Provider,
		locker:   p.Locker,
		metrics:  p.ObsMetrics,
	}
}

func (s *Service) Process(ctx context.Context, payload []byte, signature string) (domain.Result, error) {
	event, err := s.provider.VerifyWebhook(payload, signature)
	if err != nil {
		s.metrics.RecordBillingEvent(ctx, s.provider.Name(), "unknown", "rejected")
		s.log.Warn("billing webhook rejected", zap.String("provider", s.provider.Name()), zap.Error(err))
		return domain.Result{}, err
	}

	env := event.Meta()
	result := domain.Result{EventID: env.ID, EventType: env.Type, Kind: event.Kind()}
	log := s.log.With(
		zap.String("provider", env.Provider),
		zap.String("event_id", env.ID),
		zap.String("event_type", env.Type),
	)

	if event.Kind() == domain.KindUnhandled {
		result.Outcome = domain.OutcomeIgnored
		s.metrics.RecordBillingEvent(ctx, env.Provider, env.Type, string(result.Outcome))
		log.Debug("billing event ignored")
		return result, nil
	}

	if err := validateMetadata(event); err != nil {
		s.metrics.RecordBillingEvent(ctx, env.Provider, env.Type, "rejected")
		log.Warn("billing event rejected", zap.Error(err))
		return result, err
	}

	subscriptionRef := domain.SubscriptionRefOf(event)
	release, acquired, err := s.locker.Acquire(ctx, subscriptionRef)
	if err != nil {
		log.Error("acquire billing event lock", zap.Error(err))
		return result, fmt.Errorf("%w: acquire lock: %v", domain.ErrStoreWrite, err)
	}
	if !acquired {
		log.Info("billing event for subscription already in flight", zap.String("subscription_ref", subscriptionRef))
		return result, domain.ErrEventInFlight
	}
	defer release(context.WithoutCancel(ctx))

	now := s.clock.Now()
	record := &domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        env.Provider,
		ProviderEventID: env.ID,
		EventType:       env.Type,
		UserID:          userIDOf(event),
		SubscriptionRef: subscriptionRef,
		Payload:         datatypes.JSON(payload),
		OccurredAt:      env.Created.UTC(),
		ReceivedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertEvent(ctx, tx, record)
		if err != nil {
			return err
		}
		eventRowID := record.ID
		if !inserted {
			existing, err := s.repo.FindEvent(ctx, tx, env.Provider, env.ID)
			if err != nil {
				return err
			}
			if existing == nil {
				return domain.ErrEventInFlight
			}
			if existing.ProcessedAt != nil {
				result.Outcome = domain.OutcomeDuplicate
				result.UserID = existing.UserID
				return nil
			}
			eventRowID = existing.ID
		}

		outcome, userID, err := s.apply(ctx, tx, event)
		if err != nil {
			return err
		}
		result.Outcome = outcome
		result.UserID = userID
		return s.repo.MarkProcessed(ctx, tx, eventRowID, userID, now)
	})
	if err != nil {
		err = classifyApplyError(err)
		s.metrics.RecordBillingEvent(ctx, env.Provider, env.Type, "failed")
		if recordErr := s.repo.RecordFailure(ctx, s.db, record, err.Error()); recordErr != nil {
			log.Error("record billing event failure", zap.Error(recordErr))
		}
		log.Error("billing event processing failed", zap.Error(err))
		return result, err
	}

	s.metrics.RecordBillingEvent(ctx, env.Provider, env.Type, string(result.Outcome))
	log.Info("billing event processed",
		zap.String("outcome", string(result.Outcome)),
		zap.String("user_id", result.UserID),
		zap.String("subscription_ref", subscriptionRef),
	)
	return result, nil
}

func classifyApplyError(err error) error {
	switch {
	case errors.Is(err, domain.ErrOrphanedInvoice),
		errors.Is(err, domain.ErrMissingMetadata),
		errors.Is(err, domain.ErrEventInFlight):
		return err
	case db.IsDuplicateKeyErr(err), db.IsLockContention(err):
		return fmt.Errorf("%w: %v", domain.ErrEventInFlight, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
}

// validateMetadata runs before anything is written.
func validateMetadata(event domain.Event) error {
	var (
		snap         domain.SubscriptionSnapshot
		tierRequired bool
	)
	switch e := event.(type) {
	case domain.SubscriptionCreated:
		snap, tierRequired = e.Subscription, true
	case domain.SubscriptionUpdated:
		snap, tierRequired = e.Subscription, true
	case domain.SubscriptionDeleted:
		snap = e.Subscription
	default:
		return nil
	}

	if snap.UserID() == "" {
		return fmt.Errorf("%w: subscription %s has no %s", domain.ErrMissingMetadata, snap.SubscriptionRef, domain.MetadataUserID)
	}
	name := snap.TierName()
	if name == "" {
		if tierRequired {
			return fmt.Errorf("%w: subscription %s has no %s", domain.ErrMissingMetadata, snap.SubscriptionRef, domain.MetadataTier)
		}
		return nil
	}
	if _, ok := tier.ParseTier(name); !ok {
		return fmt.Errorf("%w: invalid tier metadata %q", domain.ErrMissingMetadata, name)
	}
	return nil
}

func userIDOf(event domain.Event) string {
	switch e := event.(type) {
	case domain.SubscriptionCreated:
		return e.Subscription.UserID()
	case domain.SubscriptionUpdated:
		return e.Subscription.UserID()
	case domain.SubscriptionDeleted:
		return e.Subscription.UserID()
	default:
		return ""
	}
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, event domain.Event) (domain.Outcome, string, error) {
	switch e := event.(type) {
	case domain.SubscriptionCreated:
		return s.applySubscription(ctx, tx, e.Envelope, e.Subscription, e.Kind())
	case domain.SubscriptionUpdated:
		return s.applySubscription(ctx, tx, e.Envelope, e.Subscription, e.Kind())
	case domain.SubscriptionDeleted:
		return s.applySubscription(ctx, tx, e.Envelope, e.Subscription, e.Kind())
	case domain.InvoicePaymentSucceeded:
		return s.applyInvoice(ctx, tx, e.Envelope, e.Invoice, subscriptiondomain.StatusActive)
	case domain.InvoicePaymentFailed:
		return s.applyInvoice(ctx, tx, e.Envelope, e.Invoice, subscriptiondomain.StatusPastDue)
	default:
		return domain.OutcomeIgnored, "", nil
	}
}

func (s *Service) applySubscription(ctx context.Context, tx *gorm.DB, env domain.Envelope, snap domain.SubscriptionSnapshot, kind domain.Kind) (domain.Outcome, string, error) {
	deleted := kind == domain.KindSubscriptionDeleted
	userID := snap.UserID()
	metaTier, hasTier := tier.ParseTier(snap.TierName())

	row, err := s.subRepo.FindByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return "", "", err
	}

	status := snap.Status
	if deleted {
		status = subscriptiondomain.StatusCanceled
	}
	created := env.Created.UTC()

	if row == nil {
		if !hasTier {
			metaTier = tier.Free
		}

		now := s.clock.Now()
		sub := &subscriptiondomain.Subscription{
			ID:                     s.genID.Generate(),
			UserID:                 userID,
			Tier:                   metaTier,
			Status:                 status,
			CurrentPeriodStart:     snap.PeriodStart,
			CurrentPeriodEnd:       snap.PeriodEnd,
			CancelAtPeriodEnd:      snap.CancelAtPeriodEnd,
			BillingCustomerRef:     snap.CustomerRef,
			BillingSubscriptionRef: snap.SubscriptionRef,
			TierEventAt:            &created,
			StatusEventAt:          &created,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if snap.PeriodEnd != nil {
			sub.PeriodEventAt = &created
		}
		if status == subscriptiondomain.StatusPastDue {
			sub.PastDueSince = &created
		}
		if err := s.subRepo.Insert(ctx, tx, sub); err != nil {
			return "", "", err
		}
		return domain.OutcomeApplied, userID, nil
	}

	// A different subscription for the same user only replaces the stored
	// one when it is new or the stored one has ended.
	if row.BillingSubscriptionRef != "" && row.BillingSubscriptionRef != snap.SubscriptionRef {
		if row.Status != subscriptiondomain.StatusCanceled && kind != domain.KindSubscriptionCreated {
			return domain.OutcomeStale, row.UserID, nil
		}
	}

	var patch subscriptiondomain.Patch
	if notBefore(created, row.TierEventAt) {
		if hasTier && !deleted {
			patch.Tier = &metaTier
		}
		cancelAtPeriodEnd := snap.CancelAtPeriodEnd
		patch.CancelAtPeriodEnd = &cancelAtPeriodEnd
		ref := snap.SubscriptionRef
		patch.BillingSubscriptionRef = &ref
		if customer := strings.TrimSpace(snap.CustomerRef); customer != "" {
			patch.BillingCustomerRef = &customer
		}
		patch.TierEventAt = &created
	}
	if notBefore(created, row.StatusEventAt) {
		patch.Status = &status
		patch.StatusEventAt = &created
		patch.PastDueSince = enteredPastDue(row, status, created)
	}
	if snap.PeriodEnd != nil && notBefore(created, row.PeriodEventAt) {
		patch.CurrentPeriodStart = snap.PeriodStart
		patch.CurrentPeriodEnd = snap.PeriodEnd
		patch.PeriodEventAt = &created
	}

	if patch.Empty() {
		return domain.OutcomeStale, row.UserID, nil
	}
	if err := s.subRepo.Update(ctx, tx, row.ID, patch, s.clock.Now()); err != nil {
		return "", "", err
	}
	return domain.OutcomeApplied, row.UserID, nil
}

func (s *Service) applyInvoice(ctx context.Context, tx *gorm.DB, env domain.Envelope, inv domain.InvoiceSnapshot, status subscriptiondomain.Status) (domain.Outcome, string, error) {
	row, err := s.subRepo.FindByProviderRefForUpdate(ctx, tx, inv.SubscriptionRef)
	if err != nil {
		return "", "", err
	}
	if row == nil {
		return "", "", fmt.Errorf("%w: no subscription for %s", domain.ErrOrphanedInvoice, inv.SubscriptionRef)
	}

	created := env.Created.UTC()
	var patch subscriptiondomain.Patch

	// Invoices never revive a canceled subscription.
	if row.Status != subscriptiondomain.StatusCanceled && notBefore(created, row.StatusEventAt) {
		patch.Status = &status
		patch.StatusEventAt = &created
		patch.PastDueSince = enteredPastDue(row, status, created)
	}

	// A paid invoice may only move the period forward.
	if status == subscriptiondomain.StatusActive && inv.PeriodEnd != nil &&
		(row.CurrentPeriodEnd == nil || inv.PeriodEnd.After(*row.CurrentPeriodEnd)) {
		patch.CurrentPeriodStart = inv.PeriodStart
		patch.CurrentPeriodEnd = inv.PeriodEnd
		if notBefore(created, row.PeriodEventAt) {
			patch.PeriodEventAt = &created
		}
	}

	if patch.Empty() {
		return domain.OutcomeStale, row.UserID, nil
	}
	if err := s.subRepo.Update(ctx, tx, row.ID, patch, s.clock.Now()); err != nil {
		return "", "", err
	}
	return domain.OutcomeApplied, row.UserID, nil
}

// notBefore reports whether an event at t may overwrite a group last written at stamp.
func notBefore(t time.Time, stamp *time.Time) bool {
	return stamp == nil || !t.Before(*stamp)
}

// enteredPastDue stamps the start of the grace window on the transition into
// past_due. Retried payment failures keep the original start.
func enteredPastDue(row *subscriptiondomain.Subscription, status subscriptiondomain.Status, at time.Time) *time.Time {
	if status != subscriptiondomain.StatusPastDue || row.Status == subscriptiondomain.StatusPastDue {
		return nil
	}
	return &at
}
