package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/classifieds/internal/billingevent/domain"
	"github.com/smallbiznis/classifieds/internal/billingevent/repository"
	"github.com/smallbiznis/classifieds/internal/clock"
	"github.com/smallbiznis/classifieds/internal/config"
	billingdomain "github.com/smallbiznis/classifieds/internal/providers/billing/domain"
	"github.com/smallbiznis/classifieds/internal/providers/billing/fake"
	"github.com/smallbiznis/classifieds/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/classifieds/internal/subscription/repository"
	"github.com/smallbiznis/classifieds/internal/tier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	provider *fake.Provider
	clock    *clock.FakeClock
	svc      domain.Service
	subRepo  subscriptiondomain.Repository
}

func setup(t *testing.T, locker *ratelimit.WebhookLocker) *fixture {
	t.Helper()
	return setupWithRepo(t, locker, nil)
}

func setupWithRepo(t *testing.T, locker *ratelimit.WebhookLocker, subRepo subscriptiondomain.Repository) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&domain.EventRecord{}, &subscriptiondomain.Subscription{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	if subRepo == nil {
		subRepo = subscriptionrepo.Provide()
	}
	f := &fixture{
		db:       db,
		provider: fake.New(),
		clock:    clock.NewFakeClock(t0),
		subRepo:  subRepo,
	}
	f.svc = NewService(Params{
		DB:               db,
		Log:              zap.NewNop(),
		GenID:            node,
		Clock:            f.clock,
		Repo:             repository.Provide(),
		SubscriptionRepo: f.subRepo,
		Provider:         f.provider,
		Locker:           locker,
	})
	return f
}

func (f *fixture) deliver(t *testing.T, event domain.Event) (domain.Result, error) {
	t.Helper()
	payload, signature := f.provider.Sign(event)
	return f.svc.Process(context.Background(), payload, signature)
}

func (f *fixture) subscription(t *testing.T, userID string) *subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.subRepo.FindByUserID(context.Background(), f.db, userID)
	require.NoError(t, err)
	return sub
}

func (f *fixture) event(t *testing.T, providerEventID string) domain.EventRecord {
	t.Helper()
	var record domain.EventRecord
	require.NoError(t, f.db.Where("provider_event_id = ?", providerEventID).Take(&record).Error)
	return record
}

func (f *fixture) countSubscriptions(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).Count(&n).Error)
	return n
}

var errDiskFull = errors.New("disk I/O error")

// flakyRepo wraps the real repository and fails or hides rows on demand.
type flakyRepo struct {
	subscriptiondomain.Repository
	failWrites bool
	hideRows   bool
}

func (r *flakyRepo) FindByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID string) (*subscriptiondomain.Subscription, error) {
	if r.hideRows {
		return nil, nil
	}
	return r.Repository.FindByUserIDForUpdate(ctx, db, userID)
}

func (r *flakyRepo) Insert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	if r.failWrites {
		return errDiskFull
	}
	return r.Repository.Insert(ctx, db, sub)
}

func (r *flakyRepo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, patch subscriptiondomain.Patch, updatedAt time.Time) error {
	if r.failWrites {
		return errDiskFull
	}
	return r.Repository.Update(ctx, db, id, patch, updatedAt)
}

func env(id, eventType string, created time.Time) domain.Envelope {
	return domain.Envelope{Provider: "fake", ID: id, Type: eventType, Created: created}
}

func at(t time.Time) *time.Time { return &t }

func snapshot(userID, tierName string, status subscriptiondomain.Status, periodEnd time.Time) domain.SubscriptionSnapshot {
	meta := map[string]string{}
	if userID != "" {
		meta[domain.MetadataUserID] = userID
	}
	if tierName != "" {
		meta[domain.MetadataTier] = tierName
	}
	return domain.SubscriptionSnapshot{
		SubscriptionRef: "sub_1",
		CustomerRef:     "cus_1",
		Status:          status,
		PeriodStart:     at(periodEnd.AddDate(0, -1, 0)),
		PeriodEnd:       at(periodEnd),
		Metadata:        meta,
	}
}

func created(id string, ts time.Time, snap domain.SubscriptionSnapshot) domain.SubscriptionCreated {
	return domain.SubscriptionCreated{Envelope: env(id, "customer.subscription.created", ts), Subscription: snap}
}

func updated(id string, ts time.Time, snap domain.SubscriptionSnapshot) domain.SubscriptionUpdated {
	return domain.SubscriptionUpdated{Envelope: env(id, "customer.subscription.updated", ts), Subscription: snap}
}

func invoice(ref string, periodEnd time.Time) domain.InvoiceSnapshot {
	return domain.InvoiceSnapshot{
		InvoiceRef:      "in_1",
		SubscriptionRef: ref,
		PeriodStart:     at(periodEnd.AddDate(0, -1, 0)),
		PeriodEnd:       at(periodEnd),
	}
}

func TestCheckoutCompletionCreatesPaidSubscription(t *testing.T) {
	f := setup(t, nil)
	periodEnd := t0.AddDate(0, 1, 0)

	res, err := f.deliver(t, created("evt_1", t0, snapshot("user-1", "basic", subscriptiondomain.StatusActive, periodEnd)))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)
	assert.Equal(t, "user-1", res.UserID)

	sub := f.subscription(t, "user-1")
	require.NotNil(t, sub)
	assert.Equal(t, tier.Basic, sub.Tier)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
	assert.Equal(t, "sub_1", sub.BillingSubscriptionRef)
	assert.Equal(t, "cus_1", sub.BillingCustomerRef)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(periodEnd))
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	f := setup(t, nil)
	event := created("evt_1", t0, snapshot("user-1", "basic", subscriptiondomain.StatusActive, t0.AddDate(0, 1, 0)))

	first, err := f.deliver(t, event)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, first.Outcome)
	before := f.subscription(t, "user-1")

	second, err := f.deliver(t, event)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, second.Outcome)
	assert.Equal(t, "user-1", second.UserID)

	assert.Equal(t, int64(1), f.countSubscriptions(t))
	after := f.subscription(t, "user-1")
	assert.Equal(t, before.Tier, after.Tier)
	assert.Equal(t, before.Status, after.Status)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))

	var events int64
	require.NoError(t, f.db.Model(&domain.EventRecord{}).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestOutOfOrderUpdateDoesNotRegressPeriod(t *testing.T) {
	f := setup(t, nil)
	p1 := t0.AddDate(0, 1, 0)
	p2 := t0.AddDate(0, 2, 0)

	_, err := f.deliver(t, created("evt_1", t0, snapshot("user-1", "basic", subscriptiondomain.StatusActive, p1)))
	require.NoError(t, err)

	// The renewal (p2) is emitted after the earlier update (p1) but delivered first.
	_, err = f.deliver(t, updated("evt_3", t0.Add(2*time.Hour), snapshot("user-1", "basic", subscriptiondomain.StatusActive, p2)))
	require.NoError(t, err)

	res, err := f.deliver(t, updated("evt_2", t0.Add(time.Hour), snapshot("user-1", "basic", subscriptiondomain.StatusActive, p1)))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStale, res.Outcome)

	sub := f.subscription(t, "user-1")
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(p2), "period end regressed to %s", sub.CurrentPeriodEnd)
}

func TestTierChangeFromMetadata(t *testing.T) {
	f := setup(t, nil)
	periodEnd := t0.AddDate(0, 1, 0)

	_, err := f.deliver(t, created("evt_1", t0, snapshot("user-1", "basic", subscriptiondomain.StatusActive, periodEnd)))
	require.NoError(t, err)
	_, err = f.deliver(t, updated("evt_2", t0.Add(time.Hour), snapshot("user-1", "pro", subscriptiondomain.StatusActive, periodEnd)))
	require.NoError(t, err)

	assert.Equal(t, tier.Pro, f.subscription(t, "user-1").Tier)
}

func TestTamperedPayloadDoesNotMutateState(t *testing.T) {
	f := setup(t, nil)
	payload, signature := f.provider.Sign(created("evt_1", t0, snapshot("user-1", "enterprise", subscriptiondomain.StatusActive, t0.AddDate(0, 1, 0))))
	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-1] = ' '

	_, err := f.svc.Process(context.Background(), tampered, signature)
	require.ErrorIs(t, err, billingdomain.ErrInvalidSignature)

	_, err = f.svc.Process(context.Background(), payload, "")
	require.ErrorIs(t, err, billingdomain.ErrMissingSignature)

	assert.Equal(t, int64(0), f.countSubscriptions(t))
	var events int64
	require.NoError(t, f.db.Model(&domain.EventRecord{}).Count(&events).Error)
	assert.Equal(t, int64(0), events)
}

func TestPaymentFailedMovesToPastDueOnly(t *testing.T) {
	f := setup(t, nil)
	periodEnd := t0.AddDate(0, 1, 0)
	_, err := f.deliver(t, created("evt_1", t0, snapshot("user-1", "pro", subscriptiondomain.StatusActive, periodEnd)))
	require.NoError(t, err)

	res, err := f.deliver(t, domain.InvoicePaymentFailed{
		Envelope: env("evt_2", "invoice.payment_failed", t0.Add(time.Hour)),
		Invoice:  invoice("sub_1", periodEnd.AddDate(0, 1, 0)),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)

	sub := f.subscription(t, "user-1")
	assert.Equal(t, subscriptiondomain.StatusPastDue, sub.Status)
	assert.Equal(t, tier.Pro, sub.Tier)
	assert.True(t, sub.CurrentPeriodEnd.Equal(periodEnd))
}

func TestPaymentSucceededExtendsPeriodForwardOnly(t *testing.T) {
	f := setup(t, nil)
	p1 := t0.AddDate(0, 1, 0)
	p2 := t0.AddDate(0, 2, 0)
	_, err := f.deliver(t, created("evt_1", t0, snapshot("user-1", "basic", subscriptiondomain.StatusPastDue, p1)))
	require.NoError(t, err)

	_, err = f.deliver(t, domain.InvoicePaymentSucceeded{
		Envelope: env("evt_2", "invoice.payment_succeeded", t0.Add(time.Hour)),
		Invoice:  invoice("sub_1", p2),
	})
	require.NoError(t, err)
	sub := f.subscription(t, "user-1")
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
	assert.True(t, sub.CurrentPeriodEnd.Equal(p2))

	// An older invoice for the earlier cycle arrives late.
	_, err = f.deliver(t, domain.InvoicePaymentSucceeded{
		Envelope: env("evt_0", "invoice.payment_succeeded", t0.Add(-time.Hour)),
		Invoice:  invoice("sub_1", p1),
	})
	require.NoError(t, err)
	assert.True(t, f.subscription(t, "user-1").CurrentPeriodEnd.Equal(p2))
}

func TestInvoiceNeverRevivesCanceledSubscription(t *testing.T) {
	f := setup(t, nil)
	periodEnd := t0.AddDate(0, 1, 0)
	_, err := f.deliver(t, created("evt_1", t0, snapshot("user-1", "basic", subscriptiondomain.StatusActive, periodEnd)))
	require.NoError(t, err)
	_, err = f.deliver(t, domain.SubscriptionDeleted{
		Envelope:     env("evt_2", "customer.subscription.deleted", t0.Add(time.Hour)),
		Subscription: snapshot("user-1", "basic", subscriptiondomain.StatusCanceled, periodEnd),
	})
	require.NoError(t, err)

	_, err = f.deliver(t, domain.InvoicePaymentSucceeded{
		Envelope: env("evt_3", "invoice.payment_succeeded", t0.Add(2*time.Hour)),
		Invoice:  invoice("sub_1", periodEnd),
	})
	require.NoError(t, err)

	sub := f.subscription(t, "user-1")
	assert.Equal(t, subscriptiondomain.StatusCanceled, sub.Status)
	assert.Equal(t, tier.Basic, sub.Tier, "deletion keeps the tier for history")
}

func TestDeletedForUnknownUserCreatesCanceledRow(t *testing.T) {
	f := setup(t, nil)
	_, err := f.deliver(t, domain.SubscriptionDeleted{
		Envelope:     env("evt_1", "customer.subscription.deleted", t0),
		Subscription: snapshot("user-9", "", subscriptiondomain.StatusCanceled, t0),
	})
	require.NoError(t, err)

	sub := f.subscription(t, "user-9")
	require.NotNil(t, sub)
	assert.Equal(t, subscriptiondomain.StatusCanceled, sub.Status)
	assert.Equal(t, tier.Free, sub.Tier)
}

func TestOrphanedInvoiceIsRecordedAndRetried(t *testing.T) {
	f := setup(t, nil)
	periodEnd := t0.AddDate(0, 1, 0)
	inv := domain.InvoicePaymentSucceeded{
		Envelope: env("evt_inv", "invoice.payment_succeeded", t0.Add(time.Minute)),
		Invoice:  invoice("sub_1", periodEnd),
	}

	_, err := f.deliver(t, inv)
	require.ErrorIs(t, err, domain.ErrOrphanedInvoice)
	assert.Equal(t, int64(0), f.countSubscriptions(t))

	var record domain.EventRecord
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_inv").Take(&record).Error)
	assert.Nil(t, record.ProcessedAt)
	assert.Equal(t, 1, record.Attempts)
	assert.Contains(t, record.LastError, "orphaned_invoice")

	_, err = f.deliver(t, created("evt_1", t0, snapshot("user-1", "basic", subscriptiondomain.StatusUnpaid, periodEnd)))
	require.NoError(t, err)

	res, err := f.deliver(t, inv)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)
	assert.Equal(t, subscriptiondomain.StatusActive, f.subscription(t, "user-1").Status)

	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_inv").Take(&record).Error)
	assert.NotNil(t, record.ProcessedAt)
	assert.Equal(t, 2, record.Attempts)
	assert.Empty(t, record.LastError)
}

func TestMissingMetadataIsRejectedWithoutWrites(t *testing.T) {
	f := setup(t, nil)

	_, err := f.deliver(t, created("evt_1", t0, snapshot("", "basic", subscriptiondomain.StatusActive, t0)))
	require.ErrorIs(t, err, domain.ErrMissingMetadata)

	_, err = f.deliver(t, created("evt_2", t0, snapshot("user-1", "", subscriptiondomain.StatusActive, t0)))
	require.ErrorIs(t, err, domain.ErrMissingMetadata)

	_, err = f.deliver(t, created("evt_3", t0, snapshot("user-1", "platinum", subscriptiondomain.StatusActive, t0)))
	require.ErrorIs(t, err, domain.ErrMissingMetadata)

	assert.Equal(t, int64(0), f.countSubscriptions(t))
}

func TestUpdateForReplacedSubscriptionIsStale(t *testing.T) {
	f := setup(t, nil)
	periodEnd := t0.AddDate(0, 1, 0)
	_, err := f.deliver(t, created("evt_1", t0, snapshot("user-1", "pro", subscriptiondomain.StatusActive, periodEnd)))
	require.NoError(t, err)

	old := snapshot("user-1", "basic", subscriptiondomain.StatusCanceled, periodEnd)
	old.SubscriptionRef = "sub_old"
	res, err := f.deliver(t, updated("evt_2", t0.Add(time.Hour), old))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStale, res.Outcome)

	sub := f.subscription(t, "user-1")
	assert.Equal(t, tier.Pro, sub.Tier)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
}

func TestUnhandledEventIsIgnored(t *testing.T) {
	f := setup(t, nil)
	res, err := f.deliver(t, domain.Unhandled{Envelope: env("evt_x", "customer.created", t0)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, res.Outcome)

	var events int64
	require.NoError(t, f.db.Model(&domain.EventRecord{}).Count(&events).Error)
	assert.Equal(t, int64(0), events)
}

func TestEventInFlightWhenSubscriptionLocked(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := ratelimit.NewWebhookLocker(client, config.Config{})
	f := setup(t, locker)

	release, ok, err := locker.Acquire(context.Background(), "sub_1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.deliver(t, created("evt_1", t0, snapshot("user-1", "basic", subscriptiondomain.StatusActive, t0)))
	require.True(t, errors.Is(err, domain.ErrEventInFlight), "got %v", err)
	assert.Equal(t, int64(0), f.countSubscriptions(t))

	release(context.Background())
	_, err = f.deliver(t, created("evt_1", t0, snapshot("user-1", "basic", subscriptiondomain.StatusActive, t0)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.countSubscriptions(t))
}

func TestEventLogStoresSignedPayload(t *testing.T) {
	f := setup(t, nil)
	payload, signature := f.provider.Sign(created("evt_1", t0, snapshot("user-1", "basic", subscriptiondomain.StatusActive, t0.AddDate(0, 1, 0))))

	_, err := f.svc.Process(context.Background(), payload, signature)
	require.NoError(t, err)

	record := f.event(t, "evt_1")
	assert.JSONEq(t, string(payload), string(record.Payload))
	assert.NotNil(t, record.ProcessedAt)
	assert.Equal(t, "user-1", record.UserID)
	assert.Equal(t, "sub_1", record.SubscriptionRef)
}

func TestPastDueSinceMarksFirstFailure(t *testing.T) {
	f := setup(t, nil)
	periodEnd := t0.AddDate(0, 1, 0)
	_, err := f.deliver(t, created("evt_1", t0, snapshot("user-1", "pro", subscriptiondomain.StatusActive, periodEnd)))
	require.NoError(t, err)
	assert.Nil(t, f.subscription(t, "user-1").PastDueSince)

	firstFailure := t0.Add(time.Hour)
	_, err = f.deliver(t, domain.InvoicePaymentFailed{
		Envelope: env("evt_2", "invoice.payment_failed", firstFailure),
		Invoice:  invoice("sub_1", periodEnd.AddDate(0, 1, 0)),
	})
	require.NoError(t, err)
	sub := f.subscription(t, "user-1")
	require.NotNil(t, sub.PastDueSince)
	assert.True(t, sub.PastDueSince.Equal(firstFailure))

	// A retried charge that fails again does not restart the grace window.
	_, err = f.deliver(t, domain.InvoicePaymentFailed{
		Envelope: env("evt_3", "invoice.payment_failed", t0.AddDate(0, 0, 3)),
		Invoice:  invoice("sub_1", periodEnd.AddDate(0, 1, 0)),
	})
	require.NoError(t, err)
	sub = f.subscription(t, "user-1")
	assert.True(t, sub.PastDueSince.Equal(firstFailure))
	assert.True(t, sub.StatusEventAt.Equal(t0.AddDate(0, 0, 3)))

	_, err = f.deliver(t, domain.InvoicePaymentSucceeded{
		Envelope: env("evt_4", "invoice.payment_succeeded", t0.AddDate(0, 0, 4)),
		Invoice:  invoice("sub_1", periodEnd.AddDate(0, 1, 0)),
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, f.subscription(t, "user-1").Status)

	secondFailure := t0.AddDate(0, 2, 0)
	_, err = f.deliver(t, updated("evt_5", secondFailure, snapshot("user-1", "pro", subscriptiondomain.StatusPastDue, periodEnd.AddDate(0, 2, 0))))
	require.NoError(t, err)
	sub = f.subscription(t, "user-1")
	assert.Equal(t, subscriptiondomain.StatusPastDue, sub.Status)
	assert.True(t, sub.PastDueSince.Equal(secondFailure))
}

func TestStoreWriteFailureLeavesEventUnprocessed(t *testing.T) {
	repo := &flakyRepo{Repository: subscriptionrepo.Provide()}
	f := setupWithRepo(t, nil, repo)
	periodEnd := t0.AddDate(0, 1, 0)

	_, err := f.deliver(t, created("evt_1", t0, snapshot("user-1", "basic", subscriptiondomain.StatusActive, periodEnd)))
	require.NoError(t, err)
	before := f.subscription(t, "user-1")

	repo.failWrites = true
	f.clock.Advance(time.Minute)
	upgrade := updated("evt_2", t0.Add(time.Hour), snapshot("user-1", "pro", subscriptiondomain.StatusActive, periodEnd))
	_, err = f.deliver(t, upgrade)
	require.ErrorIs(t, err, domain.ErrStoreWrite)

	after := f.subscription(t, "user-1")
	assert.Equal(t, tier.Basic, after.Tier)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
	assert.True(t, before.TierEventAt.Equal(*after.TierEventAt))

	record := f.event(t, "evt_2")
	assert.Nil(t, record.ProcessedAt)
	assert.Equal(t, 1, record.Attempts)
	assert.Contains(t, record.LastError, "store_write_failed")

	repo.failWrites = false
	res, err := f.deliver(t, upgrade)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)
	assert.Equal(t, tier.Pro, f.subscription(t, "user-1").Tier)

	record = f.event(t, "evt_2")
	assert.NotNil(t, record.ProcessedAt)
	assert.Equal(t, 2, record.Attempts)
	assert.Empty(t, record.LastError)
}

func TestConcurrentFirstSubscriptionIsInFlight(t *testing.T) {
	repo := &flakyRepo{Repository: subscriptionrepo.Provide()}
	f := setupWithRepo(t, nil, repo)
	periodEnd := t0.AddDate(0, 1, 0)

	_, err := f.deliver(t, created("evt_1", t0, snapshot("user-1", "basic", subscriptiondomain.StatusActive, periodEnd)))
	require.NoError(t, err)

	// The second delivery read before the first committed, so it also inserts.
	repo.hideRows = true
	second := snapshot("user-1", "pro", subscriptiondomain.StatusActive, periodEnd)
	second.SubscriptionRef = "sub_2"
	_, err = f.deliver(t, created("evt_2", t0.Add(time.Second), second))
	require.ErrorIs(t, err, domain.ErrEventInFlight)

	repo.hideRows = false
	assert.Equal(t, int64(1), f.countSubscriptions(t))
	sub := f.subscription(t, "user-1")
	assert.Equal(t, "sub_1", sub.BillingSubscriptionRef)
	assert.Equal(t, tier.Basic, sub.Tier)

	record := f.event(t, "evt_2")
	assert.Nil(t, record.ProcessedAt)
	assert.Contains(t, record.LastError, "event_in_flight")

	res, err := f.deliver(t, created("evt_2", t0.Add(time.Second), second))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, res.Outcome)
	assert.Equal(t, "sub_2", f.subscription(t, "user-1").BillingSubscriptionRef)
}
