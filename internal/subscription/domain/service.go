package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/classifieds/internal/tier"
)

type PendingKind string

const (
	PendingCheckout   PendingKind = "checkout"
	PendingTierChange PendingKind = "tier_change"
	PendingCancel     PendingKind = "cancel"
)

// PendingChange describes a change requested from the billing provider that has
// not been confirmed by a webhook yet. It is built from the provider call, never
// from the stored subscription.
type PendingChange struct {
	Kind          PendingKind `json:"kind"`
	RequestedTier tier.Tier   `json:"requested_tier,omitempty"`
	AtPeriodEnd   bool        `json:"at_period_end,omitempty"`
	RequestedAt   time.Time   `json:"requested_at"`
}

type CheckoutRequest struct {
	UserID     string
	Email      string
	Tier       tier.Tier
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type CheckoutResponse struct {
	SessionID   string        `json:"session_id"`
	RedirectURL string        `json:"redirect_url"`
	Pending     PendingChange `json:"pending"`
}

type ChangeTierRequest struct {
	UserID string
	Tier   tier.Tier
}

type CancelRequest struct {
	UserID      string
	AtPeriodEnd bool
}

type Service interface {
	// Get returns the stored subscription or nil when the user has none.
	Get(ctx context.Context, userID string) (*Subscription, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error)
	ChangeTier(ctx context.Context, req ChangeTierRequest) (PendingChange, error)
	Cancel(ctx context.Context, req CancelRequest) (PendingChange, error)
}

var (
	ErrInvalidUser            = errors.New("invalid_user")
	ErrInvalidTier            = errors.New("invalid_tier")
	ErrTierNotPurchasable     = errors.New("tier_not_purchasable")
	ErrTierUnchanged          = errors.New("tier_unchanged")
	ErrAlreadySubscribed      = errors.New("already_subscribed")
	ErrNoBillingRelationship  = errors.New("no_billing_relationship")
	ErrSubscriptionCanceled   = errors.New("subscription_canceled")
	ErrBillingProviderFailure = errors.New("billing_provider_failure")
)
