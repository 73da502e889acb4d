package domain

import (
	"context"
	"errors"

	billingeventdomain "github.com/smallbiznis/classifieds/internal/billingevent/domain"
)

type CheckoutSessionRequest struct {
	CustomerRef       string
	CustomerEmail     string
	PriceRef          string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
	IdempotencyKey    string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type UpdateSubscriptionRequest struct {
	SubscriptionRef string
	PriceRef        string
	Metadata        map[string]string
}

type CancelSubscriptionRequest struct {
	SubscriptionRef string
	AtPeriodEnd     bool
}

// Provider is the external billing system. Only VerifyWebhook feeds local
// subscription state; the other calls request changes that come back as events.
type Provider interface {
	Name() string
	VerifyWebhook(payload []byte, signature string) (billingeventdomain.Event, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	UpdateSubscription(ctx context.Context, req UpdateSubscriptionRequest) error
	CancelSubscription(ctx context.Context, req CancelSubscriptionRequest) error
}

var (
	ErrMissingSignature = errors.New("missing_signature")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrNotConfigured    = errors.New("billing_provider_not_configured")
)
