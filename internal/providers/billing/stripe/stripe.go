package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	billingeventdomain "github.com/smallbiznis/classifieds/internal/billingevent/domain"
	"github.com/smallbiznis/classifieds/internal/config"
	billingdomain "github.com/smallbiznis/classifieds/internal/providers/billing/domain"
	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const ProviderName = "stripe"

// api holds the Stripe calls the adapter makes so tests can replace them.
type api struct {
	newSession         func(*stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	getSubscription    func(string, *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	updateSubscription func(string, *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	cancelSubscription func(string, *stripelib.SubscriptionCancelParams) (*stripelib.Subscription, error)
}

func defaultAPI() api {
	return api{
		newSession:         stripesession.New,
		getSubscription:    subscription.Get,
		updateSubscription: subscription.Update,
		cancelSubscription: subscription.Cancel,
	}
}

type Adapter struct {
	secretKey     string
	webhookSecret string
	log           *zap.Logger
	api           api
}

func New(cfg config.Config, log *zap.Logger) *Adapter {
	secretKey := strings.TrimSpace(cfg.Stripe.SecretKey)
	if secretKey != "" {
		stripelib.Key = secretKey
	}
	return &Adapter{
		secretKey:     secretKey,
		webhookSecret: strings.TrimSpace(cfg.Stripe.WebhookSecret),
		log:           log.Named("billing.stripe"),
		api:           defaultAPI(),
	}
}

func (a *Adapter) Name() string { return ProviderName }

// VerifyWebhook checks the Stripe-Signature header before decoding anything.
func (a *Adapter) VerifyWebhook(payload []byte, signature string) (billingeventdomain.Event, error) {
	if a.webhookSecret == "" {
		return nil, billingdomain.ErrNotConfigured
	}
	if strings.TrimSpace(signature) == "" {
		return nil, billingdomain.ErrMissingSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", billingdomain.ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", billingdomain.ErrInvalidPayload, err)
	}

	return decodeEvent(event)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, req billingdomain.CheckoutSessionRequest) (billingdomain.CheckoutSession, error) {
	if a.secretKey == "" {
		return billingdomain.CheckoutSession{}, billingdomain.ErrNotConfigured
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:       stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL: stripelib.String(req.SuccessURL),
		CancelURL:  stripelib.String(req.CancelURL),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(req.PriceRef),
				Quantity: stripelib.Int64(1),
			},
		},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: copyMetadata(req.Metadata),
		},
		Metadata: copyMetadata(req.Metadata),
	}
	if ref := strings.TrimSpace(req.ClientReferenceID); ref != "" {
		params.ClientReferenceID = stripelib.String(ref)
	}
	if customer := strings.TrimSpace(req.CustomerRef); customer != "" {
		params.Customer = stripelib.String(customer)
	} else if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripelib.String(email)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	params.Context = ctx

	session, err := a.api.newSession(params)
	if err != nil {
		return billingdomain.CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return billingdomain.CheckoutSession{}, errors.New("create checkout session: empty session url")
	}
	return billingdomain.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// UpdateSubscription swaps the price of the subscription's single item.
func (a *Adapter) UpdateSubscription(ctx context.Context, req billingdomain.UpdateSubscriptionRequest) error {
	if a.secretKey == "" {
		return billingdomain.ErrNotConfigured
	}

	getParams := &stripelib.SubscriptionParams{}
	getParams.Context = ctx
	current, err := a.api.getSubscription(req.SubscriptionRef, getParams)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if current == nil || current.Items == nil || len(current.Items.Data) == 0 {
		return fmt.Errorf("subscription %s has no items", req.SubscriptionRef)
	}

	params := &stripelib.SubscriptionParams{
		Items: []*stripelib.SubscriptionItemsParams{
			{
				ID:    stripelib.String(current.Items.Data[0].ID),
				Price: stripelib.String(req.PriceRef),
			},
		},
		ProrationBehavior: stripelib.String("create_prorations"),
		Metadata:          copyMetadata(req.Metadata),
	}
	params.Context = ctx

	if _, err := a.api.updateSubscription(req.SubscriptionRef, params); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, req billingdomain.CancelSubscriptionRequest) error {
	if a.secretKey == "" {
		return billingdomain.ErrNotConfigured
	}

	if req.AtPeriodEnd {
		params := &stripelib.SubscriptionParams{
			CancelAtPeriodEnd: stripelib.Bool(true),
		}
		params.Context = ctx
		if _, err := a.api.updateSubscription(req.SubscriptionRef, params); err != nil {
			return fmt.Errorf("schedule subscription cancel: %w", err)
		}
		return nil
	}

	params := &stripelib.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := a.api.cancelSubscription(req.SubscriptionRef, params); err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	return nil
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ billingdomain.Provider = (*Adapter)(nil)
