// Package fake is an in-memory billing provider that records calls and
// returns configurable results.
package fake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	billingeventdomain "github.com/smallbiznis/classifieds/internal/billingevent/domain"
	billingdomain "github.com/smallbiznis/classifieds/internal/providers/billing/domain"
)

type delivery struct {
	payload []byte
	event   billingeventdomain.Event
}

type Provider struct {
	mu sync.Mutex

	Checkouts []billingdomain.CheckoutSessionRequest
	Updates   []billingdomain.UpdateSubscriptionRequest
	Cancels   []billingdomain.CancelSubscriptionRequest

	// Error fields allow tests to inject failures.
	CheckoutErr error
	UpdateErr   error
	CancelErr   error

	deliveries map[string]delivery
	seq        int
}

func New() *Provider {
	return &Provider{deliveries: make(map[string]delivery)}
}

func (p *Provider) Name() string { return "fake" }

// Sign registers event and returns the payload and signature a webhook
// delivery of it would carry.
func (p *Provider) Sign(event billingeventdomain.Event) ([]byte, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	env := event.Meta()
	payload, err := json.Marshal(map[string]any{
		"id":      env.ID,
		"type":    env.Type,
		"created": env.Created.Unix(),
	})
	if err != nil {
		panic(fmt.Sprintf("fake: marshal event: %v", err))
	}
	p.seq++
	signature := fmt.Sprintf("sig_%d", p.seq)
	p.deliveries[signature] = delivery{payload: payload, event: event}
	return payload, signature
}

func (p *Provider) VerifyWebhook(payload []byte, signature string) (billingeventdomain.Event, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, billingdomain.ErrMissingSignature
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	d, ok := p.deliveries[signature]
	if !ok || !bytes.Equal(d.payload, payload) {
		return nil, billingdomain.ErrInvalidSignature
	}
	return d.event, nil
}

func (p *Provider) CreateCheckoutSession(_ context.Context, req billingdomain.CheckoutSessionRequest) (billingdomain.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.CheckoutErr != nil {
		return billingdomain.CheckoutSession{}, p.CheckoutErr
	}
	p.Checkouts = append(p.Checkouts, req)
	id := fmt.Sprintf("cs_fake_%d", len(p.Checkouts))
	return billingdomain.CheckoutSession{ID: id, URL: "https://checkout.fake/" + id}, nil
}

func (p *Provider) UpdateSubscription(_ context.Context, req billingdomain.UpdateSubscriptionRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.UpdateErr != nil {
		return p.UpdateErr
	}
	p.Updates = append(p.Updates, req)
	return nil
}

func (p *Provider) CancelSubscription(_ context.Context, req billingdomain.CancelSubscriptionRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.CancelErr != nil {
		return p.CancelErr
	}
	p.Cancels = append(p.Cancels, req)
	return nil
}

var _ billingdomain.Provider = (*Provider)(nil)
