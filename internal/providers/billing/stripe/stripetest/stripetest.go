// Package stripetest builds signed Stripe webhook deliveries for tests.
package stripetest

import (
	"encoding/json"
	"fmt"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

const Secret = "whsec_test_secret"

// Sign returns the payload and the Stripe-Signature header for it.
func Sign(secret string, payload []byte) ([]byte, string) {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

// Subscription describes a customer.subscription.* delivery.
type Subscription struct {
	EventID           string
	Type              string
	Created           time.Time
	SubscriptionID    string
	CustomerID        string
	Status            string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	UserID            string
	Tier              string
}

func (s Subscription) JSON() []byte {
	metadata := map[string]string{}
	if s.UserID != "" {
		metadata["userId"] = s.UserID
	}
	if s.Tier != "" {
		metadata["tier"] = s.Tier
	}
	object := map[string]any{
		"id":                   s.SubscriptionID,
		"object":               "subscription",
		"customer":             s.CustomerID,
		"status":               s.Status,
		"cancel_at_period_end": s.CancelAtPeriodEnd,
		"metadata":             metadata,
		"items": map[string]any{
			"object": "list",
			"data": []map[string]any{{
				"id":                   "si_" + s.SubscriptionID,
				"object":               "subscription_item",
				"current_period_start": unix(s.PeriodStart),
				"current_period_end":   unix(s.PeriodEnd),
			}},
		},
	}
	return envelope(s.EventID, s.Type, s.Created, object)
}

// Invoice describes an invoice.payment_* delivery.
type Invoice struct {
	EventID        string
	Type           string
	Created        time.Time
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

func (i Invoice) JSON() []byte {
	object := map[string]any{
		"id":       i.InvoiceID,
		"object":   "invoice",
		"customer": i.CustomerID,
		"parent": map[string]any{
			"type": "subscription_details",
			"subscription_details": map[string]any{
				"subscription": i.SubscriptionID,
			},
		},
		"lines": map[string]any{
			"object": "list",
			"data": []map[string]any{{
				"id":     "il_" + i.InvoiceID,
				"object": "line_item",
				"period": map[string]any{
					"start": unix(i.PeriodStart),
					"end":   unix(i.PeriodEnd),
				},
			}},
		},
	}
	return envelope(i.EventID, i.Type, i.Created, object)
}

func envelope(id, eventType string, created time.Time, object map[string]any) []byte {
	body, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": unix(created),
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		panic(fmt.Sprintf("marshal event: %v", err))
	}
	return body
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
