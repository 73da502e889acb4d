package stripe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	billingeventdomain "github.com/smallbiznis/classifieds/internal/billingevent/domain"
	billingdomain "github.com/smallbiznis/classifieds/internal/providers/billing/domain"
	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
	stripelib "github.com/stripe/stripe-go/v82"
)

// expandableID accepts either an id string or an expanded object with an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type subscriptionObject struct {
	ID                 string            `json:"id"`
	Object             string            `json:"object"`
	Customer           expandableID      `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type invoiceObject struct {
	ID           string       `json:"id"`
	Object       string       `json:"object"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	PeriodStart int64 `json:"period_start"`
	PeriodEnd   int64 `json:"period_end"`
	Lines       struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func decodeEvent(event stripelib.Event) (billingeventdomain.Event, error) {
	if strings.TrimSpace(event.ID) == "" {
		return nil, fmt.Errorf("%w: event id is empty", billingdomain.ErrInvalidPayload)
	}
	if event.Created <= 0 {
		return nil, fmt.Errorf("%w: event %s has no created timestamp", billingdomain.ErrInvalidPayload, event.ID)
	}

	env := billingeventdomain.Envelope{
		Provider: ProviderName,
		ID:       event.ID,
		Type:     string(event.Type),
		Created:  time.Unix(event.Created, 0).UTC(),
	}

	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	switch string(event.Type) {
	case "customer.subscription.created":
		snap, err := decodeSubscription(env, raw)
		if err != nil {
			return nil, err
		}
		return billingeventdomain.SubscriptionCreated{Envelope: env, Subscription: snap}, nil
	case "customer.subscription.updated":
		snap, err := decodeSubscription(env, raw)
		if err != nil {
			return nil, err
		}
		return billingeventdomain.SubscriptionUpdated{Envelope: env, Subscription: snap}, nil
	case "customer.subscription.deleted":
		snap, err := decodeSubscription(env, raw)
		if err != nil {
			return nil, err
		}
		return billingeventdomain.SubscriptionDeleted{Envelope: env, Subscription: snap}, nil
	case "invoice.payment_succeeded", "invoice.paid":
		inv, err := decodeInvoice(env, raw)
		if err != nil {
			return nil, err
		}
		if inv.SubscriptionRef == "" {
			return billingeventdomain.Unhandled{Envelope: env}, nil
		}
		return billingeventdomain.InvoicePaymentSucceeded{Envelope: env, Invoice: inv}, nil
	case "invoice.payment_failed":
		inv, err := decodeInvoice(env, raw)
		if err != nil {
			return nil, err
		}
		if inv.SubscriptionRef == "" {
			return billingeventdomain.Unhandled{Envelope: env}, nil
		}
		return billingeventdomain.InvoicePaymentFailed{Envelope: env, Invoice: inv}, nil
	default:
		return billingeventdomain.Unhandled{Envelope: env}, nil
	}
}

func decodeSubscription(env billingeventdomain.Envelope, raw json.RawMessage) (billingeventdomain.SubscriptionSnapshot, error) {
	var obj subscriptionObject
	if len(raw) == 0 {
		return billingeventdomain.SubscriptionSnapshot{}, fmt.Errorf("%w: %s has no data object", billingdomain.ErrInvalidPayload, env.Type)
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return billingeventdomain.SubscriptionSnapshot{}, fmt.Errorf("%w: decode subscription: %v", billingdomain.ErrInvalidPayload, err)
	}
	if obj.Object != "" && obj.Object != "subscription" {
		return billingeventdomain.SubscriptionSnapshot{}, fmt.Errorf("%w: %s carries a %q object", billingdomain.ErrInvalidPayload, env.Type, obj.Object)
	}
	if strings.TrimSpace(obj.ID) == "" {
		return billingeventdomain.SubscriptionSnapshot{}, fmt.Errorf("%w: subscription id is empty", billingdomain.ErrInvalidPayload)
	}
	status, ok := mapStatus(obj.Status)
	if !ok {
		return billingeventdomain.SubscriptionSnapshot{}, fmt.Errorf("%w: unknown subscription status %q", billingdomain.ErrInvalidPayload, obj.Status)
	}

	// Since the 2025-03-31 API version the period lives on the subscription items.
	start, end := obj.CurrentPeriodStart, obj.CurrentPeriodEnd
	if start == 0 && end == 0 && len(obj.Items.Data) > 0 {
		start = obj.Items.Data[0].CurrentPeriodStart
		end = obj.Items.Data[0].CurrentPeriodEnd
	}

	return billingeventdomain.SubscriptionSnapshot{
		SubscriptionRef:   strings.TrimSpace(obj.ID),
		CustomerRef:       strings.TrimSpace(string(obj.Customer)),
		Status:            status,
		PeriodStart:       epoch(start),
		PeriodEnd:         epoch(end),
		CancelAtPeriodEnd: obj.CancelAtPeriodEnd,
		Metadata:          obj.Metadata,
	}, nil
}

func decodeInvoice(env billingeventdomain.Envelope, raw json.RawMessage) (billingeventdomain.InvoiceSnapshot, error) {
	var obj invoiceObject
	if len(raw) == 0 {
		return billingeventdomain.InvoiceSnapshot{}, fmt.Errorf("%w: %s has no data object", billingdomain.ErrInvalidPayload, env.Type)
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return billingeventdomain.InvoiceSnapshot{}, fmt.Errorf("%w: decode invoice: %v", billingdomain.ErrInvalidPayload, err)
	}
	if obj.Object != "" && obj.Object != "invoice" {
		return billingeventdomain.InvoiceSnapshot{}, fmt.Errorf("%w: %s carries a %q object", billingdomain.ErrInvalidPayload, env.Type, obj.Object)
	}
	if strings.TrimSpace(obj.ID) == "" {
		return billingeventdomain.InvoiceSnapshot{}, fmt.Errorf("%w: invoice id is empty", billingdomain.ErrInvalidPayload)
	}

	subRef := strings.TrimSpace(string(obj.Subscription))
	if subRef == "" && obj.Parent != nil && obj.Parent.SubscriptionDetails != nil {
		subRef = strings.TrimSpace(string(obj.Parent.SubscriptionDetails.Subscription))
	}

	// The line period is the service period being paid for; the invoice
	// period_start/period_end can point at the previous cycle on renewals.
	start, end := obj.PeriodStart, obj.PeriodEnd
	if len(obj.Lines.Data) > 0 && obj.Lines.Data[0].Period.End > 0 {
		start = obj.Lines.Data[0].Period.Start
		end = obj.Lines.Data[0].Period.End
	}

	return billingeventdomain.InvoiceSnapshot{
		InvoiceRef:      strings.TrimSpace(obj.ID),
		SubscriptionRef: subRef,
		CustomerRef:     strings.TrimSpace(string(obj.Customer)),
		PeriodStart:     epoch(start),
		PeriodEnd:       epoch(end),
	}, nil
}

// mapStatus folds Stripe-only statuses into the stored set.
func mapStatus(raw string) (subscriptiondomain.Status, bool) {
	if status, ok := subscriptiondomain.ParseStatus(raw); ok {
		return status, true
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "incomplete", "paused":
		return subscriptiondomain.StatusUnpaid, true
	case "incomplete_expired":
		return subscriptiondomain.StatusCanceled, true
	default:
		return "", false
	}
}

func epoch(seconds int64) *time.Time {
	if seconds <= 0 {
		return nil
	}
	t := time.Unix(seconds, 0).UTC()
	return &t
}
