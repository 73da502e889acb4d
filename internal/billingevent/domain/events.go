package domain

import (
	"strings"
	"time"

	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
)

// Kind is the closed set of billing lifecycle events the processor applies.
type Kind string

const (
	KindSubscriptionCreated     Kind = "subscription.created"
	KindSubscriptionUpdated     Kind = "subscription.updated"
	KindSubscriptionDeleted     Kind = "subscription.deleted"
	KindInvoicePaymentSucceeded Kind = "invoice.payment_succeeded"
	KindInvoicePaymentFailed    Kind = "invoice.payment_failed"
	KindUnhandled               Kind = "unhandled"
)

// Metadata keys written on checkout and read back from subscription events.
const (
	MetadataUserID = "userId"
	MetadataTier   = "tier"
)

// Envelope carries what every verified event has in common.
type Envelope struct {
	Provider string
	ID       string
	Type     string
	Created  time.Time
}

func (e Envelope) Meta() Envelope { return e }

func (Envelope) sealed() {}

// Event is implemented only by the variants in this file.
type Event interface {
	Meta() Envelope
	Kind() Kind
	sealed()
}

// SubscriptionSnapshot is the provider's subscription object at event time.
type SubscriptionSnapshot struct {
	SubscriptionRef   string
	CustomerRef       string
	Status            subscriptiondomain.Status
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
	Metadata          map[string]string
}

func (s SubscriptionSnapshot) UserID() string {
	return strings.TrimSpace(s.Metadata[MetadataUserID])
}

func (s SubscriptionSnapshot) TierName() string {
	return strings.TrimSpace(s.Metadata[MetadataTier])
}

// InvoiceSnapshot is the provider's invoice object at event time.
type InvoiceSnapshot struct {
	InvoiceRef      string
	SubscriptionRef string
	CustomerRef     string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
}

type SubscriptionCreated struct {
	Envelope
	Subscription SubscriptionSnapshot
}

func (SubscriptionCreated) Kind() Kind { return KindSubscriptionCreated }

type SubscriptionUpdated struct {
	Envelope
	Subscription SubscriptionSnapshot
}

func (SubscriptionUpdated) Kind() Kind { return KindSubscriptionUpdated }

type SubscriptionDeleted struct {
	Envelope
	Subscription SubscriptionSnapshot
}

func (SubscriptionDeleted) Kind() Kind { return KindSubscriptionDeleted }

type InvoicePaymentSucceeded struct {
	Envelope
	Invoice InvoiceSnapshot
}

func (InvoicePaymentSucceeded) Kind() Kind { return KindInvoicePaymentSucceeded }

type InvoicePaymentFailed struct {
	Envelope
	Invoice InvoiceSnapshot
}

func (InvoicePaymentFailed) Kind() Kind { return KindInvoicePaymentFailed }

// Unhandled is a verified event of a type the processor does not act on.
type Unhandled struct {
	Envelope
}

func (Unhandled) Kind() Kind { return KindUnhandled }

// SubscriptionRefOf returns the provider subscription id an event refers to.
func SubscriptionRefOf(event Event) string {
	switch e := event.(type) {
	case SubscriptionCreated:
		return e.Subscription.SubscriptionRef
	case SubscriptionUpdated:
		return e.Subscription.SubscriptionRef
	case SubscriptionDeleted:
		return e.Subscription.SubscriptionRef
	case InvoicePaymentSucceeded:
		return e.Invoice.SubscriptionRef
	case InvoicePaymentFailed:
		return e.Invoice.SubscriptionRef
	default:
		return ""
	}
}
