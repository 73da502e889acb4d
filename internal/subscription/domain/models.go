// Package domain contains the persistence model for a user's subscription.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/classifieds/internal/tier"
)

// Status represents lifecycle states reported by the billing provider.
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusUnpaid   Status = "unpaid"
	StatusCanceled Status = "canceled"
)

func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusUnpaid, StatusCanceled:
		return s, true
	default:
		return "", false
	}
}

// Subscription is the single billing record of a user. A user without a row is on the free tier.
//
// Field groups are stamped with the provider timestamp of the event that last wrote them
// so out-of-order deliveries cannot overwrite newer state.
type Subscription struct {
	ID                     snowflake.ID `gorm:"primaryKey"`
	UserID                 string       `gorm:"type:text;not null;uniqueIndex:ux_subscriptions_user_id"`
	Tier                   tier.Tier    `gorm:"type:text;not null"`
	Status                 Status       `gorm:"type:text;not null"`
	CurrentPeriodStart     *time.Time   `gorm:""`
	CurrentPeriodEnd       *time.Time   `gorm:""`
	CancelAtPeriodEnd      bool         `gorm:"not null;default:false"`
	BillingCustomerRef     string       `gorm:"type:text;not null;default:'';index"`
	BillingSubscriptionRef string       `gorm:"type:text;not null;default:'';uniqueIndex:ux_subscriptions_billing_subscription_ref,where:billing_subscription_ref <> ''"`
	TierEventAt            *time.Time   `gorm:""`
	StatusEventAt          *time.Time   `gorm:""`
	PeriodEventAt          *time.Time   `gorm:""`
	PastDueSince           *time.Time   `gorm:""`
	CreatedAt              time.Time    `gorm:"not null"`
	UpdatedAt              time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// HasBillingRelationship reports whether the provider knows about this subscription.
func (s *Subscription) HasBillingRelationship() bool {
	return s != nil && strings.TrimSpace(s.BillingSubscriptionRef) != ""
}

// Patch lists the columns an event is authoritative for. Nil fields are left untouched.
type Patch struct {
	Tier                   *tier.Tier
	Status                 *Status
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      *bool
	BillingCustomerRef     *string
	BillingSubscriptionRef *string
	TierEventAt            *time.Time
	StatusEventAt          *time.Time
	PeriodEventAt          *time.Time
	PastDueSince           *time.Time
}

func (p Patch) Empty() bool {
	return p.Tier == nil &&
		p.Status == nil &&
		p.CurrentPeriodStart == nil &&
		p.CurrentPeriodEnd == nil &&
		p.CancelAtPeriodEnd == nil &&
		p.BillingCustomerRef == nil &&
		p.BillingSubscriptionRef == nil &&
		p.TierEventAt == nil &&
		p.StatusEventAt == nil &&
		p.PeriodEventAt == nil &&
		p.PastDueSince == nil
}

// Columns maps the set fields to their column names.
func (p Patch) Columns() map[string]any {
	cols := map[string]any{}
	if p.Tier != nil {
		cols["tier"] = *p.Tier
	}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.CurrentPeriodStart != nil {
		cols["current_period_start"] = p.CurrentPeriodStart.UTC()
	}
	if p.CurrentPeriodEnd != nil {
		cols["current_period_end"] = p.CurrentPeriodEnd.UTC()
	}
	if p.CancelAtPeriodEnd != nil {
		cols["cancel_at_period_end"] = *p.CancelAtPeriodEnd
	}
	if p.BillingCustomerRef != nil {
		cols["billing_customer_ref"] = *p.BillingCustomerRef
	}
	if p.BillingSubscriptionRef != nil {
		cols["billing_subscription_ref"] = *p.BillingSubscriptionRef
	}
	if p.TierEventAt != nil {
		cols["tier_event_at"] = p.TierEventAt.UTC()
	}
	if p.StatusEventAt != nil {
		cols["status_event_at"] = p.StatusEventAt.UTC()
	}
	if p.PeriodEventAt != nil {
		cols["period_event_at"] = p.PeriodEventAt.UTC()
	}
	if p.PastDueSince != nil {
		cols["past_due_since"] = p.PastDueSince.UTC()
	}
	return cols
}
