// Package domain resolves what a user may do right now from their stored subscription.
package domain

import (
	"time"

	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
	"github.com/smallbiznis/classifieds/internal/tier"
)

// Entitlement is the resolved view of a user's plan at a point in time.
type Entitlement struct {
	UserID            string                      `json:"user_id"`
	SubscribedTier    tier.Tier                   `json:"subscribed_tier"`
	EffectiveTier     tier.Tier                   `json:"effective_tier"`
	Status            subscriptiondomain.Status   `json:"status,omitempty"`
	CurrentPeriodEnd  *time.Time                  `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool                        `json:"cancel_at_period_end"`
	InGracePeriod     bool                        `json:"in_grace_period"`
	Limits            map[tier.Feature]tier.Limit `json:"limits"`
	UpgradeURL        string                      `json:"upgrade_url"`
}

// Limit returns the resolved limit for feature. Unknown features are disabled.
func (e *Entitlement) Limit(feature tier.Feature) tier.Limit {
	if e == nil {
		return tier.Flag(false)
	}
	if l, ok := e.Limits[feature]; ok {
		return l
	}
	return tier.Flag(false)
}

// EffectiveTier applies the status policy to a stored subscription:
// active and trialing keep the subscribed tier, past_due keeps it for
// grace after the subscription fell past due, unpaid drops to free, and
// canceled keeps it until the period end only when the cancellation was
// scheduled.
func EffectiveTier(sub *subscriptiondomain.Subscription, now time.Time, grace time.Duration) (tier.Tier, bool) {
	if sub == nil {
		return tier.Free, false
	}
	switch sub.Status {
	case subscriptiondomain.StatusActive, subscriptiondomain.StatusTrialing:
		return sub.Tier, false
	case subscriptiondomain.StatusPastDue:
		start := sub.PastDueSince
		if start == nil {
			start = sub.StatusEventAt
		}
		if start == nil {
			start = sub.CurrentPeriodEnd
		}
		if start == nil || !now.After(start.Add(grace)) {
			return sub.Tier, true
		}
		return tier.Free, false
	case subscriptiondomain.StatusCanceled:
		if sub.CancelAtPeriodEnd && sub.CurrentPeriodEnd != nil && now.Before(*sub.CurrentPeriodEnd) {
			return sub.Tier, false
		}
		return tier.Free, false
	default:
		return tier.Free, false
	}
}
