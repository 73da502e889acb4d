package domain

import (
	"testing"
	"time"

	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
	"github.com/smallbiznis/classifieds/internal/tier"
)

func TestEffectiveTier(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	grace := 7 * 24 * time.Hour
	past := now.Add(-48 * time.Hour)
	longPast := now.Add(-10 * 24 * time.Hour)
	future := now.Add(48 * time.Hour)
	renewed := now.Add(20 * 24 * time.Hour)

	tests := []struct {
		name      string
		sub       *subscriptiondomain.Subscription
		want      tier.Tier
		wantGrace bool
	}{
		{name: "no row", sub: nil, want: tier.Free},
		{name: "active", sub: &subscriptiondomain.Subscription{Tier: tier.Pro, Status: subscriptiondomain.StatusActive}, want: tier.Pro},
		{name: "trialing", sub: &subscriptiondomain.Subscription{Tier: tier.Basic, Status: subscriptiondomain.StatusTrialing}, want: tier.Basic},
		{name: "past due within grace", sub: &subscriptiondomain.Subscription{Tier: tier.Basic, Status: subscriptiondomain.StatusPastDue, CurrentPeriodEnd: &past}, want: tier.Basic, wantGrace: true},
		{name: "past due after grace", sub: &subscriptiondomain.Subscription{Tier: tier.Basic, Status: subscriptiondomain.StatusPastDue, CurrentPeriodEnd: &longPast}, want: tier.Free},
		{name: "past due renewal failed within grace", sub: &subscriptiondomain.Subscription{Tier: tier.Pro, Status: subscriptiondomain.StatusPastDue, PastDueSince: &past, CurrentPeriodEnd: &renewed}, want: tier.Pro, wantGrace: true},
		{name: "past due renewal failed after grace", sub: &subscriptiondomain.Subscription{Tier: tier.Pro, Status: subscriptiondomain.StatusPastDue, PastDueSince: &longPast, CurrentPeriodEnd: &renewed}, want: tier.Free},
		{name: "past due falls back to status stamp", sub: &subscriptiondomain.Subscription{Tier: tier.Pro, Status: subscriptiondomain.StatusPastDue, StatusEventAt: &longPast, CurrentPeriodEnd: &renewed}, want: tier.Free},
		{name: "unpaid", sub: &subscriptiondomain.Subscription{Tier: tier.Pro, Status: subscriptiondomain.StatusUnpaid, CurrentPeriodEnd: &future}, want: tier.Free},
		{name: "canceled at period end before end", sub: &subscriptiondomain.Subscription{Tier: tier.Pro, Status: subscriptiondomain.StatusCanceled, CancelAtPeriodEnd: true, CurrentPeriodEnd: &future}, want: tier.Pro},
		{name: "canceled at period end after end", sub: &subscriptiondomain.Subscription{Tier: tier.Pro, Status: subscriptiondomain.StatusCanceled, CancelAtPeriodEnd: true, CurrentPeriodEnd: &past}, want: tier.Free},
		{name: "canceled immediately", sub: &subscriptiondomain.Subscription{Tier: tier.Pro, Status: subscriptiondomain.StatusCanceled, CurrentPeriodEnd: &future}, want: tier.Free},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, inGrace := EffectiveTier(tt.sub, now, grace)
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			if inGrace != tt.wantGrace {
				t.Fatalf("expected grace %v, got %v", tt.wantGrace, inGrace)
			}
		})
	}
}
