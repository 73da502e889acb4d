package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyFailureReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: FailureReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: FailureReasonDBLockTimeout},
		{name: "serialization_failure", err: fmt.Errorf("apply: %w", &pgconn.PgError{Code: "40001"}), want: FailureReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: FailureReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: FailureReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyFailureReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObserveWebhook(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewBillingMetrics(registry, Config{ServiceName: "classifieds", Environment: "test"})

	m.ObserveWebhook("invoice.payment_failed", "applied", 20*time.Millisecond)
	m.ObserveWebhook("invoice.payment_failed", "applied", 30*time.Millisecond)
	m.ObserveWebhook("", "rejected", time.Millisecond)

	if got := testutil.ToFloat64(m.webhookDeliveries.WithLabelValues("invoice.payment_failed", "applied")); got != 2 {
		t.Fatalf("expected 2 deliveries, got %v", got)
	}
	if got := testutil.ToFloat64(m.webhookDeliveries.WithLabelValues("unknown", "rejected")); got != 1 {
		t.Fatalf("expected 1 rejected delivery, got %v", got)
	}
}

func TestIncEntitlementDenied(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewBillingMetrics(registry, Config{})

	m.IncEntitlementDenied("listings", "free")

	if got := testutil.ToFloat64(m.entitlementDenials.WithLabelValues("listings", "free")); got != 1 {
		t.Fatalf("expected 1 denial, got %v", got)
	}
}
