package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	FailureReasonDeadlineExceeded     = "deadline_exceeded"
	FailureReasonDBLockTimeout        = "db_lock_timeout"
	FailureReasonSerializationFailure = "serialization_failure"
	FailureReasonUniqueViolation      = "unique_violation"
	FailureReasonUnknown              = "unknown"
)

// BillingMetrics are the Prometheus series scraped from /metrics.
type BillingMetrics struct {
	webhookDeliveries  *prometheus.CounterVec
	webhookDuration    *prometheus.HistogramVec
	webhookFailures    *prometheus.CounterVec
	entitlementDenials *prometheus.CounterVec
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the process-wide billing metrics registered on the default registerer.
func Billing(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

// NewBillingMetrics registers the billing series on registerer.
func NewBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	return newBillingMetrics(registerer, cfg)
}

func newBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "classifieds"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	webhookDeliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "classifieds_billing_webhook_deliveries_total",
		Help:        "Billing webhook deliveries by event type and handling status.",
		ConstLabels: constLabels,
	}, []string{"event_type", "status"})
	webhookDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "classifieds_billing_webhook_duration_seconds",
		Help:        "Time from receiving a billing webhook to responding.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"event_type"})
	webhookFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "classifieds_billing_webhook_failures_total",
		Help:        "Billing webhook processing failures by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	entitlementDenials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "classifieds_entitlement_denials_total",
		Help:        "Requests refused because the effective tier does not allow them.",
		ConstLabels: constLabels,
	}, []string{"feature", "tier"})

	registerer.MustRegister(
		webhookDeliveries,
		webhookDuration,
		webhookFailures,
		entitlementDenials,
	)

	return &BillingMetrics{
		webhookDeliveries:  webhookDeliveries,
		webhookDuration:    webhookDuration,
		webhookFailures:    webhookFailures,
		entitlementDenials: entitlementDenials,
	}
}

func (m *BillingMetrics) ObserveWebhook(eventType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	eventType = labelOrUnknown(eventType)
	m.webhookDeliveries.WithLabelValues(eventType, labelOrUnknown(status)).Inc()
	m.webhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *BillingMetrics) IncWebhookFailure(err error) {
	if m == nil {
		return
	}
	m.webhookFailures.WithLabelValues(ClassifyFailureReason(err)).Inc()
}

func (m *BillingMetrics) IncEntitlementDenied(feature, tier string) {
	if m == nil {
		return
	}
	m.entitlementDenials.WithLabelValues(labelOrUnknown(feature), labelOrUnknown(tier)).Inc()
}

func labelOrUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}

// ClassifyFailureReason maps store errors to low-cardinality reasons.
func ClassifyFailureReason(err error) string {
	if err == nil {
		return FailureReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return FailureReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return FailureReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return FailureReasonUniqueViolation
	}
	return FailureReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
