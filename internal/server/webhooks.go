package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/classifieds/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	maxWebhookBodyBytes = 1 << 20
	signatureHeader     = "Stripe-Signature"
)

// HandleBillingWebhook feeds a signed provider delivery to the billing event
// processor. Success, duplicate and ignored deliveries all answer 200 with an
// empty body; the provider retries anything else.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.billingMetrics.ObserveWebhook("", "payload_too_large", time.Since(start))
		}
		AbortWithError(c, badRequest())
		return
	}

	result, err := s.billingEventSvc.Process(ctx, payload, strings.TrimSpace(c.GetHeader(signatureHeader)))
	if result.EventType != "" {
		c.Set(obslogger.KeyBillingEventType, result.EventType)
	}
	if err != nil {
		_, mapped := mapError(err)
		s.billingMetrics.ObserveWebhook(result.EventType, mapped.Type, time.Since(start))
		s.billingMetrics.IncWebhookFailure(err)
		AbortWithError(c, err)
		return
	}

	s.billingMetrics.ObserveWebhook(result.EventType, string(result.Outcome), time.Since(start))
	obslogger.FromContext(ctx).Debug("billing webhook handled",
		zap.String("event_id", result.EventID),
		zap.String("event_type", result.EventType),
		zap.String("outcome", string(result.Outcome)),
	)
	c.Status(http.StatusOK)
}
