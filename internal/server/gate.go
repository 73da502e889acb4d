package server

import (
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/classifieds/internal/entitlement/domain"
	obslogger "github.com/smallbiznis/classifieds/internal/observability/logger"
	"github.com/smallbiznis/classifieds/internal/tier"
	"go.uber.org/zap"
)

const contextImageCeilingKey = "image_ceiling"

// RequireListingCapacity denies listing creation once the active-listing limit
// of the caller's effective tier is used up. Two concurrent creations can both
// pass; the limit is an upgrade prompt, not a hard quota.
func (s *Server) RequireListingCapacity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.entitlementSvc.CheckListingCapacity(c.Request.Context(), userIDFrom(c)); err != nil {
			deny(c, err)
			return
		}
		c.Next()
	}
}

// InjectImageCeiling resolves imagesPerListing for the upload handler, which does the counting.
func (s *Server) InjectImageCeiling() gin.HandlerFunc {
	return func(c *gin.Context) {
		ceiling, err := s.entitlementSvc.ImageCeiling(c.Request.Context(), userIDFrom(c))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(contextImageCeilingKey, ceiling)
		c.Next()
	}
}

// deny aborts with a gate error, tagging the access log with the tier that was denied.
func deny(c *gin.Context, err error) {
	var denial *entitlementdomain.DenialError
	if errors.As(err, &denial) {
		c.Set(obslogger.KeyEffectiveTier, string(denial.Tier))
	}
	AbortWithError(c, err)
}

func imageCeilingFrom(c *gin.Context) (tier.Limit, bool) {
	v, ok := c.Get(contextImageCeilingKey)
	if !ok {
		return tier.Limit{}, false
	}
	ceiling, ok := v.(tier.Limit)
	return ceiling, ok
}

// RequireAPIAccess blocks the whole group unless the caller's tier has apiAccess.
func (s *Server) RequireAPIAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.entitlementSvc.CheckAPIAccess(c.Request.Context(), userIDFrom(c)); err != nil {
			deny(c, err)
			return
		}
		c.Next()
	}
}

// APIRateLimit applies the per-user token bucket. Redis errors let the request through.
func (s *Server) APIRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.apiLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := c.FullPath()
		result, err := s.apiLimiter.Allow(ctx, userIDFrom(c))
		if err != nil {
			obslogger.FromContext(ctx).Warn("api rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, "exceeded")
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter)))
			AbortWithError(c, ErrRateLimited)
			return
		}
		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
