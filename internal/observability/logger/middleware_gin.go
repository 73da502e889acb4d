package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	HeaderRequestID = "X-Request-Id"

	// Gin context keys handlers set so the access log can carry domain fields.
	KeyEffectiveTier    = "effective_tier"
	KeyBillingEventType = "billing_event_type"
)

type RequestLogConfig struct {
	Debug bool
	// Classify maps a handler error to (error_type, error_code).
	Classify func(err error) (string, string)
}

// RequestLogger assigns a request id, then writes one access line per request.
func RequestLogger(cfg RequestLogConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if v := c.GetString(KeyEffectiveTier); v != "" {
			fields = append(fields, zap.String("tier", v))
		}
		if v := c.GetString(KeyBillingEventType); v != "" {
			fields = append(fields, zap.String("event_type", v))
		}

		errorType := ""
		if last := c.Errors.Last(); last != nil && cfg.Classify != nil {
			var code string
			errorType, code = cfg.Classify(last.Err)
			fields = append(fields, zap.String("error_type", errorType), zap.String("error_code", code))
			if cfg.Debug {
				fields = append(fields, zap.String("error", last.Err.Error()))
			}
		}

		if ce := FromContext(c.Request.Context()).Check(accessLevel(route, status, errorType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

// accessLevel keeps probes quiet and raises signature failures, which usually
// mean a misconfigured webhook secret or someone probing the endpoint.
func accessLevel(route string, status int, errorType string) zapcore.Level {
	switch {
	case route == "/health" || route == "/metrics":
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case errorType == "signature_error":
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
