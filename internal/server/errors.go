package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingeventdomain "github.com/smallbiznis/classifieds/internal/billingevent/domain"
	entitlementdomain "github.com/smallbiznis/classifieds/internal/entitlement/domain"
	listingdomain "github.com/smallbiznis/classifieds/internal/listing/domain"
	billingdomain "github.com/smallbiznis/classifieds/internal/providers/billing/domain"
	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
	"github.com/smallbiznis/classifieds/internal/tier"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not_found")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RequestError is a 400 that names the offending fields.
type RequestError struct {
	Fields []FieldError
}

func (e *RequestError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid_request"
	}
	return e.Fields[0].Code
}

func fieldError(field, code, message string) error {
	return &RequestError{Fields: []FieldError{{Field: field, Code: code, Message: message}}}
}

func badRequest() error {
	return fieldError("body", "invalid_request", "request body could not be read")
}

type errorPayload struct {
	Type       string       `json:"type"`
	Message    string       `json:"message"`
	Errors     []FieldError `json:"errors,omitempty"`
	UpgradeURL string       `json:"upgrade_url,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware renders the last handler error unless a response was already written.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		status, payload := mapError(last.Err)
		// Browsers hitting the listing cap go straight to the upgrade page.
		if status == http.StatusPaymentRequired && payload.UpgradeURL != "" && wantsHTML(c) {
			c.Redirect(http.StatusSeeOther, payload.UpgradeURL)
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func wantsHTML(c *gin.Context) bool {
	accept := strings.ToLower(c.GetHeader("Accept"))
	html := strings.Index(accept, "text/html")
	if html < 0 {
		return false
	}
	json := strings.Index(accept, "application/json")
	return json < 0 || html < json
}

// errorRule maps one family of sentinel errors to a response. The first
// matching rule wins, so narrower rules come first.
type errorRule struct {
	targets []error
	status  int
	typ     string // empty: use the matched sentinel's code
	message string
}

var errorRules = []errorRule{
	{
		targets: []error{billingdomain.ErrMissingSignature, billingdomain.ErrInvalidSignature},
		status:  http.StatusBadRequest, typ: "signature_error",
		message: "webhook signature verification failed",
	},
	{
		targets: []error{billingdomain.ErrInvalidPayload},
		status:  http.StatusBadRequest, typ: "invalid_payload",
		message: "webhook payload is not a supported event",
	},
	{
		targets: []error{billingeventdomain.ErrMissingMetadata},
		status:  http.StatusBadRequest, typ: "missing_metadata",
		message: "subscription event is missing userId or tier metadata",
	},
	{
		targets: []error{billingeventdomain.ErrOrphanedInvoice},
		status:  http.StatusUnprocessableEntity, typ: "orphaned_invoice",
		message: "invoice references an unknown subscription",
	},
	{
		targets: []error{billingeventdomain.ErrEventInFlight},
		status:  http.StatusConflict, typ: "event_in_flight",
		message: "another event for this subscription is being processed",
	},
	{
		targets: []error{billingeventdomain.ErrStoreWrite},
		status:  http.StatusInternalServerError, typ: "store_write_failed",
		message: "failed to persist billing event",
	},
	{
		targets: []error{entitlementdomain.ErrEntitlementUnavailable},
		status:  http.StatusServiceUnavailable, typ: "entitlement_unavailable",
		message: "entitlements are temporarily unavailable",
	},
	{
		targets: []error{listingdomain.ErrFeaturedNotAllowed, listingdomain.ErrImageLimitReached},
		status:  http.StatusForbidden,
		message: "your plan does not include this",
	},
	{
		targets: []error{
			subscriptiondomain.ErrAlreadySubscribed,
			subscriptiondomain.ErrNoBillingRelationship,
			subscriptiondomain.ErrSubscriptionCanceled,
			subscriptiondomain.ErrTierUnchanged,
			listingdomain.ErrListingNotActive,
		},
		status:  http.StatusConflict,
		message: "the subscription or listing is not in a state that allows this",
	},
	{
		targets: []error{subscriptiondomain.ErrBillingProviderFailure},
		status:  http.StatusBadGateway, typ: "billing_provider_failure",
		message: "billing provider request failed",
	},
	{
		targets: []error{ErrUnauthorized},
		status:  http.StatusUnauthorized, typ: "unauthorized",
		message: "a valid bearer token is required",
	},
	{
		targets: []error{ErrRateLimited},
		status:  http.StatusTooManyRequests, typ: "rate_limited",
		message: "too many requests",
	},
	{
		targets: []error{ErrNotFound, listingdomain.ErrNotFound},
		status:  http.StatusNotFound, typ: "not_found",
		message: "not found",
	},
	{
		targets: []error{ErrServiceUnavailable},
		status:  http.StatusServiceUnavailable, typ: "service_unavailable",
		message: "service unavailable",
	},
}

// Domain validation sentinels and the request field each one refers to.
var fieldOf = []struct {
	target error
	field  string
}{
	{subscriptiondomain.ErrInvalidUser, "user"},
	{subscriptiondomain.ErrInvalidTier, "tier"},
	{subscriptiondomain.ErrTierNotPurchasable, "tier"},
	{entitlementdomain.ErrInvalidUser, "user"},
	{listingdomain.ErrInvalidUser, "user"},
	{listingdomain.ErrInvalidTitle, "title"},
	{listingdomain.ErrInvalidPrice, "price_cents"},
	{listingdomain.ErrInvalidImageURL, "url"},
}

func mapError(err error) (int, errorPayload) {
	internal := errorPayload{Type: "internal_error", Message: "internal server error"}
	if err == nil {
		return http.StatusInternalServerError, internal
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: "validation error", Errors: reqErr.Fields}
	}
	for _, f := range fieldOf {
		if errors.Is(err, f.target) {
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Message: "validation error",
				Errors:  []FieldError{{Field: f.field, Code: f.target.Error(), Message: err.Error()}},
			}
		}
	}

	var denial *entitlementdomain.DenialError
	if errors.As(err, &denial) {
		status := http.StatusForbidden
		if errors.Is(denial, entitlementdomain.ErrListingLimitReached) {
			status = http.StatusPaymentRequired
		}
		return status, errorPayload{Type: denial.Err.Error(), Message: denial.Message, UpgradeURL: denial.UpgradeURL}
	}

	var cfgErr *tier.ConfigurationError
	if errors.As(err, &cfgErr) {
		return http.StatusInternalServerError, errorPayload{Type: "configuration_error", Message: internal.Message}
	}

	for _, rule := range errorRules {
		for _, target := range rule.targets {
			if !errors.Is(err, target) {
				continue
			}
			typ := rule.typ
			if typ == "" {
				typ = target.Error()
			}
			return rule.status, errorPayload{Type: typ, Message: rule.message}
		}
	}
	return http.StatusInternalServerError, internal
}

// classifyErrorForLog returns the payload type and the most specific code for access logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}
