package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/classifieds/internal/entitlement/domain"
	subscriptiondomain "github.com/smallbiznis/classifieds/internal/subscription/domain"
	"github.com/smallbiznis/classifieds/internal/tier"
)

type subscriptionResponse struct {
	Subscription *subscriptionView              `json:"subscription"`
	Entitlement  *entitlementdomain.Entitlement `json:"entitlement"`
}

type subscriptionView struct {
	Tier              tier.Tier                 `json:"tier"`
	Status            subscriptiondomain.Status `json:"status"`
	CurrentPeriodEnd  *time.Time                `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool                      `json:"cancel_at_period_end"`
	HasBilling        bool                      `json:"has_billing"`
}

// GetSubscription returns the stored row (null for free users) and the resolved entitlements.
func (s *Server) GetSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	userID := userIDFrom(c)

	sub, err := s.subscriptionSvc.Get(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ent, err := s.entitlementSvc.Resolve(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := subscriptionResponse{Entitlement: ent}
	if sub != nil {
		view := &subscriptionView{
			Tier:              sub.Tier,
			Status:            sub.Status,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			HasBilling:        sub.HasBillingRelationship(),
		}
		if sub.CurrentPeriodEnd != nil {
			end := sub.CurrentPeriodEnd.UTC()
			view.CurrentPeriodEnd = &end
		}
		resp.Subscription = view
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type checkoutRequest struct {
	Tier       string            `json:"tier"`
	Email      string            `json:"email"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	Metadata   map[string]string `json:"metadata"`
}

func (s *Server) CreateCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, badRequest())
		return
	}

	resp, err := s.subscriptionSvc.CreateCheckout(c.Request.Context(), subscriptiondomain.CheckoutRequest{
		UserID:     userIDFrom(c),
		Email:      strings.TrimSpace(req.Email),
		Tier:       tier.Tier(strings.TrimSpace(req.Tier)),
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
		Metadata:   req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type changeTierRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) ChangeTier(c *gin.Context) {
	var req changeTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, badRequest())
		return
	}

	pending, err := s.subscriptionSvc.ChangeTier(c.Request.Context(), subscriptiondomain.ChangeTierRequest{
		UserID: userIDFrom(c),
		Tier:   tier.Tier(strings.TrimSpace(req.Tier)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": pending})
}

type cancelRequest struct {
	AtPeriodEnd *bool `json:"at_period_end"`
}

// CancelSubscription cancels at period end unless at_period_end is explicitly false.
func (s *Server) CancelSubscription(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, badRequest())
			return
		}
	}
	atPeriodEnd := true
	if req.AtPeriodEnd != nil {
		atPeriodEnd = *req.AtPeriodEnd
	}

	pending, err := s.subscriptionSvc.Cancel(c.Request.Context(), subscriptiondomain.CancelRequest{
		UserID:      userIDFrom(c),
		AtPeriodEnd: atPeriodEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": pending})
}
