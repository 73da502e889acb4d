package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListTiers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data":    s.catalog.Plans(),
		"version": s.catalog.Version(),
	})
}

// GetEntitlements is the API view of the caller's resolved plan.
func (s *Server) GetEntitlements(c *gin.Context) {
	ent, err := s.entitlementSvc.Resolve(c.Request.Context(), userIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ent})
}
