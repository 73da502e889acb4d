package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	obslogger "github.com/smallbiznis/classifieds/internal/observability/logger"
)

const contextUserIDKey = "user_id"

// AuthRequired accepts an HS256 bearer token whose subject is the user id.
func (s *Server) AuthRequired() gin.HandlerFunc {
	secret := []byte(s.cfg.AuthJWTSecret)
	return func(c *gin.Context) {
		userID, err := authenticate(c.GetHeader("Authorization"), secret)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Request = c.Request.WithContext(obslogger.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func authenticate(header string, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth secret not configured")
	}
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errors.New("missing bearer token")
	}

	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return "", errors.New("token has no subject")
	}
	return strings.TrimSpace(subject), nil
}

func userIDFrom(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(contextUserIDKey))
}
