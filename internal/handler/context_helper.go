package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/instructor-dispatch-api/internal/middleware"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
	"github.com/noah-isme/instructor-dispatch-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.JWTClaims)
	return claims
}

// requireClaims writes a 401 and returns false when the request carries no identity.
func requireClaims(c *gin.Context) (*models.JWTClaims, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}
