package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/gestion-judicial/casefile-api/internal/authz"
	"github.com/gestion-judicial/casefile-api/internal/middleware"
	"github.com/gestion-judicial/casefile-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func actorFromContext(c *gin.Context) authz.Actor {
	return middleware.ActorFromContext(c)
}

func metaFromContext(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	}
}
