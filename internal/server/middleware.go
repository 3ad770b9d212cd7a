package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/talenthub/internal/auth"
	"github.com/MarcoPoloResearchLab/talenthub/internal/identity"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: codeUnauthorized, Message: messageUnauthorized})
		return
	}
	c.Set(principalContextKey, claims.Principal())
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok || principal.Role != identity.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, errorPayload{Error: codeForbidden, Message: messageForbidden})
		return
	}
	c.Next()
}

func principalFrom(c *gin.Context) (auth.Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return auth.Principal{}, false
	}
	principal, ok := value.(auth.Principal)
	if !ok || principal.UserID == "" {
		return auth.Principal{}, false
	}
	return principal, true
}
