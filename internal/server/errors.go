package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeUnauthorized   = "unauthorized"
	codeForbidden      = "forbidden"
	codeInvalidRequest = "invalid_request"
	codeInternal       = "internal_error"

	messageUnauthorized   = "Authentification requise."
	messageForbidden      = "Accès refusé."
	messageInvalidRequest = "Requête invalide."
)

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:   http.StatusBadRequest,
	apperr.KindNotFound:     http.StatusNotFound,
	apperr.KindConflict:     http.StatusConflict,
	apperr.KindAuthRejected: http.StatusUnauthorized,
	apperr.KindForbidden:    http.StatusForbidden,
	apperr.KindUnavailable:  http.StatusServiceUnavailable,
	apperr.KindDelivery:     http.StatusBadGateway,
	apperr.KindInternal:     http.StatusInternalServerError,
}

var kindMessage = map[apperr.Kind]string{
	apperr.KindValidation:   messageInvalidRequest,
	apperr.KindNotFound:     "Ressource introuvable.",
	apperr.KindConflict:     "Conflit avec une ressource existante.",
	apperr.KindAuthRejected: "Identifiants ou lien invalides.",
	apperr.KindForbidden:    messageForbidden,
	apperr.KindUnavailable:  "Service temporairement indisponible.",
	apperr.KindDelivery:     "Envoi impossible.",
	apperr.KindInternal:     "Erreur interne.",
}

// statusFor maps an error kind onto its HTTP status.
func statusFor(err error) int {
	if status, ok := kindStatus[apperr.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func codeFor(err error) string {
	if code := apperr.CodeOf(err); code != "" {
		return code
	}
	return codeInternal
}

// writeError renders err and logs server-side failures.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	kind := apperr.KindOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("code", codeFor(err)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, errorPayload{Error: codeFor(err), Message: kindMessage[kind]})
}

func (h *httpHandler) writeInvalidRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorPayload{Error: codeInvalidRequest, Message: messageInvalidRequest})
}
