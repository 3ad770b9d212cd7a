package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/talenthub/internal/credentials"
	"github.com/MarcoPoloResearchLab/talenthub/internal/identity"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r loginRequest) identifier() string {
	for _, candidate := range []string{r.Login, r.Username, r.Email} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type emailRequest struct {
	Email string `json:"email"`
}

type acceptInviteRequest struct {
	Email    string `json:"email"`
	Token    string `json:"token"`
	Password string `json:"password"`
}

type resetCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type emailChangeRequest struct {
	NewEmail string `json:"new_email"`
}

type emailVerifyRequest struct {
	Code string `json:"code"`
}

type messagePayload struct {
	Message string `json:"message"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.identifier() == "" || request.Password == "" {
		h.writeInvalidRequest(c)
		return
	}
	session, err := h.accounts.Authenticate(c.Request.Context(), request.identifier(), request.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.setSessionCookie(c, session)
	c.JSON(http.StatusOK, session)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if h.cookie.Name != "" {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cookie.Name, "", -1, "/", "", h.cookie.Secure, true)
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) setSessionCookie(c *gin.Context, session identity.Session) {
	if h.cookie.Name == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, session.AccessToken, int(session.ExpiresIn), "/", "", h.cookie.Secure, true)
}

func (h *httpHandler) handleMe(c *gin.Context) {
	principal, _ := principalFrom(c)
	account, err := h.accounts.FindByID(c.Request.Context(), principal.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *httpHandler) handleListAccounts(c *gin.Context) {
	accounts, err := h.accounts.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, accounts)
}

func (h *httpHandler) handleInvite(c *gin.Context) {
	var request credentials.NewAccount
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	account, err := h.credentials.Invite(c.Request.Context(), request)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (h *httpHandler) handleUpdateAccount(c *gin.Context) {
	principal, _ := principalFrom(c)
	var update credentials.AccountUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	account, err := h.credentials.UpdateAccount(c.Request.Context(), principal.UserID, c.Param("id"), update)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *httpHandler) handleDeleteAccount(c *gin.Context) {
	principal, _ := principalFrom(c)
	if err := h.credentials.DeleteAccount(c.Request.Context(), principal.UserID, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleResendInvite(c *gin.Context) {
	var request emailRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	if err := h.credentials.ResendInvite(c.Request.Context(), request.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messagePayload{Message: "Invitation renvoyée."})
}

func (h *httpHandler) handleAcceptInvite(c *gin.Context) {
	var request acceptInviteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	session, err := h.credentials.AcceptInvite(c.Request.Context(), request.Email, request.Token, request.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.setSessionCookie(c, session)
	c.JSON(http.StatusOK, session)
}

func (h *httpHandler) handleForgotPassword(c *gin.Context) {
	var request emailRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	if err := h.credentials.RequestPasswordReset(c.Request.Context(), request.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messagePayload{Message: "Si un compte existe pour cette adresse, un code a été envoyé."})
}

func (h *httpHandler) handleVerifyResetCode(c *gin.Context) {
	var request resetCodeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	if err := h.credentials.VerifyResetCode(c.Request.Context(), request.Email, request.Code); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func (h *httpHandler) handleResetPassword(c *gin.Context) {
	var request resetPasswordRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	if err := h.credentials.ResetPassword(c.Request.Context(), request.Email, request.Code, request.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messagePayload{Message: "Mot de passe réinitialisé."})
}

func (h *httpHandler) handleChangePassword(c *gin.Context) {
	principal, _ := principalFrom(c)
	var request changePasswordRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	if err := h.credentials.ChangePassword(c.Request.Context(), principal.UserID, request.OldPassword, request.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messagePayload{Message: "Mot de passe modifié."})
}

func (h *httpHandler) handleRequestEmailChange(c *gin.Context) {
	principal, _ := principalFrom(c)
	var request emailChangeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	if err := h.credentials.RequestEmailChange(c.Request.Context(), principal.UserID, request.NewEmail); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messagePayload{Message: "Un code de vérification a été envoyé à la nouvelle adresse."})
}

func (h *httpHandler) handleConfirmEmailChange(c *gin.Context) {
	principal, _ := principalFrom(c)
	var request emailVerifyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	account, err := h.credentials.ConfirmEmailChange(c.Request.Context(), principal.UserID, request.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}
