package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/talenthub/internal/auth"
	"github.com/MarcoPoloResearchLab/talenthub/internal/credentials"
	"github.com/MarcoPoloResearchLab/talenthub/internal/crm"
	"github.com/MarcoPoloResearchLab/talenthub/internal/identity"
	"github.com/MarcoPoloResearchLab/talenthub/internal/notifications"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	apiPrefix           = "/v1/api"
	principalContextKey = "talenthub_principal"
)

var (
	errMissingSessions      = errors.New("session validator dependency required")
	errMissingAccounts      = errors.New("accounts dependency required")
	errMissingCredentials   = errors.New("credentials dependency required")
	errMissingNotifications = errors.New("notifications dependency required")
	errMissingCRM           = errors.New("crm dependency required")
)

// SessionValidator authenticates bearer tokens.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Accounts exposes the identity lookups used by the API.
type Accounts interface {
	Authenticate(ctx context.Context, login, secret string) (identity.Session, error)
	FindByID(ctx context.Context, subjectID string) (identity.Account, error)
	List(ctx context.Context) ([]identity.Account, error)
}

// Credentials runs the token-backed credential flows.
type Credentials interface {
	Invite(ctx context.Context, request credentials.NewAccount) (identity.Account, error)
	ResendInvite(ctx context.Context, email string) error
	AcceptInvite(ctx context.Context, email, token, password string) (identity.Session, error)
	RequestPasswordReset(ctx context.Context, email string) error
	VerifyResetCode(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	RequestEmailChange(ctx context.Context, subjectID, newEmail string) error
	ConfirmEmailChange(ctx context.Context, subjectID, code string) (identity.Account, error)
	ChangePassword(ctx context.Context, subjectID, oldPassword, newPassword string) error
	UpdateAccount(ctx context.Context, actorID, subjectID string, update credentials.AccountUpdate) (identity.Account, error)
	DeleteAccount(ctx context.Context, actorID, subjectID string) error
}

// NotificationStore is the notification log as seen by the API.
type NotificationStore interface {
	Get(ctx context.Context, id string) (notifications.Notification, error)
	ListAll(ctx context.Context, options notifications.ListOptions) ([]notifications.Notification, error)
	ListByRecipient(ctx context.Context, recipientID string, options notifications.ListOptions) ([]notifications.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int64, error)
	MarkRead(ctx context.Context, id, recipientID string) (notifications.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	Clear(ctx context.Context, recipientID string) (int64, error)
}

// CRM runs the business actions.
type CRM interface {
	CreateActivity(ctx context.Context, actor crm.Actor, input crm.NewActivity) (crm.Activity, error)
	UpdateActivity(ctx context.Context, id string, patch crm.ActivityPatch) (crm.Activity, error)
	DeleteActivity(ctx context.Context, id string) error
	CreateConsultant(ctx context.Context, actor crm.Actor, input crm.NewConsultant) (crm.Consultant, error)
	UpdateConsultant(ctx context.Context, actor crm.Actor, id string, patch crm.ConsultantPatch) (crm.Consultant, error)
	CreateClient(ctx context.Context, input crm.NewClient) (crm.Client, error)
	UpdateClient(ctx context.Context, id string, patch crm.ClientPatch) (crm.Client, error)
	DeleteClient(ctx context.Context, id string) error
}

// SessionCookie describes the cookie carrying the session token. An empty
// Name disables the cookie; bearer headers keep working either way.
type SessionCookie struct {
	Name   string
	Secure bool
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Sessions       SessionValidator
	Accounts       Accounts
	Credentials    Credentials
	Notifications  NotificationStore
	CRM            CRM
	Realtime       http.Handler
	SessionCookie  SessionCookie
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router serving the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.Credentials == nil {
		return nil, errMissingCredentials
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.CRM == nil {
		return nil, errMissingCRM
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:      deps.Sessions,
		accounts:      deps.Accounts,
		credentials:   deps.Credentials,
		notifications: deps.Notifications,
		crm:           deps.CRM,
		cookie:        deps.SessionCookie,
		logger:        logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group(apiPrefix)
	api.POST("/user/login", handler.handleLogin)
	api.POST("/user/logout", handler.handleLogout)
	api.POST("/user/invite/accept", handler.handleAcceptInvite)
	api.POST("/user/password/forgot", handler.handleForgotPassword)
	api.POST("/user/password/verify-code", handler.handleVerifyResetCode)
	api.POST("/user/password/reset", handler.handleResetPassword)
	if deps.Realtime != nil {
		api.GET("/realtime", gin.WrapH(deps.Realtime))
	}

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/user/me", handler.handleMe)
	protected.POST("/user/password/change", handler.handleChangePassword)
	protected.POST("/user/email/change", handler.handleRequestEmailChange)
	protected.POST("/user/email/verify", handler.handleConfirmEmailChange)

	protected.GET("/notifications/me", handler.handleMyNotifications)
	protected.GET("/notifications/me/unread-count", handler.handleUnreadCount)
	protected.PATCH("/notifications/read-all", handler.handleMarkAllRead)
	protected.DELETE("/notifications/clear-all", handler.handleClearNotifications)
	protected.GET("/notifications/:id", handler.handleGetNotification)
	protected.PATCH("/notifications/:id/read", handler.handleMarkRead)

	protected.POST("/activities", handler.handleCreateActivity)
	protected.PATCH("/activities/:id", handler.handleUpdateActivity)
	protected.DELETE("/activities/:id", handler.handleDeleteActivity)
	protected.POST("/consultants", handler.handleCreateConsultant)
	protected.PATCH("/consultants/:id", handler.handleUpdateConsultant)
	protected.POST("/clients", handler.handleCreateClient)
	protected.PATCH("/clients/:id", handler.handleUpdateClient)
	protected.DELETE("/clients/:id", handler.handleDeleteClient)

	admin := protected.Group("/")
	admin.Use(handler.requireAdmin)
	admin.GET("/user", handler.handleListAccounts)
	admin.POST("/user/invite", handler.handleInvite)
	admin.POST("/user/invite/resend", handler.handleResendInvite)
	admin.PATCH("/user/:id", handler.handleUpdateAccount)
	admin.DELETE("/user/:id", handler.handleDeleteAccount)
	admin.GET("/notifications", handler.handleAllNotifications)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

type httpHandler struct {
	sessions      SessionValidator
	accounts      Accounts
	credentials   Credentials
	notifications NotificationStore
	crm           CRM
	cookie        SessionCookie
	logger        *zap.Logger
}
