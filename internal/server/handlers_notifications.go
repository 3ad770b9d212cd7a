package server

import (
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	"github.com/MarcoPoloResearchLab/talenthub/internal/identity"
	"github.com/MarcoPoloResearchLab/talenthub/internal/notifications"
	"github.com/gin-gonic/gin"
)

const (
	opGetNotification     = "notifications.get"
	reasonNotRecipient    = "notification_not_found"
	maxNotificationsLimit = 500
)

func listOptions(c *gin.Context) notifications.ListOptions {
	options := notifications.ListOptions{}
	if unread, err := strconv.ParseBool(c.Query("unread")); err == nil {
		options.UnreadOnly = unread
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		if limit > maxNotificationsLimit {
			limit = maxNotificationsLimit
		}
		options.Limit = limit
	}
	return options
}

func (h *httpHandler) handleAllNotifications(c *gin.Context) {
	listed, err := h.notifications.ListAll(c.Request.Context(), listOptions(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listed)
}

func (h *httpHandler) handleMyNotifications(c *gin.Context) {
	principal, _ := principalFrom(c)
	listed, err := h.notifications.ListByRecipient(c.Request.Context(), principal.UserID, listOptions(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listed)
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	principal, _ := principalFrom(c)
	count, err := h.notifications.CountUnread(c.Request.Context(), principal.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// Records of other recipients are reported as missing unless the caller is an admin.
func (h *httpHandler) handleGetNotification(c *gin.Context) {
	principal, _ := principalFrom(c)
	notification, err := h.notifications.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if notification.RecipientID != principal.UserID && principal.Role != identity.RoleAdmin {
		h.writeError(c, apperr.NotFound(opGetNotification, reasonNotRecipient, notifications.ErrNotificationNotFound))
		return
	}
	c.JSON(http.StatusOK, notification)
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	principal, _ := principalFrom(c)
	notification, err := h.notifications.MarkRead(c.Request.Context(), c.Param("id"), principal.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, notification)
}

func (h *httpHandler) handleMarkAllRead(c *gin.Context) {
	principal, _ := principalFrom(c)
	updated, err := h.notifications.MarkAllRead(c.Request.Context(), principal.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *httpHandler) handleClearNotifications(c *gin.Context) {
	principal, _ := principalFrom(c)
	deleted, err := h.notifications.Clear(c.Request.Context(), principal.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
