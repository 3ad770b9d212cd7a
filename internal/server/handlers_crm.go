package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/talenthub/internal/crm"
	"github.com/gin-gonic/gin"
)

func actorFrom(c *gin.Context) crm.Actor {
	principal, _ := principalFrom(c)
	return crm.Actor{ID: principal.UserID, Name: principal.Name}
}

func (h *httpHandler) handleCreateActivity(c *gin.Context) {
	var input crm.NewActivity
	if err := c.ShouldBindJSON(&input); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	activity, err := h.crm.CreateActivity(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, activity)
}

func (h *httpHandler) handleUpdateActivity(c *gin.Context) {
	var patch crm.ActivityPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	activity, err := h.crm.UpdateActivity(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, activity)
}

func (h *httpHandler) handleDeleteActivity(c *gin.Context) {
	if err := h.crm.DeleteActivity(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCreateConsultant(c *gin.Context) {
	var input crm.NewConsultant
	if err := c.ShouldBindJSON(&input); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	consultant, err := h.crm.CreateConsultant(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, consultant)
}

func (h *httpHandler) handleUpdateConsultant(c *gin.Context) {
	var patch crm.ConsultantPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	consultant, err := h.crm.UpdateConsultant(c.Request.Context(), actorFrom(c), c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, consultant)
}

func (h *httpHandler) handleCreateClient(c *gin.Context) {
	var input crm.NewClient
	if err := c.ShouldBindJSON(&input); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	client, err := h.crm.CreateClient(c.Request.Context(), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, client)
}

func (h *httpHandler) handleUpdateClient(c *gin.Context) {
	var patch crm.ClientPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.writeInvalidRequest(c)
		return
	}
	client, err := h.crm.UpdateClient(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, client)
}

func (h *httpHandler) handleDeleteClient(c *gin.Context) {
	if err := h.crm.DeleteClient(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
