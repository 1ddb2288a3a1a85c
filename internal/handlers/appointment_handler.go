package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
)

// --- BATCH CREATE APPOINTMENTS (all or nothing) ---
func (h *Handler) BatchCreateAppointments(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	var req struct {
		Appointments []bson.M `json:"appointments" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ids, err := h.Live.BatchCreateAppointments(c.Request.Context(), req.Appointments)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ids": ids})
}

// --- BATCH DELETE APPOINTMENTS (all or nothing) ---
func (h *Handler) BatchDeleteAppointments(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	var req struct {
		IDs []string `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.Live.BatchDeleteAppointments(c.Request.Context(), req.IDs); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- ADD MESSAGE (append-only, notifies the inspector) ---
func (h *Handler) AddMessageToAppointment(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message cannot be empty"})
		return
	}

	if err := h.Live.AddMessageToAppointment(c.Request.Context(), c.Param("id"), req.Text); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
