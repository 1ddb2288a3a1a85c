package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/harentsoaR/gestorpro/internal/models"
	"github.com/harentsoaR/gestorpro/internal/permission"
	"github.com/harentsoaR/gestorpro/internal/store"
)

// GetState returns the full live view: session, settings, every mirror,
// the pending notification and the page flags.
func (h *Handler) GetState(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	c.JSON(http.StatusOK, h.Live.View())
}

func (h *Handler) GetSettings(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	c.JSON(http.StatusOK, h.Live.Settings())
}

func resourceParam(c *gin.Context) (permission.Resource, bool) {
	r, ok := permission.ParseResource(c.Param("resource"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown resource"})
	}
	return r, ok
}

// --- GET COLLECTION (from the live mirror) ---
func (h *Handler) GetCollection(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	r, ok := resourceParam(c)
	if !ok {
		return
	}

	docs := h.Live.Mirror(r)
	if status := c.Query("status"); status != "" {
		filtered := make([]store.Document, 0, len(docs))
		for _, d := range docs {
			if d.String("status") == status {
				filtered = append(filtered, d)
			}
		}
		docs = filtered
	}
	c.JSON(http.StatusOK, docs)
}

// --- CREATE ---
func (h *Handler) CreateDocument(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	r, ok := resourceParam(c)
	if !ok {
		return
	}
	var fields bson.M
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	id, err := h.Live.Create(c.Request.Context(), r, fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// --- UPDATE ---
func (h *Handler) UpdateDocument(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	r, ok := resourceParam(c)
	if !ok {
		return
	}
	var fields bson.M
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.Live.Update(c.Request.Context(), r, c.Param("id"), fields); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- DELETE ---
func (h *Handler) DeleteDocument(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	r, ok := resourceParam(c)
	if !ok {
		return
	}

	if err := h.Live.Delete(c.Request.Context(), r, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddUser provisions an identity and profile without signing the caller out.
func (h *Handler) AddUser(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	var user models.User
	if err := c.ShouldBindJSON(&user); err != nil || user.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	uid, err := h.Live.AddUser(c.Request.Context(), user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": uid})
}

func (h *Handler) UpdateUserPhoto(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	var req struct {
		PhotoURL string `json:"photoURL" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.Live.UpdateUserPhoto(c.Request.Context(), c.Param("id"), req.PhotoURL); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	var fields bson.M
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.Live.UpdateSettings(c.Request.Context(), fields); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateLogo sets the logo; a null logoUrl clears it.
func (h *Handler) UpdateLogo(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	var req struct {
		LogoURL *string `json:"logoUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.Live.UpdateLogo(c.Request.Context(), req.LogoURL); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ClearNotification(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	h.Live.ClearNotification()
	c.Status(http.StatusNoContent)
}

func (h *Handler) ClearPageFlag(c *gin.Context) {
	if _, ok := h.currentSession(c); !ok {
		return
	}
	if err := h.Live.ClearPageFlag(c.Param("page")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown page"})
		return
	}
	c.Status(http.StatusNoContent)
}
