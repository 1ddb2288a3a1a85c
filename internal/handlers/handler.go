package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/gestorpro/internal/livestore"
	"github.com/harentsoaR/gestorpro/internal/store"
)

type Handler struct {
	Live *livestore.Store
}

func NewHandler(live *livestore.Store) *Handler {
	return &Handler{Live: live}
}

// currentSession returns the live session when it belongs to the caller's
// token. It writes the error response otherwise.
func (h *Handler) currentSession(c *gin.Context) (*livestore.Session, bool) {
	userID, _ := c.Get("userID")
	sess := h.Live.Session()
	if sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No active session"})
		return nil, false
	}
	if uid, _ := userID.(string); uid != sess.User.ID {
		c.JSON(http.StatusConflict, gin.H{"error": "Token does not belong to the active session"})
		return nil, false
	}
	return sess, true
}

// writeError maps gateway errors to a status and the user-facing message.
func writeError(c *gin.Context, err error) {
	var e *livestore.Error
	if !errors.As(err, &e) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch e.Kind {
	case livestore.AuthError:
		status = http.StatusUnauthorized
	case livestore.Forbidden:
		status = http.StatusForbidden
	case livestore.WriteError:
		switch {
		case errors.Is(e.Err, livestore.ErrMissingID):
			status = http.StatusBadRequest
		case errors.Is(e.Err, store.ErrNotFound):
			status = http.StatusNotFound
		default:
			status = http.StatusBadGateway
		}
	}

	msg := e.Message
	if msg == "" {
		msg = e.Err.Error()
	}
	c.JSON(status, gin.H{"error": msg})
}
