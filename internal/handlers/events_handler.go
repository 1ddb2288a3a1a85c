package handlers

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/gestorpro/internal/livestore"
)

// StreamEvents pushes notifications, page flags, feedback cues and session
// transitions as server-sent events until the client goes away.
func (h *Handler) StreamEvents(c *gin.Context) {
	sess, ok := h.currentSession(c)
	if !ok {
		return
	}
	uid := sess.User.ID

	events, stop := h.Live.Listen()
	defer stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-events:
			if !ok {
				return false
			}
			// the stream belongs to one session; its end is the last event
			if !h.ownsSession(uid) {
				if e.Type == livestore.EventSession {
					c.SSEvent(string(e.Type), e)
				}
				return false
			}
			c.SSEvent(string(e.Type), e)
			return true
		}
	})
}

func (h *Handler) ownsSession(uid string) bool {
	sess := h.Live.Session()
	return sess != nil && sess.User.ID == uid
}
