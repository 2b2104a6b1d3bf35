package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stepmatch/internal/pkg/messaging/session"
)

// CloseConversationController releases the open conversation's feed
// subscription and drops its message view (one controller per endpoint).
type CloseConversationController struct {
	sess *session.Session
}

func NewCloseConversationController(sess *session.Session) *CloseConversationController {
	return &CloseConversationController{sess: sess}
}

func (ctl *CloseConversationController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := ctl.sess.CloseConversation(ctx); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "closed"})
	}
}
