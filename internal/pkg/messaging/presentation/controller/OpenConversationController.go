package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stepmatch/internal/pkg/messaging/session"
)

// OpenConversationController selects a conversation: backlog fetch, message
// feed subscription and read marking happen behind this call (one controller
// per endpoint).
type OpenConversationController struct {
	sess *session.Session
}

func NewOpenConversationController(sess *session.Session) *OpenConversationController {
	return &OpenConversationController{sess: sess}
}

func (ctl *OpenConversationController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := ctl.sess.OpenConversation(ctx, conversationID); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":          "open",
			"conversation_id": conversationID,
		})
	}
}
