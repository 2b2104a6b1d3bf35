package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stepmatch/internal/pkg/messaging/session"
)

// SendMessageController handles the send-message endpoint only (one
// controller per endpoint). The send is optimistic: a 202 means the message
// is visible locally and the durable write is in flight; a later failure
// comes back through the event stream with the original text.
type SendMessageController struct {
	sess *session.Session
}

func NewSendMessageController(sess *session.Session) *SendMessageController {
	return &SendMessageController{sess: sess}
}

// sendMessageRequest is the DTO for the HTTP request body
type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (ctl *SendMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}

		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := ctl.sess.Send(ctx, conversationID, req.Content); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"status":          "accepted",
			"conversation_id": conversationID,
		})
	}
}
