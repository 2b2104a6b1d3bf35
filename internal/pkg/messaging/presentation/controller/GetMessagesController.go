package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stepmatch/internal/pkg/messaging/session"
)

// GetMessagesController serves the open conversation's message snapshot (one
// controller per endpoint).
type GetMessagesController struct {
	sess *session.Session
}

func NewGetMessagesController(sess *session.Session) *GetMessagesController {
	return &GetMessagesController{sess: sess}
}

func (ctl *GetMessagesController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		msgs, openID, ok, err := ctl.sess.Messages(ctx)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		if !ok || openID != conversationID {
			c.JSON(http.StatusConflict, gin.H{"error": "conversation is not open"})
			return
		}

		out := make([]gin.H, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, gin.H{
				"id":              m.ID.String(),
				"pending":         m.ID.IsPending(),
				"conversation_id": m.ConversationID,
				"sender_id":       m.SenderID,
				"content":         m.Content,
				"created_at":      m.CreatedAt,
				"read":            m.Read,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"conversation_id": conversationID,
			"messages":        out,
			"count":           len(out),
		})
	}
}
